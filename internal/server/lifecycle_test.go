package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackzampolin/dafmap/internal/config"
	"github.com/jackzampolin/dafmap/internal/home"
	"github.com/jackzampolin/dafmap/internal/server/endpoints"
	"github.com/jackzampolin/dafmap/internal/testutil"
)

func TestServer_FullLifecycle(t *testing.T) {
	cfg := testutil.NewServerConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	data := []byte("providers:\n  openai:\n    api_key: sk-test123\n")
	if err := os.WriteFile(cfg.ConfigFile, data, 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	mgr, err := config.NewManager(cfg.ConfigFile)
	if err != nil {
		t.Fatalf("config.NewManager() error = %v", err)
	}

	h, err := home.New(filepath.Join(cfg.HomeDir, ".dafmap"))
	if err != nil {
		t.Fatalf("home.New() error = %v", err)
	}

	srv, err := New(Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		Home:          h,
		ConfigManager: mgr,
		Logger:        cfg.Logger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Start server in background
	serverErr := make(chan error, 1)
	serverCtx, serverCancel := context.WithCancel(ctx)

	go func() {
		serverErr <- srv.Start(serverCtx)
	}()

	// Wait for server to be ready
	if err := testutil.WaitForServer(cfg.URL(), 30*time.Second); err != nil {
		serverCancel()
		t.Fatalf("server did not start: %v", err)
	}

	client := testutil.HTTPClient()

	t.Run("health_endpoint", func(t *testing.T) {
		resp, err := client.Get(cfg.URL() + "/health")
		if err != nil {
			t.Fatalf("health check failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var health endpoints.HealthResponse
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if health.Status != "ok" {
			t.Errorf("health.Status = %q, want %q", health.Status, "ok")
		}
		if health.Version == "" {
			t.Error("health.Version is empty")
		}
	})

	t.Run("status_endpoint", func(t *testing.T) {
		resp, err := client.Get(cfg.URL() + "/status")
		if err != nil {
			t.Fatalf("status check failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("status code = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var status endpoints.StatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if status.Server != "running" {
			t.Errorf("status.Server = %q, want %q", status.Server, "running")
		}
		if status.Store != "ok" {
			t.Errorf("status.Store = %q, want %q", status.Store, "ok")
		}
		if status.Sessions != 0 {
			t.Errorf("status.Sessions = %d, want 0", status.Sessions)
		}
		if status.Provider.Provider != "openai" {
			t.Errorf("status.Provider.Provider = %q, want %q", status.Provider.Provider, "openai")
		}
	})

	t.Run("sessions_empty", func(t *testing.T) {
		resp, err := client.Get(cfg.URL() + "/api/sessions")
		if err != nil {
			t.Fatalf("list sessions failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var list endpoints.ListSessionsResponse
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if list.Count != 0 {
			t.Errorf("list.Count = %d, want 0", list.Count)
		}
	})

	t.Run("session_not_found", func(t *testing.T) {
		resp, err := client.Get(cfg.URL() + "/api/sessions/does-not-exist")
		if err != nil {
			t.Fatalf("get session failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
		}
	})

	t.Run("page_not_found", func(t *testing.T) {
		resp, err := client.Get(cfg.URL() + "/api/pages/Shabbat%202a")
		if err != nil {
			t.Fatalf("get page failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
		}
	})

	t.Run("start_requires_ref", func(t *testing.T) {
		resp, err := client.Post(cfg.URL()+"/api/sessions/start", "application/json", bytes.NewReader([]byte(`{}`)))
		if err != nil {
			t.Fatalf("start session failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}
	})

	t.Run("start_rejects_unknown_strategy", func(t *testing.T) {
		body := []byte(`{"ref":"Shabbat 2a","pdf":"/tmp/shas.pdf","strategy":"bogus"}`)
		resp, err := client.Post(cfg.URL()+"/api/sessions/start", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("start session failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}
	})

	t.Run("settings_redacts_key", func(t *testing.T) {
		resp, err := client.Get(cfg.URL() + "/api/settings")
		if err != nil {
			t.Fatalf("get settings failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var settings config.Config
		if err := json.NewDecoder(resp.Body).Decode(&settings); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if settings.Providers.OpenAI.APIKey != "[redacted]" {
			t.Errorf("api_key = %q, want %q", settings.Providers.OpenAI.APIKey, "[redacted]")
		}
		if settings.OCR.Language != "heb" {
			t.Errorf("ocr.language = %q, want %q", settings.OCR.Language, "heb")
		}
	})

	t.Run("swagger_ui", func(t *testing.T) {
		resp, err := client.Get(cfg.URL() + "/swagger")
		if err != nil {
			t.Fatalf("get swagger ui failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}
		if ct := resp.Header.Get("Content-Type"); ct != "text/html; charset=utf-8" {
			t.Errorf("Content-Type = %q, want text/html", ct)
		}
	})

	t.Run("is_running", func(t *testing.T) {
		if !srv.IsRunning() {
			t.Error("IsRunning() = false, want true")
		}
	})

	// Shutdown server
	serverCancel()

	// Wait for server to stop
	if err := testutil.WaitForShutdown(serverErr, 30*time.Second); err != nil {
		t.Fatalf("server did not shut down: %v", err)
	}

	t.Run("not_running_after_shutdown", func(t *testing.T) {
		if srv.IsRunning() {
			t.Error("IsRunning() = true after shutdown, want false")
		}
	})

	t.Run("store_dir_created", func(t *testing.T) {
		if _, err := os.Stat(h.StorePath()); err != nil {
			t.Errorf("store dir missing after run: %v", err)
		}
	})
}
