package endpoints

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/dafmap/internal/api"
	"github.com/jackzampolin/dafmap/internal/pipeline"
	"github.com/jackzampolin/dafmap/internal/svcctx"
)

// StartSessionRequest is the request body for starting an annotation session.
type StartSessionRequest struct {
	Ref       string `json:"ref"`                // canonical page reference, e.g. "Shabbat 2a:1-5"
	PDF       string `json:"pdf"`                // PDF URL or local path, or a direct page image
	PageIndex int    `json:"page_index"`         // zero-based page within the PDF
	Strategy  string `json:"strategy,omitempty"` // lexical (default) or embedding
}

// StartSessionResponse is the response for starting a session.
type StartSessionResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Ref       string `json:"ref"`
	PageIndex int    `json:"page_index"`
	Strategy  string `json:"strategy"`
}

// StartSessionEndpoint handles POST /api/sessions/start.
// The annotation run happens in the background; poll GET /api/sessions/{id}
// to track stage progress.
type StartSessionEndpoint struct{}

func (e *StartSessionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/sessions/start", e.handler
}

func (e *StartSessionEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Start an annotation session
//	@Description	Create a session and run the page annotation pipeline in the background
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			request	body		StartSessionRequest	true	"Page reference and source PDF"
//	@Success		202		{object}	StartSessionResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/sessions/start [post]
func (e *StartSessionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Ref == "" {
		writeError(w, http.StatusBadRequest, "ref is required")
		return
	}
	if req.PDF == "" {
		writeError(w, http.StatusBadRequest, "pdf is required")
		return
	}
	if req.PageIndex < 0 {
		writeError(w, http.StatusBadRequest, "page_index must not be negative")
		return
	}
	if !pipeline.ValidStrategy(req.Strategy) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown strategy: %s", req.Strategy))
		return
	}

	if req.Strategy == "" {
		req.Strategy = pipeline.StrategyLexical
		if cm := svcctx.ConfigManagerFrom(r.Context()); cm != nil {
			req.Strategy = cm.Get().DefaultStrategy()
		}
	}

	sessions := svcctx.SessionsFrom(r.Context())
	runner := svcctx.RunnerFrom(r.Context())
	if sessions == nil || runner == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline not initialized")
		return
	}

	rec, err := sessions.Create(r.Context(), req.Ref, req.PDF, req.PageIndex, req.Strategy)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to create session: %v", err))
		return
	}

	// The run outlives this request; keep the service values but drop the
	// request's cancellation.
	runCtx := context.WithoutCancel(r.Context())
	logger := svcctx.LoggerFrom(r.Context())
	go func() {
		if err := runner.Run(runCtx, rec); err != nil && logger != nil {
			logger.Error("annotation run failed", "session", rec.ID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, StartSessionResponse{
		SessionID: rec.ID,
		Status:    string(rec.Status),
		Ref:       rec.Ref,
		PageIndex: rec.PageIndex,
		Strategy:  rec.Strategy,
	})
}

func (e *StartSessionEndpoint) Command(getServerURL func() string) *cobra.Command {
	var ref, pdf, strategy string
	var pageIndex int
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start an annotation session for one page",
		Long: `Start annotating a page: the server renders the page, runs OCR layout,
fetches the canonical text, aligns segments to line regions and refines
segment boundaries.

The command submits the session and returns immediately.
Use 'dafmap api sessions get <id>' to check progress.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			var resp StartSessionResponse
			if err := client.Post(ctx, "/api/sessions/start", StartSessionRequest{
				Ref:       ref,
				PDF:       pdf,
				PageIndex: pageIndex,
				Strategy:  strategy,
			}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "Canonical page reference, e.g. 'Shabbat 2a:1-5'")
	cmd.Flags().StringVar(&pdf, "pdf", "", "PDF URL or local path (or a page image)")
	cmd.Flags().IntVar(&pageIndex, "page", 0, "Zero-based page index within the PDF")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Alignment strategy: lexical or embedding")
	_ = cmd.MarkFlagRequired("ref")
	_ = cmd.MarkFlagRequired("pdf")
	return cmd
}
