package endpoints

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/dafmap/internal/api"
	"github.com/jackzampolin/dafmap/internal/session"
	"github.com/jackzampolin/dafmap/internal/store"
	"github.com/jackzampolin/dafmap/internal/svcctx"
)

// FinalizeSessionResponse reports the persisted page document.
type FinalizeSessionResponse struct {
	SessionID string `json:"session_id"`
	PageID    string `json:"page_id"`
	Status    string `json:"status"`
}

// FinalizeSessionEndpoint handles POST /api/sessions/{id}/finalize.
type FinalizeSessionEndpoint struct{}

func (e *FinalizeSessionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/sessions/{id}/finalize", e.handler
}

func (e *FinalizeSessionEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Finalize a session
//	@Description	Derive the page document from the session state and persist it keyed by page reference
//	@Tags			sessions
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	FinalizeSessionResponse
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/sessions/{id}/finalize [post]
func (e *FinalizeSessionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}

	sessions := svcctx.SessionsFrom(r.Context())
	if sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session manager not initialized")
		return
	}

	rec, pageID, err := sessions.Finalize(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, session.ErrAlreadyFinalized),
			errors.Is(err, session.ErrSessionFailed),
			errors.Is(err, session.ErrNoState):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, FinalizeSessionResponse{
		SessionID: rec.ID,
		PageID:    pageID,
		Status:    string(rec.Status),
	})
}

func (e *FinalizeSessionEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <id>",
		Short: "Finalize a session into a page document",
		Long: `Persist the session's bounding-box annotations as a page document
keyed by page reference. The page is then available under
'dafmap api pages get <ref>'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp FinalizeSessionResponse
			if err := client.Post(cmd.Context(), "/api/sessions/"+args[0]+"/finalize", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
