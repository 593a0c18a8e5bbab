package endpoints

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/dafmap/internal/api"
	"github.com/jackzampolin/dafmap/internal/session"
	"github.com/jackzampolin/dafmap/internal/store"
	"github.com/jackzampolin/dafmap/internal/svcctx"
)

// ApplyFixesRequest carries reviewer corrections for a paused session.
// An empty body approves the page as-is: both lists may be omitted and
// the review flags still clear.
type ApplyFixesRequest struct {
	BlockAssignments map[string]string     `json:"block_assignments,omitempty"` // block id -> stream id
	CutOverrides     []session.CutOverride `json:"cut_overrides,omitempty"`
}

// ApplyFixesEndpoint handles POST /api/sessions/{id}/fixes.
type ApplyFixesEndpoint struct{}

func (e *ApplyFixesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/sessions/{id}/fixes", e.handler
}

func (e *ApplyFixesEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Apply reviewer fixes
//	@Description	Apply block reassignments and cut overrides to a paused session, clearing its review flags
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Session ID"
//	@Param			request	body		ApplyFixesRequest	false	"Corrections; empty approves as-is"
//	@Success		200		{object}	session.Record
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/sessions/{id}/fixes [post]
func (e *ApplyFixesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}

	var req ApplyFixesRequest
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	sessions := svcctx.SessionsFrom(r.Context())
	if sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session manager not initialized")
		return
	}

	rec, err := sessions.ApplyFixes(r.Context(), id, session.Fixes{
		BlockAssignments: req.BlockAssignments,
		CutOverrides:     req.CutOverrides,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, session.ErrNoState):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

func (e *ApplyFixesEndpoint) Command(getServerURL func() string) *cobra.Command {
	var assignments []string
	var cutsJSON string
	cmd := &cobra.Command{
		Use:   "fixes <id>",
		Short: "Apply reviewer fixes to a paused session",
		Long: `Apply corrections to a session paused for review.

Block reassignments map a block to a text stream:
  dafmap api sessions fixes <id> --assign b3=s1 --assign b7=s0

Cut overrides move a segment's end boundary, given as JSON:
  dafmap api sessions fixes <id> --cuts '[{"stream_id":"s0","seg_ref":"Shabbat 2a:1","end_cut_x":412}]'

Running without corrections approves the page as-is.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ApplyFixesRequest{}
			if len(assignments) > 0 {
				req.BlockAssignments = make(map[string]string, len(assignments))
				for _, a := range assignments {
					block, stream, ok := splitAssignment(a)
					if !ok {
						return errors.New("--assign expects block=stream, e.g. b3=s1")
					}
					req.BlockAssignments[block] = stream
				}
			}
			if cutsJSON != "" {
				if err := json.Unmarshal([]byte(cutsJSON), &req.CutOverrides); err != nil {
					return errors.New("--cuts expects a JSON array of cut overrides")
				}
			}

			client := api.NewClient(getServerURL())
			var resp session.Record
			if err := client.Post(cmd.Context(), "/api/sessions/"+args[0]+"/fixes", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringArrayVar(&assignments, "assign", nil, "Block reassignment as block=stream (repeatable)")
	cmd.Flags().StringVar(&cutsJSON, "cuts", "", "Cut overrides as a JSON array")
	return cmd
}

func splitAssignment(s string) (block, stream string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			if i == 0 || i == len(s)-1 {
				return "", "", false
			}
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
