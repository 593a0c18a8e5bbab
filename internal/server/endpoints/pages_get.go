package endpoints

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/dafmap/internal/api"
	"github.com/jackzampolin/dafmap/internal/page"
	"github.com/jackzampolin/dafmap/internal/store"
	"github.com/jackzampolin/dafmap/internal/svcctx"
)

// GetPageEndpoint handles GET /api/pages/{ref...}.
// Page ids are canonical references like "Shabbat 2a", so the path
// segment arrives URL-encoded.
type GetPageEndpoint struct{}

func (e *GetPageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/pages/{ref...}", e.handler
}

func (e *GetPageEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get a page document
//	@Description	Fetch a finalized page document by canonical page reference
//	@Tags			pages
//	@Produce		json
//	@Param			ref	path		string	true	"Page reference (URL-encoded), e.g. Shabbat%202a"
//	@Success		200	{object}	page.Doc
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/pages/{ref} [get]
func (e *GetPageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ref, err := url.PathUnescape(r.PathValue("ref"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ref encoding")
		return
	}
	if ref == "" {
		writeError(w, http.StatusBadRequest, "page ref is required")
		return
	}

	sessions := svcctx.SessionsFrom(r.Context())
	if sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session manager not initialized")
		return
	}

	doc, err := sessions.GetPage(r.Context(), ref)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "page not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (e *GetPageEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <ref>",
		Short: "Get a finalized page document by reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp page.Doc
			path := "/api/pages/" + url.PathEscape(args[0])
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
