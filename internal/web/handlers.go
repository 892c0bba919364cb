package web

import (
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/hpungsan/tandem/internal/docs"
	"github.com/hpungsan/tandem/internal/errors"
)

// Handlers contains HTTP route handlers for the web UI and the JSON API.
type Handlers struct {
	svc      *docs.Service
	renderer *Renderer
	hub      *Hub
}

// HandleList handles GET /docs.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	input := docs.ListInput{
		Limit:          parseIntParam(r, "limit", docs.DefaultListLimit),
		Offset:         parseIntParam(r, "offset", 0),
		IncludeDeleted: parseBoolParam(r, "include_deleted"),
	}

	result, err := h.svc.List(r.Context(), input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	nav := "docs"
	if input.IncludeDeleted {
		nav = "deleted"
	}

	h.renderer.renderPage(w, r, "list", ListPageData{
		PageData: PageData{
			Title:   "Documents",
			Version: h.renderer.version,
			Nav:     nav,
		},
		Items:      result.Items,
		Pagination: result.Pagination,
		Deleted:    input.IncludeDeleted,
	})
}

// HandleDetail handles GET /docs/{id}, optionally at ?rev=N.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	input, err := fetchInput(r)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	doc, err := h.svc.Fetch(r.Context(), input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	title := displayTitle(doc.Title, doc.ID)
	h.renderer.renderPage(w, r, "detail", DetailPageData{
		PageData: PageData{
			Title:   title,
			Version: h.renderer.version,
			Nav:     "docs",
		},
		Doc:          doc,
		RenderedHTML: renderMarkdown(doc.Text),
		DisplayTitle: title,
		Chars:        utf8.RuneCountInString(doc.Text),
	})
}

func fetchInput(r *http.Request) (docs.FetchInput, error) {
	id := r.PathValue("id")
	if id == "" {
		return docs.FetchInput{}, errors.NewInvalidRequest("document ID is required")
	}
	rev, err := optionalIntParam(r, "rev")
	if err != nil {
		return docs.FetchInput{}, err
	}
	return docs.FetchInput{ID: id, Rev: rev}, nil
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// optionalIntParam parses an integer query parameter that may be absent.
// A malformed value is an error.
func optionalIntParam(r *http.Request, name string) (*int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, errors.NewInvalidRequest(name + " must be an integer")
	}
	return &v, nil
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}
