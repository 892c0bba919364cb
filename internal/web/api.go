package web

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hpungsan/tandem/internal/delta"
	"github.com/hpungsan/tandem/internal/docs"
	"github.com/hpungsan/tandem/internal/errors"
	"github.com/hpungsan/tandem/internal/history"
)

// maxBodyBytes limits request bodies and websocket frames.
const maxBodyBytes = 4 << 20

type createBody struct {
	Title      *string       `json:"title"`
	Text       string        `json:"text"`
	Content    *delta.Change `json:"content"`
	InitialRev int           `json:"initial_rev"`
}

type appendBody struct {
	Branch  string         `json:"branch"`
	Changes []delta.Change `json:"changes"`
}

// decodeBody decodes a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return decodeError(err)
	}
	return nil
}

// decodeError keeps errors raised by the change decoder and reports
// anything else as a malformed request.
func decodeError(err error) error {
	if sErr, ok := errors.As(err); ok {
		return sErr
	}
	return errors.NewInvalidRequest("invalid JSON body: " + err.Error())
}

// HandleAPIList handles GET /api/docs.
func (h *Handlers) HandleAPIList(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.List(r.Context(), docs.ListInput{
		Limit:          parseIntParam(r, "limit", docs.DefaultListLimit),
		Offset:         parseIntParam(r, "offset", 0),
		IncludeDeleted: parseBoolParam(r, "include_deleted"),
	})
	if err != nil {
		renderAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleAPICreate handles POST /api/docs.
func (h *Handlers) HandleAPICreate(w http.ResponseWriter, r *http.Request) {
	var body createBody
	if err := decodeBody(w, r, &body); err != nil {
		renderAPIError(w, err)
		return
	}
	out, err := h.svc.Create(r.Context(), docs.CreateInput{
		Title:      body.Title,
		Text:       body.Text,
		Content:    body.Content,
		InitialRev: body.InitialRev,
	})
	if err != nil {
		renderAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusCreated, out)
}

// HandleAPIFetch handles GET /api/docs/{id}?rev=N.
func (h *Handlers) HandleAPIFetch(w http.ResponseWriter, r *http.Request) {
	input, err := fetchInput(r)
	if err != nil {
		renderAPIError(w, err)
		return
	}
	out, err := h.svc.Fetch(r.Context(), input)
	if err != nil {
		renderAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleAPIChanges handles GET /api/docs/{id}/changes?from=A&to=B.
func (h *Handlers) HandleAPIChanges(w http.ResponseWriter, r *http.Request) {
	from, err := optionalIntParam(r, "from")
	if err != nil {
		renderAPIError(w, err)
		return
	}
	to, err := optionalIntParam(r, "to")
	if err != nil {
		renderAPIError(w, err)
		return
	}
	out, err := h.svc.Changes(r.Context(), docs.ChangesInput{ID: r.PathValue("id"), From: from, To: to})
	if err != nil {
		renderAPIError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleAPIAppend handles POST /api/docs/{id}/append.
func (h *Handlers) HandleAPIAppend(w http.ResponseWriter, r *http.Request) {
	var body appendBody
	if err := decodeBody(w, r, &body); err != nil {
		renderAPIError(w, err)
		return
	}
	id := r.PathValue("id")
	out, err := h.svc.Append(r.Context(), docs.AppendInput{ID: id, Branch: body.Branch, Changes: body.Changes})
	if err != nil {
		renderAPIError(w, err)
		return
	}
	h.hub.NotifyUpdate(out.ID, out.Rev)
	renderJSON(w, http.StatusOK, out)
}

// HandleAPIMerge handles POST /api/docs/{id}/merge?dry_run=true.
func (h *Handlers) HandleAPIMerge(w http.ResponseWriter, r *http.Request) {
	h.handleSync(w, r, h.svc.Merge)
}

// HandleAPIRebase handles POST /api/docs/{id}/rebase?dry_run=true.
func (h *Handlers) HandleAPIRebase(w http.ResponseWriter, r *http.Request) {
	h.handleSync(w, r, h.svc.Rebase)
}

type syncFunc func(ctx context.Context, input docs.SyncInput) (*docs.SyncOutput, error)

func (h *Handlers) handleSync(w http.ResponseWriter, r *http.Request, run syncFunc) {
	var req history.SyncRequest
	if err := decodeBody(w, r, &req); err != nil {
		renderAPIError(w, err)
		return
	}
	out, err := run(r.Context(), docs.SyncInput{
		ID:          r.PathValue("id"),
		SyncRequest: req,
		DryRun:      parseBoolParam(r, "dry_run"),
	})
	if err != nil {
		renderAPIError(w, err)
		return
	}
	if !out.DryRun {
		h.hub.NotifyUpdate(out.ID, out.Rev)
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleAPIDelete handles DELETE /api/docs/{id}.
func (h *Handlers) HandleAPIDelete(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Delete(r.Context(), docs.DeleteInput{ID: r.PathValue("id")})
	if err != nil {
		renderAPIError(w, err)
		return
	}
	h.hub.NotifyDeleted(out.ID)
	renderJSON(w, http.StatusOK, out)
}
