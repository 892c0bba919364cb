package docs

import (
	"context"
	"strings"

	"github.com/hpungsan/tandem/internal/db"
	"github.com/hpungsan/tandem/internal/delta"
)

// FetchInput contains parameters for the Fetch operation.
type FetchInput struct {
	ID  string
	Rev *int // default: current revision
}

// FetchOutput contains the result of the Fetch operation.
type FetchOutput struct {
	ID         string       `json:"id"`
	Title      *string      `json:"title,omitempty"`
	Branch     string       `json:"branch"`
	InitialRev int          `json:"initial_rev"`
	CurrentRev int          `json:"current_rev"`
	Rev        int          `json:"rev"`
	Content    delta.Change `json:"content"`
	Text       string       `json:"text"`
	CreatedAt  int64        `json:"created_at"`
	UpdatedAt  int64        `json:"updated_at"`
}

// Fetch returns a document's content at a revision.
func (s *Service) Fetch(ctx context.Context, input FetchInput) (*FetchOutput, error) {
	if err := checkCtx(ctx, "fetch"); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(input.ID)
	e, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	d, err := db.GetDocument(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	h := e.hist
	rev := h.CurrentRev()
	if input.Rev != nil {
		rev = *input.Rev
	}
	content, err := h.GetContentAt(rev)
	if err != nil {
		return nil, err
	}

	return &FetchOutput{
		ID:         d.ID,
		Title:      d.Title,
		Branch:     h.Name(),
		InitialRev: h.InitialRev(),
		CurrentRev: h.CurrentRev(),
		Rev:        rev,
		Content:    content,
		Text:       content.Text(),
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}, nil
}
