package docs

import (
	"context"
	"strings"
	"time"

	"github.com/hpungsan/tandem/internal/db"
	"github.com/hpungsan/tandem/internal/delta"
	"github.com/hpungsan/tandem/internal/errors"
	"github.com/hpungsan/tandem/internal/history"
)

// CreateInput contains parameters for the Create operation.
type CreateInput struct {
	Title      *string
	Text       string        // plain initial text, used when Content is nil
	Content    *delta.Change // rich initial content (inserts only)
	InitialRev int
}

// CreateOutput contains the result of the Create operation.
type CreateOutput struct {
	ID     string `json:"id"`
	Branch string `json:"branch"`
	Rev    int    `json:"rev"`
}

// Create stores a new document whose history is named after the configured
// server branch.
func (s *Service) Create(ctx context.Context, input CreateInput) (*CreateOutput, error) {
	if err := checkCtx(ctx, "create"); err != nil {
		return nil, err
	}
	if input.InitialRev < 0 {
		return nil, errors.NewInvalidRequest("initial_rev must not be negative")
	}

	content := delta.FromText(input.Text)
	if input.Content != nil {
		if input.Text != "" {
			return nil, errors.NewInvalidRequest("specify either text or content, not both")
		}
		if err := delta.ValidateContent(*input.Content); err != nil {
			return nil, err
		}
		content = delta.Normalize(*input.Content)
	}

	title := input.Title
	if title != nil {
		trimmed := strings.TrimSpace(*title)
		if trimmed == "" {
			title = nil
		} else {
			title = &trimmed
		}
	}

	opts := append(s.historyOptions(), history.WithInitialRev(input.InitialRev))
	h, err := history.New(s.cfg.ServerBranch, content, opts...)
	if err != nil {
		return nil, err
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	now := time.Now().Unix()
	d := &db.Document{
		ID:             id,
		Title:          title,
		Branch:         h.Name(),
		InitialRev:     h.InitialRev(),
		InitialContent: content,
		CurrentRev:     h.CurrentRev(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := db.InsertDocument(ctx, s.db, d); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.entries[id] = &entry{hist: h}
	s.mu.Unlock()

	return &CreateOutput{ID: id, Branch: h.Name(), Rev: h.CurrentRev()}, nil
}
