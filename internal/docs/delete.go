package docs

import (
	"context"
	"strings"

	"github.com/hpungsan/tandem/internal/db"
	"github.com/hpungsan/tandem/internal/errors"
)

// DeleteInput contains parameters for the Delete operation.
type DeleteInput struct {
	ID string
}

// DeleteOutput contains the result of the Delete operation.
type DeleteOutput struct {
	Deleted bool   `json:"deleted"`
	ID      string `json:"id"`
}

// Delete soft-deletes a document and drops its cached history.
func (s *Service) Delete(ctx context.Context, input DeleteInput) (*DeleteOutput, error) {
	if err := checkCtx(ctx, "delete"); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}

	s.mu.RLock()
	e, cached := s.entries[id]
	s.mu.RUnlock()
	if cached {
		// wait for an in-flight mutation
		e.mu.Lock()
		defer e.mu.Unlock()
	}

	if err := db.SoftDeleteDocument(ctx, s.db, id); err != nil {
		return nil, err
	}
	s.evict(id)

	return &DeleteOutput{Deleted: true, ID: id}, nil
}
