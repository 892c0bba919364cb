package docs

import (
	"context"
	"strings"

	"github.com/hpungsan/tandem/internal/db"
	"github.com/hpungsan/tandem/internal/delta"
)

// Summary is a document header without content.
type Summary struct {
	ID         string  `json:"id"`
	Title      *string `json:"title,omitempty"`
	Branch     string  `json:"branch"`
	CurrentRev int     `json:"current_rev"`
	CreatedAt  int64   `json:"created_at"`
	UpdatedAt  int64   `json:"updated_at"`
	DeletedAt  *int64  `json:"deleted_at,omitempty"`
}

// ListInput contains parameters for the List operation.
type ListInput struct {
	Limit          int // default: 20, max: 100
	Offset         int // default: 0
	IncludeDeleted bool
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []Summary  `json:"items"`
	Pagination Pagination `json:"pagination"`
	Sort       string     `json:"sort"`
}

// List returns document summaries with pagination.
func (s *Service) List(ctx context.Context, input ListInput) (*ListOutput, error) {
	if err := checkCtx(ctx, "list"); err != nil {
		return nil, err
	}

	limit := input.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := max(input.Offset, 0)

	rows, total, err := db.ListDocuments(ctx, s.db, db.ListParams{
		Limit:          limit,
		Offset:         offset,
		IncludeDeleted: input.IncludeDeleted,
	})
	if err != nil {
		return nil, err
	}

	items := make([]Summary, 0, len(rows))
	for _, d := range rows {
		items = append(items, Summary{
			ID:         d.ID,
			Title:      d.Title,
			Branch:     d.Branch,
			CurrentRev: d.CurrentRev,
			CreatedAt:  d.CreatedAt,
			UpdatedAt:  d.UpdatedAt,
			DeletedAt:  d.DeletedAt,
		})
	}

	return &ListOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
		Sort: "updated_at_desc",
	}, nil
}

// ChangesInput contains parameters for the Changes operation.
type ChangesInput struct {
	ID   string
	From *int // default: initial revision
	To   *int // default: current revision
}

// ChangesOutput contains the result of the Changes operation.
type ChangesOutput struct {
	ID      string         `json:"id"`
	From    int            `json:"from"`
	To      int            `json:"to"`
	Changes []delta.Change `json:"changes"`
}

// Changes returns the recorded changes in [from, to).
func (s *Service) Changes(ctx context.Context, input ChangesInput) (*ChangesOutput, error) {
	if err := checkCtx(ctx, "changes"); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(input.ID)
	e, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	from, to := e.hist.InitialRev(), e.hist.CurrentRev()
	if input.From != nil {
		from = *input.From
	}
	if input.To != nil {
		to = *input.To
	}
	changes, err := e.hist.GetChangesFromTo(from, to)
	if err != nil {
		return nil, err
	}
	if changes == nil {
		changes = []delta.Change{}
	}
	return &ChangesOutput{ID: id, From: from, To: to, Changes: changes}, nil
}
