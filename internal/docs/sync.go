package docs

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hpungsan/tandem/internal/db"
	"github.com/hpungsan/tandem/internal/delta"
	"github.com/hpungsan/tandem/internal/errors"
	"github.com/hpungsan/tandem/internal/history"
)

// AppendInput contains parameters for the Append operation.
type AppendInput struct {
	ID      string
	Branch  string // default: the document's own branch
	Changes []delta.Change
}

// AppendOutput contains the result of the Append operation.
type AppendOutput struct {
	ID  string `json:"id"`
	Rev int    `json:"rev"`
}

// SyncInput contains parameters for the Merge and Rebase operations.
type SyncInput struct {
	ID string
	history.SyncRequest
	DryRun bool
}

// SyncOutput contains the result of the Merge and Rebase operations.
type SyncOutput struct {
	ID string `json:"id"`
	history.SyncResponse
	DryRun bool `json:"dry_run,omitempty"`
}

// Append records changes on top of the current revision. At least one
// change is required.
func (s *Service) Append(ctx context.Context, input AppendInput) (*AppendOutput, error) {
	if len(input.Changes) == 0 {
		return nil, errors.NewInvalidRequest("changes must not be empty")
	}
	if err := s.checkLimit(input.Changes); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(input.ID)
	h, err := s.mutate(ctx, id, "append", false, func(h *history.History) (int, error) {
		rev := h.CurrentRev()
		_, err := h.Append(input.Changes, input.Branch)
		return rev, err
	})
	if err != nil {
		return nil, err
	}
	return &AppendOutput{ID: id, Rev: h.CurrentRev()}, nil
}

// Merge merges a peer's changes after the document's unseen changes.
func (s *Service) Merge(ctx context.Context, input SyncInput) (*SyncOutput, error) {
	return s.sync(ctx, input, "merge", false)
}

// Rebase puts a peer's changes before the document's unseen changes,
// rewriting the stored log from the request's base revision.
func (s *Service) Rebase(ctx context.Context, input SyncInput) (*SyncOutput, error) {
	return s.sync(ctx, input, "rebase", true)
}

func (s *Service) sync(ctx context.Context, input SyncInput, op string, rebase bool) (*SyncOutput, error) {
	if err := s.checkLimit(input.Changes); err != nil {
		return nil, err
	}
	id := strings.TrimSpace(input.ID)

	if input.DryRun {
		res, err := s.simulate(ctx, id, op, rebase, input.SyncRequest)
		if err != nil {
			return nil, err
		}
		return &SyncOutput{ID: id, SyncResponse: *res, DryRun: true}, nil
	}

	var res *history.SyncResponse
	_, err := s.mutate(ctx, id, op, rebase, func(h *history.History) (int, error) {
		var err error
		keep := h.CurrentRev()
		if rebase {
			keep = input.BaseRev
			res, err = h.Rebase(input.SyncRequest)
		} else {
			res, err = h.Merge(input.SyncRequest)
		}
		return keep, err
	})
	if err != nil {
		return nil, err
	}
	return &SyncOutput{ID: id, SyncResponse: *res}, nil
}

func (s *Service) simulate(ctx context.Context, id, op string, rebase bool, req history.SyncRequest) (*history.SyncResponse, error) {
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	e, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if rebase {
		return e.hist.SimulateRebase(req)
	}
	return e.hist.SimulateMerge(req)
}

// mutate runs fn on a copy of the document's history, stores the log from
// the revision fn returns, and installs the copy once the store commits.
// When rewrite is set, stored changes from that revision on are replaced.
func (s *Service) mutate(ctx context.Context, id, op string, rewrite bool, fn func(h *history.History) (int, error)) (*history.History, error) {
	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	e, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := checkCtx(ctx, op); err != nil {
		return nil, err
	}
	if e.retired {
		return nil, errors.NewConflict(fmt.Sprintf("document %s was replaced while the request waited; retry", id))
	}

	next := e.hist.Clone()
	fromRev, err := fn(next)
	if err != nil {
		return nil, err
	}
	changes, err := next.GetChangesFrom(fromRev)
	if err != nil {
		return nil, err
	}

	err = db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if rewrite {
			if err := db.ReplaceChangesFrom(ctx, tx, id, fromRev, changes); err != nil {
				return err
			}
		} else if err := db.AppendChanges(ctx, tx, id, fromRev, changes); err != nil {
			return err
		}
		return db.TouchDocument(ctx, tx, id, next.CurrentRev())
	})
	if err != nil {
		s.logger.Printf("docs: %s %s: persist failed: %v", op, id, err)
		s.evict(id)
		return nil, err
	}

	e.hist = next
	s.logger.Printf("docs: %s %s: rev %d", op, id, next.CurrentRev())
	return next, nil
}
