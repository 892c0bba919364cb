package history

import (
	"fmt"

	"github.com/hpungsan/tandem/internal/delta"
	"github.com/hpungsan/tandem/internal/errors"
	"github.com/hpungsan/tandem/internal/shared"
)

// outcome is a computed but uncommitted sync: the full new log, the
// revision above which old savepoints are stale, and the response.
type outcome struct {
	changes  []delta.Change
	keepRev  int
	response *SyncResponse
}

// Append records changes made by branch on top of the current revision and
// returns the new revision. An empty branch means the history's own name.
func (h *History) Append(changes []delta.Change, branch string) (int, error) {
	if branch == "" {
		branch = h.name
	}
	res, err := h.Merge(SyncRequest{BaseRev: h.CurrentRev(), Branch: branch, Changes: changes})
	if err != nil {
		return 0, err
	}
	return res.Rev, nil
}

// Merge applies the request's changes after the local changes the requester
// has not seen. Local changes keep their place in the log; the request's
// changes are appended in the form the log needs.
func (h *History) Merge(req SyncRequest) (*SyncResponse, error) {
	o, err := h.planMerge(req)
	if err != nil {
		return nil, err
	}
	if err := h.commit(o); err != nil {
		return nil, err
	}
	return o.response, nil
}

// Rebase rewrites the log from req.BaseRev: the request's changes come first
// and the local changes the requester has not seen are reapplied on top.
func (h *History) Rebase(req SyncRequest) (*SyncResponse, error) {
	o, err := h.planRebase(req)
	if err != nil {
		return nil, err
	}
	if err := h.commit(o); err != nil {
		return nil, err
	}
	return o.response, nil
}

// SimulateMerge returns what Merge would return without changing h.
func (h *History) SimulateMerge(req SyncRequest) (*SyncResponse, error) {
	o, err := h.planMerge(req)
	if err != nil {
		return nil, err
	}
	return o.response, nil
}

// SimulateRebase returns what Rebase would return without changing h.
func (h *History) SimulateRebase(req SyncRequest) (*SyncResponse, error) {
	o, err := h.planRebase(req)
	if err != nil {
		return nil, err
	}
	return o.response, nil
}

// prepare validates req and returns the shared string at its base revision
// together with the local changes made since.
func (h *History) prepare(req SyncRequest) (*shared.SharedString, []delta.Change, error) {
	if err := h.checkRev(req.BaseRev); err != nil {
		return nil, nil, err
	}
	if req.Branch == "" {
		return nil, nil, errors.NewInvalidRequest("branch is required")
	}
	local, err := h.GetChangesFrom(req.BaseRev)
	if err != nil {
		return nil, nil, err
	}
	if len(local) > 0 {
		if shared.IsWildcard(req.Branch) {
			return nil, nil, errors.NewInvalidRequest(fmt.Sprintf("branch %q is a wildcard and cannot sync against unseen changes", req.Branch))
		}
		if req.Branch == h.name {
			return nil, nil, errors.NewConflict(fmt.Sprintf("branch %q is behind by %d revisions; fetch before appending", req.Branch, len(local)))
		}
	}

	base, err := h.GetContentAt(req.BaseRev)
	if err != nil {
		return nil, nil, err
	}
	ss, err := shared.FromDelta(base)
	if err != nil {
		return nil, nil, err
	}
	return ss, local, nil
}

func applyAll(ss *shared.SharedString, changes []delta.Change, branch string) ([]delta.Change, error) {
	out := make([]delta.Change, 0, len(changes))
	for i, c := range changes {
		public, err := ss.ApplyChange(c, branch)
		if err != nil {
			return nil, fmt.Errorf("changes[%d]: %w", i, err)
		}
		out = append(out, public)
	}
	return out, nil
}

func (h *History) planMerge(req SyncRequest) (*outcome, error) {
	ss, local, err := h.prepare(req)
	if err != nil {
		return nil, err
	}
	if _, err := applyAll(ss, local, h.name); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("replay local changes: %w", err))
	}
	reqDeltas, err := applyAll(ss, req.Changes, req.Branch)
	if err != nil {
		return nil, err
	}

	next := make([]delta.Change, 0, len(h.changes)+len(reqDeltas))
	next = append(next, h.changes...)
	next = append(next, reqDeltas...)
	return &outcome{
		changes: next,
		keepRev: h.CurrentRev(),
		response: &SyncResponse{
			Rev:       h.initialRev + len(next),
			Content:   ss.ToDelta(),
			ReqDeltas: reqDeltas,
			ResDeltas: local,
		},
	}, nil
}

func (h *History) planRebase(req SyncRequest) (*outcome, error) {
	ss, local, err := h.prepare(req)
	if err != nil {
		return nil, err
	}
	reqDeltas, err := applyAll(ss, req.Changes, req.Branch)
	if err != nil {
		return nil, err
	}
	resDeltas, err := applyAll(ss, local, h.name)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("reapply local changes: %w", err))
	}

	kept := req.BaseRev - h.initialRev
	next := make([]delta.Change, 0, kept+len(reqDeltas)+len(resDeltas))
	next = append(next, h.changes[:kept]...)
	next = append(next, reqDeltas...)
	next = append(next, resDeltas...)
	return &outcome{
		changes: next,
		keepRev: req.BaseRev,
		response: &SyncResponse{
			Rev:       h.initialRev + len(next),
			Content:   ss.ToDelta(),
			ReqDeltas: reqDeltas,
			ResDeltas: resDeltas,
		},
	}, nil
}

// commit installs o. Savepoints above o.keepRev are dropped and rebuilt from
// the new log; nothing changes if that fails.
func (h *History) commit(o *outcome) error {
	savepoints := make([]Savepoint, 0, len(h.savepoints)+1)
	for _, sp := range h.savepoints {
		if sp.Rev <= o.keepRev {
			savepoints = append(savepoints, sp)
		}
	}
	if pruned := len(h.savepoints) - len(savepoints); pruned > 0 {
		h.logger.Printf("history %s: pruned %d savepoints above rev %d", h.name, pruned, o.keepRev)
	}

	kept := len(savepoints)
	savepoints, err := h.extendSavepoints(o.changes, savepoints)
	if err != nil {
		return err
	}
	if h.check && len(savepoints) > kept {
		if err := verifySavepoints(h.initialRev, o.changes, savepoints); err != nil {
			h.logger.Printf("history %s: %v", h.name, err)
			return err
		}
	}

	h.changes = o.changes
	h.savepoints = savepoints
	return nil
}

// extendSavepoints appends a savepoint every savepointRate revisions up to
// the end of changes.
func (h *History) extendSavepoints(changes []delta.Change, savepoints []Savepoint) ([]Savepoint, error) {
	last := savepoints[len(savepoints)-1]
	current := h.initialRev + len(changes)
	content := last.Content
	for rev := last.Rev; rev+h.savepointRate <= current; rev += h.savepointRate {
		next, err := delta.ApplyChanges(content, changes[rev-h.initialRev:rev+h.savepointRate-h.initialRev])
		if err != nil {
			return nil, errors.NewInternal(fmt.Errorf("build savepoint at %d: %w", rev+h.savepointRate, err))
		}
		content = delta.Normalize(next)
		savepoints = append(savepoints, Savepoint{Rev: rev + h.savepointRate, Content: content})
		h.logger.Printf("history %s: savepoint at rev %d", h.name, rev+h.savepointRate)
	}
	return savepoints, nil
}

// verifySavepoints replays the log from the first savepoint and compares
// every later savepoint with the replayed content.
func verifySavepoints(initialRev int, changes []delta.Change, savepoints []Savepoint) error {
	content := savepoints[0].Content
	for i := 1; i < len(savepoints); i++ {
		prev, sp := savepoints[i-1], savepoints[i]
		next, err := delta.ApplyChanges(content, changes[prev.Rev-initialRev:sp.Rev-initialRev])
		if err != nil {
			return errors.NewConsistencyViolation(sp.Rev, err.Error())
		}
		if !delta.Equal(next, sp.Content) {
			return errors.NewConsistencyViolation(sp.Rev, "stored content differs from replay")
		}
		content = next
	}
	return nil
}

// CheckSavepoints verifies every savepoint against a replay of the log.
func (h *History) CheckSavepoints() error {
	if err := verifySavepoints(h.initialRev, h.changes, h.savepoints); err != nil {
		h.logger.Printf("history %s: %v", h.name, err)
		return err
	}
	return nil
}
