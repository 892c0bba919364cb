package history

import (
	"fmt"
	"io"
	"log"

	"github.com/hpungsan/tandem/internal/delta"
	"github.com/hpungsan/tandem/internal/errors"
	"github.com/hpungsan/tandem/internal/shared"
)

// DefaultSavepointRate is the number of revisions between savepoints.
const DefaultSavepointRate = 20

// SyncRequest carries changes a peer made on top of BaseRev.
type SyncRequest struct {
	BaseRev int            `json:"baseRev"`
	Branch  string         `json:"branch"`
	Changes []delta.Change `json:"changes"`
}

// SyncResponse is the outcome of a merge or rebase. ReqDeltas are the
// request changes as recorded in the log; ResDeltas are the changes the
// peer has to apply to catch up.
type SyncResponse struct {
	Rev       int            `json:"rev"`
	Content   delta.Change   `json:"content"`
	ReqDeltas []delta.Change `json:"reqDeltas"`
	ResDeltas []delta.Change `json:"resDeltas"`
}

// Savepoint is the content at a revision.
type Savepoint struct {
	Rev     int          `json:"rev"`
	Content delta.Change `json:"content"`
}

// History is the revision log of one document as seen by the branch it is
// named after. It is not safe for concurrent mutation.
type History struct {
	name          string
	initialRev    int
	changes       []delta.Change
	savepoints    []Savepoint
	savepointRate int
	check         bool
	logger        *log.Logger
}

// Option configures a History.
type Option func(*History)

// WithInitialRev sets the revision of the initial content.
func WithInitialRev(rev int) Option {
	return func(h *History) { h.initialRev = rev }
}

// WithSavepointRate sets how many revisions pass between savepoints.
// Values below 1 keep the default.
func WithSavepointRate(rate int) Option {
	return func(h *History) {
		if rate > 0 {
			h.savepointRate = rate
		}
	}
}

// WithSavepointCheck replays the log against every savepoint each time a
// savepoint is added.
func WithSavepointCheck(enabled bool) Option {
	return func(h *History) { h.check = enabled }
}

// WithLogger sets the logger. Nil discards.
func WithLogger(l *log.Logger) Option {
	return func(h *History) {
		if l != nil {
			h.logger = l
		}
	}
}

// New returns a History named name whose content at the initial revision
// is initial.
func New(name string, initial delta.Change, opts ...Option) (*History, error) {
	if name == "" {
		return nil, errors.NewInvalidRequest("history name is required")
	}
	if shared.IsWildcard(name) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("history name %q is a wildcard", name))
	}
	if err := delta.ValidateContent(initial); err != nil {
		return nil, err
	}
	h := &History{
		name:          name,
		savepointRate: DefaultSavepointRate,
		logger:        log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.initialRev < 0 {
		return nil, errors.NewInvalidRequest("initial revision must not be negative")
	}
	h.savepoints = []Savepoint{{Rev: h.initialRev, Content: delta.Normalize(initial)}}
	return h, nil
}

// Restore returns a History whose log is changes, as previously recorded
// by a History with the same name. Every change must apply in order.
func Restore(name string, initial delta.Change, changes []delta.Change, opts ...Option) (*History, error) {
	h, err := New(name, initial, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := delta.ApplyChanges(initial, changes); err != nil {
		return nil, err
	}
	o := &outcome{changes: append([]delta.Change(nil), changes...), keepRev: h.initialRev}
	if err := h.commit(o); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *History) Name() string       { return h.name }
func (h *History) InitialRev() int    { return h.initialRev }
func (h *History) CurrentRev() int    { return h.initialRev + len(h.changes) }
func (h *History) SavepointRate() int { return h.savepointRate }

// Savepoints returns a copy of the savepoints, ascending by revision.
func (h *History) Savepoints() []Savepoint {
	return append([]Savepoint(nil), h.savepoints...)
}

// Clone returns a copy that can be mutated without affecting h.
func (h *History) Clone() *History {
	c := *h
	c.changes = append([]delta.Change(nil), h.changes...)
	c.savepoints = append([]Savepoint(nil), h.savepoints...)
	return &c
}

func (h *History) checkRev(rev int) error {
	if rev < h.initialRev || rev > h.CurrentRev() {
		return errors.NewRevisionOutOfRange(rev, h.initialRev, h.CurrentRev())
	}
	return nil
}

// GetChange returns the change that produced revision rev+1.
func (h *History) GetChange(rev int) (delta.Change, error) {
	if rev < h.initialRev || rev >= h.CurrentRev() {
		return delta.Change{}, errors.NewRevisionOutOfRange(rev, h.initialRev, h.CurrentRev()-1)
	}
	return h.changes[rev-h.initialRev], nil
}

// GetChangesFromTo returns the changes in [from, to).
func (h *History) GetChangesFromTo(from, to int) ([]delta.Change, error) {
	if err := h.checkRev(from); err != nil {
		return nil, err
	}
	if err := h.checkRev(to); err != nil {
		return nil, err
	}
	if to < from {
		return nil, errors.NewRevisionOutOfRange(to, from, h.CurrentRev())
	}
	return append([]delta.Change(nil), h.changes[from-h.initialRev:to-h.initialRev]...), nil
}

// GetChangesFrom returns the changes from rev to the current revision.
func (h *History) GetChangesFrom(rev int) ([]delta.Change, error) {
	return h.GetChangesFromTo(rev, h.CurrentRev())
}

// GetContentAt returns the content at rev, replaying from the nearest
// savepoint at or before it.
func (h *History) GetContentAt(rev int) (delta.Change, error) {
	if err := h.checkRev(rev); err != nil {
		return delta.Change{}, err
	}
	return contentAt(h.initialRev, h.changes, h.savepoints, rev)
}

func (h *History) GetTextAt(rev int) (string, error) {
	content, err := h.GetContentAt(rev)
	if err != nil {
		return "", err
	}
	return content.Text(), nil
}

func (h *History) GetContent() (delta.Change, error) {
	return h.GetContentAt(h.CurrentRev())
}

func (h *History) GetText() (string, error) {
	return h.GetTextAt(h.CurrentRev())
}

func contentAt(initialRev int, changes []delta.Change, savepoints []Savepoint, rev int) (delta.Change, error) {
	sp := savepoints[0]
	for _, s := range savepoints[1:] {
		if s.Rev > rev {
			break
		}
		sp = s
	}
	content, err := delta.ApplyChanges(sp.Content, changes[sp.Rev-initialRev:rev-initialRev])
	if err != nil {
		return delta.Change{}, fmt.Errorf("replay from savepoint %d: %w", sp.Rev, err)
	}
	return delta.Normalize(content), nil
}
