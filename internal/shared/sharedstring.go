package shared

import (
	"strings"

	"github.com/hpungsan/tandem/internal/delta"
	"github.com/hpungsan/tandem/internal/errors"
)

// SharedString is a document that several branches edit concurrently. Each
// branch sees its own projection of one fragment list; deleted content stays
// behind as tombstones so later concurrent edits resolve the same way on
// every side.
type SharedString struct {
	fragments []Fragment
}

// FromString returns a SharedString holding text as initial content.
func FromString(text string) *SharedString {
	s := &SharedString{}
	if text != "" {
		s.fragments = []Fragment{NewFragment(text, nil, Modification{})}
	}
	return s
}

// FromDelta returns a SharedString holding content as initial content.
func FromDelta(content delta.Change) (*SharedString, error) {
	if err := delta.ValidateContent(content); err != nil {
		return nil, err
	}
	s := &SharedString{fragments: make([]Fragment, 0, len(content.Ops))}
	for _, op := range content.Ops {
		if op.Len() == 0 {
			continue
		}
		if op.Embed != nil {
			s.fragments = append(s.fragments, NewEmbedFragment(op.Embed, op.Attributes, Modification{}))
		} else {
			s.fragments = append(s.fragments, NewFragment(op.Text, op.Attributes, Modification{}))
		}
	}
	return s, nil
}

// ApplyChange applies change as made by branch, against the content branch
// sees. It returns the same edit expressed against the public view, the
// content no branch has deleted. Nothing is modified when an error is
// returned.
func (s *SharedString) ApplyChange(change delta.Change, branch string) (delta.Change, error) {
	if branch == "" {
		return delta.Change{}, errors.NewInvalidRequest("branch is required")
	}
	if err := delta.Validate(change); err != nil {
		return delta.Change{}, err
	}
	if need, have := delta.MinRequiredBaseLength(change), s.VisibleLength(branch); need > have {
		return delta.Change{}, errors.NewInvalidChange(need, have)
	}

	public := publicChange(s.fragments, change, branch)
	s.fragments = applyFragments(s.fragments, change, branch)
	return public, nil
}

// ToDelta returns the public view as content.
func (s *SharedString) ToDelta() delta.Change {
	return s.ToDeltaFor(WildcardAll)
}

// ToDeltaFor returns the content branch sees.
func (s *SharedString) ToDeltaFor(branch string) delta.Change {
	ops := make([]delta.Op, 0, len(s.fragments))
	for _, f := range s.fragments {
		if f.IsVisibleTo(branch) {
			ops = append(ops, f.insertOp())
		}
	}
	return delta.Change{Ops: delta.NormalizeOps(ops)}
}

// ToText returns the public view as plain text. Embeds are skipped.
func (s *SharedString) ToText() string {
	var sb strings.Builder
	for _, f := range s.fragments {
		if f.mod.IsPublic() && f.embed == nil {
			sb.WriteString(f.Text())
		}
	}
	return sb.String()
}

// VisibleLength returns the length of the content branch sees.
func (s *SharedString) VisibleLength(branch string) int {
	n := 0
	for _, f := range s.fragments {
		if f.IsVisibleTo(branch) {
			n += f.Len()
		}
	}
	return n
}

// Fragments returns the fragment list, tombstones included.
func (s *SharedString) Fragments() []Fragment {
	return append([]Fragment(nil), s.fragments...)
}

// Clone returns an independent copy. Fragments are immutable, so the copy
// shares them.
func (s *SharedString) Clone() *SharedString {
	return &SharedString{fragments: s.fragments}
}
