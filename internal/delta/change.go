package delta

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hpungsan/tandem/internal/errors"
)

// Change is an ordered list of ops. A change made only of inserts is
// content: the document itself. Contexts is opaque per-change metadata
// that is carried through merges untouched.
type Change struct {
	Ops      []Op              `json:"ops"`
	Contexts []json.RawMessage `json:"contexts,omitempty"`
}

// New returns a change holding ops as given.
func New(ops ...Op) Change {
	return Change{Ops: append([]Op(nil), ops...)}
}

// FromText returns content holding a single unformatted insert.
func FromText(text string) Change {
	if text == "" {
		return Change{}
	}
	return Change{Ops: []Op{Insert(text, nil)}}
}

func (c Change) with(op Op) Change {
	if op.Len() == 0 {
		return c
	}
	ops := make([]Op, len(c.Ops), len(c.Ops)+1)
	copy(ops, c.Ops)
	return Change{Ops: append(ops, op), Contexts: c.Contexts}
}

// Insert appends an insert op.
func (c Change) Insert(text string, attrs AttributeMap) Change {
	return c.with(Insert(text, attrs))
}

// Retain appends a retain op.
func (c Change) Retain(n int, attrs AttributeMap) Change {
	return c.with(Retain(n, attrs))
}

// Delete appends a delete op.
func (c Change) Delete(n int) Change {
	return c.with(Delete(n))
}

// IsContent reports whether every op is an insert.
func (c Change) IsContent() bool {
	for _, op := range c.Ops {
		if op.Kind != OpInsert {
			return false
		}
	}
	return true
}

// Text concatenates the text inserts of content. Embeds are skipped.
func (c Change) Text() string {
	var sb strings.Builder
	for _, op := range c.Ops {
		if op.Kind == OpInsert && op.Embed == nil {
			sb.WriteString(op.Text)
		}
	}
	return sb.String()
}

func (c Change) String() string {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Sprintf("Change(%d ops)", len(c.Ops))
	}
	return string(b)
}

func (c Change) MarshalJSON() ([]byte, error) {
	type alias Change
	a := alias(c)
	if a.Ops == nil {
		a.Ops = []Op{}
	}
	return json.Marshal(a)
}

// ContentLength returns the length of content. Non-insert ops count zero.
func ContentLength(content Change) int {
	n := 0
	for _, op := range content.Ops {
		if op.Kind == OpInsert {
			n += op.Len()
		}
	}
	return n
}

// MinRequiredBaseLength returns how much base content a change walks over:
// the sum of its retain and delete lengths.
func MinRequiredBaseLength(change Change) int {
	n := 0
	for _, op := range change.Ops {
		if op.Kind == OpRetain || op.Kind == OpDelete {
			n += op.Count
		}
	}
	return n
}

// Validate checks that every op is well formed.
func Validate(change Change) error {
	for i, op := range change.Ops {
		switch op.Kind {
		case OpInsert:
			if op.Embed != nil && op.Text != "" {
				return errors.NewInvalidContent(fmt.Sprintf("ops[%d]: insert has both text and embed", i))
			}
		case OpRetain, OpDelete:
			if op.Count < 0 {
				return errors.NewInvalidContent(fmt.Sprintf("ops[%d]: negative %s", i, op.Kind))
			}
		default:
			return errors.NewInvalidContent(fmt.Sprintf("ops[%d]: unknown op kind", i))
		}
	}
	return nil
}

// ValidateContent checks that content is well formed and holds only inserts.
func ValidateContent(content Change) error {
	if err := Validate(content); err != nil {
		return err
	}
	for i, op := range content.Ops {
		if op.Kind != OpInsert {
			return errors.NewInvalidContent(fmt.Sprintf("ops[%d]: content may only contain inserts, got %s", i, op.Kind))
		}
	}
	return nil
}

// Equal reports whether two changes normalize to the same ops.
func Equal(a, b Change) bool {
	an, bn := NormalizeOps(a.Ops), NormalizeOps(b.Ops)
	if len(an) != len(bn) {
		return false
	}
	for i := range an {
		if !an[i].Equal(bn[i]) {
			return false
		}
	}
	return true
}
