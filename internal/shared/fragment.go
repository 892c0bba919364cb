package shared

import (
	"maps"
	"slices"

	"github.com/hpungsan/tandem/internal/delta"
)

// AttributeFragment holds the attributes a fragment was inserted with plus
// the formatting each branch has applied since.
type AttributeFragment struct {
	Val delta.AttributeMap
	Mod map[string]delta.AttributeMap
}

// Effective applies Mod in ascending branch order over Val and drops keys
// that end up Unset.
func (a *AttributeFragment) Effective() delta.AttributeMap {
	if a == nil {
		return nil
	}
	out := delta.AttributeMap{}
	for k, v := range a.Val {
		out[k] = v
	}
	for _, branch := range slices.Sorted(maps.Keys(a.Mod)) {
		for k, v := range a.Mod[branch] {
			out[k] = v
		}
	}
	return out.Compact()
}

// withBranch returns a copy in which branch's formatting is layered with attrs.
func (a *AttributeFragment) withBranch(branch string, attrs delta.AttributeMap) *AttributeFragment {
	next := &AttributeFragment{Mod: make(map[string]delta.AttributeMap, 1)}
	if a != nil {
		next.Val = a.Val
		for b, m := range a.Mod {
			next.Mod[b] = m
		}
	}
	merged := next.Mod[branch].Clone()
	if merged == nil {
		merged = delta.AttributeMap{}
	}
	for k, v := range attrs {
		merged[k] = v
	}
	next.Mod[branch] = merged
	return next
}

// Fragment is an immutable run of text (or a single embed) that shares one
// Modification and one set of attributes. Slicing and editing produce new
// fragments.
type Fragment struct {
	runes []rune
	embed map[string]any
	attrs *AttributeFragment
	mod   Modification
}

// NewFragment returns a text fragment.
func NewFragment(text string, attrs delta.AttributeMap, mod Modification) Fragment {
	return Fragment{runes: []rune(text), attrs: newAttributeFragment(attrs), mod: mod}
}

// NewEmbedFragment returns a fragment holding one embed.
func NewEmbedFragment(embed map[string]any, attrs delta.AttributeMap, mod Modification) Fragment {
	return Fragment{embed: embed, attrs: newAttributeFragment(attrs), mod: mod}
}

func newAttributeFragment(attrs delta.AttributeMap) *AttributeFragment {
	if len(attrs) == 0 {
		return nil
	}
	return &AttributeFragment{Val: attrs.Clone()}
}

func fragmentFromInsert(op delta.Op, branch string) Fragment {
	if op.Embed != nil {
		return NewEmbedFragment(op.Embed, op.Attributes, NewInsertion(branch))
	}
	return NewFragment(op.Text, op.Attributes, NewInsertion(branch))
}

func (f Fragment) Len() int {
	if f.embed != nil {
		return 1
	}
	return len(f.runes)
}

func (f Fragment) Text() string               { return string(f.runes) }
func (f Fragment) Embed() map[string]any      { return f.embed }
func (f Fragment) Modification() Modification { return f.mod }

// Attributes returns the effective attributes.
func (f Fragment) Attributes() delta.AttributeMap { return f.attrs.Effective() }

func (f Fragment) IsVisibleTo(branch string) bool { return f.mod.IsVisibleTo(branch) }

func (f Fragment) ShouldAdvanceForTiebreak(branch string) bool {
	return f.mod.ShouldAdvanceForTiebreak(branch)
}

// slice returns the part in [start, end). Metadata is shared, never copied
// into a mutable form.
func (f Fragment) slice(start, end int) Fragment {
	if f.embed != nil || (start == 0 && end == len(f.runes)) {
		return f
	}
	out := f
	out.runes = f.runes[start:end:end]
	return out
}

func (f Fragment) withDeletion(branch string) Fragment {
	out := f
	out.mod = f.mod.withDeletion(branch)
	return out
}

func (f Fragment) withAttributes(branch string, attrs delta.AttributeMap) Fragment {
	out := f
	out.attrs = f.attrs.withBranch(branch, attrs)
	return out
}

// insertOp returns the fragment as an insert with its effective attributes.
func (f Fragment) insertOp() delta.Op {
	if f.embed != nil {
		return delta.InsertEmbed(f.embed, f.Attributes())
	}
	return delta.Insert(f.Text(), f.Attributes())
}
