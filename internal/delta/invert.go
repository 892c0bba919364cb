package delta

import (
	"fmt"

	"github.com/hpungsan/tandem/internal/errors"
)

// Invert returns the change that undoes change when applied to
// Apply(base, change). Deletes restore the removed content of base,
// inserts become deletes, and formatting retains restore base attributes.
func Invert(base, change Change) (Change, error) {
	if err := ValidateContent(base); err != nil {
		return Change{}, err
	}
	if need, have := MinRequiredBaseLength(change), ContentLength(base); need > have {
		return Change{}, errors.NewInvalidChange(need, have)
	}

	var out builder
	baseIndex := 0
	for _, op := range change.Ops {
		switch {
		case op.Kind == OpInsert:
			out.push(Delete(op.Len()))
		case op.Kind == OpRetain && len(op.Attributes) == 0:
			out.retain(op.Count, nil)
			baseIndex += op.Count
		case op.Kind == OpRetain || op.Kind == OpDelete:
			for _, baseOp := range sliceOps(base.Ops, baseIndex, baseIndex+op.Count) {
				if op.Kind == OpDelete {
					out.push(baseOp)
				} else {
					out.retain(baseOp.Len(), invertAttributes(op.Attributes, baseOp.Attributes))
				}
			}
			baseIndex += op.Count
		default:
			return Change{}, errors.NewInvalidContent(fmt.Sprintf("unknown op kind %d", op.Kind))
		}
	}
	out.chop()
	return out.change(), nil
}

// sliceOps returns the ops covering positions [start, end).
func sliceOps(ops []Op, start, end int) []Op {
	it := newOpIterator(ops)
	var out []Op
	index := 0
	for index < end && it.hasNext() {
		var next Op
		if index < start {
			next = it.next(start - index)
		} else {
			next = it.next(end - index)
			out = append(out, next)
		}
		index += next.Len()
	}
	return out
}

// NormalizeOps drops empty ops, merges neighbours of the same kind with equal
// attributes, and strips trailing unformatted retains. It is idempotent.
func NormalizeOps(ops []Op) []Op {
	out := make([]Op, 0, len(ops))
	for _, op := range ops {
		if op.Len() == 0 {
			continue
		}
		if op.Kind == OpDelete {
			op.Attributes = nil
		}
		if n := len(out); n > 0 {
			last := out[n-1]
			if last.Kind == op.Kind && last.Attributes.Equal(op.Attributes) {
				switch op.Kind {
				case OpDelete, OpRetain:
					out[n-1].Count += op.Count
					continue
				case OpInsert:
					if last.Embed == nil && op.Embed == nil {
						out[n-1].Text += op.Text
						continue
					}
				}
			}
		}
		op.Attributes = op.Attributes.Clone()
		out = append(out, op)
	}
	for n := len(out); n > 0 && out[n-1].Kind == OpRetain && len(out[n-1].Attributes) == 0; n = len(out) {
		out = out[:n-1]
	}
	return out
}

// Normalize returns change with its ops normalized.
func Normalize(change Change) Change {
	return Change{Ops: NormalizeOps(change.Ops), Contexts: change.Contexts}
}

// Crop returns the part of content in [start, end).
func Crop(content Change, start, end int) (Change, error) {
	if err := ValidateContent(content); err != nil {
		return Change{}, err
	}
	length := ContentLength(content)
	if start < 0 || end < start || end > length {
		return Change{}, errors.NewInvalidRange(start, end, length)
	}
	cut := New().Delete(start).Retain(end-start, nil).Delete(length - end)
	return Compose(content, cut), nil
}
