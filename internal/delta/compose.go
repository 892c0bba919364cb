package delta

import (
	"fmt"

	"github.com/hpungsan/tandem/internal/errors"
)

// Compose returns a single change equivalent to applying a then b.
// The result carries no contexts.
func Compose(a, b Change) Change {
	thisIter := newOpIterator(a.Ops)
	otherIter := newOpIterator(b.Ops)
	var out builder

	// Leading plain retain of b passes a's inserts through unchanged.
	if first, ok := otherIter.peek(); ok && first.Kind == OpRetain && len(first.Attributes) == 0 {
		firstLeft := first.Count
		for thisIter.peekKind() == OpInsert && thisIter.peekLength() <= firstLeft {
			firstLeft -= thisIter.peekLength()
			out.push(thisIter.nextAll())
		}
		if first.Count-firstLeft > 0 {
			otherIter.next(first.Count - firstLeft)
		}
	}

	for thisIter.hasNext() || otherIter.hasNext() {
		switch {
		case otherIter.peekKind() == OpInsert:
			out.push(otherIter.nextAll())
		case thisIter.peekKind() == OpDelete:
			out.push(thisIter.nextAll())
		default:
			length := min(thisIter.peekLength(), otherIter.peekLength())
			thisOp := thisIter.next(length)
			otherOp := otherIter.next(length)
			switch {
			case otherOp.Kind == OpRetain:
				var newOp Op
				if thisOp.Kind == OpRetain {
					newOp = Op{Kind: OpRetain, Count: length}
				} else {
					newOp = thisOp
				}
				newOp.Attributes = composeAttributes(thisOp.Attributes, otherOp.Attributes, thisOp.Kind == OpRetain)
				out.push(newOp)

				// Once b is exhausted the rest of a is copied as is.
				if !otherIter.hasNext() && len(out.ops) > 0 && out.ops[len(out.ops)-1].Equal(newOp) {
					for _, op := range thisIter.rest() {
						out.push(op)
					}
					out.chop()
					return out.change()
				}
			case otherOp.Kind == OpDelete && thisOp.Kind == OpRetain:
				out.push(otherOp)
			}
			// A delete of an insert cancels both.
		}
	}
	out.chop()
	return out.change()
}

// Apply applies change to content after checking that the content is long
// enough for it.
func Apply(content, change Change) (Change, error) {
	if err := ValidateContent(content); err != nil {
		return Change{}, err
	}
	if err := Validate(change); err != nil {
		return Change{}, err
	}
	if need, have := MinRequiredBaseLength(change), ContentLength(content); need > have {
		return Change{}, errors.NewInvalidChange(need, have)
	}
	return Compose(content, change), nil
}

// ApplyChanges applies changes to content in order.
func ApplyChanges(content Change, changes []Change) (Change, error) {
	for i, c := range changes {
		next, err := Apply(content, c)
		if err != nil {
			return Change{}, fmt.Errorf("changes[%d]: %w", i, err)
		}
		content = next
	}
	return content, nil
}

// Transform rewrites b, made concurrently with a, to apply after a. When
// both insert at the same position, priority puts a's insert first.
func Transform(a, b Change, priority bool) Change {
	thisIter := newOpIterator(a.Ops)
	otherIter := newOpIterator(b.Ops)
	var out builder

	for thisIter.hasNext() || otherIter.hasNext() {
		switch {
		case thisIter.peekKind() == OpInsert && (priority || otherIter.peekKind() != OpInsert):
			out.retain(thisIter.nextAll().Len(), nil)
		case otherIter.peekKind() == OpInsert:
			out.push(otherIter.nextAll())
		default:
			length := min(thisIter.peekLength(), otherIter.peekLength())
			thisOp := thisIter.next(length)
			otherOp := otherIter.next(length)
			switch {
			case thisOp.Kind == OpDelete:
				// Already gone on a's side.
			case otherOp.Kind == OpDelete:
				out.push(otherOp)
			default:
				out.retain(length, transformAttributes(thisOp.Attributes, otherOp.Attributes, priority))
			}
		}
	}
	out.chop()
	res := out.change()
	res.Contexts = b.Contexts
	return res
}
