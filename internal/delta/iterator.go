package delta

import "math"

// infinity is the length of the implicit retain past the end of a change.
const infinity = math.MaxInt

// opIterator walks ops in arbitrary-length slices.
type opIterator struct {
	ops    []Op
	index  int
	offset int
}

func newOpIterator(ops []Op) *opIterator {
	kept := make([]Op, 0, len(ops))
	for _, op := range ops {
		if op.Len() > 0 {
			kept = append(kept, op)
		}
	}
	return &opIterator{ops: kept}
}

func (it *opIterator) hasNext() bool {
	return it.peekLength() < infinity
}

func (it *opIterator) peek() (Op, bool) {
	if it.index >= len(it.ops) {
		return Op{}, false
	}
	return it.ops[it.index], true
}

func (it *opIterator) peekLength() int {
	if it.index >= len(it.ops) {
		return infinity
	}
	return it.ops[it.index].Len() - it.offset
}

// peekKind reports OpRetain once the ops are exhausted.
func (it *opIterator) peekKind() OpKind {
	if it.index >= len(it.ops) {
		return OpRetain
	}
	return it.ops[it.index].Kind
}

// next consumes up to length positions of the current op.
func (it *opIterator) next(length int) Op {
	if it.index >= len(it.ops) {
		return Op{Kind: OpRetain, Count: infinity}
	}
	op := it.ops[it.index]
	offset := it.offset
	opLen := op.Len()
	if length >= opLen-offset {
		length = opLen - offset
		it.index++
		it.offset = 0
	} else {
		it.offset += length
	}

	switch op.Kind {
	case OpDelete:
		return Op{Kind: OpDelete, Count: length}
	case OpRetain:
		return Op{Kind: OpRetain, Count: length, Attributes: op.Attributes}
	default:
		if op.Embed != nil {
			return op
		}
		return Op{Kind: OpInsert, Text: substr(op.Text, offset, offset+length), Attributes: op.Attributes}
	}
}

func (it *opIterator) nextAll() Op {
	return it.next(infinity)
}

// rest returns the unconsumed ops, splitting the current one if needed.
func (it *opIterator) rest() []Op {
	if !it.hasNext() {
		return nil
	}
	if it.offset == 0 {
		return append([]Op(nil), it.ops[it.index:]...)
	}
	index, offset := it.index, it.offset
	first := it.nextAll()
	out := append([]Op{first}, it.ops[it.index:]...)
	it.index, it.offset = index, offset
	return out
}

// builder accumulates ops, merging neighbours the way a normalized change
// expects.
type builder struct {
	ops []Op
}

func (b *builder) push(op Op) {
	if op.Len() == 0 {
		return
	}
	op.Attributes = op.Attributes.Clone()
	if op.Kind == OpDelete {
		op.Attributes = nil
	}

	index := len(b.ops)
	if index > 0 {
		last := b.ops[index-1]
		if op.Kind == OpDelete && last.Kind == OpDelete {
			b.ops[index-1] = Delete(last.Count + op.Count)
			return
		}
		// Inserting before or after a delete at the same index is the same
		// edit, so inserts always go first.
		if last.Kind == OpDelete && op.Kind == OpInsert {
			index--
			if index == 0 {
				b.ops = append([]Op{op}, b.ops...)
				return
			}
			last = b.ops[index-1]
		}
		if op.Attributes.Equal(last.Attributes) {
			switch {
			case op.Kind == OpInsert && last.Kind == OpInsert && op.Embed == nil && last.Embed == nil:
				b.ops[index-1] = Op{Kind: OpInsert, Text: last.Text + op.Text, Attributes: op.Attributes}
				return
			case op.Kind == OpRetain && last.Kind == OpRetain:
				b.ops[index-1] = Op{Kind: OpRetain, Count: last.Count + op.Count, Attributes: op.Attributes}
				return
			}
		}
	}
	if index == len(b.ops) {
		b.ops = append(b.ops, op)
		return
	}
	b.ops = append(b.ops, Op{})
	copy(b.ops[index+1:], b.ops[index:])
	b.ops[index] = op
}

func (b *builder) retain(n int, attrs AttributeMap) {
	b.push(Op{Kind: OpRetain, Count: n, Attributes: attrs})
}

// chop drops a trailing unformatted retain.
func (b *builder) chop() {
	if n := len(b.ops); n > 0 {
		last := b.ops[n-1]
		if last.Kind == OpRetain && len(last.Attributes) == 0 {
			b.ops = b.ops[:n-1]
		}
	}
}

func (b *builder) change() Change {
	return Change{Ops: b.ops}
}
