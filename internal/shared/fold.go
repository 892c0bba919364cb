package shared

import "github.com/hpungsan/tandem/internal/delta"

// visitor receives the steps of a change walked over a fragment list.
type visitor interface {
	// pass is a fragment the change moves over without touching it: one the
	// branch cannot see, one skipped for the tie-break, or the untouched rest.
	pass(f Fragment)
	retain(f Fragment, attrs delta.AttributeMap)
	remove(f Fragment)
	insert(f Fragment)
}

// cursor walks a fragment list, splitting fragments when an op ends inside one.
type cursor struct {
	frags  []Fragment
	index  int
	offset int
}

func (c *cursor) current() (Fragment, bool) {
	if c.index >= len(c.frags) {
		return Fragment{}, false
	}
	f := c.frags[c.index]
	if c.offset > 0 {
		f = f.slice(c.offset, f.Len())
	}
	return f, true
}

// take consumes up to n positions of the current fragment.
func (c *cursor) take(n int) Fragment {
	f := c.frags[c.index]
	end := min(c.offset+n, f.Len())
	piece := f.slice(c.offset, end)
	if end == f.Len() {
		c.index++
		c.offset = 0
	} else {
		c.offset = end
	}
	return piece
}

func (c *cursor) takeAll() Fragment {
	return c.take(c.frags[c.index].Len())
}

// walk drives v through change applied by branch. Retains and deletes
// consume only positions visible to branch. An insert first skips invisible
// fragments that win the tie-break against branch. The caller has checked
// that the branch sees enough content.
func walk(frags []Fragment, change delta.Change, branch string, v visitor) {
	c := &cursor{frags: frags}
	for _, op := range change.Ops {
		switch op.Kind {
		case delta.OpInsert:
			for c.offset == 0 {
				f, ok := c.current()
				if !ok || f.IsVisibleTo(branch) || !f.ShouldAdvanceForTiebreak(branch) {
					break
				}
				v.pass(c.takeAll())
			}
			if op.Len() > 0 {
				v.insert(fragmentFromInsert(op, branch))
			}
		case delta.OpRetain, delta.OpDelete:
			for remaining := op.Count; remaining > 0; {
				f, ok := c.current()
				if !ok {
					break
				}
				if !f.IsVisibleTo(branch) {
					v.pass(c.takeAll())
					continue
				}
				piece := c.take(remaining)
				remaining -= piece.Len()
				if op.Kind == delta.OpDelete {
					v.remove(piece)
				} else {
					v.retain(piece, op.Attributes)
				}
			}
		}
	}
	for {
		if _, ok := c.current(); !ok {
			break
		}
		v.pass(c.takeAll())
	}
}

// fragmentFold builds the fragment list after the change.
type fragmentFold struct {
	branch string
	out    []Fragment
}

func (ff *fragmentFold) pass(f Fragment) { ff.out = append(ff.out, f) }

func (ff *fragmentFold) retain(f Fragment, attrs delta.AttributeMap) {
	if len(attrs) > 0 {
		f = f.withAttributes(ff.branch, attrs)
	}
	ff.out = append(ff.out, f)
}

func (ff *fragmentFold) remove(f Fragment) { ff.out = append(ff.out, f.withDeletion(ff.branch)) }
func (ff *fragmentFold) insert(f Fragment) { ff.out = append(ff.out, f) }

// deltaFold builds the change as seen by a wildcard reader: everything that
// nobody has deleted.
type deltaFold struct {
	branch string
	ops    []delta.Op
}

func (df *deltaFold) pass(f Fragment) {
	if f.mod.IsPublic() {
		df.ops = append(df.ops, delta.Retain(f.Len(), nil))
	}
}

func (df *deltaFold) retain(f Fragment, attrs delta.AttributeMap) {
	if !f.mod.IsPublic() {
		return
	}
	var diff delta.AttributeMap
	if len(attrs) > 0 {
		diff = delta.DiffAttributes(f.Attributes(), f.withAttributes(df.branch, attrs).Attributes())
	}
	df.ops = append(df.ops, delta.Retain(f.Len(), diff))
}

func (df *deltaFold) remove(f Fragment) {
	if f.mod.IsPublic() {
		df.ops = append(df.ops, delta.Delete(f.Len()))
	}
}

func (df *deltaFold) insert(f Fragment) { df.ops = append(df.ops, f.insertOp()) }

func applyFragments(frags []Fragment, change delta.Change, branch string) []Fragment {
	ff := &fragmentFold{branch: branch, out: make([]Fragment, 0, len(frags)+len(change.Ops))}
	walk(frags, change, branch, ff)
	return ff.out
}

func publicChange(frags []Fragment, change delta.Change, branch string) delta.Change {
	df := &deltaFold{branch: branch}
	walk(frags, change, branch, df)
	return delta.Change{Ops: delta.NormalizeOps(df.ops), Contexts: change.Contexts}
}
