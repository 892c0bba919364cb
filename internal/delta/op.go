package delta

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/hpungsan/tandem/internal/errors"
)

// OpKind identifies the three op shapes.
type OpKind uint8

const (
	OpInsert OpKind = iota + 1
	OpRetain
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpRetain:
		return "retain"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("OpKind(%d)", uint8(k))
	}
}

// Op is one step of a change. Inserts carry Text or, for embeds, Embed.
// Retains and deletes carry Count. Lengths are counted in runes; an embed
// has length 1.
type Op struct {
	Kind       OpKind
	Text       string
	Embed      map[string]any
	Count      int
	Attributes AttributeMap
}

// Insert returns an insert op.
func Insert(text string, attrs AttributeMap) Op {
	return Op{Kind: OpInsert, Text: text, Attributes: attrs.Clone()}
}

// InsertEmbed returns an embed insert op.
func InsertEmbed(embed map[string]any, attrs AttributeMap) Op {
	return Op{Kind: OpInsert, Embed: embed, Attributes: attrs.Clone()}
}

// Retain returns a retain op. Attributes, when present, reformat the span.
func Retain(n int, attrs AttributeMap) Op {
	return Op{Kind: OpRetain, Count: n, Attributes: attrs.Clone()}
}

// Delete returns a delete op.
func Delete(n int) Op {
	return Op{Kind: OpDelete, Count: n}
}

func (op Op) IsInsert() bool { return op.Kind == OpInsert }
func (op Op) IsRetain() bool { return op.Kind == OpRetain }
func (op Op) IsDelete() bool { return op.Kind == OpDelete }

// IsEmbed reports whether op inserts a non-text object.
func (op Op) IsEmbed() bool { return op.Kind == OpInsert && op.Embed != nil }

// Len returns the number of positions the op covers.
func (op Op) Len() int {
	switch op.Kind {
	case OpInsert:
		if op.Embed != nil {
			return 1
		}
		return utf8.RuneCountInString(op.Text)
	default:
		return op.Count
	}
}

// Equal compares two ops, treating nil and empty attributes alike.
func (op Op) Equal(o Op) bool {
	if op.Kind != o.Kind || op.Text != o.Text || op.Count != o.Count {
		return false
	}
	if (op.Embed == nil) != (o.Embed == nil) {
		return false
	}
	if op.Embed != nil && !jsonEqual(op.Embed, o.Embed) {
		return false
	}
	return op.Attributes.Equal(o.Attributes)
}

func (op Op) String() string {
	b, err := json.Marshal(op)
	if err != nil {
		return fmt.Sprintf("%s(%d)", op.Kind, op.Len())
	}
	return string(b)
}

// substr returns the runes of s in [start, end).
func substr(s string, start, end int) string {
	if start == 0 && end >= utf8.RuneCountInString(s) {
		return s
	}
	r := []rune(s)
	return string(r[start:end])
}

func jsonEqual(a, b any) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && bytes.Equal(ab, bb)
}

// MarshalJSON encodes the op in its wire shape, one of
// {"insert": ...}, {"retain": n} or {"delete": n}, plus "attributes".
func (op Op) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	switch op.Kind {
	case OpInsert:
		var v any = op.Text
		if op.Embed != nil {
			v = op.Embed
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`"insert":`)
		buf.Write(b)
	case OpRetain:
		fmt.Fprintf(&buf, `"retain":%d`, op.Count)
	case OpDelete:
		fmt.Fprintf(&buf, `"delete":%d`, op.Count)
	default:
		return nil, fmt.Errorf("unknown op kind %d", op.Kind)
	}
	if len(op.Attributes) > 0 && op.Kind != OpDelete {
		b, err := json.Marshal(map[string]AttrValue(op.Attributes))
		if err != nil {
			return nil, err
		}
		buf.WriteString(`,"attributes":`)
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type wireOp struct {
	Insert     json.RawMessage `json:"insert"`
	Retain     *int            `json:"retain"`
	Delete     *int            `json:"delete"`
	Attributes AttributeMap    `json:"attributes"`
}

func (op *Op) UnmarshalJSON(data []byte) error {
	var w wireOp
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.NewInvalidContent(fmt.Sprintf("malformed op: %v", err))
	}
	present := 0
	if w.Insert != nil {
		present++
	}
	if w.Retain != nil {
		present++
	}
	if w.Delete != nil {
		present++
	}
	if present != 1 {
		return errors.NewInvalidContent("op must have exactly one of insert, retain or delete")
	}

	switch {
	case w.Insert != nil:
		raw := bytes.TrimSpace(w.Insert)
		switch {
		case len(raw) > 0 && raw[0] == '"':
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return errors.NewInvalidContent(fmt.Sprintf("malformed insert: %v", err))
			}
			*op = Op{Kind: OpInsert, Text: s, Attributes: w.Attributes.Clone()}
		case len(raw) > 0 && raw[0] == '{':
			var m map[string]any
			if err := json.Unmarshal(raw, &m); err != nil {
				return errors.NewInvalidContent(fmt.Sprintf("malformed embed: %v", err))
			}
			*op = Op{Kind: OpInsert, Embed: m, Attributes: w.Attributes.Clone()}
		default:
			return errors.NewInvalidContent("insert must be a string or an object")
		}
	case w.Retain != nil:
		if *w.Retain < 0 {
			return errors.NewInvalidContent("retain must not be negative")
		}
		*op = Op{Kind: OpRetain, Count: *w.Retain, Attributes: w.Attributes.Clone()}
	default:
		if *w.Delete < 0 {
			return errors.NewInvalidContent("delete must not be negative")
		}
		*op = Op{Kind: OpDelete, Count: *w.Delete}
	}
	return nil
}
