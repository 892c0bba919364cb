package delta

import (
	"math/rand"
	"strings"
)

var testAttrs = []AttributeMap{
	nil,
	{"bold": Set(true)},
	{"color": Set("red")},
	{"bold": Set(true), "color": Set("blue")},
}

var testRetainAttrs = []AttributeMap{
	{"bold": Set(true)},
	{"bold": Unset},
	{"color": Set("green")},
	{"color": Unset, "italic": Set(true)},
}

func randomText(r *rand.Rand, n int) string {
	const alphabet = "abcdefgé中"
	runes := []rune(alphabet)
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteRune(runes[r.Intn(len(runes))])
	}
	return sb.String()
}

func randomContent(r *rand.Rand) Change {
	var c Change
	for i, n := 0, r.Intn(5); i < n; i++ {
		c = c.Insert(randomText(r, 1+r.Intn(6)), testAttrs[r.Intn(len(testAttrs))])
	}
	return c
}

// randomChange builds a change that is valid against content of length n.
func randomChange(r *rand.Rand, n int) Change {
	var c Change
	for remaining := n; remaining > 0; {
		k := 1 + r.Intn(remaining)
		switch r.Intn(5) {
		case 0:
			c = c.Insert(randomText(r, 1+r.Intn(3)), testAttrs[r.Intn(len(testAttrs))])
		case 1:
			c = c.Delete(k)
			remaining -= k
		case 2:
			c = c.Retain(k, testRetainAttrs[r.Intn(len(testRetainAttrs))])
			remaining -= k
		default:
			c = c.Retain(k, nil)
			remaining -= k
		}
	}
	if r.Intn(3) == 0 {
		c = c.Insert(randomText(r, 2), nil)
	}
	return c
}
