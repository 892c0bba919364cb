package delta

import (
	"fmt"
	"slices"

	"github.com/hpungsan/tandem/internal/errors"
)

// FilterOutChangesByIndices removes the changes at the given indices from a
// sequence applied on top of base. The remaining changes are rewritten so
// that, applied in order to base, they give the content the full sequence
// would have given without the removed ones.
func FilterOutChangesByIndices(base Change, changes []Change, indices []int) ([]Change, error) {
	if err := ValidateContent(base); err != nil {
		return nil, err
	}
	removed := make(map[int]bool, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= len(changes) {
			return nil, errors.NewInvalidRange(idx, idx+1, len(changes))
		}
		removed[idx] = true
	}

	// bridge maps the unfiltered content at step i onto the filtered content.
	var bridge Change
	original := base
	out := make([]Change, 0, len(changes)-len(removed))
	for i, c := range changes {
		if removed[i] {
			undo, err := Invert(original, c)
			if err != nil {
				return nil, fmt.Errorf("changes[%d]: %w", i, err)
			}
			bridge = Compose(undo, bridge)
		} else {
			out = append(out, Transform(bridge, c, true))
			bridge = Transform(c, bridge, false)
		}
		next, err := Apply(original, c)
		if err != nil {
			return nil, fmt.Errorf("changes[%d]: %w", i, err)
		}
		original = next
	}
	return slices.Clip(out), nil
}
