// Package position implements C5: mapping (plate, axle, wheel) to a
// canonical tire position, per spec.md §4.5.
package position

import "context"

// Reserved real positions of the two spare tires (see SpareNote).
const (
	SparePosition1 = 11
	SparePosition2 = 12
)

// LayoutSource is the subset of the catalog (C1) that the resolver
// needs: axle/wheel layout for a truck unit.
type LayoutSource interface {
	TruckLayout(ctx context.Context, plate string) (axlesCount int, tiresPerAxle []int, ok bool, err error)
}

type Resolver struct {
	catalog LayoutSource
}

func NewResolver(catalog LayoutSource) *Resolver {
	return &Resolver{catalog: catalog}
}

// SpareNote returns the human-readable note for a spare position, or
// "" if position is not a reserved spare slot.
func SpareNote(realPosition int) string {
	switch realPosition {
	case SparePosition1:
		return "Spare tire 1"
	case SparePosition2:
		return "Spare tire 2"
	default:
		return ""
	}
}

// Resolve maps (plate, axle, wheel) to a canonical real position.
// axle==0 is the reserved spare encoding: wheel 1 -> 11, wheel 2 -> 12.
// Otherwise axle/wheel are 1-based indices into the catalog's layout;
// out-of-range indices or an unknown plate both return ok=false, per
// spec.md §7 ("Index-bound errors: returns none; no realPosition
// annotation; processing continues").
func (r *Resolver) Resolve(ctx context.Context, plate string, axle, wheel int) (realPosition int, ok bool) {
	if axle == 0 {
		switch wheel {
		case 1:
			return SparePosition1, true
		case 2:
			return SparePosition2, true
		default:
			return 0, false
		}
	}

	axlesCount, tiresPerAxle, found, err := r.catalog.TruckLayout(ctx, plate)
	if err != nil || !found {
		return 0, false
	}

	if axle < 1 || axle > axlesCount || axle > len(tiresPerAxle) {
		return 0, false
	}

	position := 1
	for axleIdx := 0; axleIdx < axle-1; axleIdx++ {
		position += tiresPerAxle[axleIdx]
	}

	wheelsOnAxle := tiresPerAxle[axle-1]
	if wheel < 1 || wheel > wheelsOnAxle {
		return 0, false
	}

	return position + wheel - 1, true
}
