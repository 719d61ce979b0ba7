package lib

type RepetitionType uint8

const (
	RepNone RepetitionType = iota
	RepRectangular
	RepRegular
	RepExplicit
	RepExplicitX
	RepExplicitY
)

/*
	Repetition is a compact encoding of a periodic family of copies of
	an element.  Rectangular uses Columns x Rows with axis-aligned
	Spacing; Regular uses the lattice vectors V1 and V2.  Explicit
	holds the displacements of every copy after the first; ExplicitX
	and ExplicitY hold one-axis displacements the same way.
*/
type Repetition struct {
	Type    RepetitionType
	Columns uint64
	Rows    uint64
	Spacing Vec2
	V1      Vec2
	V2      Vec2
	Offsets []Vec2
	Coords  []float64
}

// Size returns the number of placements, 1 when there is no repetition.
func (r *Repetition) Size() uint64 {
	switch r.Type {
	case RepRectangular, RepRegular:
		return r.Columns * r.Rows
	case RepExplicit:
		return 1 + uint64(len(r.Offsets))
	case RepExplicitX, RepExplicitY:
		return 1 + uint64(len(r.Coords))
	}
	return 1
}

/*
	Placements expands the repetition into the displacement of every
	copy, the original first at (0, 0).
*/
func (r *Repetition) Placements() []Vec2 {
	switch r.Type {
	case RepRectangular:
		offsets := make([]Vec2, 0, r.Columns*r.Rows)
		for j := uint64(0); j < r.Rows; j++ {
			for i := uint64(0); i < r.Columns; i++ {
				offsets = append(offsets, Vec2{float64(i) * r.Spacing.X, float64(j) * r.Spacing.Y})
			}
		}
		return offsets
	case RepRegular:
		offsets := make([]Vec2, 0, r.Columns*r.Rows)
		for j := uint64(0); j < r.Rows; j++ {
			for i := uint64(0); i < r.Columns; i++ {
				offsets = append(offsets, Vec2{
					float64(i)*r.V1.X + float64(j)*r.V2.X,
					float64(i)*r.V1.Y + float64(j)*r.V2.Y,
				})
			}
		}
		return offsets
	case RepExplicit:
		offsets := make([]Vec2, 1, 1+len(r.Offsets))
		offsets = append(offsets, r.Offsets...)
		return offsets
	case RepExplicitX:
		offsets := make([]Vec2, 1, 1+len(r.Coords))
		for _, x := range r.Coords {
			offsets = append(offsets, Vec2{x, 0})
		}
		return offsets
	case RepExplicitY:
		offsets := make([]Vec2, 1, 1+len(r.Coords))
		for _, y := range r.Coords {
			offsets = append(offsets, Vec2{0, y})
		}
		return offsets
	}
	return []Vec2{{0, 0}}
}

func (r *Repetition) copyFrom(src *Repetition) {
	r.Type = src.Type
	r.Columns = src.Columns
	r.Rows = src.Rows
	r.Spacing = src.Spacing
	r.V1 = src.V1
	r.V2 = src.V2
	r.Offsets = append([]Vec2(nil), src.Offsets...)
	r.Coords = append([]float64(nil), src.Coords...)
}
