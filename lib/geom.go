package lib

import "math"

/*
	Geometric services used by the readers and writers.  Polygon
	offsetting and fracturing are external concerns; the writer calls
	SplitPolygon when a polygon exceeds the record vertex limit and
	reports the polygon unsplit when no service is installed.
*/
var SplitPolygon func(p *Polygon, maxPoints uint64) []*Polygon

func rectangle(corner1, corner2 Vec2, layer, datatype uint32) *Polygon {
	return &Polygon{
		Layer:    layer,
		Datatype: datatype,
		Points: []Vec2{
			corner1,
			{corner2.X, corner1.Y},
			corner2,
			{corner1.X, corner2.Y},
		},
	}
}

/*
	ellipse discretizes a circle of the given radius so that the chord
	to arc error stays below tolerance.
*/
func ellipse(center Vec2, radius, tolerance float64, layer, datatype uint32) *Polygon {
	numPoints := 3
	if radius > tolerance && tolerance > 0 {
		step := 2 * math.Acos(1-tolerance/radius)
		if n := int(math.Ceil(2 * math.Pi / step)); n > numPoints {
			numPoints = n
		}
	}
	points := make([]Vec2, numPoints)
	for i := range points {
		angle := 2 * math.Pi * float64(i) / float64(numPoints)
		points[i] = Vec2{
			center.X + radius*math.Cos(angle),
			center.Y + radius*math.Sin(angle),
		}
	}
	return &Polygon{Layer: layer, Datatype: datatype, Points: points}
}

/*
	isMultipleOfPiOver2 reports whether angle is a multiple of pi/2 and
	returns the multiple.
*/
func isMultipleOfPiOver2(angle float64) (int64, bool) {
	m := int64(math.Round(2 * angle / math.Pi))
	if math.Abs(angle-float64(m)*math.Pi/2) < 1e-12 {
		return m, true
	}
	return 0, false
}
