package lib

import (
	"bufio"
	"math"
	"os"
	"time"

	"github.com/pkg/errors"
)

func gdsRound(v float64) int32 {
	return int32(math.RoundToEven(v))
}

func timestampPayload(t time.Time) []int16 {
	return []int16{
		int16(t.Year()), int16(t.Month()), int16(t.Day()),
		int16(t.Hour()), int16(t.Minute()), int16(t.Second()),
		int16(t.Year()), int16(t.Month()), int16(t.Day()),
		int16(t.Hour()), int16(t.Minute()), int16(t.Second()),
	}
}

/*
	WriteGDS serializes the library as a GDSII stream.  When maxPoints
	is at least 4, polygons with more than maxPoints vertices are handed
	to the SplitPolygon service before emission; without that service
	they are reported and written unsplit.  A zero timestamp means now.
*/
func (lib *Library) WriteGDS(path string, maxPoints uint64, timestamp time.Time) error {
	fp, err := os.Create(path)
	if err != nil {
		diag("Unable to open GDSII file for output.")
		return errors.Wrap(err, "create GDSII file")
	}
	defer fp.Close()

	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	out := &gdsWriter{w: bufio.NewWriter(fp)}
	out.i16Record(gdsHEADER, 0x0258)
	out.i16Record(gdsBGNLIB, timestampPayload(timestamp)...)
	out.strRecord(gdsLIBNAME, lib.Name)
	out.realRecord(gdsUNITS, lib.Precision/lib.Unit, lib.Precision)

	scaling := lib.Unit / lib.Precision
	for _, cell := range lib.Cells {
		cell.toGDS(out, scaling, maxPoints, timestamp)
	}
	for _, raw := range lib.RawCells {
		out.raw(raw.Bytes)
	}

	out.marker(gdsENDLIB)
	if out.err == nil {
		out.err = out.w.Flush()
	}
	return errors.Wrap(out.err, "write GDSII file")
}

func (c *Cell) toGDS(out *gdsWriter, scaling float64, maxPoints uint64, timestamp time.Time) {
	out.i16Record(gdsBGNSTR, timestampPayload(timestamp)...)
	out.strRecord(gdsSTRNAME, c.Name)
	for _, polygon := range c.Polygons {
		polygon.toGDS(out, scaling, maxPoints)
	}
	for _, path := range c.FlexPaths {
		pathToGDS(out, path.Spine, path.Elements, path.ScaleWidth,
			&path.Repetition, path.Properties, scaling)
	}
	for _, path := range c.RobustPaths {
		pathToGDS(out, path.Spine, path.Elements, path.ScaleWidth,
			&path.Repetition, path.Properties, scaling)
	}
	for _, reference := range c.References {
		reference.toGDS(out, scaling)
	}
	for _, label := range c.Labels {
		label.toGDS(out, scaling)
	}
	out.marker(gdsENDSTR)
}

func (p *Polygon) toGDS(out *gdsWriter, scaling float64, maxPoints uint64) {
	if maxPoints >= 4 && uint64(len(p.Points)) > maxPoints {
		if SplitPolygon == nil {
			diag("Polygon with %d vertices exceeds the record limit and no split service is installed.", len(p.Points))
		} else {
			for _, piece := range SplitPolygon(p, maxPoints) {
				piece.Repetition.copyFrom(&p.Repetition)
				piece.Properties = p.Properties
				piece.toGDS(out, scaling, maxPoints)
			}
			return
		}
	}
	for _, offset := range p.Repetition.Placements() {
		out.marker(gdsBOUNDARY)
		out.i16Record(gdsLAYER, int16(p.Layer))
		out.i16Record(gdsDATATYPE, int16(p.Datatype))
		coords := make([]int32, 0, 2*len(p.Points)+2)
		for _, pt := range p.Points {
			coords = append(coords,
				gdsRound((pt.X+offset.X)*scaling),
				gdsRound((pt.Y+offset.Y)*scaling))
		}
		if len(coords) >= 2 {
			coords = append(coords, coords[0], coords[1])
		}
		out.i32Record(gdsXY, coords...)
		propertiesToGDS(out, p.Properties)
		out.marker(gdsENDEL)
	}
}

func pathToGDS(out *gdsWriter, spine []Vec2, elements []*PathElement, scaleWidth bool,
	repetition *Repetition, properties *Property, scaling float64) {
	if len(spine) == 0 {
		return
	}
	for _, offset := range repetition.Placements() {
		for _, el := range elements {
			out.marker(gdsPATH)
			out.i16Record(gdsLAYER, int16(el.Layer))
			out.i16Record(gdsDATATYPE, int16(el.Datatype))
			var pathtype int16
			switch el.EndType {
			case EndFlush:
				pathtype = 0
			case EndRound:
				pathtype = 1
			case EndHalfWidth:
				pathtype = 2
			case EndExtended:
				pathtype = 4
			}
			out.i16Record(gdsPATHTYPE, pathtype)
			halfWidth := 0.0
			if len(el.HalfWidthAndOffset) > 0 {
				halfWidth = el.HalfWidthAndOffset[0].X
			}
			width := gdsRound(2 * halfWidth * scaling)
			if !scaleWidth {
				width = -width
			}
			out.i32Record(gdsWIDTH, width)
			if pathtype == 4 {
				out.i32Record(gdsBGNEXTN, gdsRound(el.EndExtensions.X*scaling))
				out.i32Record(gdsENDEXTN, gdsRound(el.EndExtensions.Y*scaling))
			}
			coords := make([]int32, 0, 2*len(spine))
			for _, pt := range spine {
				coords = append(coords,
					gdsRound((pt.X+offset.X)*scaling),
					gdsRound((pt.Y+offset.Y)*scaling))
			}
			out.i32Record(gdsXY, coords...)
			propertiesToGDS(out, properties)
			out.marker(gdsENDEL)
		}
	}
}

/*
	rotateReflect applies the reference transform to a lattice vector:
	x reflection first, then counter-clockwise rotation.  This is the
	inverse of how the reader reconstructs repetition vectors from AREF
	corner coordinates.
*/
func rotateReflect(v Vec2, rotation float64, xReflection bool) Vec2 {
	if xReflection {
		v.Y = -v.Y
	}
	if rotation != 0 {
		sin, cos := math.Sincos(rotation)
		v = Vec2{v.X*cos - v.Y*sin, v.X*sin + v.Y*cos}
	}
	return v
}

func (r *Reference) toGDS(out *gdsWriter, scaling float64) {
	name := r.TargetName()
	transformed := r.Rotation != 0 || r.XReflection

	emitTransform := func() {
		if r.XReflection || r.Magnification != 1 || r.Rotation != 0 {
			var strans uint16
			if r.XReflection {
				strans = 0x8000
			}
			out.record(gdsSTRANS, gdsTypeBitArray, []byte{byte(strans >> 8), byte(strans)})
			if r.Magnification != 1 {
				out.realRecord(gdsMAG, r.Magnification)
			}
			if r.Rotation != 0 {
				out.realRecord(gdsANGLE, r.Rotation*180/math.Pi)
			}
		}
	}

	switch r.Repetition.Type {
	case RepRectangular, RepRegular:
		v1 := r.Repetition.V1
		v2 := r.Repetition.V2
		if r.Repetition.Type == RepRectangular {
			v1 = Vec2{r.Repetition.Spacing.X, 0}
			v2 = Vec2{0, r.Repetition.Spacing.Y}
			if transformed {
				v1 = rotateReflect(v1, r.Rotation, r.XReflection)
				v2 = rotateReflect(v2, r.Rotation, r.XReflection)
			}
		}
		cols := float64(r.Repetition.Columns)
		rows := float64(r.Repetition.Rows)
		out.marker(gdsAREF)
		out.strRecord(gdsSNAME, name)
		emitTransform()
		out.i16Record(gdsCOLROW, int16(r.Repetition.Columns), int16(r.Repetition.Rows))
		out.i32Record(gdsXY,
			gdsRound(r.Origin.X*scaling),
			gdsRound(r.Origin.Y*scaling),
			gdsRound((r.Origin.X+cols*v1.X)*scaling),
			gdsRound((r.Origin.Y+cols*v1.Y)*scaling),
			gdsRound((r.Origin.X+rows*v2.X)*scaling),
			gdsRound((r.Origin.Y+rows*v2.Y)*scaling))
		propertiesToGDS(out, r.Properties)
		out.marker(gdsENDEL)
	default:
		for _, offset := range r.Repetition.Placements() {
			out.marker(gdsSREF)
			out.strRecord(gdsSNAME, name)
			emitTransform()
			out.i32Record(gdsXY,
				gdsRound((r.Origin.X+offset.X)*scaling),
				gdsRound((r.Origin.Y+offset.Y)*scaling))
			propertiesToGDS(out, r.Properties)
			out.marker(gdsENDEL)
		}
	}
}

func (l *Label) toGDS(out *gdsWriter, scaling float64) {
	for _, offset := range l.Repetition.Placements() {
		out.marker(gdsTEXT)
		out.i16Record(gdsLAYER, int16(l.Layer))
		out.i16Record(gdsTEXTTYPE, int16(l.Texttype))
		out.record(gdsPRESENTATION, gdsTypeBitArray, []byte{0, byte(l.Anchor)})
		if l.XReflection || l.Magnification != 1 || l.Rotation != 0 {
			var strans uint16
			if l.XReflection {
				strans = 0x8000
			}
			out.record(gdsSTRANS, gdsTypeBitArray, []byte{byte(strans >> 8), byte(strans)})
			if l.Magnification != 1 {
				out.realRecord(gdsMAG, l.Magnification)
			}
			if l.Rotation != 0 {
				out.realRecord(gdsANGLE, l.Rotation*180/math.Pi)
			}
		}
		out.i32Record(gdsXY,
			gdsRound((l.Origin.X+offset.X)*scaling),
			gdsRound((l.Origin.Y+offset.Y)*scaling))
		out.strRecord(gdsSTRING, l.Text)
		propertiesToGDS(out, l.Properties)
		out.marker(gdsENDEL)
	}
}

/*
	propertiesToGDS emits the attribute/value pairs stored under the
	S_GDS_PROPERTY convention; other properties have no GDSII
	representation and are dropped.
*/
func propertiesToGDS(out *gdsWriter, properties *Property) {
	for p := properties; p != nil; p = p.Next {
		if p.Name != gdsPropertyName || p.Value == nil || p.Value.Next == nil {
			continue
		}
		if p.Value.Type != PropUnsignedInteger || p.Value.Next.Type != PropString {
			continue
		}
		out.i16Record(gdsPROPATTR, int16(p.Value.UnsignedInteger))
		out.strRecord(gdsPROPVALUE, string(p.Value.Next.Bytes))
	}
}
