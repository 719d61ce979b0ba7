package lib

import (
	"bufio"
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeOAS(build func(out *oasisWriter)) []byte {
	var buf bytes.Buffer
	out := &oasisWriter{w: bufio.NewWriter(&buf)}
	build(out)
	out.w.Flush()
	return buf.Bytes()
}

func oasReaderFor(data []byte) *oasisReader {
	return &oasisReader{file: bufio.NewReader(bytes.NewReader(data))}
}

func TestOasisIntegerCoding(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<40 + 3}
	data := encodeOAS(func(out *oasisWriter) {
		for _, v := range values {
			out.uint(v)
		}
	})
	in := oasReaderFor(data)
	for _, want := range values {
		got, err := in.uint()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	signed := []int64{0, 1, -1, 63, -64, 100000, -100000}
	data = encodeOAS(func(out *oasisWriter) {
		for _, v := range signed {
			out.int(v)
		}
	})
	in = oasReaderFor(data)
	for _, want := range signed {
		got, err := in.int()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestOasisRealCoding(t *testing.T) {
	values := []float64{0, 5, -12, 0.5, -0.25, 1.0 / 3, math.Pi, -2.75}
	data := encodeOAS(func(out *oasisWriter) {
		for _, v := range values {
			out.real(v)
		}
	})
	in := oasReaderFor(data)
	for _, want := range values {
		got, err := in.real()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Ratio and float32 encodings only appear on the wire.
	data = encodeOAS(func(out *oasisWriter) {
		out.putByte(oasDataRealPositiveRatio)
		out.uint(3)
		out.uint(4)
		out.putByte(oasDataRealNegativeRatio)
		out.uint(1)
		out.uint(8)
	})
	in = oasReaderFor(data)
	got, err := in.real()
	require.NoError(t, err)
	assert.Equal(t, 0.75, got)
	got, err = in.real()
	require.NoError(t, err)
	assert.Equal(t, -0.125, got)
}

func TestOasisGDeltaCoding(t *testing.T) {
	pairs := [][2]int64{
		{0, 0}, {5, 0}, {0, 7}, {-3, 0}, {0, -9},
		{4, 4}, {-4, 4}, {-4, -4}, {4, -4},
		{10, 3}, {-10, 3}, {10, -3}, {-10, -3},
	}
	data := encodeOAS(func(out *oasisWriter) {
		for _, p := range pairs {
			out.gDelta(p[0], p[1])
		}
	})
	in := oasReaderFor(data)
	for _, want := range pairs {
		x, y, err := in.gDelta()
		require.NoError(t, err)
		assert.Equal(t, want[0], x)
		assert.Equal(t, want[1], y)
	}
}

func TestOasisManhattanPointList(t *testing.T) {
	// Type 0: horizontal first, two deltas, then the implicit closing
	// vertex for polygons.
	data := encodeOAS(func(out *oasisWriter) {
		out.putByte(0)
		out.uint(2)
		out.int(10) // east
		out.int(5)  // north
	})
	points, err := oasReaderFor(data).pointList(1, true)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, Vec2{10, 0}, points[0])
	assert.Equal(t, Vec2{10, 5}, points[1])
	assert.Equal(t, Vec2{0, 5}, points[2])

	// Type 1: vertical first, no closure for paths.
	data = encodeOAS(func(out *oasisWriter) {
		out.putByte(1)
		out.uint(3)
		out.int(4)
		out.int(-2)
		out.int(6)
	})
	points, err = oasReaderFor(data).pointList(1, false)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, Vec2{0, 4}, points[0])
	assert.Equal(t, Vec2{-2, 4}, points[1])
	assert.Equal(t, Vec2{-2, 10}, points[2])
}

func TestOasisGeneralPointListRoundTrip(t *testing.T) {
	points := []Vec2{{0, 0}, {10, 0}, {13, 4}, {13, 20}, {-5, 20}}
	data := encodeOAS(func(out *oasisWriter) {
		out.pointList(points, 1)
	})
	chain, err := oasReaderFor(data).pointList(1, true)
	require.NoError(t, err)
	require.Len(t, chain, len(points)-1)
	for i, want := range points[1:] {
		assert.Equal(t, want, chain[i])
	}
}

func TestOasisRepetitionRoundTrip(t *testing.T) {
	cases := []Repetition{
		{Type: RepRectangular, Columns: 4, Rows: 3, Spacing: Vec2{10, 20}},
		{Type: RepRectangular, Columns: 5, Rows: 1, Spacing: Vec2{7, 0}},
		{Type: RepRectangular, Columns: 1, Rows: 6, Spacing: Vec2{0, 9}},
		{Type: RepRegular, Columns: 3, Rows: 2, V1: Vec2{10, 1}, V2: Vec2{-2, 15}},
		{Type: RepExplicit, Offsets: []Vec2{{5, 0}, {9, 3}, {20, 20}}},
		{Type: RepExplicitX, Coords: []float64{4, 10, 11}},
		{Type: RepExplicitY, Coords: []float64{1, 2, 30}},
	}
	for _, want := range cases {
		data := encodeOAS(func(out *oasisWriter) {
			out.repetition(&want, 1)
		})
		var got Repetition
		require.NoError(t, oasReaderFor(data).repetition(1, &got))
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.Size(), got.Size())
		assert.Equal(t, want.Placements(), got.Placements())
	}
}

/*
	writeOASStream builds a minimal stream with a 1-entry grid (one
	database unit per user unit at 1um precision) so record payloads
	can use plain integers.
*/
func writeOASStream(t *testing.T, path string, build func(out *oasisWriter)) {
	fp, err := os.Create(path)
	require.NoError(t, err)
	out := &oasisWriter{w: bufio.NewWriter(fp)}
	out.fileWrite([]byte(oasisMagic))
	out.str("1.0")
	out.real(1)
	out.fileByte(1)
	build(out)
	out.fileByte(oasEND)
	require.NoError(t, out.err)
	require.NoError(t, out.w.Flush())
	require.NoError(t, fp.Close())
}

func explicitRectangle(out *oasisWriter, layer, datatype, w, h uint64, x, y int64) {
	out.putByte(oasRECTANGLE)
	out.putByte(0x7B)
	out.uint(layer)
	out.uint(datatype)
	out.uint(w)
	out.uint(h)
	out.int(x)
	out.int(y)
}

func TestOasisModalInvariance(t *testing.T) {
	dir := t.TempDir()

	explicit := filepath.Join(dir, "explicit.oas")
	writeOASStream(t, explicit, func(out *oasisWriter) {
		out.fileByte(oasCELL)
		out.str("A")
		explicitRectangle(out, 1, 2, 100, 50, 10, 20)
		explicitRectangle(out, 1, 2, 100, 50, 200, 300)
	})

	modal := filepath.Join(dir, "modal.oas")
	writeOASStream(t, modal, func(out *oasisWriter) {
		out.fileByte(oasCELL)
		out.str("A")
		explicitRectangle(out, 1, 2, 100, 50, 10, 20)
		out.fileByte(oasXYRELATIVE)
		// Everything but the position increments is inherited.
		out.putByte(oasRECTANGLE)
		out.putByte(0x18)
		out.int(190)
		out.int(280)
	})

	a := ReadOAS(explicit, 0, 1e-2)
	b := ReadOAS(modal, 0, 1e-2)
	require.Len(t, a.Cells, 1)
	require.Len(t, b.Cells, 1)
	require.Len(t, a.Cells[0].Polygons, 2)
	require.Len(t, b.Cells[0].Polygons, 2)
	for i := range a.Cells[0].Polygons {
		pa := a.Cells[0].Polygons[i]
		pb := b.Cells[0].Polygons[i]
		assert.Equal(t, pa.Layer, pb.Layer)
		assert.Equal(t, pa.Datatype, pb.Datatype)
		assert.Equal(t, pa.Points, pb.Points)
	}
}

func TestOasisForwardReferenceIndependence(t *testing.T) {
	dir := t.TempDir()

	tablesAfter := filepath.Join(dir, "after.oas")
	writeOASStream(t, tablesAfter, func(out *oasisWriter) {
		out.fileByte(oasCELL_REF_NUM)
		out.uint(0)
		out.putByte(oasPLACEMENT)
		out.putByte(0xF0) // explicit reference number, x, y
		out.uint(1)
		out.int(100)
		out.int(200)
		out.fileByte(oasCELL_REF_NUM)
		out.uint(1)
		explicitRectangle(out, 4, 0, 10, 10, 0, 0)
		out.fileByte(oasCELLNAME_IMPLICIT)
		out.str("TOP")
		out.fileByte(oasCELLNAME_IMPLICIT)
		out.str("SUB")
	})

	tablesBefore := filepath.Join(dir, "before.oas")
	writeOASStream(t, tablesBefore, func(out *oasisWriter) {
		out.fileByte(oasCELLNAME_IMPLICIT)
		out.str("TOP")
		out.fileByte(oasCELLNAME_IMPLICIT)
		out.str("SUB")
		out.fileByte(oasCELL_REF_NUM)
		out.uint(0)
		out.putByte(oasPLACEMENT)
		out.putByte(0xF0)
		out.uint(1)
		out.int(100)
		out.int(200)
		out.fileByte(oasCELL_REF_NUM)
		out.uint(1)
		explicitRectangle(out, 4, 0, 10, 10, 0, 0)
	})

	for _, path := range []string{tablesAfter, tablesBefore} {
		library := ReadOAS(path, 0, 1e-2)
		require.Len(t, library.Cells, 2, path)
		assert.Equal(t, "TOP", library.Cells[0].Name, path)
		assert.Equal(t, "SUB", library.Cells[1].Name, path)
		require.Len(t, library.Cells[0].References, 1, path)
		reference := library.Cells[0].References[0]
		require.Equal(t, RefCell, reference.Type, path)
		assert.Same(t, library.Cells[1], reference.Cell, path)
		assert.Equal(t, Vec2{100, 200}, reference.Origin, path)
	}
}

func TestOasisPlacementModalPosition(t *testing.T) {
	file := filepath.Join(t.TempDir(), "placement.oas")
	writeOASStream(t, file, func(out *oasisWriter) {
		out.fileByte(oasCELL)
		out.str("TOP")
		out.putByte(oasPLACEMENT)
		out.putByte(0x80 | 0x20 | 0x10 | 0x02) // explicit name, x, y, 90 degrees
		out.str("A")
		out.int(1000)
		out.int(2000)
		out.fileByte(oasXYRELATIVE)
		out.putByte(oasPLACEMENT)
		out.putByte(0x20 | 0x10) // inherit cell, increment position
		out.int(10)
		out.int(20)
		out.fileByte(oasCELL)
		out.str("A")
	})

	library := ReadOAS(file, 0, 1e-2)
	require.Len(t, library.Cells, 2)
	top := library.Cells[0]
	target := library.Cells[1]
	require.Len(t, top.References, 2)

	first := top.References[0]
	require.Equal(t, RefCell, first.Type)
	assert.Same(t, target, first.Cell)
	assert.Equal(t, Vec2{1000, 2000}, first.Origin)
	assert.InDelta(t, math.Pi/2, first.Rotation, 1e-12)
	assert.Equal(t, 1.0, first.Magnification)

	second := top.References[1]
	require.Equal(t, RefCell, second.Type)
	assert.Same(t, target, second.Cell)
	assert.Equal(t, Vec2{1010, 2020}, second.Origin)
	assert.Equal(t, 0.0, second.Rotation)
}

func TestOasisCBlockRectangles(t *testing.T) {
	inner := encodeOAS(func(out *oasisWriter) {
		explicitRectangle(out, 1, 0, 10, 10, 0, 0)
		out.fileByte(oasXYRELATIVE)
		out.putByte(oasRECTANGLE)
		out.putByte(0x18)
		out.int(20)
		out.int(0)
	})
	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, 6)
	require.NoError(t, err)
	_, err = fw.Write(inner)
	require.NoError(t, err)
	require.NoError(t, fw.Close())

	file := filepath.Join(t.TempDir(), "cblock.oas")
	writeOASStream(t, file, func(out *oasisWriter) {
		out.fileByte(oasCELL)
		out.str("C")
		out.fileByte(oasCBLOCK)
		out.uint(0)
		out.uint(uint64(len(inner)))
		out.uint(uint64(compressed.Len()))
		out.fileWrite(compressed.Bytes())
	})

	library := ReadOAS(file, 0, 1e-2)
	require.Len(t, library.Cells, 1)
	require.Len(t, library.Cells[0].Polygons, 2)

	first := library.Cells[0].Polygons[0]
	assert.Equal(t, []Vec2{{0, 0}, {10, 0}, {10, 10}, {0, 10}}, first.Points)
	second := library.Cells[0].Polygons[1]
	assert.Equal(t, []Vec2{{20, 0}, {30, 0}, {30, 10}, {20, 10}}, second.Points)
}

func TestCTrapezoidShapes(t *testing.T) {
	points := ctrapezoidPoints(0, Vec2{0, 0}, Vec2{100, 50})
	assert.Equal(t, []Vec2{{0, 0}, {100, 0}, {50, 50}, {0, 50}}, points)

	// Type 25 is a box whose height is the width parameter.
	points = ctrapezoidPoints(25, Vec2{0, 0}, Vec2{30, 999})
	assert.Equal(t, []Vec2{{0, 0}, {30, 0}, {30, 30}, {0, 30}}, points)

	var log bytes.Buffer
	old := Diagnostics
	Diagnostics = &log
	defer func() { Diagnostics = old }()
	points = ctrapezoidPoints(24, Vec2{0, 0}, Vec2{100, 50})
	assert.Equal(t, []Vec2{{0, 0}, {100, 0}, {100, 50}, {0, 50}}, points)
	assert.Contains(t, log.String(), "[GDSTK]")
}

func TestOasisCTrapezoidRecord(t *testing.T) {
	file := filepath.Join(t.TempDir(), "ctrap.oas")
	writeOASStream(t, file, func(out *oasisWriter) {
		out.fileByte(oasCELL)
		out.str("T")
		out.putByte(oasCTRAPEZOID)
		out.putByte(0xFB)
		out.uint(1)
		out.uint(0)
		out.putByte(0)
		out.uint(100)
		out.uint(50)
		out.int(0)
		out.int(0)
	})

	library := ReadOAS(file, 0, 1e-2)
	require.Len(t, library.Cells, 1)
	require.Len(t, library.Cells[0].Polygons, 1)
	assert.Equal(t, []Vec2{{0, 0}, {100, 0}, {50, 50}, {0, 50}},
		library.Cells[0].Polygons[0].Points)
}

func oasRoundTripLibrary() *Library {
	child := &Cell{
		Name: "CHILD",
		Polygons: []*Polygon{{
			Layer:  1,
			Points: []Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}},
		}},
	}
	polygon := &Polygon{
		Layer:    3,
		Datatype: 1,
		Points:   []Vec2{{0, 0}, {5, 0}, {7, 3}, {5, 6}, {0, 6}},
		Properties: setGDSProperty(nil, 12, "value twelve"),
	}
	path := &FlexPath{
		GdsiiPath:  true,
		ScaleWidth: true,
		Spine:      []Vec2{{0, 0}, {10, 0}, {10, 10}},
		Elements: []*PathElement{{
			Layer:              4,
			Datatype:           2,
			HalfWidthAndOffset: []Vec2{{0.5, 0}, {0.5, 0}, {0.5, 0}},
			EndType:            EndExtended,
			EndExtensions:      Vec2{0.02, 0.01},
		}},
	}
	label := &Label{
		Text:          "hello",
		Layer:         10,
		Texttype:      4,
		Anchor:        AnchorSW,
		Origin:        Vec2{1, 2},
		Magnification: 1,
		Repetition: Repetition{
			Type:    RepRectangular,
			Columns: 2,
			Rows:    3,
			Spacing: Vec2{5, 6},
		},
	}
	parent := &Cell{
		Name:      "PARENT",
		Polygons:  []*Polygon{polygon},
		FlexPaths: []*FlexPath{path},
		Labels:    []*Label{label},
		References: []*Reference{
			{
				Type:          RefCell,
				Cell:          child,
				Origin:        Vec2{100, 200},
				Rotation:      math.Pi,
				Magnification: 1,
			},
			{
				Type:          RefCell,
				Cell:          child,
				Origin:        Vec2{-3, 4},
				Rotation:      0.3,
				Magnification: 2.5,
				XReflection:   true,
				Repetition: Repetition{
					Type:    RepExplicit,
					Offsets: []Vec2{{2, 0}, {5, 3}},
				},
			},
		},
	}
	library := &Library{
		Name:      "LIB",
		Unit:      1e-6,
		Precision: 1e-9,
		Cells:     []*Cell{parent, child},
	}
	library.Properties = &Property{
		Name: "note",
		Value: &PropertyValue{
			Type: PropReal,
			Real: 2.5,
			Next: &PropertyValue{
				Type:    PropInteger,
				Integer: -7,
				Next: &PropertyValue{
					Type:  PropString,
					Bytes: []byte("annotation"),
				},
			},
		},
	}
	return library
}

func checkOASRoundTrip(t *testing.T, configFlags uint16) {
	library := oasRoundTripLibrary()
	delta := library.Precision / library.Unit

	file := filepath.Join(t.TempDir(), "roundtrip.oas")
	require.NoError(t, library.WriteOAS(file, 1e-2, 6, configFlags))

	result := ReadOAS(file, 0, 1e-2)
	require.Len(t, result.Cells, 2)
	assert.InDelta(t, 1e-6, result.Unit, 1e-18)
	assert.InDelta(t, 1e-9, result.Precision, 1e-21)

	parent, child := result.Cells[0], result.Cells[1]
	require.Equal(t, "PARENT", parent.Name)
	require.Equal(t, "CHILD", child.Name)

	require.Len(t, child.Polygons, 1)
	require.Len(t, parent.Polygons, 1)
	gotPolygon := parent.Polygons[0]
	assert.Equal(t, uint32(3), gotPolygon.Layer)
	assert.Equal(t, uint32(1), gotPolygon.Datatype)
	wantPolygon := oasRoundTripLibrary().Cells[0].Polygons[0]
	require.Len(t, gotPolygon.Points, len(wantPolygon.Points))
	for i, want := range wantPolygon.Points {
		assert.InDelta(t, want.X, gotPolygon.Points[i].X, delta)
		assert.InDelta(t, want.Y, gotPolygon.Points[i].Y, delta)
	}
	require.NotNil(t, gotPolygon.Properties)
	assert.Equal(t, gdsPropertyName, gotPolygon.Properties.Name)
	require.NotNil(t, gotPolygon.Properties.Value)
	assert.Equal(t, uint64(12), gotPolygon.Properties.Value.UnsignedInteger)
	require.NotNil(t, gotPolygon.Properties.Value.Next)
	assert.Equal(t, PropString, gotPolygon.Properties.Value.Next.Type)
	assert.Equal(t, []byte("value twelve"), gotPolygon.Properties.Value.Next.Bytes)

	require.Len(t, parent.FlexPaths, 1)
	gotPath := parent.FlexPaths[0]
	assert.Equal(t, EndExtended, gotPath.Elements[0].EndType)
	assert.InDelta(t, 0.02, gotPath.Elements[0].EndExtensions.X, delta)
	assert.InDelta(t, 0.01, gotPath.Elements[0].EndExtensions.Y, delta)
	require.Len(t, gotPath.Spine, 3)
	assert.InDelta(t, 10.0, gotPath.Spine[1].X, delta)
	assert.InDelta(t, 0.5, gotPath.Elements[0].HalfWidthAndOffset[0].X, delta)

	require.Len(t, parent.Labels, 1)
	gotLabel := parent.Labels[0]
	assert.Equal(t, "hello", gotLabel.Text)
	assert.Equal(t, uint32(10), gotLabel.Layer)
	assert.Equal(t, uint32(4), gotLabel.Texttype)
	require.Equal(t, RepRectangular, gotLabel.Repetition.Type)
	assert.Equal(t, uint64(2), gotLabel.Repetition.Columns)
	assert.Equal(t, uint64(3), gotLabel.Repetition.Rows)
	assert.InDelta(t, 5.0, gotLabel.Repetition.Spacing.X, delta)
	assert.InDelta(t, 6.0, gotLabel.Repetition.Spacing.Y, delta)

	require.Len(t, parent.References, 2)
	quarter := parent.References[0]
	require.Equal(t, RefCell, quarter.Type)
	assert.Same(t, child, quarter.Cell)
	assert.InDelta(t, math.Pi, quarter.Rotation, 1e-12)
	assert.Equal(t, 1.0, quarter.Magnification)
	assert.InDelta(t, 100.0, quarter.Origin.X, delta)

	general := parent.References[1]
	require.Equal(t, RefCell, general.Type)
	assert.Same(t, child, general.Cell)
	assert.True(t, general.XReflection)
	assert.InDelta(t, 0.3, general.Rotation, 1e-12)
	assert.InDelta(t, 2.5, general.Magnification, 1e-12)
	require.Equal(t, RepExplicit, general.Repetition.Type)
	require.Len(t, general.Repetition.Offsets, 2)
	assert.InDelta(t, 2.0, general.Repetition.Offsets[0].X, delta)
	assert.InDelta(t, 5.0, general.Repetition.Offsets[1].X, delta)
	assert.InDelta(t, 3.0, general.Repetition.Offsets[1].Y, delta)

	require.NotNil(t, result.Properties)
	assert.Equal(t, "note", result.Properties.Name)
	value := result.Properties.Value
	require.NotNil(t, value)
	assert.Equal(t, PropReal, value.Type)
	assert.Equal(t, 2.5, value.Real)
	value = value.Next
	require.NotNil(t, value)
	assert.Equal(t, PropInteger, value.Type)
	assert.Equal(t, int64(-7), value.Integer)
	value = value.Next
	require.NotNil(t, value)
	assert.Equal(t, PropString, value.Type)
	assert.Equal(t, []byte("annotation"), value.Bytes)
}

func TestOASRoundTrip(t *testing.T) {
	checkOASRoundTrip(t, 0)
}

func TestOASRoundTripCBlock(t *testing.T) {
	checkOASRoundTrip(t, OasisConfigUseCBlock)
}

func TestOASEndRecordPadding(t *testing.T) {
	file := filepath.Join(t.TempDir(), "end.oas")
	require.NoError(t, oasRoundTripLibrary().WriteOAS(file, 1e-2, 6, 0))

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte(oasisMagic)))
	require.Greater(t, len(data), 256)
	assert.Equal(t, byte(oasEND), data[len(data)-256])
	assert.Equal(t, byte(0), data[len(data)-1])
}

func TestOASPrecisionProbe(t *testing.T) {
	file := filepath.Join(t.TempDir(), "precision.oas")
	require.NoError(t, oasRoundTripLibrary().WriteOAS(file, 1e-2, 6, 0))

	precision, err := OASPrecision(file)
	require.NoError(t, err)
	assert.InDelta(t, 1e-9, precision, 1e-21)
}
