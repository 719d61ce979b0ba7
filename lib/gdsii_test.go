package lib

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGdsiiRealRoundTrip(t *testing.T) {
	values := []float64{0, 1, -1, 1e-3, -1e-3, 1e6, -1e6, math.Pi, math.Exp2(-50)}
	for _, value := range values {
		decoded := gdsiiRealToFloat(gdsiiRealFromFloat(value))
		if value == 0 {
			assert.Equal(t, 0.0, decoded)
			continue
		}
		assert.InEpsilon(t, value, decoded, 1e-15, "value %g decoded as %g", value, decoded)
	}
}

func TestGdsiiRealKnownEncoding(t *testing.T) {
	// 1.0 = 16^1 * 0.0625: biased exponent 65, mantissa 0x10000000000000
	assert.Equal(t, uint64(0x4110000000000000), gdsiiRealFromFloat(1.0))
	assert.Equal(t, 1.0, gdsiiRealToFloat(0x4110000000000000))
	assert.Equal(t, -2.0, gdsiiRealToFloat(0xC120000000000000))
}

func readAllRecords(t *testing.T, path string) []*gdsRecord {
	fp, err := os.Open(path)
	require.NoError(t, err)
	defer fp.Close()
	in := bufio.NewReader(fp)
	records := []*gdsRecord{}
	for {
		record, err := gdsiiReadRecord(in)
		if err != nil {
			break
		}
		records = append(records, record)
	}
	return records
}

func squareLibrary() *Library {
	// One user unit to a side: 1 um at unit 1e-6, 1000 database units.
	side := 1.0
	polygon := &Polygon{
		Layer: 1,
		Points: []Vec2{
			{0, 0}, {side, 0}, {side, side}, {0, side},
		},
	}
	cell := &Cell{Name: "TOP", Polygons: []*Polygon{polygon}}
	return &Library{
		Name:      "library",
		Unit:      1e-6,
		Precision: 1e-9,
		Cells:     []*Cell{cell},
	}
}

func TestWriteGDSUnitsAndVertices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "square.gds")
	require.NoError(t, squareLibrary().WriteGDS(path, 0, time.Now()))

	var units, xy *gdsRecord
	for _, record := range readAllRecords(t, path) {
		switch record.rtype {
		case gdsUNITS:
			units = record
		case gdsXY:
			xy = record
		}
	}
	require.NotNil(t, units)
	require.NotNil(t, xy)

	assert.InDelta(t, 1e-3, gdsiiRealToFloat(units.u64(0)), 1e-15)
	assert.InDelta(t, 1e-9, gdsiiRealToFloat(units.u64(1)), 1e-21)

	expected := []int32{0, 0, 1000, 0, 1000, 1000, 0, 1000, 0, 0}
	require.Equal(t, len(expected)*4, len(xy.data))
	for i, want := range expected {
		assert.Equal(t, want, xy.i32(i))
	}
}

func TestGDSRoundTrip(t *testing.T) {
	unit, precision := 1e-6, 1e-9
	delta := precision / unit

	polygon := &Polygon{
		Layer:    2,
		Datatype: 3,
		Points:   []Vec2{{0, 0}, {5, 0}, {5, 2}, {0, 2}},
	}
	path := &FlexPath{
		Tolerance:  1e-2,
		GdsiiPath:  true,
		ScaleWidth: false,
		Spine:      []Vec2{{0, 0}, {10, 0}, {10, 10}},
		Elements: []*PathElement{{
			Layer:              4,
			Datatype:           1,
			HalfWidthAndOffset: []Vec2{{0.5, 0}, {0.5, 0}, {0.5, 0}},
			EndType:            EndExtended,
			EndExtensions:      Vec2{0.02, 0.01},
		}},
	}
	label := &Label{
		Text:     "marker",
		Layer:    10,
		Texttype: 1,
		Anchor:   AnchorO,
		Origin:   Vec2{1, -2},
	}
	child := &Cell{Name: "CHILD", Polygons: []*Polygon{polygon}}
	parent := &Cell{
		Name:      "PARENT",
		FlexPaths: []*FlexPath{path},
		Labels:    []*Label{label},
		References: []*Reference{
			{
				Type:          RefCell,
				Cell:          child,
				Origin:        Vec2{10, 20},
				Rotation:      math.Pi / 2,
				Magnification: 2,
			},
			{
				Type:   RefCell,
				Cell:   child,
				Origin: Vec2{0, 0},
				Repetition: Repetition{
					Type:    RepRectangular,
					Columns: 3,
					Rows:    2,
					Spacing: Vec2{4, 5},
				},
				Magnification: 1,
			},
		},
	}
	library := &Library{
		Name:      "roundtrip",
		Unit:      unit,
		Precision: precision,
		Cells:     []*Cell{parent, child},
	}

	file := filepath.Join(t.TempDir(), "roundtrip.gds")
	require.NoError(t, library.WriteGDS(file, 0, time.Now()))

	result := ReadGDS(file, 0, 1e-2)
	require.Len(t, result.Cells, 2)
	assert.Equal(t, "roundtrip", result.Name)
	assert.InDelta(t, unit, result.Unit, unit*1e-12)
	assert.InDelta(t, precision, result.Precision, precision*1e-12)

	gotParent, gotChild := result.Cells[0], result.Cells[1]
	require.Equal(t, "PARENT", gotParent.Name)
	require.Equal(t, "CHILD", gotChild.Name)

	require.Len(t, gotChild.Polygons, 1)
	gotPolygon := gotChild.Polygons[0]
	assert.Equal(t, uint32(2), gotPolygon.Layer)
	assert.Equal(t, uint32(3), gotPolygon.Datatype)
	require.Len(t, gotPolygon.Points, len(polygon.Points))
	for i, want := range polygon.Points {
		assert.InDelta(t, want.X, gotPolygon.Points[i].X, delta)
		assert.InDelta(t, want.Y, gotPolygon.Points[i].Y, delta)
	}

	require.Len(t, gotParent.FlexPaths, 1)
	gotPath := gotParent.FlexPaths[0]
	assert.True(t, gotPath.GdsiiPath)
	assert.False(t, gotPath.ScaleWidth)
	assert.Equal(t, EndExtended, gotPath.Elements[0].EndType)
	assert.InDelta(t, 0.02, gotPath.Elements[0].EndExtensions.X, delta)
	assert.InDelta(t, 0.01, gotPath.Elements[0].EndExtensions.Y, delta)
	require.Len(t, gotPath.Spine, 3)
	assert.InDelta(t, 0.5, gotPath.Elements[0].HalfWidthAndOffset[0].X, delta)

	require.Len(t, gotParent.References, 2)
	transformed := gotParent.References[0]
	require.Equal(t, RefCell, transformed.Type)
	assert.Same(t, gotChild, transformed.Cell)
	assert.InDelta(t, math.Pi/2, transformed.Rotation, 1e-12)
	assert.InDelta(t, 2.0, transformed.Magnification, 1e-12)

	array := gotParent.References[1]
	require.Equal(t, RepRectangular, array.Repetition.Type)
	assert.Equal(t, uint64(3), array.Repetition.Columns)
	assert.Equal(t, uint64(2), array.Repetition.Rows)
	assert.InDelta(t, 4.0, array.Repetition.Spacing.X, delta)
	assert.InDelta(t, 5.0, array.Repetition.Spacing.Y, delta)

	require.Len(t, gotParent.Labels, 1)
	gotLabel := gotParent.Labels[0]
	assert.Equal(t, "marker", gotLabel.Text)
	assert.Equal(t, AnchorO, gotLabel.Anchor)
	assert.InDelta(t, 1.0, gotLabel.Origin.X, delta)
	assert.InDelta(t, -2.0, gotLabel.Origin.Y, delta)
}

func TestGDSReferenceResolvesForward(t *testing.T) {
	// PARENT references "X" before any cell named "X" is defined.
	x := &Cell{Name: "X"}
	parent := &Cell{
		Name: "PARENT",
		References: []*Reference{
			{Type: RefName, Name: "X", Magnification: 1},
		},
	}
	library := &Library{
		Name:      "forward",
		Unit:      1e-6,
		Precision: 1e-9,
		Cells:     []*Cell{parent, x},
	}
	file := filepath.Join(t.TempDir(), "forward.gds")
	require.NoError(t, library.WriteGDS(file, 0, time.Now()))

	result := ReadGDS(file, 0, 1e-2)
	require.Len(t, result.Cells, 2)
	require.Len(t, result.Cells[0].References, 1)
	reference := result.Cells[0].References[0]
	require.Equal(t, RefCell, reference.Type)
	assert.Same(t, result.Cells[1], reference.Cell)
}

func writeRawRecords(t *testing.T, path string, build func(out *gdsWriter)) {
	fp, err := os.Create(path)
	require.NoError(t, err)
	out := &gdsWriter{w: bufio.NewWriter(fp)}
	build(out)
	require.NoError(t, out.err)
	require.NoError(t, out.w.Flush())
	require.NoError(t, fp.Close())
}

func TestGDSPathTypeFour(t *testing.T) {
	file := filepath.Join(t.TempDir(), "pathtype.gds")
	writeRawRecords(t, file, func(out *gdsWriter) {
		out.i16Record(gdsHEADER, 0x0258)
		out.i16Record(gdsBGNLIB, timestampPayload(time.Now())...)
		out.strRecord(gdsLIBNAME, "lib")
		out.realRecord(gdsUNITS, 1e-3, 1e-9)
		out.i16Record(gdsBGNSTR, timestampPayload(time.Now())...)
		out.strRecord(gdsSTRNAME, "P")
		out.marker(gdsPATH)
		out.i16Record(gdsLAYER, 1)
		out.i16Record(gdsDATATYPE, 0)
		out.i16Record(gdsPATHTYPE, 4)
		out.i32Record(gdsWIDTH, -40)
		out.i32Record(gdsBGNEXTN, 20)
		out.i32Record(gdsENDEXTN, 10)
		out.i32Record(gdsXY, 0, 0, 100, 0)
		out.marker(gdsENDEL)
		out.marker(gdsENDSTR)
		out.marker(gdsENDLIB)
	})

	library := ReadGDS(file, 0, 1e-2)
	require.Len(t, library.Cells, 1)
	require.Len(t, library.Cells[0].FlexPaths, 1)
	path := library.Cells[0].FlexPaths[0]
	element := path.Elements[0]

	factor := 1e-3 // database units to user units
	assert.Equal(t, EndExtended, element.EndType)
	assert.False(t, path.ScaleWidth)
	assert.InDelta(t, 20*factor, element.EndExtensions.X, 1e-12)
	assert.InDelta(t, 10*factor, element.EndExtensions.Y, 1e-12)
	require.NotEmpty(t, element.HalfWidthAndOffset)
	assert.InDelta(t, 20*factor, element.HalfWidthAndOffset[0].X, 1e-12)
}

func TestGDSUnitsProbe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "units.gds")
	require.NoError(t, squareLibrary().WriteGDS(path, 0, time.Now()))

	unit, precision, err := GDSUnits(path)
	require.NoError(t, err)
	assert.InDelta(t, 1e-6, unit, 1e-18)
	assert.InDelta(t, 1e-9, precision, 1e-21)
}

func TestReadRawCells(t *testing.T) {
	child := &Cell{Name: "RAW_CHILD"}
	parent := &Cell{
		Name: "RAW_PARENT",
		References: []*Reference{
			{Type: RefCell, Cell: child, Magnification: 1},
		},
	}
	library := &Library{
		Name:      "raw",
		Unit:      1e-6,
		Precision: 1e-9,
		Cells:     []*Cell{parent, child},
	}
	file := filepath.Join(t.TempDir(), "raw.gds")
	require.NoError(t, library.WriteGDS(file, 0, time.Now()))

	cells, err := ReadRawCells(file)
	require.NoError(t, err)
	require.Len(t, cells, 2)
	require.Contains(t, cells, "RAW_PARENT")
	require.Contains(t, cells, "RAW_CHILD")
	require.Len(t, cells["RAW_PARENT"].Dependencies, 1)
	assert.Same(t, cells["RAW_CHILD"], cells["RAW_PARENT"].Dependencies[0])

	// Re-emit the blobs verbatim through a new library.
	relib := &Library{
		Name:      "reemit",
		Unit:      1e-6,
		Precision: 1e-9,
		RawCells:  []*RawCell{cells["RAW_PARENT"], cells["RAW_CHILD"]},
	}
	refile := filepath.Join(t.TempDir(), "reemit.gds")
	require.NoError(t, relib.WriteGDS(refile, 0, time.Now()))

	result := ReadGDS(refile, 0, 1e-2)
	require.Len(t, result.Cells, 2)
	assert.Equal(t, "RAW_PARENT", result.Cells[0].Name)
	assert.Equal(t, "RAW_CHILD", result.Cells[1].Name)
}

func TestRecordFramer(t *testing.T) {
	var buf bytes.Buffer
	out := &gdsWriter{w: bufio.NewWriter(&buf)}
	out.strRecord(gdsLIBNAME, "odd")
	require.NoError(t, out.err)
	require.NoError(t, out.w.Flush())

	raw := buf.Bytes()
	require.Equal(t, uint16(8), binary.BigEndian.Uint16(raw[:2]))
	assert.Equal(t, byte(gdsLIBNAME), raw[2])
	assert.Equal(t, byte(gdsTypeString), raw[3])
	assert.Equal(t, byte(0), raw[7], "odd-length strings pad with NUL")

	record, err := gdsiiReadRecord(bufio.NewReader(bytes.NewReader(raw)))
	require.NoError(t, err)
	assert.Equal(t, "odd", record.str())
}
