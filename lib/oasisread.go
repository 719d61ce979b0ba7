package lib

import (
	"bufio"
	"io"
	"math"
	"os"

	vlib "github.com/mcuadros/go-version"
)

/*
	oasisModal groups the modal variables of the reader state machine.
	Absent record attributes are read from here and present attributes
	update it; positions and the absolute/relative mode reset at every
	CELL record, the rest persists across cells the way the stream left
	it.
*/
type oasisModal struct {
	absolutePos     bool
	placementPos    Vec2
	geomPos         Vec2
	textPos         Vec2
	layer           uint64
	datatype        uint64
	textlayer       uint64
	texttype        uint64
	geomDim         Vec2
	repetition      Repetition
	placementCell   *Reference
	textString      *Label
	polygonPoints   []Vec2
	pathPoints      []Vec2
	pathHalfwidth   float64
	pathExtensions  Vec2
	ctrapezoidType  uint8
	circleRadius    float64
	property        *Property
	propertyValues  *PropertyValue
	propertyPending bool
	propertyNameIdx uint64
}

type byteTableEntry struct {
	bytes      []byte
	properties *Property
}

type propNameFixup struct {
	property *Property
	index    uint64
}

/*
	oasisParser owns all in-flight state of one ReadOAS call: the byte
	stream, the modal variables, the four forward-reference tables and
	the fixup queues resolved in a single pass at END.
*/
type oasisParser struct {
	in        *oasisReader
	factor    float64
	tolerance float64
	library   *Library
	cell      *Cell

	modal oasisModal

	cellNameTable      []*byteTableEntry
	labelTextTable     []*byteTableEntry
	propertyNameTable  []*byteTableEntry
	propertyValueTable []*byteTableEntry

	nextProperty **Property

	cellNameIndex  map[*Cell]uint64
	labelTextIndex map[*Label]uint64
	refCellIndex   map[*Reference]uint64

	unfinishedPropertyNames  []propNameFixup
	unfinishedPropertyValues []*PropertyValue
	pendingValueSet          map[*PropertyValue]bool
}

func setTableEntry(table []*byteTableEntry, index uint64, entry *byteTableEntry) []*byteTableEntry {
	for uint64(len(table)) <= index {
		table = append(table, nil)
	}
	table[index] = entry
	return table
}

func tableEntry(table []*byteTableEntry, index uint64) *byteTableEntry {
	if index < uint64(len(table)) && table[index] != nil {
		return table[index]
	}
	return nil
}

/*
	ReadOAS parses an OASIS stream into a library.  unit > 0 requests
	user coordinates in that unit; unit == 0 keeps the 1 micron user
	unit implied by the format.  On failure an empty library is
	returned after a single diagnostic.
*/
func ReadOAS(path string, unit, tolerance float64) *Library {
	library := &Library{}

	fp, err := os.Open(path)
	if err != nil {
		diag("Unable to open OASIS file for input.")
		return library
	}
	defer fp.Close()
	in := &oasisReader{file: bufio.NewReader(fp)}

	magic := make([]byte, len(oasisMagic))
	if _, err := io.ReadFull(in.file, magic); err != nil || string(magic) != oasisMagic {
		diag("Invalid OASIS header found.")
		return library
	}

	version, err := in.str(false)
	if err != nil {
		diag("Invalid OASIS header found.")
		return library
	}
	if vlib.CompareSimple(version, "1.0") != 0 {
		diag("Unsupported OASIS file version.")
	}

	grid, err := in.real()
	if err != nil || grid <= 0 {
		diag("Invalid OASIS grid resolution.")
		return library
	}
	factor := 1 / grid
	library.Precision = 1e-6 * factor
	if unit > 0 {
		library.Unit = unit
		factor *= 1e-6 / unit
	} else {
		library.Unit = 1e-6
	}

	offsetFlag, err := in.uint()
	if err != nil {
		diag("Invalid OASIS header found.")
		return library
	}
	if offsetFlag == 0 {
		// Offset table stored here instead of the END record.
		for i := 0; i < 12; i++ {
			if _, err := in.uint(); err != nil {
				diag("Invalid OASIS header found.")
				return library
			}
		}
	}

	parser := &oasisParser{
		in:              in,
		factor:          factor,
		tolerance:       tolerance,
		library:         library,
		modal:           oasisModal{absolutePos: true},
		cellNameIndex:   map[*Cell]uint64{},
		labelTextIndex:  map[*Label]uint64{},
		refCellIndex:    map[*Reference]uint64{},
		pendingValueSet: map[*PropertyValue]bool{},
	}
	parser.nextProperty = &library.Properties
	parser.run()
	return library
}

func (p *oasisParser) run() {
	for {
		record, err := p.in.readByte()
		if err != nil {
			return
		}
		if err := p.handle(record); err != nil {
			if err != io.EOF {
				diag("Unable to read OASIS record.")
			}
			return
		}
		if record == oasEND {
			return
		}
	}
}

func (p *oasisParser) handle(record byte) error {
	switch record {
	case oasPAD:
	case oasSTART:
		diag("Unexpected START record out of position in file.")
	case oasEND:
		p.resolve()
	case oasCELLNAME_IMPLICIT, oasCELLNAME:
		return p.readNameRecord(&p.cellNameTable, record == oasCELLNAME, true)
	case oasTEXTSTRING_IMPLICIT, oasTEXTSTRING:
		return p.readNameRecord(&p.labelTextTable, record == oasTEXTSTRING, true)
	case oasPROPNAME_IMPLICIT, oasPROPNAME:
		return p.readNameRecord(&p.propertyNameTable, record == oasPROPNAME, true)
	case oasPROPSTRING_IMPLICIT, oasPROPSTRING:
		return p.readNameRecord(&p.propertyValueTable, record == oasPROPSTRING, false)
	case oasLAYERNAME_DATA, oasLAYERNAME_TEXT:
		return p.skipLayerName()
	case oasCELL_REF_NUM, oasCELL:
		return p.readCell(record == oasCELL_REF_NUM)
	case oasXYABSOLUTE:
		p.modal.absolutePos = true
	case oasXYRELATIVE:
		p.modal.absolutePos = false
	case oasPLACEMENT, oasPLACEMENT_TRANSFORM:
		return p.readPlacement(record == oasPLACEMENT_TRANSFORM)
	case oasTEXT:
		return p.readText()
	case oasRECTANGLE:
		return p.readRectangle()
	case oasPOLYGON:
		return p.readPolygon()
	case oasPATH:
		return p.readPath()
	case oasTRAPEZOID_AB, oasTRAPEZOID_A, oasTRAPEZOID_B:
		return p.readTrapezoid(record)
	case oasCTRAPEZOID:
		return p.readCTrapezoid()
	case oasCIRCLE:
		return p.readCircle()
	case oasPROPERTY, oasLAST_PROPERTY:
		return p.readProperty(record == oasLAST_PROPERTY)
	case oasXNAME_IMPLICIT, oasXNAME:
		if _, err := p.in.uint(); err != nil {
			return err
		}
		if _, err := p.in.bytes(); err != nil {
			return err
		}
		if record == oasXNAME {
			if _, err := p.in.uint(); err != nil {
				return err
			}
		}
		diag("Record type XNAME ignored.")
	case oasXELEMENT:
		if _, err := p.in.uint(); err != nil {
			return err
		}
		if _, err := p.in.bytes(); err != nil {
			return err
		}
		diag("Record type XELEMENT ignored.")
	case oasXGEOMETRY:
		return p.skipXGeometry()
	case oasCBLOCK:
		method, err := p.in.uint()
		if err != nil {
			return err
		}
		if method != 0 {
			diag("CBLOCK compression method not supported.")
			if _, err := p.in.uint(); err != nil {
				return err
			}
			length, err := p.in.uint()
			if err != nil {
				return err
			}
			if _, err := io.CopyN(io.Discard, p.in.file, int64(length)); err != nil {
				return err
			}
			return nil
		}
		return p.in.inflateCBlock()
	default:
		diag("Unknown record type <0x%02X>.", record)
	}
	return nil
}

/*
	readNameRecord handles one of the eight table introduction records:
	implicit entries take the next index, explicit entries carry it.
	Properties that follow attach to the table entry.
*/
func (p *oasisParser) readNameRecord(table *[]*byteTableEntry, explicit, printable bool) error {
	data, err := p.in.bytes()
	if err != nil {
		return err
	}
	if printable {
		for _, b := range data {
			if b < 0x20 || b > 0x7E {
				diag("Non-printable byte 0x%02X in string.", b)
				break
			}
		}
	}
	entry := &byteTableEntry{bytes: data}
	if explicit {
		index, err := p.in.uint()
		if err != nil {
			return err
		}
		*table = setTableEntry(*table, index, entry)
	} else {
		*table = append(*table, entry)
	}
	p.nextProperty = &entry.properties
	return nil
}

func (p *oasisParser) skipLayerName() error {
	if _, err := p.in.bytes(); err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		kind, err := p.in.uint()
		if err != nil {
			return err
		}
		if kind > 0 {
			if kind == 4 {
				if _, err := p.in.uint(); err != nil {
					return err
				}
			}
			if _, err := p.in.uint(); err != nil {
				return err
			}
		}
	}
	diag("Record type LAYERNAME ignored.")
	return nil
}

func (p *oasisParser) readCell(byRefNum bool) error {
	cell := &Cell{}
	p.library.Cells = append(p.library.Cells, cell)
	p.cell = cell
	p.nextProperty = &cell.Properties
	if byRefNum {
		index, err := p.in.uint()
		if err != nil {
			return err
		}
		p.cellNameIndex[cell] = index
	} else {
		name, err := p.in.str(true)
		if err != nil {
			return err
		}
		cell.Name = name
	}
	p.modal.absolutePos = true
	p.modal.placementPos = Vec2{}
	p.modal.geomPos = Vec2{}
	p.modal.textPos = Vec2{}
	return nil
}

// currentCell tolerates elements before the first CELL record.
func (p *oasisParser) currentCell() *Cell {
	if p.cell == nil {
		diag("Element record before the first CELL record.")
		p.cell = &Cell{}
		p.library.Cells = append(p.library.Cells, p.cell)
	}
	return p.cell
}

/*
	readPos consumes the coordinate pair selected by the info bits and
	folds it into the given modal position, absolute or relative per
	the current mode.
*/
func (p *oasisParser) readPos(info, xbit, ybit byte, pos *Vec2) error {
	if info&xbit != 0 {
		value, err := p.in.int()
		if err != nil {
			return err
		}
		x := p.factor * float64(value)
		if p.modal.absolutePos {
			pos.X = x
		} else {
			pos.X += x
		}
	}
	if info&ybit != 0 {
		value, err := p.in.int()
		if err != nil {
			return err
		}
		y := p.factor * float64(value)
		if p.modal.absolutePos {
			pos.Y = y
		} else {
			pos.Y += y
		}
	}
	return nil
}

func (p *oasisParser) readRepetition(info, bit byte, dst *Repetition) error {
	if info&bit == 0 {
		return nil
	}
	if err := p.in.repetition(p.factor, &p.modal.repetition); err != nil {
		return err
	}
	dst.copyFrom(&p.modal.repetition)
	return nil
}

func (p *oasisParser) readLayerDatatype(info byte, layer, datatype *uint64) error {
	if info&0x01 != 0 {
		value, err := p.in.uint()
		if err != nil {
			return err
		}
		*layer = value
	}
	if info&0x02 != 0 {
		value, err := p.in.uint()
		if err != nil {
			return err
		}
		*datatype = value
	}
	return nil
}

func (p *oasisParser) readPlacement(transform bool) error {
	cell := p.currentCell()
	reference := &Reference{}
	cell.References = append(cell.References, reference)
	p.nextProperty = &reference.Properties

	info, err := p.in.readByte()
	if err != nil {
		return err
	}
	if info&0x80 != 0 {
		// Explicit reference
		if info&0x40 != 0 {
			index, err := p.in.uint()
			if err != nil {
				return err
			}
			p.refCellIndex[reference] = index
		} else {
			name, err := p.in.str(true)
			if err != nil {
				return err
			}
			reference.Type = RefName
			reference.Name = name
		}
		p.modal.placementCell = reference
	} else {
		modal := p.modal.placementCell
		if modal == nil {
			diag("PLACEMENT record with no modal cell reference.")
		} else if index, pending := p.refCellIndex[modal]; pending {
			p.refCellIndex[reference] = index
		} else {
			reference.Type = modal.Type
			reference.Cell = modal.Cell
			reference.Name = modal.Name
		}
	}
	if !transform {
		reference.Magnification = 1
		switch info & 0x06 {
		case 0x02:
			reference.Rotation = math.Pi * 0.5
		case 0x04:
			reference.Rotation = math.Pi
		case 0x06:
			reference.Rotation = math.Pi * 1.5
		}
	} else {
		if info&0x04 != 0 {
			if reference.Magnification, err = p.in.real(); err != nil {
				return err
			}
		} else {
			reference.Magnification = 1
		}
		if info&0x02 != 0 {
			degrees, err := p.in.real()
			if err != nil {
				return err
			}
			reference.Rotation = degrees * (math.Pi / 180)
		}
	}
	reference.XReflection = info&0x01 != 0
	if err := p.readPos(info, 0x20, 0x10, &p.modal.placementPos); err != nil {
		return err
	}
	reference.Origin = p.modal.placementPos
	return p.readRepetition(info, 0x08, &reference.Repetition)
}

func (p *oasisParser) readText() error {
	cell := p.currentCell()
	label := &Label{Magnification: 1, Anchor: AnchorSW}
	cell.Labels = append(cell.Labels, label)
	p.nextProperty = &label.Properties

	info, err := p.in.readByte()
	if err != nil {
		return err
	}
	if info&0x40 != 0 {
		// Explicit text
		if info&0x20 != 0 {
			index, err := p.in.uint()
			if err != nil {
				return err
			}
			p.labelTextIndex[label] = index
		} else {
			if label.Text, err = p.in.str(true); err != nil {
				return err
			}
		}
		p.modal.textString = label
	} else {
		modal := p.modal.textString
		if modal == nil {
			diag("TEXT record with no modal text string.")
		} else if index, pending := p.labelTextIndex[modal]; pending {
			p.labelTextIndex[label] = index
		} else {
			label.Text = modal.Text
		}
	}
	if info&0x01 != 0 {
		if p.modal.textlayer, err = p.in.uint(); err != nil {
			return err
		}
	}
	label.Layer = uint32(p.modal.textlayer)
	if info&0x02 != 0 {
		if p.modal.texttype, err = p.in.uint(); err != nil {
			return err
		}
	}
	label.Texttype = uint32(p.modal.texttype)
	if err := p.readPos(info, 0x10, 0x08, &p.modal.textPos); err != nil {
		return err
	}
	label.Origin = p.modal.textPos
	return p.readRepetition(info, 0x04, &label.Repetition)
}

func (p *oasisParser) readRectangle() error {
	cell := p.currentCell()
	info, err := p.in.readByte()
	if err != nil {
		return err
	}
	if err := p.readLayerDatatype(info, &p.modal.layer, &p.modal.datatype); err != nil {
		return err
	}
	if info&0x40 != 0 {
		value, err := p.in.uint()
		if err != nil {
			return err
		}
		p.modal.geomDim.X = p.factor * float64(value)
	}
	if info&0x20 != 0 {
		value, err := p.in.uint()
		if err != nil {
			return err
		}
		p.modal.geomDim.Y = p.factor * float64(value)
	}
	if err := p.readPos(info, 0x10, 0x08, &p.modal.geomPos); err != nil {
		return err
	}
	height := p.modal.geomDim.Y
	if info&0x80 != 0 {
		// Square: height is the width
		height = p.modal.geomDim.X
	}
	corner2 := Vec2{p.modal.geomPos.X + p.modal.geomDim.X, p.modal.geomPos.Y + height}
	polygon := rectangle(p.modal.geomPos, corner2, uint32(p.modal.layer), uint32(p.modal.datatype))
	cell.Polygons = append(cell.Polygons, polygon)
	p.nextProperty = &polygon.Properties
	return p.readRepetition(info, 0x04, &polygon.Repetition)
}

func (p *oasisParser) readPolygon() error {
	cell := p.currentCell()
	polygon := &Polygon{}
	cell.Polygons = append(cell.Polygons, polygon)
	p.nextProperty = &polygon.Properties

	info, err := p.in.readByte()
	if err != nil {
		return err
	}
	if err := p.readLayerDatatype(info, &p.modal.layer, &p.modal.datatype); err != nil {
		return err
	}
	polygon.Layer = uint32(p.modal.layer)
	polygon.Datatype = uint32(p.modal.datatype)
	if info&0x20 != 0 {
		if p.modal.polygonPoints, err = p.in.pointList(p.factor, true); err != nil {
			return err
		}
	}
	polygon.Points = make([]Vec2, 0, 1+len(p.modal.polygonPoints))
	polygon.Points = append(polygon.Points, Vec2{})
	polygon.Points = append(polygon.Points, p.modal.polygonPoints...)
	if err := p.readPos(info, 0x10, 0x08, &p.modal.geomPos); err != nil {
		return err
	}
	for i := range polygon.Points {
		polygon.Points[i] = polygon.Points[i].Add(p.modal.geomPos)
	}
	return p.readRepetition(info, 0x04, &polygon.Repetition)
}

func (p *oasisParser) readPath() error {
	cell := p.currentCell()
	element := &PathElement{}
	path := &FlexPath{
		Tolerance:  p.tolerance,
		Elements:   []*PathElement{element},
		GdsiiPath:  true,
		ScaleWidth: true,
	}
	cell.FlexPaths = append(cell.FlexPaths, path)
	p.nextProperty = &path.Properties

	info, err := p.in.readByte()
	if err != nil {
		return err
	}
	if err := p.readLayerDatatype(info, &p.modal.layer, &p.modal.datatype); err != nil {
		return err
	}
	element.Layer = uint32(p.modal.layer)
	element.Datatype = uint32(p.modal.datatype)
	if info&0x40 != 0 {
		value, err := p.in.uint()
		if err != nil {
			return err
		}
		p.modal.pathHalfwidth = p.factor * float64(value)
	}
	element.HalfWidthAndOffset = append(element.HalfWidthAndOffset, Vec2{p.modal.pathHalfwidth, 0})
	if info&0x80 != 0 {
		scheme, err := p.in.readByte()
		if err != nil {
			return err
		}
		switch scheme & 0x03 {
		case 0x01:
			p.modal.pathExtensions.X = 0
		case 0x02:
			p.modal.pathExtensions.X = p.modal.pathHalfwidth
		case 0x03:
			value, err := p.in.int()
			if err != nil {
				return err
			}
			p.modal.pathExtensions.X = p.factor * float64(value)
		}
		switch scheme & 0x0C {
		case 0x04:
			p.modal.pathExtensions.Y = 0
		case 0x08:
			p.modal.pathExtensions.Y = p.modal.pathHalfwidth
		case 0x0C:
			value, err := p.in.int()
			if err != nil {
				return err
			}
			p.modal.pathExtensions.Y = p.factor * float64(value)
		}
	}
	switch {
	case p.modal.pathExtensions.X == 0 && p.modal.pathExtensions.Y == 0:
		element.EndType = EndFlush
	case p.modal.pathExtensions.X == p.modal.pathHalfwidth && p.modal.pathExtensions.Y == p.modal.pathHalfwidth:
		element.EndType = EndHalfWidth
	default:
		element.EndType = EndExtended
		element.EndExtensions = p.modal.pathExtensions
	}
	if info&0x20 != 0 {
		if p.modal.pathPoints, err = p.in.pointList(p.factor, false); err != nil {
			return err
		}
	}
	if err := p.readPos(info, 0x10, 0x08, &p.modal.geomPos); err != nil {
		return err
	}
	path.Spine = append(path.Spine, p.modal.geomPos)
	path.Segment(p.modal.pathPoints, true)
	return p.readRepetition(info, 0x04, &path.Repetition)
}

func (p *oasisParser) readTrapezoid(record byte) error {
	cell := p.currentCell()
	polygon := &Polygon{}
	cell.Polygons = append(cell.Polygons, polygon)
	p.nextProperty = &polygon.Properties

	info, err := p.in.readByte()
	if err != nil {
		return err
	}
	if err := p.readLayerDatatype(info, &p.modal.layer, &p.modal.datatype); err != nil {
		return err
	}
	polygon.Layer = uint32(p.modal.layer)
	polygon.Datatype = uint32(p.modal.datatype)
	if info&0x40 != 0 {
		value, err := p.in.uint()
		if err != nil {
			return err
		}
		p.modal.geomDim.X = p.factor * float64(value)
	}
	if info&0x20 != 0 {
		value, err := p.in.uint()
		if err != nil {
			return err
		}
		p.modal.geomDim.Y = p.factor * float64(value)
	}
	var deltaA, deltaB float64
	if record == oasTRAPEZOID_AB || record == oasTRAPEZOID_A {
		value, err := p.in.oneDelta()
		if err != nil {
			return err
		}
		deltaA = p.factor * float64(value)
	}
	if record == oasTRAPEZOID_AB || record == oasTRAPEZOID_B {
		value, err := p.in.oneDelta()
		if err != nil {
			return err
		}
		deltaB = p.factor * float64(value)
	}
	if err := p.readPos(info, 0x10, 0x08, &p.modal.geomPos); err != nil {
		return err
	}
	pos := p.modal.geomPos
	dim := p.modal.geomDim
	if info&0x80 != 0 {
		polygon.Points = []Vec2{
			pos,
			{pos.X + dim.X, pos.Y - deltaA},
			{pos.X + dim.X, pos.Y + dim.Y - deltaB},
			{pos.X, pos.Y + dim.Y},
		}
	} else {
		polygon.Points = []Vec2{
			{pos.X, pos.Y + dim.Y},
			{pos.X - deltaA, pos.Y},
			{pos.X + dim.X - deltaB, pos.Y},
			{pos.X + dim.X, pos.Y + dim.Y},
		}
	}
	return p.readRepetition(info, 0x04, &polygon.Repetition)
}

func (p *oasisParser) readCTrapezoid() error {
	cell := p.currentCell()
	polygon := &Polygon{}
	cell.Polygons = append(cell.Polygons, polygon)
	p.nextProperty = &polygon.Properties

	info, err := p.in.readByte()
	if err != nil {
		return err
	}
	if err := p.readLayerDatatype(info, &p.modal.layer, &p.modal.datatype); err != nil {
		return err
	}
	polygon.Layer = uint32(p.modal.layer)
	polygon.Datatype = uint32(p.modal.datatype)
	if info&0x80 != 0 {
		kind, err := p.in.readByte()
		if err != nil {
			return err
		}
		p.modal.ctrapezoidType = kind
	}
	if info&0x40 != 0 {
		value, err := p.in.uint()
		if err != nil {
			return err
		}
		p.modal.geomDim.X = p.factor * float64(value)
	}
	if info&0x20 != 0 {
		value, err := p.in.uint()
		if err != nil {
			return err
		}
		p.modal.geomDim.Y = p.factor * float64(value)
	}
	if err := p.readPos(info, 0x10, 0x08, &p.modal.geomPos); err != nil {
		return err
	}
	polygon.Points = ctrapezoidPoints(p.modal.ctrapezoidType, p.modal.geomPos, p.modal.geomDim)
	return p.readRepetition(info, 0x04, &polygon.Repetition)
}

/*
	ctrapezoidPoints builds one of the 26 canonical trapezoid shapes
	from the dim box by fixed corner adjustments.  Types 16-23 are
	triangles.  Type 24 is not defined by the format: report it and
	keep the full box.
*/
func ctrapezoidPoints(kind uint8, pos, dim Vec2) []Vec2 {
	var v []Vec2
	if kind > 15 && kind < 24 {
		v = []Vec2{pos, pos, pos}
	} else {
		v = []Vec2{
			pos,
			{pos.X + dim.X, pos.Y},
			{pos.X + dim.X, pos.Y + dim.Y},
			{pos.X, pos.Y + dim.Y},
		}
	}
	switch kind {
	case 0:
		v[2].X -= dim.Y
	case 1:
		v[1].X -= dim.Y
	case 2:
		v[3].X += dim.Y
	case 3:
		v[0].X += dim.Y
	case 4:
		v[2].X -= dim.Y
		v[3].X += dim.Y
	case 5:
		v[0].X += dim.Y
		v[1].X -= dim.Y
	case 6:
		v[1].X -= dim.Y
		v[3].X += dim.Y
	case 7:
		v[0].X += dim.Y
		v[2].X -= dim.Y
	case 8:
		v[2].Y -= dim.X
	case 9:
		v[3].Y -= dim.X
	case 10:
		v[1].Y += dim.X
	case 11:
		v[0].Y += dim.X
	case 12:
		v[1].X += dim.X
		v[2].X -= dim.X
	case 13:
		v[0].X += dim.X
		v[3].X -= dim.X
	case 14:
		v[1].X += dim.X
		v[3].X -= dim.X
	case 15:
		v[0].X += dim.X
		v[2].X -= dim.X
	case 16:
		v[1].X += dim.X
		v[2].Y += dim.X
	case 17:
		v[1].X += dim.X
		v[1].Y += dim.X
		v[2].Y += dim.X
	case 18:
		v[1].X += dim.X
		v[2].X += dim.X
		v[2].Y += dim.X
	case 19:
		v[0].X += dim.X
		v[1].X += dim.X
		v[1].Y += dim.X
		v[2].Y += dim.X
	case 20:
		v[1].X += 2 * dim.Y
		v[2].X += dim.Y
		v[2].Y += dim.Y
	case 21:
		v[0].X += dim.Y
		v[1].X += 2 * dim.Y
		v[1].Y += dim.Y
		v[2].Y += dim.Y
	case 22:
		v[1].X += dim.X
		v[1].Y += dim.X
		v[2].Y += 2 * dim.X
	case 23:
		v[0].X += dim.X
		v[1].X += dim.X
		v[1].Y += 2 * dim.X
		v[2].Y += dim.X
	case 24:
		diag("CTRAPEZOID type 24 is not defined; keeping the full box.")
	case 25:
		v[2].Y = pos.Y + dim.X
		v[3].Y = pos.Y + dim.X
	default:
		if kind > 25 {
			diag("CTRAPEZOID type <%d> out of range; keeping the full box.", kind)
		}
	}
	return v
}

func (p *oasisParser) readCircle() error {
	cell := p.currentCell()
	info, err := p.in.readByte()
	if err != nil {
		return err
	}
	if err := p.readLayerDatatype(info, &p.modal.layer, &p.modal.datatype); err != nil {
		return err
	}
	if info&0x20 != 0 {
		value, err := p.in.uint()
		if err != nil {
			return err
		}
		p.modal.circleRadius = p.factor * float64(value)
	}
	if err := p.readPos(info, 0x10, 0x08, &p.modal.geomPos); err != nil {
		return err
	}
	polygon := ellipse(p.modal.geomPos, p.modal.circleRadius, p.tolerance,
		uint32(p.modal.layer), uint32(p.modal.datatype))
	cell.Polygons = append(cell.Polygons, polygon)
	p.nextProperty = &polygon.Properties
	return p.readRepetition(info, 0x04, &polygon.Repetition)
}

func (p *oasisParser) readProperty(last bool) error {
	property := &Property{}
	*p.nextProperty = property
	p.nextProperty = &property.Next

	info := byte(0x08)
	if !last {
		var err error
		if info, err = p.in.readByte(); err != nil {
			return err
		}
	}
	if info&0x04 != 0 {
		// Explicit name
		if info&0x02 != 0 {
			index, err := p.in.uint()
			if err != nil {
				return err
			}
			p.unfinishedPropertyNames = append(p.unfinishedPropertyNames, propNameFixup{property, index})
			p.modal.propertyPending = true
			p.modal.propertyNameIdx = index
		} else {
			name, err := p.in.str(true)
			if err != nil {
				return err
			}
			property.Name = name
			p.modal.propertyPending = false
		}
		p.modal.property = property
	} else {
		if p.modal.property == nil {
			diag("PROPERTY record with no modal property name.")
		} else if p.modal.propertyPending {
			p.unfinishedPropertyNames = append(p.unfinishedPropertyNames,
				propNameFixup{property, p.modal.propertyNameIdx})
		} else {
			property.Name = p.modal.property.Name
		}
	}
	if info&0x08 != 0 {
		// Re-use the modal value list
		property.Value = propertyValuesCopy(p.modal.propertyValues)
		src := p.modal.propertyValues
		dst := property.Value
		for src != nil {
			if src.Type == PropUnsignedInteger && p.pendingValueSet[src] {
				p.pendingValueSet[dst] = true
				p.unfinishedPropertyValues = append(p.unfinishedPropertyValues, dst)
			}
			src = src.Next
			dst = dst.Next
		}
		return nil
	}
	count := uint64(info >> 4)
	if count == 15 {
		var err error
		if count, err = p.in.uint(); err != nil {
			return err
		}
	}
	next := &property.Value
	for ; count > 0; count-- {
		value := &PropertyValue{}
		*next = value
		next = &value.Next
		kind, err := p.in.readByte()
		if err != nil {
			return err
		}
		switch kind {
		case oasDataRealPositiveInteger, oasDataRealNegativeInteger,
			oasDataRealPositiveReciprocal, oasDataRealNegativeReciprocal,
			oasDataRealPositiveRatio, oasDataRealNegativeRatio,
			oasDataRealFloat, oasDataRealDouble:
			value.Type = PropReal
			if value.Real, err = p.in.realByType(kind); err != nil {
				return err
			}
		case oasDataUnsignedInteger:
			value.Type = PropUnsignedInteger
			if value.UnsignedInteger, err = p.in.uint(); err != nil {
				return err
			}
		case oasDataSignedInteger:
			value.Type = PropInteger
			if value.Integer, err = p.in.int(); err != nil {
				return err
			}
		case oasDataAString, oasDataBString, oasDataNString:
			value.Type = PropString
			if value.Bytes, err = p.in.bytes(); err != nil {
				return err
			}
		case oasDataReferenceA, oasDataReferenceB, oasDataReferenceN:
			value.Type = PropUnsignedInteger
			if value.UnsignedInteger, err = p.in.uint(); err != nil {
				return err
			}
			p.pendingValueSet[value] = true
			p.unfinishedPropertyValues = append(p.unfinishedPropertyValues, value)
		default:
			diag("Unsupported property value type <%d>.", kind)
		}
	}
	p.modal.propertyValues = property.Value
	return nil
}

func (p *oasisParser) skipXGeometry() error {
	info, err := p.in.readByte()
	if err != nil {
		return err
	}
	if _, err := p.in.uint(); err != nil {
		return err
	}
	if err := p.readLayerDatatype(info, &p.modal.layer, &p.modal.datatype); err != nil {
		return err
	}
	if _, err := p.in.bytes(); err != nil {
		return err
	}
	if err := p.readPos(info, 0x10, 0x08, &p.modal.geomPos); err != nil {
		return err
	}
	if info&0x04 != 0 {
		if err := p.in.repetition(p.factor, &p.modal.repetition); err != nil {
			return err
		}
	}
	diag("Record type XGEOMETRY ignored.")
	return nil
}

/*
	resolve runs the single end-of-stream pass: cells acquire their
	table names, labels their text, properties their names and string
	values, and references become cell pointers through a name map.
*/
func (p *oasisParser) resolve() {
	for _, cell := range p.library.Cells {
		if cell.Name != "" {
			continue
		}
		index, pending := p.cellNameIndex[cell]
		if !pending {
			continue
		}
		entry := tableEntry(p.cellNameTable, index)
		if entry == nil {
			diag("Cell name <%d> not found in the name table.", index)
			continue
		}
		cell.Name = string(entry.bytes)
		if entry.properties != nil {
			last := entry.properties
			for last.Next != nil {
				last = last.Next
			}
			last.Next = cell.Properties
			cell.Properties = entry.properties
			entry.properties = nil
		}
	}

	byName := p.library.cellMap()

	for _, cell := range p.library.Cells {
		for _, label := range cell.Labels {
			index, pending := p.labelTextIndex[label]
			if !pending {
				continue
			}
			entry := tableEntry(p.labelTextTable, index)
			if entry == nil {
				diag("Text string <%d> not found in the string table.", index)
				continue
			}
			label.Text = string(entry.bytes)
			if entry.properties != nil {
				properties := propertiesCopy(entry.properties)
				last := properties
				for last.Next != nil {
					last = last.Next
				}
				last.Next = label.Properties
				label.Properties = properties
			}
		}
		for _, reference := range cell.References {
			if index, pending := p.refCellIndex[reference]; pending {
				entry := tableEntry(p.cellNameTable, index)
				if entry == nil {
					diag("Cell name <%d> not found in the name table.", index)
					continue
				}
				reference.Name = string(entry.bytes)
				reference.Type = RefName
			}
			if reference.Type == RefName {
				if target := byName[reference.Name]; target != nil {
					reference.Type = RefCell
					reference.Cell = target
					reference.Name = ""
				}
			}
		}
	}

	for _, fixup := range p.unfinishedPropertyNames {
		entry := tableEntry(p.propertyNameTable, fixup.index)
		if entry == nil {
			diag("Property name <%d> not found in the name table.", fixup.index)
			continue
		}
		fixup.property.Name = string(entry.bytes)
	}
	for _, value := range p.unfinishedPropertyValues {
		entry := tableEntry(p.propertyValueTable, value.UnsignedInteger)
		if entry == nil {
			diag("Property string <%d> not found in the string table.", value.UnsignedInteger)
			continue
		}
		value.Type = PropString
		value.Bytes = append([]byte(nil), entry.bytes...)
	}
}

/*
	OASPrecision probes the START record for the database precision
	without loading any cells.
*/
func OASPrecision(path string) (float64, error) {
	fp, err := os.Open(path)
	if err != nil {
		diag("Unable to open OASIS file for input.")
		return 0, err
	}
	defer fp.Close()
	in := &oasisReader{file: bufio.NewReader(fp)}

	magic := make([]byte, len(oasisMagic))
	if _, err := io.ReadFull(in.file, magic); err != nil || string(magic) != oasisMagic {
		diag("Invalid OASIS header found.")
		return 0, io.ErrUnexpectedEOF
	}
	version, err := in.str(false)
	if err != nil {
		return 0, err
	}
	if vlib.CompareSimple(version, "1.0") != 0 {
		diag("Unsupported OASIS file version.")
	}
	grid, err := in.real()
	if err != nil {
		return 0, err
	}
	return 1e-6 / grid, nil
}
