package lib

import (
	"bufio"
	"math"
	"os"

	"github.com/pkg/errors"
)

// Configuration flags for WriteOAS.
const (
	OasisConfigUseCBlock uint16 = 0x01
)

/*
	oasisWriteState carries the growing name tables of one WriteOAS
	call.  Cell names are assigned up front in emission order; text
	strings, property names and property string values get the next
	index on first use and are flushed as tables after the last cell.
*/
type oasisWriteState struct {
	scaling float64

	cellNameIndex map[string]uint64

	textStrings     []string
	textStringIndex map[string]uint64

	propertyNames     []string
	propertyNameIndex map[string]uint64

	propertyValues     [][]byte
	propertyValueIndex map[string]uint64
}

func (state *oasisWriteState) textString(text string) uint64 {
	if index, ok := state.textStringIndex[text]; ok {
		return index
	}
	index := uint64(len(state.textStrings))
	state.textStrings = append(state.textStrings, text)
	state.textStringIndex[text] = index
	return index
}

func (state *oasisWriteState) propertyName(name string) uint64 {
	if index, ok := state.propertyNameIndex[name]; ok {
		return index
	}
	index := uint64(len(state.propertyNames))
	state.propertyNames = append(state.propertyNames, name)
	state.propertyNameIndex[name] = index
	return index
}

func (state *oasisWriteState) propertyValue(value []byte) uint64 {
	if index, ok := state.propertyValueIndex[string(value)]; ok {
		return index
	}
	index := uint64(len(state.propertyValues))
	state.propertyValues = append(state.propertyValues, value)
	state.propertyValueIndex[string(value)] = index
	return index
}

func oasRound(v float64) int64 {
	return int64(math.RoundToEven(v))
}

/*
	WriteOAS serializes the library as an OASIS stream.  Elements are
	written with full info bytes and explicit attributes rather than
	leaning on modal compression.  With OasisConfigUseCBlock set, each
	cell body is staged in memory and emitted as one raw-deflate
	CBLOCK at the given level.
*/
func (lib *Library) WriteOAS(path string, tolerance float64, deflateLevel int, configFlags uint16) error {
	fp, err := os.Create(path)
	if err != nil {
		diag("Unable to open OASIS file for output.")
		return errors.Wrap(err, "create OASIS file")
	}
	defer fp.Close()

	out := &oasisWriter{w: bufio.NewWriter(fp)}
	state := &oasisWriteState{
		scaling:            lib.Unit / lib.Precision,
		cellNameIndex:      map[string]uint64{},
		textStringIndex:    map[string]uint64{},
		propertyNameIndex:  map[string]uint64{},
		propertyValueIndex: map[string]uint64{},
	}

	out.fileWrite([]byte(oasisMagic))
	out.str("1.0")
	out.real(1e-6 / lib.Precision)
	// Table offsets are stored in the END record.
	out.fileByte(1)

	propertiesToOAS(out, lib.Properties, state)

	for i, cell := range lib.Cells {
		state.cellNameIndex[cell.Name] = uint64(i)
	}

	useCBlock := configFlags&OasisConfigUseCBlock != 0
	for i, cell := range lib.Cells {
		out.fileByte(oasCELL_REF_NUM)
		out.uint(uint64(i))

		if useCBlock {
			out.buffered = true
		}

		for _, polygon := range cell.Polygons {
			polygon.toOAS(out, state)
		}
		for _, path := range cell.FlexPaths {
			if path.GdsiiPath {
				pathToOAS(out, state, path.Spine, path.Elements[0], &path.Repetition, path.Properties)
			} else if FlexPathPolygons != nil {
				for _, polygon := range FlexPathPolygons(path) {
					polygon.toOAS(out, state)
				}
			} else {
				diag("No polygon service installed; writing path as a native path record.")
				pathToOAS(out, state, path.Spine, path.Elements[0], &path.Repetition, path.Properties)
			}
		}
		for _, path := range cell.RobustPaths {
			if path.GdsiiPath {
				pathToOAS(out, state, path.Spine, path.Elements[0], &path.Repetition, path.Properties)
			} else if RobustPathPolygons != nil {
				for _, polygon := range RobustPathPolygons(path) {
					polygon.toOAS(out, state)
				}
			} else {
				diag("No polygon service installed; writing path as a native path record.")
				pathToOAS(out, state, path.Spine, path.Elements[0], &path.Repetition, path.Properties)
			}
		}
		for _, reference := range cell.References {
			reference.toOAS(out, state)
		}
		for _, label := range cell.Labels {
			label.toOAS(out, state)
		}

		if useCBlock {
			out.flushCBlock(deflateLevel)
		}
	}

	var cellNameOffset int64
	if len(lib.Cells) > 0 {
		cellNameOffset = out.pos
	}
	for _, cell := range lib.Cells {
		out.fileByte(oasCELLNAME_IMPLICIT)
		out.str(cell.Name)
		propertiesToOAS(out, cell.Properties, state)
	}

	var textStringOffset int64
	if len(state.textStrings) > 0 {
		textStringOffset = out.pos
	}
	for index, text := range state.textStrings {
		out.fileByte(oasTEXTSTRING)
		out.str(text)
		out.uint(uint64(index))
	}

	var propNameOffset int64
	if len(state.propertyNames) > 0 {
		propNameOffset = out.pos
	}
	for index, name := range state.propertyNames {
		out.fileByte(oasPROPNAME)
		out.str(name)
		out.uint(uint64(index))
	}

	var propStringOffset int64
	if len(state.propertyValues) > 0 {
		propStringOffset = out.pos
	}
	for _, value := range state.propertyValues {
		out.fileByte(oasPROPSTRING_IMPLICIT)
		out.bstr(value)
	}

	out.fileByte(oasEND)

	// END record byte + offset table + pad string + validation = 256
	padLen := 252 + out.pos

	out.fileByte(1)
	out.uint(uint64(cellNameOffset))
	out.fileByte(1)
	out.uint(uint64(textStringOffset))
	out.fileByte(1)
	out.uint(uint64(propNameOffset))
	out.fileByte(1)
	out.uint(uint64(propStringOffset))
	out.fileByte(1)
	out.fileByte(0) // LAYERNAME table
	out.fileByte(1)
	out.fileByte(0) // XNAME table

	padLen -= out.pos
	out.uint(uint64(padLen))
	for ; padLen > 0; padLen-- {
		out.fileByte(0)
	}
	// No validation scheme.
	out.fileByte(0)

	if out.err == nil {
		out.fail(out.w.Flush())
	}
	return errors.Wrap(out.err, "write OASIS file")
}

/*
	Polygonization services for paths that cannot be written as native
	path records.  WriteOAS falls back to native records with a
	diagnostic when a service is missing; WriteGDS does not use these
	services and writes every path as a native record.
*/
var (
	FlexPathPolygons   func(*FlexPath) []*Polygon
	RobustPathPolygons func(*RobustPath) []*Polygon
)

func (p *Polygon) toOAS(out *oasisWriter, state *oasisWriteState) {
	if len(p.Points) == 0 {
		return
	}
	info := byte(0x3B)
	hasRepetition := p.Repetition.Size() > 1
	if hasRepetition {
		info |= 0x04
	}
	out.putByte(oasPOLYGON)
	out.putByte(info)
	out.uint(uint64(p.Layer))
	out.uint(uint64(p.Datatype))
	out.pointList(p.Points, state.scaling)
	out.int(oasRound(p.Points[0].X * state.scaling))
	out.int(oasRound(p.Points[0].Y * state.scaling))
	if hasRepetition {
		out.repetition(&p.Repetition, state.scaling)
	}
	propertiesToOAS(out, p.Properties, state)
}

func pathToOAS(out *oasisWriter, state *oasisWriteState, spine []Vec2, element *PathElement,
	repetition *Repetition, properties *Property) {
	if len(spine) == 0 {
		return
	}
	info := byte(0xFB)
	hasRepetition := repetition.Size() > 1
	if hasRepetition {
		info |= 0x04
	}
	out.putByte(oasPATH)
	out.putByte(info)
	out.uint(uint64(element.Layer))
	out.uint(uint64(element.Datatype))
	halfWidth := 0.0
	if len(element.HalfWidthAndOffset) > 0 {
		halfWidth = element.HalfWidthAndOffset[0].X
	}
	out.uint(uint64(oasRound(halfWidth * state.scaling)))
	switch element.EndType {
	case EndFlush:
		out.putByte(0x05)
	case EndHalfWidth:
		out.putByte(0x0A)
	case EndRound:
		diag("Round path ends have no OASIS encoding; writing half-width ends.")
		out.putByte(0x0A)
	case EndExtended:
		out.putByte(0x0F)
		out.int(oasRound(element.EndExtensions.X * state.scaling))
		out.int(oasRound(element.EndExtensions.Y * state.scaling))
	}
	out.pointList(spine, state.scaling)
	out.int(oasRound(spine[0].X * state.scaling))
	out.int(oasRound(spine[0].Y * state.scaling))
	if hasRepetition {
		out.repetition(repetition, state.scaling)
	}
	propertiesToOAS(out, properties, state)
}

func (r *Reference) toOAS(out *oasisWriter, state *oasisWriteState) {
	if r.Type == RefRawCell {
		diag("Reference to a RawCell cannot be used in a OASIS file.")
		return
	}
	info := byte(0xF0)
	hasRepetition := r.Repetition.Size() > 1
	if hasRepetition {
		info |= 0x08
	}
	if r.XReflection {
		info |= 0x01
	}
	index := state.cellNameIndex[r.TargetName()]
	if m, ok := isMultipleOfPiOver2(r.Rotation); r.Magnification == 1 && ok {
		info |= byte(0x03&((m%4)+4)) << 1
		out.putByte(oasPLACEMENT)
		out.putByte(info)
		out.uint(index)
	} else {
		if r.Magnification != 1 {
			info |= 0x04
		}
		if r.Rotation != 0 {
			info |= 0x02
		}
		out.putByte(oasPLACEMENT_TRANSFORM)
		out.putByte(info)
		out.uint(index)
		if r.Magnification != 1 {
			out.real(r.Magnification)
		}
		if r.Rotation != 0 {
			out.real(r.Rotation * (180 / math.Pi))
		}
	}
	out.int(oasRound(r.Origin.X * state.scaling))
	out.int(oasRound(r.Origin.Y * state.scaling))
	if hasRepetition {
		out.repetition(&r.Repetition, state.scaling)
	}
	propertiesToOAS(out, r.Properties, state)
}

func (l *Label) toOAS(out *oasisWriter, state *oasisWriteState) {
	info := byte(0x7B)
	hasRepetition := l.Repetition.Size() > 1
	if hasRepetition {
		info |= 0x04
	}
	out.putByte(oasTEXT)
	out.putByte(info)
	out.uint(state.textString(l.Text))
	out.uint(uint64(l.Layer))
	out.uint(uint64(l.Texttype))
	out.int(oasRound(l.Origin.X * state.scaling))
	out.int(oasRound(l.Origin.Y * state.scaling))
	if hasRepetition {
		out.repetition(&l.Repetition, state.scaling)
	}
	propertiesToOAS(out, l.Properties, state)
}

/*
	propertiesToOAS emits one PROPERTY record per property.  Names go
	through the property name table; string values are replaced by
	references into the property string table so the values themselves
	live in the trailing PROPSTRING_IMPLICIT records.
*/
func propertiesToOAS(out *oasisWriter, properties *Property, state *oasisWriteState) {
	for property := properties; property != nil; property = property.Next {
		count := uint64(0)
		for value := property.Value; value != nil; value = value.Next {
			count++
		}
		info := byte(0x06)
		if count >= 15 {
			info |= 0xF0
		} else {
			info |= byte(count) << 4
		}
		out.putByte(oasPROPERTY)
		out.putByte(info)
		out.uint(state.propertyName(property.Name))
		if count >= 15 {
			out.uint(count)
		}
		for value := property.Value; value != nil; value = value.Next {
			switch value.Type {
			case PropReal:
				out.real(value.Real)
			case PropUnsignedInteger:
				out.putByte(oasDataUnsignedInteger)
				out.uint(value.UnsignedInteger)
			case PropInteger:
				out.putByte(oasDataSignedInteger)
				out.int(value.Integer)
			case PropString:
				out.putByte(oasDataReferenceB)
				out.uint(state.propertyValue(value.Bytes))
			}
		}
	}
}
