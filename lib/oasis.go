package lib

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/klauspost/compress/flate"
)

// OASIS record types.
const (
	oasPAD                 = 0
	oasSTART               = 1
	oasEND                 = 2
	oasCELLNAME_IMPLICIT   = 3
	oasCELLNAME            = 4
	oasTEXTSTRING_IMPLICIT = 5
	oasTEXTSTRING          = 6
	oasPROPNAME_IMPLICIT   = 7
	oasPROPNAME            = 8
	oasPROPSTRING_IMPLICIT = 9
	oasPROPSTRING          = 10
	oasLAYERNAME_DATA      = 11
	oasLAYERNAME_TEXT      = 12
	oasCELL_REF_NUM        = 13
	oasCELL                = 14
	oasXYABSOLUTE          = 15
	oasXYRELATIVE          = 16
	oasPLACEMENT           = 17
	oasPLACEMENT_TRANSFORM = 18
	oasTEXT                = 19
	oasRECTANGLE           = 20
	oasPOLYGON             = 21
	oasPATH                = 22
	oasTRAPEZOID_AB        = 23
	oasTRAPEZOID_A         = 24
	oasTRAPEZOID_B         = 25
	oasCTRAPEZOID          = 26
	oasCIRCLE              = 27
	oasPROPERTY            = 28
	oasLAST_PROPERTY       = 29
	oasXNAME_IMPLICIT      = 30
	oasXNAME               = 31
	oasXELEMENT            = 32
	oasXGEOMETRY           = 33
	oasCBLOCK              = 34
)

// OASIS property value data types.
const (
	oasDataRealPositiveInteger    = 0
	oasDataRealNegativeInteger    = 1
	oasDataRealPositiveReciprocal = 2
	oasDataRealNegativeReciprocal = 3
	oasDataRealPositiveRatio      = 4
	oasDataRealNegativeRatio      = 5
	oasDataRealFloat              = 6
	oasDataRealDouble             = 7
	oasDataUnsignedInteger        = 8
	oasDataSignedInteger          = 9
	oasDataAString                = 10
	oasDataBString                = 11
	oasDataNString                = 12
	oasDataReferenceA             = 13
	oasDataReferenceB             = 14
	oasDataReferenceN             = 15
)

const oasisMagic = "%SEMI-OASIS\r\n\x01"

/*
	oasisReader reads records either straight from the file or, after a
	CBLOCK, from the inflated in-memory buffer.  The buffer drains
	first; once exhausted the reader falls back to the file, which is
	how a CBLOCK sub-stream hands control back to the outer stream.
*/
type oasisReader struct {
	file   *bufio.Reader
	data   []byte
	cursor int
}

func (s *oasisReader) byteBuffered() bool {
	return s.data != nil && s.cursor < len(s.data)
}

func (s *oasisReader) readByte() (byte, error) {
	if s.byteBuffered() {
		b := s.data[s.cursor]
		s.cursor++
		if s.cursor == len(s.data) {
			s.data = nil
		}
		return b, nil
	}
	return s.file.ReadByte()
}

func (s *oasisReader) read(p []byte) error {
	for i := range p {
		b, err := s.readByte()
		if err != nil {
			return err
		}
		p[i] = b
	}
	return nil
}

// uint decodes a little-endian base-128 unsigned integer.
func (s *oasisReader) uint() (uint64, error) {
	var value uint64
	var shift uint
	for {
		b, err := s.readByte()
		if err != nil {
			return 0, err
		}
		value |= uint64(b&0x7F) << shift
		if b&0x80 == 0 {
			return value, nil
		}
		shift += 7
		if shift >= 64 {
			diag("Unsigned integer overflows 64 bits.")
			return value, nil
		}
	}
}

// int decodes a signed integer; the sign rides the low bit.
func (s *oasisReader) int() (int64, error) {
	value, err := s.uint()
	if err != nil {
		return 0, err
	}
	if value&0x01 != 0 {
		return -int64(value >> 1), nil
	}
	return int64(value >> 1), nil
}

func (s *oasisReader) bytes() ([]byte, error) {
	length, err := s.uint()
	if err != nil {
		return nil, err
	}
	data := make([]byte, length)
	if err := s.read(data); err != nil {
		return nil, err
	}
	return data, nil
}

/*
	str reads a length-prefixed string.  When printable is set the
	bytes are required to be printable ASCII; violations are reported
	and the bytes kept.
*/
func (s *oasisReader) str(printable bool) (string, error) {
	data, err := s.bytes()
	if err != nil {
		return "", err
	}
	if printable {
		for _, b := range data {
			if b < 0x20 || b > 0x7E {
				diag("Non-printable byte 0x%02X in string.", b)
				break
			}
		}
	}
	return string(data), nil
}

func (s *oasisReader) realByType(kind byte) (float64, error) {
	switch kind {
	case oasDataRealPositiveInteger, oasDataRealNegativeInteger:
		value, err := s.uint()
		if err != nil {
			return 0, err
		}
		if kind == oasDataRealNegativeInteger {
			return -float64(value), nil
		}
		return float64(value), nil
	case oasDataRealPositiveReciprocal, oasDataRealNegativeReciprocal:
		value, err := s.uint()
		if err != nil {
			return 0, err
		}
		if kind == oasDataRealNegativeReciprocal {
			return -1 / float64(value), nil
		}
		return 1 / float64(value), nil
	case oasDataRealPositiveRatio, oasDataRealNegativeRatio:
		num, err := s.uint()
		if err != nil {
			return 0, err
		}
		den, err := s.uint()
		if err != nil {
			return 0, err
		}
		if kind == oasDataRealNegativeRatio {
			return -float64(num) / float64(den), nil
		}
		return float64(num) / float64(den), nil
	case oasDataRealFloat:
		var raw [4]byte
		if err := s.read(raw[:]); err != nil {
			return 0, err
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[:]))), nil
	case oasDataRealDouble:
		var raw [8]byte
		if err := s.read(raw[:]); err != nil {
			return 0, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(raw[:])), nil
	}
	diag("Unsupported real encoding <%d>.", kind)
	return 0, nil
}

func (s *oasisReader) real() (float64, error) {
	kind, err := s.readByte()
	if err != nil {
		return 0, err
	}
	return s.realByType(kind)
}

// oneDelta is a plain signed integer along an axis fixed by context.
func (s *oasisReader) oneDelta() (int64, error) {
	return s.int()
}

var twoDeltaDirections = [4][2]int64{{1, 0}, {0, 1}, {-1, 0}, {0, -1}}

var threeDeltaDirections = [8][2]int64{
	{1, 0}, {0, 1}, {-1, 0}, {0, -1},
	{1, 1}, {-1, 1}, {-1, -1}, {1, -1},
}

// twoDelta: low 2 bits select E/N/W/S, the rest is the magnitude.
func (s *oasisReader) twoDelta() (x, y int64, err error) {
	value, err := s.uint()
	if err != nil {
		return 0, 0, err
	}
	dir := twoDeltaDirections[value&0x03]
	magnitude := int64(value >> 2)
	return dir[0] * magnitude, dir[1] * magnitude, nil
}

// threeDelta: low 3 bits select one of eight octant directions.
func (s *oasisReader) threeDelta() (x, y int64, err error) {
	value, err := s.uint()
	if err != nil {
		return 0, 0, err
	}
	dir := threeDeltaDirections[value&0x07]
	magnitude := int64(value >> 3)
	return dir[0] * magnitude, dir[1] * magnitude, nil
}

/*
	gDelta: the low bit of the first integer discriminates between a
	single 3-delta (0) and an (x, y) pair of signed values (1).
*/
func (s *oasisReader) gDelta() (x, y int64, err error) {
	value, err := s.uint()
	if err != nil {
		return 0, 0, err
	}
	if value&0x01 == 0 {
		dir := threeDeltaDirections[(value>>1)&0x07]
		magnitude := int64(value >> 4)
		return dir[0] * magnitude, dir[1] * magnitude, nil
	}
	x = int64(value >> 2)
	if value&0x02 != 0 {
		x = -x
	}
	value, err = s.uint()
	if err != nil {
		return 0, 0, err
	}
	y = int64(value >> 1)
	if value&0x01 != 0 {
		y = -y
	}
	return x, y, nil
}

/*
	pointList decodes one of the six point-list types into a vertex
	chain relative to an implicit (0, 0) start, already scaled.  For
	polygons the types 0 and 1 append the implicit closing vertex.
*/
func (s *oasisReader) pointList(factor float64, polygon bool) ([]Vec2, error) {
	kind, err := s.readByte()
	if err != nil {
		return nil, err
	}
	count, err := s.uint()
	if err != nil {
		return nil, err
	}
	result := make([]Vec2, 0, count+1)
	var cx, cy int64
	switch kind {
	case 0, 1:
		horizontal := kind == 0
		for i := uint64(0); i < count; i++ {
			delta, err := s.oneDelta()
			if err != nil {
				return result, err
			}
			if horizontal {
				cx += delta
			} else {
				cy += delta
			}
			horizontal = !horizontal
			result = append(result, Vec2{factor * float64(cx), factor * float64(cy)})
		}
		if polygon {
			if horizontal {
				result = append(result, Vec2{0, factor * float64(cy)})
			} else {
				result = append(result, Vec2{factor * float64(cx), 0})
			}
		}
	case 2:
		for i := uint64(0); i < count; i++ {
			dx, dy, err := s.twoDelta()
			if err != nil {
				return result, err
			}
			cx += dx
			cy += dy
			result = append(result, Vec2{factor * float64(cx), factor * float64(cy)})
		}
	case 3:
		for i := uint64(0); i < count; i++ {
			dx, dy, err := s.threeDelta()
			if err != nil {
				return result, err
			}
			cx += dx
			cy += dy
			result = append(result, Vec2{factor * float64(cx), factor * float64(cy)})
		}
	case 4:
		for i := uint64(0); i < count; i++ {
			dx, dy, err := s.gDelta()
			if err != nil {
				return result, err
			}
			cx += dx
			cy += dy
			result = append(result, Vec2{factor * float64(cx), factor * float64(cy)})
		}
	case 5:
		var dx, dy int64
		for i := uint64(0); i < count; i++ {
			gx, gy, err := s.gDelta()
			if err != nil {
				return result, err
			}
			dx += gx
			dy += gy
			cx += dx
			cy += dy
			result = append(result, Vec2{factor * float64(cx), factor * float64(cy)})
		}
	default:
		diag("Unsupported point list type <%d>.", kind)
	}
	return result, nil
}

/*
	repetition decodes one of the repetition types.  Type 0 re-uses the
	modal repetition, so the destination is left untouched.
*/
func (s *oasisReader) repetition(factor float64, rep *Repetition) error {
	kind, err := s.uint()
	if err != nil {
		return err
	}
	switch kind {
	case 0:
	case 1:
		cols, err := s.uint()
		if err != nil {
			return err
		}
		rows, err := s.uint()
		if err != nil {
			return err
		}
		sx, err := s.uint()
		if err != nil {
			return err
		}
		sy, err := s.uint()
		if err != nil {
			return err
		}
		*rep = Repetition{
			Type:    RepRectangular,
			Columns: cols + 2,
			Rows:    rows + 2,
			Spacing: Vec2{factor * float64(sx), factor * float64(sy)},
		}
	case 2, 3:
		n, err := s.uint()
		if err != nil {
			return err
		}
		spacing, err := s.uint()
		if err != nil {
			return err
		}
		if kind == 2 {
			*rep = Repetition{
				Type:    RepRectangular,
				Columns: n + 2,
				Rows:    1,
				Spacing: Vec2{factor * float64(spacing), 0},
			}
		} else {
			*rep = Repetition{
				Type:    RepRectangular,
				Columns: 1,
				Rows:    n + 2,
				Spacing: Vec2{0, factor * float64(spacing)},
			}
		}
	case 4, 5, 6, 7:
		n, err := s.uint()
		if err != nil {
			return err
		}
		grid := uint64(1)
		if kind == 5 || kind == 7 {
			if grid, err = s.uint(); err != nil {
				return err
			}
		}
		coords := make([]float64, 0, n+1)
		var total uint64
		for i := uint64(0); i < n+1; i++ {
			spacing, err := s.uint()
			if err != nil {
				return err
			}
			total += spacing * grid
			coords = append(coords, factor*float64(total))
		}
		if kind <= 5 {
			*rep = Repetition{Type: RepExplicitX, Coords: coords}
		} else {
			*rep = Repetition{Type: RepExplicitY, Coords: coords}
		}
	case 8:
		cols, err := s.uint()
		if err != nil {
			return err
		}
		rows, err := s.uint()
		if err != nil {
			return err
		}
		x1, y1, err := s.gDelta()
		if err != nil {
			return err
		}
		x2, y2, err := s.gDelta()
		if err != nil {
			return err
		}
		*rep = Repetition{
			Type:    RepRegular,
			Columns: cols + 2,
			Rows:    rows + 2,
			V1:      Vec2{factor * float64(x1), factor * float64(y1)},
			V2:      Vec2{factor * float64(x2), factor * float64(y2)},
		}
	case 9:
		n, err := s.uint()
		if err != nil {
			return err
		}
		x, y, err := s.gDelta()
		if err != nil {
			return err
		}
		*rep = Repetition{
			Type:    RepRegular,
			Columns: n + 2,
			Rows:    1,
			V1:      Vec2{factor * float64(x), factor * float64(y)},
		}
	case 10, 11:
		n, err := s.uint()
		if err != nil {
			return err
		}
		grid := int64(1)
		if kind == 11 {
			g, err := s.uint()
			if err != nil {
				return err
			}
			grid = int64(g)
		}
		offsets := make([]Vec2, 0, n+1)
		var tx, ty int64
		for i := uint64(0); i < n+1; i++ {
			dx, dy, err := s.gDelta()
			if err != nil {
				return err
			}
			tx += dx * grid
			ty += dy * grid
			offsets = append(offsets, Vec2{factor * float64(tx), factor * float64(ty)})
		}
		*rep = Repetition{Type: RepExplicit, Offsets: offsets}
	default:
		diag("Unsupported repetition type <%d>.", kind)
	}
	return nil
}

/*
	inflateCBlock reads the CBLOCK sizes and payload and switches the
	stream into buffered mode over the inflated bytes.  Short reads and
	inflate failures are reported and parsing continues with whatever
	was recovered.
*/
func (s *oasisReader) inflateCBlock() error {
	uncompressed, err := s.uint()
	if err != nil {
		return err
	}
	compressed, err := s.uint()
	if err != nil {
		return err
	}
	payload := make([]byte, compressed)
	if _, err := io.ReadFull(s.file, payload); err != nil {
		diag("Unable to read full CBLOCK.")
		payload = payload[:0]
	}
	inflated := make([]byte, uncompressed)
	fr := flate.NewReader(bytes.NewReader(payload))
	n, err := io.ReadFull(fr, inflated)
	if err != nil {
		diag("Unable to decompress CBLOCK.")
	}
	fr.Close()
	s.data = inflated[:n]
	s.cursor = 0
	if n == 0 {
		s.data = nil
	}
	return nil
}

/*
	oasisWriter accumulates bytes either directly in the output file or,
	while a CBLOCK is being assembled, in the staging buffer.  pos
	tracks the file offset for the END offset table; buffered bytes do
	not advance it until the CBLOCK is flushed.
*/
type oasisWriter struct {
	w        *bufio.Writer
	buf      bytes.Buffer
	buffered bool
	pos      int64
	err      error
}

func (o *oasisWriter) fail(err error) {
	if o.err == nil && err != nil {
		o.err = err
	}
}

// putByte honors buffered mode.
func (o *oasisWriter) putByte(b byte) {
	if o.err != nil {
		return
	}
	if o.buffered {
		o.buf.WriteByte(b)
		return
	}
	o.fail(o.w.WriteByte(b))
	o.pos++
}

func (o *oasisWriter) put(p []byte) {
	if o.err != nil {
		return
	}
	if o.buffered {
		o.buf.Write(p)
		return
	}
	_, err := o.w.Write(p)
	o.fail(err)
	o.pos += int64(len(p))
}

// fileByte bypasses the staging buffer (record framing, name tables).
func (o *oasisWriter) fileByte(b byte) {
	if o.err != nil {
		return
	}
	o.fail(o.w.WriteByte(b))
	o.pos++
}

func (o *oasisWriter) fileWrite(p []byte) {
	if o.err != nil {
		return
	}
	_, err := o.w.Write(p)
	o.fail(err)
	o.pos += int64(len(p))
}

func (o *oasisWriter) uint(value uint64) {
	for value >= 0x80 {
		o.putByte(byte(value&0x7F) | 0x80)
		value >>= 7
	}
	o.putByte(byte(value))
}

func (o *oasisWriter) int(value int64) {
	if value < 0 {
		o.uint(uint64(-value)<<1 | 0x01)
	} else {
		o.uint(uint64(value) << 1)
	}
}

func (o *oasisWriter) str(s string) {
	o.uint(uint64(len(s)))
	o.put([]byte(s))
}

func (o *oasisWriter) bstr(b []byte) {
	o.uint(uint64(len(b)))
	o.put(b)
}

/*
	real prefers the integer and reciprocal encodings and falls back to
	an IEEE double.
*/
func (o *oasisWriter) real(value float64) {
	if value == math.Trunc(value) && math.Abs(value) < 1e18 {
		if value >= 0 {
			o.putByte(oasDataRealPositiveInteger)
			o.uint(uint64(value))
		} else {
			o.putByte(oasDataRealNegativeInteger)
			o.uint(uint64(-value))
		}
		return
	}
	if value != 0 {
		inverse := 1 / value
		if inverse == math.Trunc(inverse) && math.Abs(inverse) < 1e18 {
			if inverse >= 0 {
				o.putByte(oasDataRealPositiveReciprocal)
				o.uint(uint64(inverse))
			} else {
				o.putByte(oasDataRealNegativeReciprocal)
				o.uint(uint64(-inverse))
			}
			return
		}
	}
	o.putByte(oasDataRealDouble)
	var raw [8]byte
	binary.LittleEndian.PutUint64(raw[:], math.Float64bits(value))
	o.put(raw[:])
}

func (o *oasisWriter) gDelta(x, y int64) {
	if x == 0 || y == 0 || x == y || x == -y {
		// octangular form
		var dir uint64
		magnitude := x
		switch {
		case y == 0 && x >= 0:
			dir = 0
		case x == 0 && y >= 0:
			dir, magnitude = 1, y
		case y == 0:
			dir, magnitude = 2, -x
		case x == 0:
			dir, magnitude = 3, -y
		case x > 0 && y > 0:
			dir = 4
		case x < 0 && y > 0:
			dir, magnitude = 5, -x
		case x < 0 && y < 0:
			dir, magnitude = 6, -x
		default:
			dir = 7
		}
		o.uint(uint64(magnitude)<<4 | dir<<1)
		return
	}
	var first uint64
	if x < 0 {
		first = uint64(-x)<<2 | 0x03
	} else {
		first = uint64(x)<<2 | 0x01
	}
	o.uint(first)
	if y < 0 {
		o.uint(uint64(-y)<<1 | 0x01)
	} else {
		o.uint(uint64(y) << 1)
	}
}

/*
	pointList writes the vertex chain as a type-4 (g-delta) list.  For
	both polygons and paths the first vertex is implicit, so the list
	holds one delta per remaining vertex.
*/
func (o *oasisWriter) pointList(points []Vec2, scaling float64) {
	o.putByte(4)
	if len(points) < 2 {
		o.uint(0)
		return
	}
	o.uint(uint64(len(points) - 1))
	px := int64(math.RoundToEven(points[0].X * scaling))
	py := int64(math.RoundToEven(points[0].Y * scaling))
	for _, pt := range points[1:] {
		x := int64(math.RoundToEven(pt.X * scaling))
		y := int64(math.RoundToEven(pt.Y * scaling))
		o.gDelta(x-px, y-py)
		px, py = x, y
	}
}

func (o *oasisWriter) repetition(rep *Repetition, scaling float64) {
	round := func(v float64) int64 { return int64(math.RoundToEven(v * scaling)) }
	switch rep.Type {
	case RepRectangular:
		switch {
		case rep.Columns > 1 && rep.Rows > 1:
			o.uint(1)
			o.uint(rep.Columns - 2)
			o.uint(rep.Rows - 2)
			o.uint(uint64(round(rep.Spacing.X)))
			o.uint(uint64(round(rep.Spacing.Y)))
		case rep.Rows > 1:
			o.uint(3)
			o.uint(rep.Rows - 2)
			o.uint(uint64(round(rep.Spacing.Y)))
		default:
			o.uint(2)
			o.uint(rep.Columns - 2)
			o.uint(uint64(round(rep.Spacing.X)))
		}
	case RepRegular:
		switch {
		case rep.Columns > 1 && rep.Rows > 1:
			o.uint(8)
			o.uint(rep.Columns - 2)
			o.uint(rep.Rows - 2)
			o.gDelta(round(rep.V1.X), round(rep.V1.Y))
			o.gDelta(round(rep.V2.X), round(rep.V2.Y))
		case rep.Rows > 1:
			o.uint(9)
			o.uint(rep.Rows - 2)
			o.gDelta(round(rep.V2.X), round(rep.V2.Y))
		default:
			o.uint(9)
			o.uint(rep.Columns - 2)
			o.gDelta(round(rep.V1.X), round(rep.V1.Y))
		}
	case RepExplicitX, RepExplicitY:
		if rep.Type == RepExplicitX {
			o.uint(4)
		} else {
			o.uint(6)
		}
		o.uint(uint64(len(rep.Coords)) - 1)
		var prev int64
		for _, c := range rep.Coords {
			cur := round(c)
			o.uint(uint64(cur - prev))
			prev = cur
		}
	case RepExplicit:
		o.uint(10)
		o.uint(uint64(len(rep.Offsets)) - 1)
		var px, py int64
		for _, offset := range rep.Offsets {
			x := round(offset.X)
			y := round(offset.Y)
			o.gDelta(x-px, y-py)
			px, py = x, y
		}
	}
}

/*
	flushCBlock deflates the staging buffer and emits the CBLOCK record
	around it, leaving the writer in file mode.
*/
func (o *oasisWriter) flushCBlock(level int) {
	o.buffered = false
	uncompressed := o.buf.Bytes()
	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, level)
	if err != nil {
		diag("Unable to initialize deflate.")
		o.fail(err)
		return
	}
	if _, err := fw.Write(uncompressed); err == nil {
		err = fw.Close()
	}
	if err != nil {
		diag("Unable to compress CBLOCK.")
		o.fail(err)
		return
	}
	o.fileByte(oasCBLOCK)
	o.fileByte(0)
	o.uint(uint64(len(uncompressed)))
	o.uint(uint64(compressed.Len()))
	o.fileWrite(compressed.Bytes())
	o.buf.Reset()
}
