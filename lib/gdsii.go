package lib

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
)

// GDSII record types.
const (
	gdsHEADER       = 0x00
	gdsBGNLIB       = 0x01
	gdsLIBNAME      = 0x02
	gdsUNITS        = 0x03
	gdsENDLIB       = 0x04
	gdsBGNSTR       = 0x05
	gdsSTRNAME      = 0x06
	gdsENDSTR       = 0x07
	gdsBOUNDARY     = 0x08
	gdsPATH         = 0x09
	gdsSREF         = 0x0A
	gdsAREF         = 0x0B
	gdsTEXT         = 0x0C
	gdsLAYER        = 0x0D
	gdsDATATYPE     = 0x0E
	gdsWIDTH        = 0x0F
	gdsXY           = 0x10
	gdsENDEL        = 0x11
	gdsSNAME        = 0x12
	gdsCOLROW       = 0x13
	gdsTEXTTYPE     = 0x16
	gdsPRESENTATION = 0x17
	gdsSTRING       = 0x19
	gdsSTRANS       = 0x1A
	gdsMAG          = 0x1B
	gdsANGLE        = 0x1C
	gdsPATHTYPE     = 0x21
	gdsPROPATTR     = 0x2B
	gdsPROPVALUE    = 0x2C
	gdsBOX          = 0x2D
	gdsBOXTYPE      = 0x2E
	gdsBGNEXTN      = 0x30
	gdsENDEXTN      = 0x31
)

// GDSII data type tags (second byte of the record header).
const (
	gdsTypeNoData   = 0x00
	gdsTypeBitArray = 0x01
	gdsTypeInt16    = 0x02
	gdsTypeInt32    = 0x03
	gdsTypeReal8    = 0x05
	gdsTypeString   = 0x06
)

var gdsiiRecordNames = []string{
	"HEADER", "BGNLIB", "LIBNAME", "UNITS", "ENDLIB", "BGNSTR",
	"STRNAME", "ENDSTR", "BOUNDARY", "PATH", "SREF", "AREF",
	"TEXT", "LAYER", "DATATYPE", "WIDTH", "XY", "ENDEL",
	"SNAME", "COLROW", "TEXTNODE", "NODE", "TEXTTYPE", "PRESENTATION",
	"SPACING", "STRING", "STRANS", "MAG", "ANGLE", "UINTEGER",
	"USTRING", "REFLIBS", "FONTS", "PATHTYPE", "GENERATIONS", "ATTRTABLE",
	"STYPTABLE", "STRTYPE", "ELFLAGS", "ELKEY", "LINKTYPE", "LINKKEYS",
	"NODETYPE", "PROPATTR", "PROPVALUE", "BOX", "BOXTYPE", "PLEX",
	"BGNEXTN", "ENDEXTN", "TAPENUM", "TAPECODE", "STRCLASS", "RESERVED",
	"FORMAT", "MASK", "ENDMASKS", "LIBDIRSIZE", "SRFNAME", "LIBSECUR",
}

/*
	gdsRecord is one framed GDSII record.  Data excludes the 4-byte
	header; the accessors decode the big-endian payload.
*/
type gdsRecord struct {
	rtype byte
	dtype byte
	data  []byte
}

func (r *gdsRecord) i16(i int) int16 {
	return int16(binary.BigEndian.Uint16(r.data[2*i:]))
}

func (r *gdsRecord) i32(i int) int32 {
	return int32(binary.BigEndian.Uint32(r.data[4*i:]))
}

func (r *gdsRecord) u64(i int) uint64 {
	return binary.BigEndian.Uint64(r.data[8*i:])
}

// str returns the payload as a string without a trailing NUL pad byte.
func (r *gdsRecord) str() string {
	data := r.data
	if n := len(data); n > 0 && data[n-1] == 0 {
		data = data[:n-1]
	}
	return string(data)
}

/*
	gdsiiReadRecord frames the next record: 2-byte big-endian total
	length (at least 4), record type, data type tag, payload.  Returns
	io.EOF cleanly at end of stream.
*/
func gdsiiReadRecord(in *bufio.Reader) (*gdsRecord, error) {
	var header [4]byte
	if _, err := io.ReadFull(in, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return nil, err
	}
	length := int(binary.BigEndian.Uint16(header[:2]))
	if length < 4 {
		return nil, io.ErrUnexpectedEOF
	}
	record := &gdsRecord{rtype: header[2], dtype: header[3]}
	if length > 4 {
		record.data = make([]byte, length-4)
		if _, err := io.ReadFull(in, record.data); err != nil {
			return nil, err
		}
	}
	return record, nil
}

/*
	gdsWriter assembles records into a buffered stream.  The first
	write error sticks and later calls become no-ops, so the emission
	code stays free of error plumbing.
*/
type gdsWriter struct {
	w   *bufio.Writer
	err error
}

func (g *gdsWriter) record(rtype, dtype byte, payload []byte) {
	if g.err != nil {
		return
	}
	var header [4]byte
	binary.BigEndian.PutUint16(header[:2], uint16(4+len(payload)))
	header[2] = rtype
	header[3] = dtype
	if _, g.err = g.w.Write(header[:]); g.err != nil {
		return
	}
	_, g.err = g.w.Write(payload)
}

// marker emits a record with no payload (BOUNDARY, ENDEL, ENDLIB, ...).
func (g *gdsWriter) marker(rtype byte) {
	g.record(rtype, gdsTypeNoData, nil)
}

func (g *gdsWriter) raw(data []byte) {
	if g.err != nil {
		return
	}
	_, g.err = g.w.Write(data)
}

func (g *gdsWriter) i16Record(rtype byte, values ...int16) {
	payload := make([]byte, 2*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(payload[2*i:], uint16(v))
	}
	g.record(rtype, gdsTypeInt16, payload)
}

func (g *gdsWriter) i32Record(rtype byte, values ...int32) {
	payload := make([]byte, 4*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint32(payload[4*i:], uint32(v))
	}
	g.record(rtype, gdsTypeInt32, payload)
}

func (g *gdsWriter) realRecord(rtype byte, values ...float64) {
	payload := make([]byte, 8*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint64(payload[8*i:], gdsiiRealFromFloat(v))
	}
	g.record(rtype, gdsTypeReal8, payload)
}

// strRecord pads the string to even length with a trailing NUL.
func (g *gdsWriter) strRecord(rtype byte, s string) {
	payload := []byte(s)
	if len(payload)%2 != 0 {
		payload = append(payload, 0)
	}
	g.record(rtype, gdsTypeString, payload)
}

/*
	GDSII reals are base-16 floating point: bit 63 sign, bits 62-56
	exponent biased by 64 (power of 16), bits 55-0 mantissa with the
	binary point before bit 55.
*/
func gdsiiRealToFloat(value uint64) float64 {
	exponent := int((value&0x7F00000000000000)>>54) - 256
	mantissa := float64(value&0x00FFFFFFFFFFFFFF) / 72057594037927936.0
	result := math.Ldexp(mantissa, exponent)
	if value&0x8000000000000000 != 0 {
		return -result
	}
	return result
}

func gdsiiRealFromFloat(value float64) uint64 {
	if value == 0 {
		return 0
	}
	var sign uint64
	if value < 0 {
		sign = 0x8000000000000000
		value = -value
	}
	fexp := 0.25 * math.Log2(value)
	exponent := math.Ceil(fexp)
	if exponent == fexp {
		exponent++
	}
	if exponent < -64 {
		exponent = -64
	} else if exponent > 63 {
		exponent = 63
	}
	mantissa := uint64(value * math.Pow(16, 14-exponent))
	if mantissa > 0x00FFFFFFFFFFFFFF {
		mantissa = 0x00FFFFFFFFFFFFFF
	}
	return sign | uint64(exponent+64)<<56 | mantissa
}
