package lib

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
)

/*
	RawCell is a pre-serialized GDSII cell re-emitted verbatim by
	WriteGDS.  The record stream runs from BGNSTR through ENDSTR
	inclusive.  Dependencies are the raw cells referenced by SNAME
	records inside the blob, resolved within the source file.
*/
type RawCell struct {
	Name         string
	Bytes        []byte
	Dependencies []*RawCell
	Properties   *Property
}

func rawRecordBytes(record *gdsRecord) []byte {
	out := make([]byte, 4+len(record.data))
	binary.BigEndian.PutUint16(out[:2], uint16(4+len(record.data)))
	out[2] = record.rtype
	out[3] = record.dtype
	copy(out[4:], record.data)
	return out
}

/*
	ReadRawCells loads every cell of a GDSII file as an opaque blob,
	keyed by cell name.  Cross-references between the cells of the file
	are resolved into Dependencies; the blobs themselves are never
	reinterpreted.
*/
func ReadRawCells(path string) (map[string]*RawCell, error) {
	fp, err := os.Open(path)
	if err != nil {
		diag("Unable to open GDSII file for input.")
		return nil, err
	}
	defer fp.Close()
	in := bufio.NewReader(fp)

	cells := map[string]*RawCell{}
	depNames := map[*RawCell][]string{}
	var current *RawCell

	for {
		record, err := gdsiiReadRecord(in)
		if err != nil {
			if err == io.EOF {
				break
			}
			diag("Unable to read GDSII record.")
			return nil, err
		}
		switch record.rtype {
		case gdsBGNSTR:
			current = &RawCell{Bytes: rawRecordBytes(record)}
		case gdsENDLIB:
			for cell, names := range depNames {
				for _, name := range names {
					if dep := cells[name]; dep != nil {
						cell.Dependencies = append(cell.Dependencies, dep)
					}
				}
			}
			return cells, nil
		default:
			if current == nil {
				continue
			}
			current.Bytes = append(current.Bytes, rawRecordBytes(record)...)
			switch record.rtype {
			case gdsSTRNAME:
				current.Name = record.str()
				cells[current.Name] = current
			case gdsSNAME:
				depNames[current] = append(depNames[current], record.str())
			case gdsENDSTR:
				current = nil
			}
		}
	}
	diag("GDSII file missing library end record.")
	return cells, nil
}
