package lib

import (
	"bufio"
	"io"
	"math"
	"os"
)

/*
	ReadGDS parses a GDSII stream into a library.  unit > 0 requests
	user coordinates in that unit; unit == 0 keeps the unit recorded in
	the file.  On failure an empty library is returned after a single
	diagnostic.  References are kept by name until ENDLIB, where a
	name-to-cell map rewrites them into cell pointers, so a reference
	may precede the definition of its target.
*/
func ReadGDS(filename string, unit, tolerance float64) *Library {
	library := &Library{}

	fp, err := os.Open(filename)
	if err != nil {
		diag("Unable to open GDSII file for input.")
		return library
	}
	defer fp.Close()
	in := bufio.NewReader(fp)

	var cell *Cell
	var polygon *Polygon
	var path *FlexPath
	var reference *Reference
	var label *Label

	factor := 1.0
	width := 0.0
	var key int16

	for {
		record, err := gdsiiReadRecord(in)
		if err != nil {
			if err != io.EOF {
				diag("Unable to read GDSII record.")
			} else {
				diag("GDSII file missing library end record.")
			}
			break
		}

		switch record.rtype {
		case gdsHEADER, gdsBGNLIB, gdsENDSTR:
		case gdsLIBNAME:
			library.Name = record.str()
		case gdsUNITS:
			dbInUser := gdsiiRealToFloat(record.u64(0))
			dbInMeters := gdsiiRealToFloat(record.u64(1))
			if unit > 0 {
				factor = dbInMeters / unit
				library.Unit = unit
			} else {
				factor = dbInUser
				library.Unit = dbInMeters / dbInUser
			}
			library.Precision = dbInMeters
		case gdsENDLIB:
			byName := library.cellMap()
			for _, c := range library.Cells {
				for _, ref := range c.References {
					if ref.Type != RefName {
						continue
					}
					if target := byName[ref.Name]; target != nil {
						ref.Type = RefCell
						ref.Cell = target
						ref.Name = ""
					}
				}
			}
			return library
		case gdsBGNSTR:
			cell = &Cell{}
		case gdsSTRNAME:
			if cell != nil {
				cell.Name = record.str()
				library.Cells = append(library.Cells, cell)
			}
		case gdsBOUNDARY, gdsBOX:
			polygon = &Polygon{}
			if cell != nil {
				cell.Polygons = append(cell.Polygons, polygon)
			}
		case gdsPATH:
			path = &FlexPath{
				Elements:   []*PathElement{{}},
				GdsiiPath:  true,
				ScaleWidth: true,
				Tolerance:  tolerance,
			}
			if cell != nil {
				cell.FlexPaths = append(cell.FlexPaths, path)
			}
		case gdsSREF, gdsAREF:
			reference = &Reference{Magnification: 1}
			if cell != nil {
				cell.References = append(cell.References, reference)
			}
		case gdsTEXT:
			label = &Label{Magnification: 1}
			if cell != nil {
				cell.Labels = append(cell.Labels, label)
			}
		case gdsLAYER:
			if polygon != nil {
				polygon.Layer = uint32(record.i16(0))
			} else if path != nil {
				path.Elements[0].Layer = uint32(record.i16(0))
			} else if label != nil {
				label.Layer = uint32(record.i16(0))
			}
		case gdsDATATYPE, gdsBOXTYPE:
			if polygon != nil {
				polygon.Datatype = uint32(record.i16(0))
			} else if path != nil {
				path.Elements[0].Datatype = uint32(record.i16(0))
			}
		case gdsWIDTH:
			if record.i32(0) < 0 {
				width = factor * float64(-record.i32(0))
				if path != nil {
					path.ScaleWidth = false
				}
			} else {
				width = factor * float64(record.i32(0))
				if path != nil {
					path.ScaleWidth = true
				}
			}
		case gdsXY:
			coords := len(record.data) / 4
			switch {
			case polygon != nil:
				for i := 0; i+1 < coords; i += 2 {
					polygon.Points = append(polygon.Points, Vec2{
						factor * float64(record.i32(i)),
						factor * float64(record.i32(i+1)),
					})
				}
			case path != nil:
				points := []Vec2{}
				start := 0
				if len(path.Spine) == 0 {
					path.Spine = append(path.Spine, Vec2{
						factor * float64(record.i32(0)),
						factor * float64(record.i32(1)),
					})
					path.Elements[0].HalfWidthAndOffset = append(
						path.Elements[0].HalfWidthAndOffset, Vec2{width / 2, 0})
					start = 2
				}
				for i := start; i+1 < coords; i += 2 {
					points = append(points, Vec2{
						factor * float64(record.i32(i)),
						factor * float64(record.i32(i+1)),
					})
				}
				path.Segment(points, false)
			case reference != nil:
				origin := Vec2{
					factor * float64(record.i32(0)),
					factor * float64(record.i32(1)),
				}
				reference.Origin = origin
				if reference.Repetition.Type != RepNone && coords >= 6 {
					repetition := &reference.Repetition
					cols := float64(repetition.Columns)
					rows := float64(repetition.Rows)
					if reference.Rotation == 0 && !reference.XReflection {
						repetition.Spacing.X = (factor*float64(record.i32(2)) - origin.X) / cols
						repetition.Spacing.Y = (factor*float64(record.i32(5)) - origin.Y) / rows
					} else {
						repetition.Type = RepRegular
						repetition.V1.X = (factor*float64(record.i32(2)) - origin.X) / cols
						repetition.V1.Y = (factor*float64(record.i32(3)) - origin.Y) / cols
						repetition.V2.X = (factor*float64(record.i32(4)) - origin.X) / rows
						repetition.V2.Y = (factor*float64(record.i32(5)) - origin.Y) / rows
					}
				}
			case label != nil:
				label.Origin = Vec2{
					factor * float64(record.i32(0)),
					factor * float64(record.i32(1)),
				}
			}
		case gdsENDEL:
			if polygon != nil {
				// Polygons are closed in GDSII (first and last points are the same)
				if n := len(polygon.Points); n > 0 {
					polygon.Points = polygon.Points[:n-1]
				}
				polygon = nil
			}
			path = nil
			reference = nil
			label = nil
		case gdsSNAME:
			if reference != nil {
				reference.Name = record.str()
				reference.Type = RefName
			}
		case gdsCOLROW:
			if reference != nil {
				reference.Repetition.Type = RepRectangular
				reference.Repetition.Columns = uint64(record.i16(0))
				reference.Repetition.Rows = uint64(record.i16(1))
			}
		case gdsTEXTTYPE:
			if label != nil {
				label.Texttype = uint32(record.i16(0))
			}
		case gdsPRESENTATION:
			if label != nil {
				label.Anchor = Anchor(record.i16(0) & 0x000F)
			}
		case gdsSTRING:
			if label != nil {
				label.Text = record.str()
			}
		case gdsSTRANS:
			if reference != nil {
				reference.XReflection = uint16(record.i16(0))&0x8000 != 0
			} else if label != nil {
				label.XReflection = uint16(record.i16(0))&0x8000 != 0
			}
			if record.i16(0)&0x0006 != 0 {
				diag("Absolute magnification and rotation of references is not supported.")
			}
		case gdsMAG:
			if reference != nil {
				reference.Magnification = gdsiiRealToFloat(record.u64(0))
			} else if label != nil {
				label.Magnification = gdsiiRealToFloat(record.u64(0))
			}
		case gdsANGLE:
			if reference != nil {
				reference.Rotation = math.Pi / 180 * gdsiiRealToFloat(record.u64(0))
			} else if label != nil {
				label.Rotation = math.Pi / 180 * gdsiiRealToFloat(record.u64(0))
			}
		case gdsPATHTYPE:
			if path != nil {
				switch record.i16(0) {
				case 0:
					path.Elements[0].EndType = EndFlush
				case 1:
					path.Elements[0].EndType = EndRound
				case 2:
					path.Elements[0].EndType = EndHalfWidth
				default:
					path.Elements[0].EndType = EndExtended
				}
			}
		case gdsPROPATTR:
			key = record.i16(0)
		case gdsPROPVALUE:
			text := record.str()
			switch {
			case polygon != nil:
				polygon.Properties = setGDSProperty(polygon.Properties, uint16(key), text)
			case path != nil:
				path.Properties = setGDSProperty(path.Properties, uint16(key), text)
			case reference != nil:
				reference.Properties = setGDSProperty(reference.Properties, uint16(key), text)
			case label != nil:
				label.Properties = setGDSProperty(label.Properties, uint16(key), text)
			}
		case gdsBGNEXTN:
			if path != nil {
				path.Elements[0].EndExtensions.X = factor * float64(record.i32(0))
			}
		case gdsENDEXTN:
			if path != nil {
				path.Elements[0].EndExtensions.Y = factor * float64(record.i32(0))
			}
		default:
			if int(record.rtype) < len(gdsiiRecordNames) {
				diag("Record type %s (0x%02X) is not supported.", gdsiiRecordNames[record.rtype], record.rtype)
			} else {
				diag("Unknown record type 0x%02X.", record.rtype)
			}
		}
	}

	// ENDLIB never seen: nothing trustworthy to return.
	return &Library{}
}

/*
	GDSUnits probes the file header for the user unit and database
	precision without loading any cells.
*/
func GDSUnits(path string) (unit, precision float64, err error) {
	fp, err := os.Open(path)
	if err != nil {
		diag("Unable to open GDSII file for input.")
		return 0, 0, err
	}
	defer fp.Close()
	in := bufio.NewReader(fp)

	for {
		record, err := gdsiiReadRecord(in)
		if err != nil {
			break
		}
		if record.rtype == gdsUNITS {
			precision = gdsiiRealToFloat(record.u64(1))
			unit = precision / gdsiiRealToFloat(record.u64(0))
			return unit, precision, nil
		}
	}
	diag("GDSII file missing units definition.")
	return 0, 0, io.ErrUnexpectedEOF
}
