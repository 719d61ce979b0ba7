package lib

type PropertyType uint8

const (
	PropReal PropertyType = iota
	PropInteger
	PropUnsignedInteger
	PropString
)

/*
	PropertyValue is one entry of a property's value list.  While an
	OASIS stream is being read, a value referring to the property
	string table keeps the table index in UnsignedInteger until the
	resolution pass at END rewrites it into Bytes.
*/
type PropertyValue struct {
	Type            PropertyType
	Real            float64
	Integer         int64
	UnsignedInteger uint64
	Bytes           []byte
	Next            *PropertyValue
}

// Property lists are singly linked; equal-named properties may repeat.
type Property struct {
	Name  string
	Value *PropertyValue
	Next  *Property
}

/*
	GDSII has no named properties.  Attribute/value pairs ride a
	property with this name whose value list is the unsigned attribute
	number followed by the string value.
*/
const gdsPropertyName = "S_GDS_PROPERTY"

func setGDSProperty(head *Property, attr uint16, text string) *Property {
	value := &PropertyValue{Type: PropUnsignedInteger, UnsignedInteger: uint64(attr)}
	value.Next = &PropertyValue{Type: PropString, Bytes: []byte(text)}
	return &Property{Name: gdsPropertyName, Value: value, Next: head}
}

func propertyValuesCopy(src *PropertyValue) *PropertyValue {
	var head *PropertyValue
	next := &head
	for ; src != nil; src = src.Next {
		value := &PropertyValue{
			Type:            src.Type,
			Real:            src.Real,
			Integer:         src.Integer,
			UnsignedInteger: src.UnsignedInteger,
			Bytes:           append([]byte(nil), src.Bytes...),
		}
		*next = value
		next = &value.Next
	}
	return head
}

func propertiesCopy(src *Property) *Property {
	var head *Property
	next := &head
	for ; src != nil; src = src.Next {
		property := &Property{Name: src.Name, Value: propertyValuesCopy(src.Value)}
		*next = property
		next = &property.Next
	}
	return head
}
