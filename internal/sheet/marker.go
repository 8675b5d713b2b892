package sheet

// MarkerKind discriminates Marker values.
type MarkerKind int

const (
	MarkerAbsent MarkerKind = iota
	MarkerPresent
	MarkerErrored
)

func (k MarkerKind) String() string {
	switch k {
	case MarkerPresent:
		return "present"
	case MarkerErrored:
		return "error"
	default:
		return "absent"
	}
}

// Marker is the normalized content of a status or artifact cell.
type Marker struct {
	kind   MarkerKind
	ref    string
	reason string
}

// Present marks a cell holding an artifact reference or a done marker.
func Present(ref string) Marker { return Marker{kind: MarkerPresent, ref: ref} }

// Absent marks an empty or negative cell.
func Absent() Marker { return Marker{kind: MarkerAbsent} }

// Errored marks a cell recording a previous failure.
func Errored(reason string) Marker { return Marker{kind: MarkerErrored, reason: reason} }

func (m Marker) Kind() MarkerKind { return m.kind }
func (m Marker) IsPresent() bool  { return m.kind == MarkerPresent }
func (m Marker) IsAbsent() bool   { return m.kind == MarkerAbsent }
func (m Marker) IsErrored() bool  { return m.kind == MarkerErrored }

// Ref returns the reference of a Present marker.
func (m Marker) Ref() string { return m.ref }

// Reason returns the failure text of an Errored marker.
func (m Marker) Reason() string { return m.reason }

func (m Marker) String() string {
	switch m.kind {
	case MarkerPresent:
		return "present(" + m.ref + ")"
	case MarkerErrored:
		return "error(" + m.reason + ")"
	default:
		return "absent"
	}
}
