package query

import "strings"

// Direction is the ordering applied to a sort field.
type Direction string

const (
	Ascending  Direction = "ASC"
	Descending Direction = "DESC"
)

// SortSpec is a validated (field, direction) pair. The zero value is not usable;
// construct one with NewSortSpec or ParseSortSpec.
type SortSpec struct {
	field     string
	direction Direction
}

// NewSortSpec validates direction, matched case-insensitively after trimming, as ASC or
// DESC. field is kept exactly as given; callers check it against their own columns.
func NewSortSpec(field, direction string) (SortSpec, error) {
	dir := Direction(strings.ToUpper(strings.TrimSpace(direction)))
	if dir != Ascending && dir != Descending {
		return SortSpec{}, invalid("sort_direction", "must be ASC or DESC, got %q", direction)
	}

	return SortSpec{field: field, direction: dir}, nil
}

// ParseSortSpec builds a SortSpec from request parameters. An empty field selects
// defaultField and an empty direction selects ASC; anything else is validated as in
// NewSortSpec.
func ParseSortSpec(field, direction, defaultField string) (SortSpec, error) {
	if strings.TrimSpace(field) == "" {
		field = defaultField
	}
	if strings.TrimSpace(direction) == "" {
		direction = string(Ascending)
	}
	return NewSortSpec(field, direction)
}

// Field returns the field name as supplied by the caller.
func (s SortSpec) Field() string { return s.field }

// Direction returns ASC or DESC.
func (s SortSpec) Direction() Direction { return s.direction }

// IsZero reports whether s was not produced by a constructor.
func (s SortSpec) IsZero() bool { return s.direction == "" }

func (s SortSpec) String() string {
	return s.field + " " + string(s.direction)
}
