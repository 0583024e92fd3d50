package serializer

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedValue is wrapped by a SerializationError when a value has no
	// structural representation (funcs, channels, arbitrary structs, ...).
	ErrUnsupportedValue = errors.New("value is not representable as XML")

	// ErrNotMapping is returned when the top-level value is not a mapping.
	ErrNotMapping = errors.New("top-level value must be a mapping")

	// ErrPartialWrapperTags is returned when only one of the collection/item tags is supplied.
	ErrPartialWrapperTags = errors.New("collection and item tags must be supplied together")

	// ErrInvalidTagName is returned when a supplied wrapper tag is not a valid XML name.
	ErrInvalidTagName = errors.New("invalid XML element name")
)

// SerializationError reports a structural value that could not be rendered.
// Path locates the offending value, e.g. "data[2].population".
type SerializationError struct {
	Path string
	Err  error
}

func (e *SerializationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("xml serialization: %v", e.Err)
	}
	return fmt.Sprintf("xml serialization at %s: %v", e.Path, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}
