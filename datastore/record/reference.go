package record

import (
	"errors"
	"fmt"
)

// ErrEmptyReference indicates a reference with no path components
var ErrEmptyReference = errors.New("reference has no path components")

// ReferenceElement is one component of an externally supplied
// hierarchical reference: a kind plus either a positive id or a name
type ReferenceElement struct {
	Kind string
	ID   int64
	Name string
}

// ReferenceToKey converts a hierarchical reference to a Key by walking
// its components root to leaf, building each successive key from its
// parent. A component with a positive id becomes an id key, otherwise
// it becomes a name key.
func ReferenceToKey(elements []ReferenceElement) (*Key, error) {
	if len(elements) == 0 {
		return nil, fmt.Errorf("%w: cannot convert to key", ErrEmptyReference)
	}

	var key *Key

	for _, e := range elements {
		switch {
		case key == nil && e.ID > 0:
			key = NewIDKey(e.Kind, e.ID)
		case key == nil:
			key = NewKey(e.Kind, e.Name)
		case e.ID > 0:
			key = NewChildIDKey(key, e.Kind, e.ID)
		default:
			key = NewChildKey(key, e.Kind, e.Name)
		}
	}

	return key, nil
}
