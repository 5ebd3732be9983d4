// Package capability models the comment capabilities of a public share link.
package capability

import "errors"

type Capability string

const (
	ReadComments  Capability = "readComments"
	WriteComments Capability = "writeComments"
)

// ErrWriteWithoutRead rejects a configuration that could write comments it
// is not allowed to read back.
var ErrWriteWithoutRead = errors.New("writeComments requires readComments")

// Set is the full capability configuration of a share link.
type Set struct {
	ReadComments  bool
	WriteComments bool
}

// Validate checks the configuration invariant: write implies read.
func (s Set) Validate() error {
	if s.WriteComments && !s.ReadComments {
		return ErrWriteWithoutRead
	}
	return nil
}

// Allows reports whether the set grants the capability.
func (s Set) Allows(c Capability) bool {
	switch c {
	case ReadComments:
		return s.ReadComments
	case WriteComments:
		return s.WriteComments
	default:
		return false
	}
}

// Apply merges a partial update into the current set. Turning readComments
// off force-disables writeComments; explicitly requesting writeComments
// without readComments fails validation.
func (s Set) Apply(readComments, writeComments *bool) (Set, error) {
	next := s
	if readComments != nil {
		next.ReadComments = *readComments
	}
	if writeComments != nil {
		next.WriteComments = *writeComments
		if err := next.Validate(); err != nil {
			return Set{}, err
		}
	}
	if !next.ReadComments {
		next.WriteComments = false
	}
	return next, nil
}
