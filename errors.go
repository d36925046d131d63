package pakfs

import (
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"
)

// ErrObjectUnknown is returned when a requested object digest is not
// present in the store.
type ErrObjectUnknown struct {
	Digest digest.Digest
}

func (err ErrObjectUnknown) Error() string {
	return fmt.Sprintf("unknown object: %s", err.Digest)
}

// ErrPayloadUnknown is returned when a blob payload is not present in the
// store even though its digest is referenced.
type ErrPayloadUnknown struct {
	Digest digest.Digest
}

func (err ErrPayloadUnknown) Error() string {
	return fmt.Sprintf("unknown payload: %s", err.Digest)
}

// ErrTagUnknown is returned when the named tag does not exist.
type ErrTagUnknown struct {
	Name string
}

func (err ErrTagUnknown) Error() string {
	return fmt.Sprintf("unknown tag: %s", err.Name)
}

// ErrPackageNotFound is returned when a package, version or build is not
// present in a repository. The solver recovers from this error when
// iterating candidates; it is distinguished from I/O failures for that
// reason.
type ErrPackageNotFound struct {
	Ident string
}

func (err ErrPackageNotFound) Error() string {
	return fmt.Sprintf("package not found: %s", err.Ident)
}

// ErrRuntimeExists is returned when a mount is requested for a root pid
// that already has one.
type ErrRuntimeExists struct {
	RootPID uint32
}

func (err ErrRuntimeExists) Error() string {
	return fmt.Sprintf("a runtime already exists for pid %d", err.RootPID)
}

// ErrCorruption is returned when the store's contents are internally
// inconsistent: an object references a missing child, or content does not
// match its digest. Corruption is surfaced, never auto-repaired.
type ErrCorruption struct {
	Digest digest.Digest
	Reason string
}

func (err ErrCorruption) Error() string {
	return fmt.Sprintf("corrupt storage at %s: %s", err.Digest, err.Reason)
}

// ErrInvalidReference is returned when a reference string cannot be
// resolved to a tag or digest.
type ErrInvalidReference struct {
	Ref string
}

func (err ErrInvalidReference) Error() string {
	return fmt.Sprintf("invalid reference: %q", err.Ref)
}

// IsNotFound reports whether err denotes a missing entity (object, payload,
// tag or package) rather than an I/O failure.
func IsNotFound(err error) bool {
	return errors.As(err, &ErrObjectUnknown{}) ||
		errors.As(err, &ErrPayloadUnknown{}) ||
		errors.As(err, &ErrTagUnknown{}) ||
		errors.As(err, &ErrPackageNotFound{})
}
