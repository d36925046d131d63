package solve

import (
	"fmt"
	"strings"

	"github.com/pakfs/pakfs/ident"
)

// NoRequestForError is returned when state is queried for a package that
// was never requested.
type NoRequestForError struct {
	Name ident.PkgName
}

func (err NoRequestForError) Error() string {
	return fmt.Sprintf("no request exists for '%s'", err.Name)
}

// PackageNotResolvedError is returned when state is queried for the
// resolve of a package that has not been resolved.
type PackageNotResolvedError struct {
	Name ident.PkgName
}

func (err PackageNotResolvedError) Error() string {
	return fmt.Sprintf("package '%s' is not resolved", err.Name)
}

// OutOfOptionsError is raised by a solve step when the candidate
// iterator is exhausted without an acceptable build. It is the signal to
// emit a StepBack.
type OutOfOptionsError struct {
	Request *ident.PkgRequest
	Notes   []Note
}

func (err *OutOfOptionsError) Error() string {
	return fmt.Sprintf("could not satisfy '%s'", err.Request)
}

// FailedToResolveError is the terminal failure of a solve: every branch
// of the search was exhausted. It carries the full decision graph so the
// failure can be explained.
type FailedToResolveError struct {
	Graph *Graph
}

func (err *FailedToResolveError) Error() string {
	reasons := err.Graph.FailureNotes()
	if len(reasons) == 0 {
		return "failed to resolve"
	}
	limit := len(reasons)
	if limit > 5 {
		limit = 5
	}
	return "failed to resolve: " + strings.Join(reasons[:limit], "; ")
}

// InterruptedError is raised when a solve is cancelled or exceeds its
// deadline. It carries the partial decision graph.
type InterruptedError struct {
	Message string
	Graph   *Graph
}

func (err *InterruptedError) Error() string {
	return fmt.Sprintf("solver interrupted: %s", err.Message)
}

// ConflictingRequestError is returned when two requests cannot be merged.
type ConflictingRequestError struct {
	Detail string
}

func (err ConflictingRequestError) Error() string {
	return fmt.Sprintf("conflicting requirement: %s", err.Detail)
}
