// Package pakfs defines the core interfaces of the pakfs package and
// environment manager: a content-addressed object store with named tags
// and concurrent garbage collection, package repositories consumed by the
// dependency solver, and the payload access used by the virtual
// filesystem router.
//
// The subpackages provide the implementations: storage for the object
// store and repositories, solve for the backtracking dependency solver,
// and vfs for the per-process filesystem router.
package pakfs
