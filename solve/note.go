package solve

import (
	"fmt"

	"github.com/pakfs/pakfs/ident"
)

// Note is a diagnostic attached to a decision, recording why candidates
// were passed over.
type Note interface {
	fmt.Stringer
}

// SkipPackageNote records that a candidate build or version was skipped
// and why.
type SkipPackageNote struct {
	Pkg    ident.Ident
	Reason string
}

// NewSkipPackageNote creates a note from a compatibility verdict.
func NewSkipPackageNote(pkg ident.Ident, compat ident.Compatibility) SkipPackageNote {
	return SkipPackageNote{Pkg: pkg, Reason: string(compat)}
}

// NewSkipPackageNoteMsg creates a note with a freeform reason.
func NewSkipPackageNoteMsg(pkg ident.Ident, reason string) SkipPackageNote {
	return SkipPackageNote{Pkg: pkg, Reason: reason}
}

func (n SkipPackageNote) String() string {
	return fmt.Sprintf("TRY %s - %s", n.Pkg, n.Reason)
}
