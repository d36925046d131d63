package ident

import "fmt"

// Compatibility is the result of a compatibility check. The empty value
// means compatible; any other value is the reason for incompatibility.
type Compatibility string

// Compatible is the affirmative compatibility result.
const Compatible Compatibility = ""

// Incompatible creates a negative compatibility result with a reason.
func Incompatible(format string, args ...any) Compatibility {
	return Compatibility(fmt.Sprintf(format, args...))
}

// IsOk reports whether this result denotes compatibility.
func (c Compatibility) IsOk() bool { return c == Compatible }

func (c Compatibility) String() string {
	if c.IsOk() {
		return "compatible"
	}
	return string(c)
}

// CompatRule names the strictness of compatibility required between a
// request and the build that satisfies it.
type CompatRule uint8

const (
	// CompatNone imposes no additional compatibility requirement.
	CompatNone CompatRule = iota
	// CompatAPI requires API-level compatibility.
	CompatAPI
	// CompatBinary requires binary-level compatibility.
	CompatBinary
)

func (r CompatRule) String() string {
	switch r {
	case CompatAPI:
		return "API"
	case CompatBinary:
		return "Binary"
	default:
		return "None"
	}
}

// Stricter returns the stricter of the two rules.
func (r CompatRule) Stricter(other CompatRule) CompatRule {
	if other > r {
		return other
	}
	return r
}
