package ident

import (
	"encoding/json"
)

// The types with opaque internals marshal to their canonical string
// forms so that specs and recipes round-trip through repositories.

func (v Version) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

func (v *Version) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*v = Version{}
		return nil
	}
	parsed, err := ParseVersion(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (b Build) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

func (b *Build) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseBuild(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

func (i Ident) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

func (i *Ident) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseIdent(s)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

func (f VersionFilter) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *VersionFilter) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseVersionFilter(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

func (s ComponentSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

func (s *ComponentSet) UnmarshalJSON(data []byte) error {
	var names []Component
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*s = NewComponentSet(names...)
	return nil
}
