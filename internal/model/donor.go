// Package model defines the donor, directory, and gift records shared by the
// caging engine, the stores, and the job worker.
package model

import (
	"encoding/json"
	"strings"
)

// Value is an optional donor attribute. The zero Value is absent, and an
// absent Value never matches anything, including another absent Value.
type Value struct {
	v  string
	ok bool
}

// Present returns a Value holding v. Blank input yields an absent Value.
func Present(v string) Value {
	return ValueOf(v)
}

// ValueOf returns an absent Value when v is blank or equals one of the
// sentinels, and a present Value otherwise.
func ValueOf(v string, sentinels ...string) Value {
	v = strings.TrimSpace(v)
	if v == "" {
		return Value{}
	}
	for _, s := range sentinels {
		if v == s {
			return Value{}
		}
	}
	return Value{v: v, ok: true}
}

// Get returns the held string and whether it is present.
func (f Value) Get() (string, bool) {
	return f.v, f.ok
}

// IsPresent reports whether f holds a value.
func (f Value) IsPresent() bool {
	return f.ok
}

// String returns the held value, or "" when absent.
func (f Value) String() string {
	return f.v
}

// Equal reports whether f is present and equal to other.
func (f Value) Equal(other string) bool {
	return f.ok && f.v == other
}

// EqualFold is the case-insensitive form of Equal.
func (f Value) EqualFold(other string) bool {
	return f.ok && strings.EqualFold(f.v, other)
}

// MarshalJSON encodes an absent Value as null.
func (f Value) MarshalJSON() ([]byte, error) {
	if !f.ok {
		return []byte("null"), nil
	}
	return json.Marshal(f.v)
}

// UnmarshalJSON decodes null and "" as absent.
func (f *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = Value{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = ValueOf(s)
	return nil
}

// Donor is the flattened, per-request view of a submission used for
// categorization. It is never persisted as-is.
type Donor struct {
	UserID    *int64 `json:"id,omitempty"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Zip       Value  `json:"zip"`
	Address   Value  `json:"address"`
	Email     Value  `json:"email"`
	Phone     Value  `json:"phone"`
}

// HasUserID reports whether the donor carries a known directory identifier.
func (d Donor) HasUserID() bool {
	return d.UserID != nil && *d.UserID > 0
}
