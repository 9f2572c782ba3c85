// Package directory describes lookups against the user directory.
package directory

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/donor-caging/internal/model"
)

// Field names a searchable or sortable directory attribute.
type Field string

const (
	FieldID        Field = "id"
	FieldEmail     Field = "email"
	FieldLastName  Field = "lastname"
	FieldFirstName Field = "firstname"
)

// columns maps fields to users table columns. Queries only ever reference
// columns from this map.
var columns = map[Field]string{
	FieldID:        "id",
	FieldEmail:     "email",
	FieldLastName:  "lastname",
	FieldFirstName: "firstname",
}

// searchable lists the fields a Query may filter on.
var searchable = map[Field]bool{
	FieldID:       true,
	FieldEmail:    true,
	FieldLastName: true,
}

// Column returns the users table column for f.
func (f Field) Column() (string, bool) {
	c, ok := columns[f]
	return c, ok
}

// SortTerm orders query results.
type SortTerm struct {
	Field Field `json:"field"`
	Desc  bool  `json:"desc,omitempty"`
}

// Query is an equality search on a single directory field.
type Query struct {
	Field Field      `json:"field"`
	Value any        `json:"value"`
	Sort  []SortTerm `json:"sort,omitempty"`
}

// ByID finds the entry with the given identifier.
func ByID(id int64) Query {
	return Query{Field: FieldID, Value: id}
}

// ByEmail finds entries whose email equals email exactly.
func ByEmail(email string) Query {
	return Query{Field: FieldEmail, Value: email}
}

// ByLastName finds entries whose last name equals name exactly.
func ByLastName(name string) Query {
	return Query{Field: FieldLastName, Value: name}
}

// Validate rejects fields that are not searchable or sortable.
func (q Query) Validate() error {
	if !searchable[q.Field] {
		return eris.Errorf("directory: field %q is not searchable", q.Field)
	}
	if q.Value == nil {
		return eris.Errorf("directory: no value for %q", q.Field)
	}
	for _, s := range q.Sort {
		if _, ok := columns[s.Field]; !ok {
			return eris.Errorf("directory: field %q is not sortable", s.Field)
		}
	}
	return nil
}

// OrderBy renders the sort terms as an ORDER BY clause. Results are always
// ordered, falling back to id ascending.
func (q Query) OrderBy() string {
	if len(q.Sort) == 0 {
		return "ORDER BY id"
	}
	parts := make([]string, 0, len(q.Sort))
	for _, s := range q.Sort {
		col, ok := columns[s.Field]
		if !ok {
			continue
		}
		if s.Desc {
			col += " DESC"
		}
		parts = append(parts, col)
	}
	if len(parts) == 0 {
		return "ORDER BY id"
	}
	return "ORDER BY " + strings.Join(parts, ", ")
}

// Finder answers directory queries.
type Finder interface {
	Find(ctx context.Context, q Query) ([]model.DirectoryEntry, error)
}
