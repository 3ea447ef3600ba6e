// Package fieldpath addresses contact fields by dotted/indexed paths such
// as "phoneNumbers[0].value". Paths are parsed once into segments and
// applied over the serialized contact JSON, never evaluated as strings.
package fieldpath

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/perrindel/cardsync/internal/syncerr"
	"github.com/perrindel/cardsync/internal/types"
)

// Segment is one step of a parsed path: a named field or an array index.
type Segment struct {
	Field string
	Index int
	IsIdx bool
}

// Path is a parsed sequence of segments.
type Path []Segment

// Parse splits a dotted/indexed path string into segments. It accepts
// forms like "name.givenName" and "emails[2].value".
func Parse(raw string) (Path, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, syncerr.New(syncerr.Validation, "empty field path")
	}
	var path Path
	for _, part := range strings.Split(raw, ".") {
		if part == "" {
			return nil, syncerr.New(syncerr.Validation, "malformed field path %q", raw)
		}
		name := part
		var indexes []int
		for {
			open := strings.IndexByte(name, '[')
			if open < 0 {
				break
			}
			closing := strings.IndexByte(name[open:], ']')
			if closing < 0 {
				return nil, syncerr.New(syncerr.Validation, "unclosed index in field path %q", raw)
			}
			idxStr := name[open+1 : open+closing]
			idx, err := strconv.Atoi(idxStr)
			if err != nil || idx < 0 {
				return nil, syncerr.New(syncerr.Validation, "invalid index %q in field path %q", idxStr, raw)
			}
			indexes = append(indexes, idx)
			name = name[:open] + name[open+closing+1:]
		}
		if name != "" {
			path = append(path, Segment{Field: name})
		} else if len(indexes) == 0 {
			return nil, syncerr.New(syncerr.Validation, "malformed field path %q", raw)
		}
		for _, idx := range indexes {
			path = append(path, Segment{Index: idx, IsIdx: true})
		}
	}
	return path, nil
}

// String renders the path back to its dotted/indexed form.
func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p {
		if seg.IsIdx {
			fmt.Fprintf(&b, "[%d]", seg.Index)
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg.Field)
	}
	return b.String()
}

// gjsonPath converts segments to the dotted syntax gjson and sjson use,
// where array indexes are plain numeric path components.
func (p Path) gjsonPath() string {
	parts := make([]string, 0, len(p))
	for _, seg := range p {
		if seg.IsIdx {
			parts = append(parts, strconv.Itoa(seg.Index))
		} else {
			parts = append(parts, seg.Field)
		}
	}
	return strings.Join(parts, ".")
}

// Get extracts the string value at the path from contact data. Missing
// paths return the empty string with ok=false.
func Get(d types.ContactData, p Path) (string, bool) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", false
	}
	res := gjson.GetBytes(raw, p.gjsonPath())
	if !res.Exists() {
		return "", false
	}
	return res.String(), true
}

// Set writes a string value at the path and returns the updated contact
// data. Intermediate objects are created as needed.
func Set(d types.ContactData, p Path, value string) (types.ContactData, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return d, syncerr.Wrap(syncerr.Validation, err, "marshal contact data")
	}
	updated, err := sjson.SetBytes(raw, p.gjsonPath(), value)
	if err != nil {
		return d, syncerr.Wrap(syncerr.Validation, err, "set field path %q", p.String())
	}
	var out types.ContactData
	if err := json.Unmarshal(updated, &out); err != nil {
		return d, syncerr.Wrap(syncerr.Validation, err, "decode updated contact data")
	}
	return out, nil
}
