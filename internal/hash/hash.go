package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/perrindel/cardsync/internal/syncerr"
	"github.com/perrindel/cardsync/internal/types"
)

// Contact returns the lowercase hex SHA-256 of the canonical JSON form of
// contact data. The canonical form has keys in ascending order and no
// insignificant whitespace, so the hash is stable across array reordering,
// capitalization, whitespace variance, and JSON key order.
func Contact(d types.ContactData) (string, error) {
	canonical, err := canonicalJSON(Normalize(d))
	if err != nil {
		return "", syncerr.Wrap(syncerr.IO, err, "hash contact data")
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Row hashes a CSV row: keys sorted ascending, values trimmed, empty
// values dropped, serialized like the contact canonical form.
func Row(row map[string]string) string {
	keys := make([]string, 0, len(row))
	trimmed := make(map[string]string, len(row))
	for k, v := range row {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		trimmed[k] = v
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(trimmed[k])
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// canonicalJSON serializes normalized contact data with keys in ascending
// order. Marshaling through a generic map lets encoding/json sort keys at
// every nesting level; absent fields were already dropped by omitempty.
func canonicalJSON(d types.ContactData) ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal contact data: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("round-trip contact data: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical form: %w", err)
	}
	return out, nil
}
