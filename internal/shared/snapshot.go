package shared

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var ErrSnapshotNotObject = errors.New("snapshot must be a JSON object")

// Snapshot is a read-only copy of one area of tenant configuration as returned
// by a single probe call. The zero value is an empty snapshot.
type Snapshot struct {
	raw  []byte
	root gjson.Result
}

// ParseSnapshot copies raw so later mutation of the caller's buffer cannot leak
// into evaluations.
func ParseSnapshot(raw []byte) (Snapshot, error) {
	if !gjson.ValidBytes(raw) {
		return Snapshot{}, fmt.Errorf("parse snapshot: invalid JSON")
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return Snapshot{}, ErrSnapshotNotObject
	}
	owned := make([]byte, len(raw))
	copy(owned, raw)
	return Snapshot{raw: owned, root: gjson.ParseBytes(owned)}, nil
}

func NewSnapshot(values map[string]interface{}) (Snapshot, error) {
	if values == nil {
		values = map[string]interface{}{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return Snapshot{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	return ParseSnapshot(data)
}

// MustSnapshot is NewSnapshot for static fixtures; it panics on unmarshalable input.
func MustSnapshot(values map[string]interface{}) Snapshot {
	s, err := NewSnapshot(values)
	if err != nil {
		panic(err)
	}
	return s
}

// Raw returns a copy of the snapshot JSON.
func (s Snapshot) Raw() []byte {
	if len(s.raw) == 0 {
		return []byte("{}")
	}
	out := make([]byte, len(s.raw))
	copy(out, s.raw)
	return out
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	return s.Raw(), nil
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	parsed, err := ParseSnapshot(data)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Snapshot) Fingerprint() string {
	sum := sha256.Sum256(s.Raw())
	return hex.EncodeToString(sum[:])
}

// Get resolves a dotted path. Each segment is matched exactly first and then
// case-insensitively.
func (s Snapshot) Get(path string) gjson.Result {
	if len(s.raw) == 0 || path == "" {
		return gjson.Result{}
	}
	cur := s.root
	for _, segment := range strings.Split(path, ".") {
		next := cur.Get(escapePathSegment(segment))
		if !next.Exists() && cur.IsObject() {
			cur.ForEach(func(key, value gjson.Result) bool {
				if strings.EqualFold(key.String(), segment) {
					next = value
					return false
				}
				return true
			})
		}
		if !next.Exists() {
			return gjson.Result{}
		}
		cur = next
	}
	return cur
}

func (s Snapshot) Exists(path string) bool {
	return s.Get(path).Exists()
}

func (s Snapshot) String(path string) string {
	r := s.Get(path)
	if r.Type == gjson.Null {
		return ""
	}
	return r.String()
}

func (s Snapshot) Bool(path string) bool {
	return s.Get(path).Bool()
}

func (s Snapshot) Number(path string) float64 {
	return s.Get(path).Float()
}

// Strings returns the string elements of a list. A scalar string is treated as a
// one-element list; comma separated scalars are split.
func (s Snapshot) Strings(path string) []string {
	r := s.Get(path)
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	if r.IsArray() {
		items := r.Array()
		out := make([]string, 0, len(items))
		for _, item := range items {
			if v := strings.TrimSpace(item.String()); v != "" {
				out = append(out, v)
			}
		}
		return out
	}
	var out []string
	for _, part := range strings.Split(r.String(), ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Value returns the decoded Go value at path (map, slice, string, float64, bool or nil).
func (s Snapshot) Value(path string) interface{} {
	return s.Get(path).Value()
}

func (s Snapshot) IsEmpty() bool {
	if len(s.raw) == 0 {
		return true
	}
	empty := true
	s.root.ForEach(func(_, _ gjson.Result) bool {
		empty = false
		return false
	})
	return empty
}

func escapePathSegment(segment string) string {
	var b strings.Builder
	for _, r := range segment {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
