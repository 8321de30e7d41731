package diagnose

import (
	"fmt"
	"strings"

	"github.com/celeratec/cipp-console/internal/shared"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// listEdit rewrites one list inside a policy object and returns the whole
// updated object as a decoded JSON value, ready to send back as a fix payload.
// The original casing of keys is preserved.
func listEdit(snap shared.Snapshot, objectPath, listKey string, edit func([]string) []string) (interface{}, error) {
	obj := snap.Get(objectPath)
	raw := "{}"
	if obj.IsObject() {
		raw = obj.Raw
	}

	key := actualKey(obj, listKey)
	current := snap.Strings(objectPath + "." + listKey)
	updated := edit(append([]string(nil), current...))
	if updated == nil {
		updated = []string{}
	}

	out, err := sjson.Set(raw, escapeKey(key), updated)
	if err != nil {
		return nil, fmt.Errorf("edit %s.%s: %w", objectPath, key, err)
	}
	return gjson.Parse(out).Value(), nil
}

// rootListEdit is listEdit for lists at the top level of the snapshot.
func rootListEdit(snap shared.Snapshot, listKey string, edit func([]string) []string) (interface{}, error) {
	root := gjson.ParseBytes(snap.Raw())
	key := actualKey(root, listKey)
	updated := edit(append([]string(nil), snap.Strings(listKey)...))
	if updated == nil {
		updated = []string{}
	}
	out, err := sjson.SetBytes(snap.Raw(), escapeKey(key), updated)
	if err != nil {
		return nil, fmt.Errorf("edit %s: %w", key, err)
	}
	return gjson.GetBytes(out, escapeKey(key)).Value(), nil
}

func actualKey(obj gjson.Result, name string) string {
	key := name
	if !obj.IsObject() {
		return key
	}
	obj.ForEach(func(k, _ gjson.Result) bool {
		if strings.EqualFold(k.String(), name) {
			key = k.String()
			return false
		}
		return true
	})
	return key
}

func escapeKey(key string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return r.Replace(key)
}

func without(value string) func([]string) []string {
	return func(list []string) []string {
		out := list[:0]
		for _, item := range list {
			if !strings.EqualFold(item, value) {
				out = append(out, item)
			}
		}
		return out
	}
}

func with(value string) func([]string) []string {
	return func(list []string) []string {
		if containsFold(list, value) {
			return list
		}
		return append(list, value)
	}
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

// domainListed reports whether domain, or a wildcard covering it, is on list.
func domainListed(list []string, domain string) (string, bool) {
	for _, item := range list {
		entry := strings.ToLower(strings.TrimSpace(item))
		if entry == domain {
			return item, true
		}
		if strings.HasPrefix(entry, "*.") && strings.HasSuffix(domain, entry[1:]) {
			return item, true
		}
	}
	return "", false
}
