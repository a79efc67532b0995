package prefs

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Bundle is a backup file: key to stored text.
type Bundle map[string]string

// Export collects every exportable key that is currently set, including the
// per-stop monitored sets.
func (s *Store) Export() Bundle {
	b := Bundle{}
	for _, k := range exportKeys {
		if raw, ok := s.readRaw(k); ok {
			b[k] = raw
		}
	}
	for _, prefix := range dynamicExportPrefixes {
		for _, k := range s.keysWithPrefix(prefix) {
			if raw, ok := s.readRaw(k); ok {
				b[k] = raw
			}
		}
	}
	return b
}

// Import merges b into the store and returns how many keys were written.
// A bundle with any key outside the export set is rejected before anything
// is written. Values that are not JSON are stored as JSON strings, which is
// how older backups carried timeFormat and dark-mode.
func (s *Store) Import(b Bundle) (int, error) {
	var invalid []string
	for k := range b {
		if !IsExportable(k) {
			invalid = append(invalid, k)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return 0, fmt.Errorf("invalid keys in file: %s", strings.Join(invalid, ", "))
	}

	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := b[k]
		if !json.Valid([]byte(v)) {
			encoded, _ := json.Marshal(v)
			v = string(encoded)
		}
		s.writeRaw(k, v)
	}
	return len(keys), nil
}

// ParseBundle decodes a backup file. The top level must be a JSON object of
// string values.
func ParseBundle(data []byte) (Bundle, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return nil, fmt.Errorf("invalid data format")
	}
	b := make(Bundle, len(raw))
	for k, v := range raw {
		var str string
		if err := json.Unmarshal(v, &str); err == nil {
			b[k] = str
			continue
		}
		b[k] = string(v)
	}
	return b, nil
}
