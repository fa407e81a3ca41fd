package zeroconf

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/exp/maps"
)

// maxTXTString is the maximum length of a single TXT character string.
const maxTXTString = 255

// EncodeTXT converts record properties to TXT strings in the "key=value"
// form, sorted by key. Keys are lowercased, two keys differing only by case
// are rejected.
func EncodeTXT(props map[string]string) ([]string, error) {
	lower := make(map[string]string, len(props))
	for key, value := range props {
		if len(key) == 0 || strings.Contains(key, "=") {
			return nil, fmt.Errorf("invalid TXT key: %q", key)
		}

		name := strings.ToLower(key)
		if _, ok := lower[name]; ok {
			return nil, fmt.Errorf("duplicate TXT key: %s", name)
		}

		lower[name] = value
	}

	keys := maps.Keys(lower)
	slices.Sort(keys)

	txt := make([]string, 0, len(keys))
	for _, key := range keys {
		entry := key + "=" + lower[key]
		if len(entry) > maxTXTString {
			return nil, fmt.Errorf("TXT entry for %s is too long: %d bytes", key, len(entry))
		}

		txt = append(txt, entry)
	}

	return txt, nil
}

// DecodeTXT converts TXT strings to record properties. Keys are matched
// case-insensitively and stored lowercase, only the first occurrence of a key
// is kept. A key without "=" has an empty value.
func DecodeTXT(txt []string) map[string]string {
	props := make(map[string]string, len(txt))
	for _, entry := range txt {
		key, value, _ := strings.Cut(entry, "=")
		if len(key) == 0 {
			continue
		}

		key = strings.ToLower(key)
		if _, ok := props[key]; ok {
			continue
		}

		props[key] = value
	}

	return props
}
