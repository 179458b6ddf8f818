// Package secrets detects and masks credential values so that provider
// API keys never reach logs or exported traces.
package secrets

import (
	"strings"
	"sync"
)

const mask = "***"

// Masker holds a set of known credential values and replaces them with
// a mask wherever they appear. Values are registered explicitly or
// harvested from the environment by key suffix.
type Masker struct {
	mu       sync.RWMutex
	suffixes []string
	values   map[string]struct{}
}

// NewMasker creates a masker with the default key suffixes used to
// recognize credentials in environment variables.
func NewMasker() *Masker {
	return &Masker{
		suffixes: []string{
			"_API_KEY",
			"_TOKEN",
			"_SECRET",
			"_PASSWORD",
			"_KEY",
			"_CREDENTIALS",
		},
		values: make(map[string]struct{}),
	}
}

// FromEnviron creates a masker seeded with the values of every
// credential-looking variable in the environment, in the "KEY=value"
// form returned by os.Environ.
func FromEnviron(environ []string) *Masker {
	m := NewMasker()
	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || value == "" {
			continue
		}
		if m.isCredentialKey(key) {
			m.Add(value)
		}
	}
	return m
}

// Add registers a value to mask. Empty and very short values are
// ignored; masking them would mangle unrelated text.
func (m *Masker) Add(value string) {
	if len(value) < 4 {
		return
	}
	m.mu.Lock()
	m.values[value] = struct{}{}
	m.mu.Unlock()
}

// Mask replaces every registered credential in s.
func (m *Masker) Mask(s string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for value := range m.values {
		if strings.Contains(s, value) {
			s = strings.ReplaceAll(s, value, mask)
		}
	}
	return s
}

// Len returns the number of registered values.
func (m *Masker) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

func (m *Masker) isCredentialKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, suffix := range m.suffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}
