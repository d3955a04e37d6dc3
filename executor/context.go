package executor

import (
	"regexp"
	"sync"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

// Values is the per-task key-value store. Extraction steps write into it
// and later steps reference entries with {{key}} placeholders, so a task
// can type text it scraped two steps earlier. Guarded for parallel
// sub-task sharing.
type Values struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewValues creates a store seeded with the given entries.
func NewValues(seed map[string]string) *Values {
	entries := make(map[string]string, len(seed))
	for k, v := range seed {
		entries[k] = v
	}
	return &Values{entries: entries}
}

// Set stores a value.
func (v *Values) Set(key, value string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[key] = value
}

// Get looks up a value.
func (v *Values) Get(key string) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	val, ok := v.entries[key]
	return val, ok
}

// Expand replaces {{key}} placeholders with stored values. Unknown keys
// are left verbatim so typos surface in the page instead of vanishing.
func (v *Values) Expand(s string) string {
	if v == nil {
		return s
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		if val, ok := v.entries[key]; ok {
			return val
		}
		return m
	})
}

// Snapshot copies the current entries, for result reporting.
func (v *Values) Snapshot() map[string]string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]string, len(v.entries))
	for k, val := range v.entries {
		out[k] = val
	}
	return out
}
