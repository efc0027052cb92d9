package secrets

import (
	"strings"
	"sync"
)

// Mask is the fixed replacement written over secret values in captured output.
const Mask = "******"

// Redactor scrubs resolved secret values from text. Values accumulate for the
// lifetime of a run: once a credential has been resolved anywhere in the run,
// it is masked in every subsequently captured output, not only in the stage
// that requested it.
type Redactor struct {
	mu     sync.RWMutex
	values []string
}

// NewRedactor creates an empty redactor.
func NewRedactor() *Redactor { return &Redactor{} }

// Add registers a secret value for masking. Empty and single-character values
// are ignored; masking them would mangle ordinary output without protecting
// anything.
func (r *Redactor) Add(value string) {
	if len(value) < 2 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.values {
		if v == value {
			return
		}
	}
	r.values = append(r.values, value)
}

// Redact returns s with every registered secret value replaced by Mask.
func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.values) == 0 {
		return s
	}
	pairs := make([]string, 0, len(r.values)*2)
	for _, v := range r.values {
		pairs = append(pairs, v, Mask)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// Len reports how many distinct values are registered.
func (r *Redactor) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.values)
}
