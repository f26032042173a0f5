// Package phrase selects the filler speech the proxy streams while the
// upstream model is still thinking. Fillers come in two flavors: an initial
// buffer phrase spoken right away, and keep-alive phrases spoken whenever the
// stream has been quiet too long. Every phrase ends with a trailing space so
// the downstream TTS keeps clean word boundaries when chunks concatenate.
package phrase

import (
	"math/rand/v2"
	"strings"
	"sync"
)

// Category groups the fillers for one topic of user intent. Keywords are
// lowercase substrings; a category with no keywords is the fallback.
type Category struct {
	Name      string
	Keywords  []string
	Initial   []string
	KeepAlive []string
}

// KeepAliveAt returns the keep-alive phrase for the n-th firing of a turn.
// Deterministic round-robin, so a long tool call cycles through the set.
func (c *Category) KeepAliveAt(n int) string {
	if len(c.KeepAlive) == 0 {
		return ""
	}
	return c.KeepAlive[n%len(c.KeepAlive)]
}

// Match returns the first category with a keyword hit in text, in catalog
// order, falling back to the keyword-less catch-all.
func Match(text string) *Category {
	lower := strings.ToLower(text)
	for i := range catalog {
		c := &catalog[i]
		for _, kw := range c.Keywords {
			if strings.Contains(lower, kw) {
				return c
			}
		}
	}
	return fallback()
}

func fallback() *Category {
	return &catalog[len(catalog)-1]
}

// Picker chooses initial phrases at random while remembering the last pick,
// so two consecutive turns never open with the same line. The memory is
// shared across all sessions on purpose: one TTS voice serves the process.
type Picker struct {
	mu   sync.Mutex
	last string
}

// NewPicker returns a Picker with no memory of prior picks.
func NewPicker() *Picker {
	return &Picker{}
}

// Initial returns a random initial phrase of c, never repeating the phrase
// returned by the previous call. Single-phrase categories may repeat.
func (p *Picker) Initial(c *Category) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := c.Initial
	if len(candidates) > 1 && p.last != "" {
		trimmed := make([]string, 0, len(candidates))
		for _, ph := range candidates {
			if ph != p.last {
				trimmed = append(trimmed, ph)
			}
		}
		if len(trimmed) > 0 {
			candidates = trimmed
		}
	}
	pick := candidates[rand.IntN(len(candidates))]
	p.last = pick
	return pick
}
