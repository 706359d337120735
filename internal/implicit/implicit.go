// Package implicit scans event metadata for mentions of entities the
// graph already knows about, producing supplemental related_to context
// refs alongside an event's declared context. It never substitutes for
// declared context, only adds to it.
package implicit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/coregx/ahocorasick"
	"github.com/orsinium-labs/stopwords"

	"github.com/homardcloud/cronos/internal/model"
)

// maxScanBytes bounds how much metadata text a single event contributes
// to the scan, across all of its string-typed values combined.
const maxScanBytes = 4096

type candidate struct {
	name string
	kind model.EntityKind
}

// Scanner matches known entity names against free text. The zero value
// is not usable; construct with New. A Scanner with no entities loaded
// is a no-op, not an error.
type Scanner struct {
	mu       sync.RWMutex
	ac       *ahocorasick.Automaton
	byVector map[int][]candidate
	stop     *stopwords.Stopwords
}

// New returns an empty scanner. Call Refresh to load entity names
// before Scan can find anything.
func New() *Scanner {
	return &Scanner{stop: stopwords.MustGet("en")}
}

// Refresh rebuilds the matcher from the current entity set. Entity
// names that are empty, whitespace-only, or a common English stopword
// are excluded, since those would otherwise match almost any text.
func (s *Scanner) Refresh(entities []*model.Entity) error {
	patterns := make([]string, 0, len(entities))
	patternIndex := make(map[string]int, len(entities))
	byVector := make(map[int][]candidate)

	for _, e := range entities {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if s.stop.Contains(key) {
			continue
		}
		idx, ok := patternIndex[key]
		if !ok {
			idx = len(patterns)
			patterns = append(patterns, key)
			patternIndex[key] = idx
		}
		byVector[idx] = appendUniqueCandidate(byVector[idx], candidate{name: e.Name, kind: e.Kind})
	}

	if len(patterns) == 0 {
		s.mu.Lock()
		s.ac = nil
		s.byVector = nil
		s.mu.Unlock()
		return nil
	}

	automaton, err := ahocorasick.NewBuilder().
		AddStrings(patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		return fmt.Errorf("implicit: build automaton: %w", err)
	}

	s.mu.Lock()
	s.ac = automaton
	s.byVector = byVector
	s.mu.Unlock()
	return nil
}

func appendUniqueCandidate(cs []candidate, c candidate) []candidate {
	for _, existing := range cs {
		if existing == c {
			return cs
		}
	}
	return append(cs, c)
}

// Scan inspects an event's string-typed metadata values for known
// entity mentions and returns them as related_to context refs. Returns
// nil when the dictionary has no entries or nothing matched.
func (s *Scanner) Scan(metadata model.Attributes) []model.EntityRef {
	s.mu.RLock()
	ac := s.ac
	byVector := s.byVector
	s.mu.RUnlock()
	if ac == nil {
		return nil
	}

	text := collectScanText(metadata)
	if text == "" {
		return nil
	}

	var refs []model.EntityRef
	seen := make(map[string]bool)
	for _, m := range ac.FindAllOverlapping([]byte(strings.ToLower(text))) {
		for _, c := range byVector[m.PatternID] {
			key := c.kind.String() + "\x00" + c.name
			if seen[key] {
				continue
			}
			seen[key] = true
			refs = append(refs, model.EntityRef{
				Kind:       c.kind,
				Identity:   c.name,
				Attributes: model.Attributes{},
			})
		}
	}
	return refs
}

// collectScanText concatenates every string-typed metadata value, in a
// deterministic (sorted by key) order, capped at maxScanBytes total.
func collectScanText(metadata model.Attributes) string {
	if len(metadata) == 0 {
		return ""
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		var v string
		if err := json.Unmarshal(metadata[k], &v); err != nil {
			continue
		}
		if v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(v)
		if b.Len() >= maxScanBytes {
			break
		}
	}
	out := b.String()
	if len(out) > maxScanBytes {
		out = out[:maxScanBytes]
	}
	return out
}
