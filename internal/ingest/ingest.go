// Package ingest implements the dedup stage events pass through before
// reaching the linker: events reporting the same (source, identity)
// within a configured window are dropped as duplicates.
package ingest

import (
	"github.com/rs/zerolog/log"

	"github.com/homardcloud/cronos/internal/model"
)

type dedupKey struct {
	source   string
	identity string
}

// Pipeline deduplicates incoming events against a short rolling window.
// Not safe for concurrent use; the engine serializes access.
type Pipeline struct {
	cache         map[dedupKey]model.Timestamp
	dedupWindowMs int64
}

// New returns a pipeline with the given dedup window in milliseconds.
func New(dedupWindowMs int64) *Pipeline {
	return &Pipeline{cache: make(map[dedupKey]model.Timestamp), dedupWindowMs: dedupWindowMs}
}

// Process returns the event unchanged if it should be forwarded to the
// linker, or (zero, false) if it was dropped (empty subject identity, or
// a duplicate within the dedup window).
func (p *Pipeline) Process(event model.Event) (model.Event, bool) {
	if event.Subject.Identity == "" {
		log.Warn().Str("event_id", event.ID.String()).Msg("dropping event with empty subject identity")
		return model.Event{}, false
	}

	key := dedupKey{source: event.Source.String(), identity: event.Subject.Identity}
	if last, ok := p.cache[key]; ok {
		delta := event.Timestamp - last
		if delta < 0 {
			delta = -delta
		}
		if int64(delta) < p.dedupWindowMs {
			log.Debug().Str("event_id", event.ID.String()).Msg("deduplicating event")
			return model.Event{}, false
		}
	}
	p.cache[key] = event.Timestamp
	return event, true
}

// PruneCache drops cache entries older than before, bounding the dedup
// cache's memory footprint over a long-running process.
func (p *Pipeline) PruneCache(before model.Timestamp) {
	for k, ts := range p.cache {
		if ts < before {
			delete(p.cache, k)
		}
	}
}
