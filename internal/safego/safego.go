// Package safego guards background goroutines against panics so a bug
// in one connection or one aggregation tick can't take the whole daemon
// down with it.
package safego

import (
	"runtime/debug"

	"github.com/rs/zerolog/log"
)

// Recover stops a panic from propagating out of the calling goroutine,
// logging it with a stack trace instead. Deferred at the top of any
// goroutine whose failure must stay isolated.
func Recover(label string) {
	if r := recover(); r != nil {
		log.Error().
			Str("goroutine", label).
			Interface("panic", r).
			Str("stack", string(debug.Stack())).
			Msg("recovered panic in background goroutine")
	}
}
