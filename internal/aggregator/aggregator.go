// Package aggregator groups raw app-focus events into activity sessions:
// runs of consecutive same-app events close enough in time to represent
// one continuous stretch of focus.
package aggregator

import (
	"fmt"
	"strings"

	"github.com/homardcloud/cronos/internal/model"
	"github.com/homardcloud/cronos/internal/store"
	"github.com/homardcloud/cronos/pkg/pool"
)

// resolvedEvent is an AppMonitor event with its subject id already
// resolved to the app's display name.
type resolvedEvent struct {
	timestamp   model.Timestamp
	appName     string
	windowTitle string
	hasTitle    bool
}

// Aggregator groups AppMonitor events into sessions, run on a timer by
// cmd/cronosd through Engine.RunAggregation.
type Aggregator struct {
	sessionGapMs int64
}

// New returns an aggregator with the given same-session gap threshold,
// in milliseconds.
func New(sessionGapMs int64) *Aggregator {
	return &Aggregator{sessionGapMs: sessionGapMs}
}

// Aggregate processes every AppMonitor event since the last session
// watermark into new sessions, persisting them and returning how many
// were created.
func (a *Aggregator) Aggregate(repo *store.Repository) (int, error) {
	watermark, err := repo.LastSessionEndTime()
	if err != nil {
		return 0, fmt.Errorf("aggregator: read watermark: %w", err)
	}
	now := model.Now()

	allEvents, err := repo.EventsInRange(watermark, now)
	if err != nil {
		return 0, fmt.Errorf("aggregator: load events: %w", err)
	}

	appEvents := make([]*store.StoredEvent, 0, len(allEvents))
	for _, e := range allEvents {
		if e.Source != model.SourceAppMonitor {
			continue
		}
		if e.Timestamp > watermark || watermark == 0 {
			appEvents = append(appEvents, e)
		}
	}
	if len(appEvents) == 0 {
		return 0, nil
	}

	nameCache := make(map[model.EntityId]string)
	resolved := make([]resolvedEvent, 0, len(appEvents))
	for _, e := range appEvents {
		name, ok := nameCache[e.SubjectID]
		if !ok {
			entity, err := repo.GetEntity(e.SubjectID)
			if err != nil {
				return 0, fmt.Errorf("aggregator: resolve app name: %w", err)
			}
			if entity != nil {
				name = entity.Name
			} else {
				name = "Unknown"
			}
			nameCache[e.SubjectID] = name
		}

		title, hasTitle := e.Metadata.String("window_title")
		resolved = append(resolved, resolvedEvent{
			timestamp:   e.Timestamp,
			appName:     name,
			windowTitle: title,
			hasTitle:    hasTitle,
		})
	}

	sessions := a.buildSessions(resolved)
	for _, s := range sessions {
		if err := repo.InsertSession(s); err != nil {
			return 0, fmt.Errorf("aggregator: insert session: %w", err)
		}
	}
	return len(sessions), nil
}

// buildSessions groups a time-ordered run of resolved events into
// sessions: consecutive events stay in the same session while the app
// name matches and the gap since the last event is under the
// configured threshold.
func (a *Aggregator) buildSessions(events []resolvedEvent) []*model.Session {
	if len(events) == 0 {
		return nil
	}

	var sessions []*model.Session
	currentApp := events[0].appName
	currentStart := events[0].timestamp
	currentEnd := events[0].timestamp
	currentTitles := pool.GetStringSlice()
	currentCount := int64(0)

	if events[0].hasTitle {
		currentTitles = append(currentTitles, events[0].windowTitle)
	}
	currentCount++

	for _, event := range events[1:] {
		gap := int64(event.timestamp - currentEnd)

		if event.appName == currentApp && gap < a.sessionGapMs {
			currentEnd = event.timestamp
			currentCount++
			if event.hasTitle && !containsString(currentTitles, event.windowTitle) {
				currentTitles = append(currentTitles, event.windowTitle)
			}
			continue
		}

		sessions = append(sessions, makeSession(currentApp, currentTitles, currentStart, currentEnd, currentCount))
		pool.PutStringSlice(currentTitles)

		currentApp = event.appName
		currentStart = event.timestamp
		currentEnd = event.timestamp
		currentTitles = pool.GetStringSlice()
		currentCount = 1
		if event.hasTitle {
			currentTitles = append(currentTitles, event.windowTitle)
		}
	}

	sessions = append(sessions, makeSession(currentApp, currentTitles, currentStart, currentEnd, currentCount))
	pool.PutStringSlice(currentTitles)

	return sessions
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func makeSession(appName string, windowTitles []string, startTime, endTime model.Timestamp, eventCount int64) *model.Session {
	titles := make([]string, len(windowTitles))
	copy(titles, windowTitles)
	return &model.Session{
		ID:           model.NewULIDString(),
		AppName:      appName,
		WindowTitles: titles,
		Project:      nil,
		Category:     CategorizeApp(appName),
		StartTime:    startTime,
		EndTime:      endTime,
		DurationSecs: int64(endTime-startTime) / 1000,
		EventCount:   eventCount,
		Metadata:     model.Attributes{},
	}
}

// CategorizeApp classifies an app by name into a broad activity
// category, by lowercase substring match.
func CategorizeApp(appName string) string {
	lower := strings.ToLower(appName)
	switch {
	case containsAny(lower, "code", "xcode", "intellij", "terminal", "iterm", "warp", "alacritty", "kitty", "cursor"):
		return "coding"
	case containsAny(lower, "discord", "slack", "messages", "telegram", "teams", "mail"):
		return "communication"
	case containsAny(lower, "chrome", "firefox", "safari", "arc", "brave", "edge"):
		return "browsing"
	case containsAny(lower, "notion", "obsidian", "notes", "pages", "docs"):
		return "productivity"
	case containsAny(lower, "spotify", "music", "vlc"):
		return "media"
	case containsAny(lower, "finder", "preview"):
		return "system"
	default:
		return "other"
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
