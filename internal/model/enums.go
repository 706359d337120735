package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EntityKind is the closed set of nouns the daemon tracks, plus a custom
// escape hatch tagged with an arbitrary string.
type EntityKind struct {
	tag    string // one of the fixed kinds, or "custom"
	custom string // set only when tag == "custom"
}

var (
	EntityKindProject          = EntityKind{tag: "project"}
	EntityKindFile             = EntityKind{tag: "file"}
	EntityKindRepository       = EntityKind{tag: "repository"}
	EntityKindBranch           = EntityKind{tag: "branch"}
	EntityKindCommit           = EntityKind{tag: "commit"}
	EntityKindURL              = EntityKind{tag: "url"}
	EntityKindDomain           = EntityKind{tag: "domain"}
	EntityKindApp              = EntityKind{tag: "app"}
	EntityKindTerminalSession  = EntityKind{tag: "terminal_session"}
	EntityKindTerminalCommand  = EntityKind{tag: "terminal_command"}
)

// CustomEntityKind builds the custom(tag) escape hatch.
func CustomEntityKind(tag string) EntityKind { return EntityKind{tag: "custom", custom: tag} }

func (k EntityKind) String() string {
	if k.tag == "custom" {
		return "custom:" + k.custom
	}
	return k.tag
}

func (k EntityKind) IsCustom() bool  { return k.tag == "custom" }
func (k EntityKind) CustomTag() string { return k.custom }

func (k EntityKind) MarshalJSON() ([]byte, error) {
	if k.tag == "custom" {
		return json.Marshal(map[string]string{"custom": k.custom})
	}
	return json.Marshal(k.tag)
}

func (k *EntityKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := parseEntityKind(s)
		if err != nil {
			return err
		}
		*k = parsed
		return nil
	}
	var obj struct {
		Custom string `json:"custom"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("invalid EntityKind literal %s: %w", b, err)
	}
	*k = CustomEntityKind(obj.Custom)
	return nil
}

func parseEntityKind(s string) (EntityKind, error) {
	switch s {
	case "project":
		return EntityKindProject, nil
	case "file":
		return EntityKindFile, nil
	case "repository":
		return EntityKindRepository, nil
	case "branch":
		return EntityKindBranch, nil
	case "commit":
		return EntityKindCommit, nil
	case "url":
		return EntityKindURL, nil
	case "domain":
		return EntityKindDomain, nil
	case "app":
		return EntityKindApp, nil
	case "terminal_session":
		return EntityKindTerminalSession, nil
	case "terminal_command":
		return EntityKindTerminalCommand, nil
	default:
		return EntityKind{}, fmt.Errorf("unknown entity kind %q", s)
	}
}

// ParseEntityKind exposes parseEntityKind to callers outside the package
// that need to turn a raw string (e.g. from a QueryRequest filter) into a
// kind without round-tripping through JSON.
func ParseEntityKind(s string) (EntityKind, error) {
	if strings.HasPrefix(s, "custom:") {
		return CustomEntityKind(strings.TrimPrefix(s, "custom:")), nil
	}
	return parseEntityKind(s)
}

// CollectorSource identifies which collector produced an event.
//
// AppMonitor is not listed among the closed variants spec.md's prose
// names for this type, but spec.md's own aggregator algorithm (§4.7)
// filters events on source == app_monitor; original_source's
// CollectorSource enum carries an explicit AppMonitor variant, which this
// type restores as the sixth closed variant rather than routing it
// through Custom.
type CollectorSource struct {
	tag    string
	custom string
}

var (
	SourceFilesystem = CollectorSource{tag: "filesystem"}
	SourceBrowser    = CollectorSource{tag: "browser"}
	SourceGit        = CollectorSource{tag: "git"}
	SourceTerminal   = CollectorSource{tag: "terminal"}
	SourceAppMonitor = CollectorSource{tag: "app_monitor"}
)

func CustomSource(tag string) CollectorSource { return CollectorSource{tag: "custom", custom: tag} }

func (s CollectorSource) String() string {
	if s.tag == "custom" {
		return "custom:" + s.custom
	}
	return s.tag
}

func (s CollectorSource) MarshalJSON() ([]byte, error) {
	if s.tag == "custom" {
		return json.Marshal(map[string]string{"custom": s.custom})
	}
	return json.Marshal(s.tag)
}

func (s *CollectorSource) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		parsed, err := parseSource(str)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}
	var obj struct {
		Custom string `json:"custom"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("invalid CollectorSource literal %s: %w", b, err)
	}
	*s = CustomSource(obj.Custom)
	return nil
}

func parseSource(s string) (CollectorSource, error) {
	switch s {
	case "filesystem":
		return SourceFilesystem, nil
	case "browser":
		return SourceBrowser, nil
	case "git":
		return SourceGit, nil
	case "terminal":
		return SourceTerminal, nil
	case "app_monitor":
		return SourceAppMonitor, nil
	default:
		return CollectorSource{}, fmt.Errorf("unknown collector source %q", s)
	}
}

// EventKind is the closed set of observation kinds.
type EventKind struct {
	tag    string
	custom string
}

var (
	EventKindFileCreated   = EventKind{tag: "file_created"}
	EventKindFileModified  = EventKind{tag: "file_modified"}
	EventKindFileDeleted   = EventKind{tag: "file_deleted"}
	EventKindURLVisited    = EventKind{tag: "url_visited"}
	EventKindTabFocused    = EventKind{tag: "tab_focused"}
	EventKindCommitCreated = EventKind{tag: "commit_created"}
	EventKindBranchSwitched = EventKind{tag: "branch_switched"}
	EventKindCommandRun    = EventKind{tag: "command_run"}
	EventKindAppFocused    = EventKind{tag: "app_focused"}
)

func CustomEventKind(tag string) EventKind { return EventKind{tag: "custom", custom: tag} }

func (k EventKind) String() string {
	if k.tag == "custom" {
		return "custom:" + k.custom
	}
	return k.tag
}

func (k EventKind) MarshalJSON() ([]byte, error) {
	if k.tag == "custom" {
		return json.Marshal(map[string]string{"custom": k.custom})
	}
	return json.Marshal(k.tag)
}

func (k *EventKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := parseEventKind(s)
		if err != nil {
			return err
		}
		*k = parsed
		return nil
	}
	var obj struct {
		Custom string `json:"custom"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("invalid EventKind literal %s: %w", b, err)
	}
	*k = CustomEventKind(obj.Custom)
	return nil
}

func parseEventKind(s string) (EventKind, error) {
	switch s {
	case "file_created":
		return EventKindFileCreated, nil
	case "file_modified":
		return EventKindFileModified, nil
	case "file_deleted":
		return EventKindFileDeleted, nil
	case "url_visited":
		return EventKindURLVisited, nil
	case "tab_focused":
		return EventKindTabFocused, nil
	case "commit_created":
		return EventKindCommitCreated, nil
	case "branch_switched":
		return EventKindBranchSwitched, nil
	case "command_run":
		return EventKindCommandRun, nil
	case "app_focused":
		return EventKindAppFocused, nil
	default:
		return EventKind{}, fmt.Errorf("unknown event kind %q", s)
	}
}

// Relation is the closed set of directed edge relations.
type Relation struct {
	tag    string
	custom string
}

var (
	RelationBelongsTo       = Relation{tag: "belongs_to"}
	RelationContains        = Relation{tag: "contains"}
	RelationReferences      = Relation{tag: "references"}
	RelationOccurredDuring  = Relation{tag: "occurred_during"}
	RelationVisited         = Relation{tag: "visited"}
	RelationRelatedTo       = Relation{tag: "related_to"}
)

func CustomRelation(tag string) Relation { return Relation{tag: "custom", custom: tag} }

func (r Relation) String() string {
	if r.tag == "custom" {
		return "custom:" + r.custom
	}
	return r.tag
}

func (r Relation) Equal(other Relation) bool { return r.tag == other.tag && r.custom == other.custom }

func (r Relation) MarshalJSON() ([]byte, error) {
	if r.tag == "custom" {
		return json.Marshal(map[string]string{"custom": r.custom})
	}
	return json.Marshal(r.tag)
}

func (r *Relation) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := parseRelation(s)
		if err != nil {
			return err
		}
		*r = parsed
		return nil
	}
	var obj struct {
		Custom string `json:"custom"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("invalid Relation literal %s: %w", b, err)
	}
	*r = CustomRelation(obj.Custom)
	return nil
}

func parseRelation(s string) (Relation, error) {
	switch s {
	case "belongs_to":
		return RelationBelongsTo, nil
	case "contains":
		return RelationContains, nil
	case "references":
		return RelationReferences, nil
	case "occurred_during":
		return RelationOccurredDuring, nil
	case "visited":
		return RelationVisited, nil
	case "related_to":
		return RelationRelatedTo, nil
	default:
		return Relation{}, fmt.Errorf("unknown relation %q", s)
	}
}

// InferRelation implements the linker's subject-kind/context-kind relation
// table (spec.md §4.6).
func InferRelation(subject, context EntityKind) Relation {
	switch {
	case subject.tag == "file" && context.tag == "project":
		return RelationBelongsTo
	case subject.tag == "commit" && context.tag == "repository":
		return RelationBelongsTo
	case subject.tag == "branch" && context.tag == "repository":
		return RelationBelongsTo
	case subject.tag == "url" && context.tag == "domain":
		return RelationBelongsTo
	case subject.tag == "project" && context.tag == "repository":
		return RelationContains
	default:
		return RelationRelatedTo
	}
}
