package model

// Event models a discrete observation reported by a collector. Events are
// append-only: once persisted, the subject and every context ref has been
// resolved to an existing entity.
type Event struct {
	ID        EventId         `json:"id"`
	Timestamp Timestamp       `json:"timestamp"`
	Source    CollectorSource `json:"source"`
	Kind      EventKind       `json:"kind"`
	Subject   EntityRef       `json:"subject"`
	Context   []EntityRef     `json:"context"`
	Metadata  Attributes      `json:"metadata"`
}

// Edge models a directed, typed, reinforcement-weighted relation between
// two entities. (From, To, Relation) is a natural key.
type Edge struct {
	ID             EdgeId    `json:"id"`
	From           EntityId  `json:"from"`
	To             EntityId  `json:"to"`
	Relation       Relation  `json:"relation"`
	Strength       float32   `json:"strength"`
	CreatedAt      Timestamp `json:"created_at"`
	LastReinforced Timestamp `json:"last_reinforced"`
}

const (
	// InitialEdgeStrength is the strength assigned when an edge is first
	// created.
	InitialEdgeStrength = 0.5
	// EdgeReinforcementStep is added to an edge's strength each time it is
	// reinforced, saturating at 1.0.
	EdgeReinforcementStep = 0.1
	// MaxEdgeStrength is the saturation ceiling.
	MaxEdgeStrength = 1.0
)

// Reinforce grows the edge's strength by EdgeReinforcementStep, saturating
// at MaxEdgeStrength, and bumps LastReinforced to t.
func (e *Edge) Reinforce(t Timestamp) {
	e.Strength += EdgeReinforcementStep
	if e.Strength > MaxEdgeStrength {
		e.Strength = MaxEdgeStrength
	}
	e.LastReinforced = t
}

// Session is a derived aggregation of consecutive same-app focus events.
type Session struct {
	ID           string     `json:"id"`
	AppName      string     `json:"app_name"`
	WindowTitles []string   `json:"window_titles"`
	Project      *string    `json:"project,omitempty"`
	Category     string     `json:"category"`
	StartTime    Timestamp  `json:"start_time"`
	EndTime      Timestamp  `json:"end_time"`
	DurationSecs int64      `json:"duration_secs"`
	EventCount   int64      `json:"event_count"`
	Metadata     Attributes `json:"metadata"`
}
