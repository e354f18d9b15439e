package protocol

// Stream event kinds written to the NDJSON stream, one object per line.
const (
	EventStatus     = "status"
	EventContent    = "content"
	EventToolUse    = "tool_use"
	EventToolResult = "tool_result"
	EventRecipeCall = "recipe_call"
	EventUsage      = "usage"
	EventError      = "error"
	EventDone       = "done"
	EventDebug      = "debug"
)

// Status phases (in data.status).
const (
	StatusInitializing = "initializing"
	StatusRunning      = "running"
	StatusWarning      = "warning"
)

// Event is one line of the stream: {"event": <kind>, "data": {...}}.
type Event struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

// IsTerminal reports whether the event ends a stream.
func (e Event) IsTerminal() bool {
	return IsTerminalKind(e.Event)
}

// IsTerminalKind reports whether kind is error or done.
func IsTerminalKind(kind string) bool {
	return kind == EventError || kind == EventDone
}

// KnownEventKind reports whether kind belongs to the wire vocabulary.
func KnownEventKind(kind string) bool {
	switch kind {
	case EventStatus, EventContent, EventToolUse, EventToolResult, EventRecipeCall,
		EventUsage, EventError, EventDone, EventDebug:
		return true
	}
	return false
}

// Usage is the token accounting carried by usage and done events.
type Usage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
	NumTurns     int     `json:"num_turns,omitempty"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens = u.InputTokens + u.OutputTokens
	u.CostUSD += other.CostUSD
}

// IsZero reports whether no usage was recorded.
func (u Usage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.CostUSD == 0
}

// Map renders the usage as an event payload.
func (u Usage) Map() map[string]interface{} {
	m := map[string]interface{}{
		"input_tokens":  u.InputTokens,
		"output_tokens": u.OutputTokens,
		"total_tokens":  u.InputTokens + u.OutputTokens,
	}
	if u.CostUSD > 0 {
		m["cost_usd"] = u.CostUSD
	}
	if u.NumTurns > 0 {
		m["num_turns"] = u.NumTurns
	}
	return m
}
