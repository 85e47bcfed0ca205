package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave     Action = "autosave"
	ActionSubmit       Action = "submit"
	ActionViolation    Action = "violation"
	ActionResumeAccept Action = "resume_accept"
	ActionPing         Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AutosaveRequest is sent by the client to save a single answer.
type AutosaveRequest struct {
	Action Action `json:"action"`
	QID    string `json:"q_id"`
	Answer string `json:"ans"`
}

// ViolationRequest is sent by the client to report a proctoring event.
type ViolationRequest struct {
	Action  Action `json:"action"`
	Kind    string `json:"kind"`
	Payload string `json:"payload"` // Receives the JSON string directly
}

// SubmitRequest is sent by the client to finish the attempt. Answers, when
// present, overlay the server-held answer set before finalizing.
type SubmitRequest struct {
	Action  Action            `json:"action"`
	Answers map[string]string `json:"answers,omitempty"`
}

// ResumeAcceptRequest is sent by the client to continue a resumable attempt.
type ResumeAcceptRequest struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState       Event = "state"
	EventResumeOffer Event = "resume_offer"
	EventTerminal    Event = "terminal"
	EventSaved       Event = "saved"
	EventError       Event = "error"
	EventPong        Event = "pong"
)

// StateEvent carries the current lifecycle state and server-anchored
// countdown. Sent on every transition and on every timer tick.
type StateEvent struct {
	Event         Event  `json:"event"`
	State         string `json:"state"`
	RemainingMs   int64  `json:"remaining_ms"`
	AnsweredCount int    `json:"answered_count"`
}

// ResumeOfferEvent announces a resumable attempt with the reconciled answer
// progress. The countdown keeps running while the client decides.
type ResumeOfferEvent struct {
	Event          Event `json:"event"`
	AnsweredCount  int   `json:"answered_count"`
	TotalQuestions int   `json:"total_questions"`
	RemainingMs    int64 `json:"remaining_ms"`
}

// TerminalEvent announces the attempt's terminal state with the answer set
// that was (or will be) persisted.
type TerminalEvent struct {
	Event   Event             `json:"event"`
	Reason  string            `json:"reason"`
	Answers map[string]string `json:"answers"`
}

// SavedEvent acknowledges a single autosaved answer.
type SavedEvent struct {
	Event Event  `json:"event"`
	QID   string `json:"q_id"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
