package domain

import "time"

// Coordinates is a device-reported position in decimal degrees.
type Coordinates struct {
	Lat float64
	Lon float64
}

// InboundMessage is one relayed mail as stored in the inbox.
type InboundMessage struct {
	ID         string
	From       string
	To         string
	Subject    string
	Body       string
	ReceivedAt time.Time
	Status     TurnStatus
	Outcome    Outcome
}

// InboundTurn is the parsed, immutable form of one conversational turn.
// MessageID is the retry idempotency key.
type InboundTurn struct {
	MessageID      string
	SenderAddress  string
	PromptText     string
	ReplyTargetURL string
	Coordinates    *Coordinates
}

// TurnStatus is the explicit processing state of an inbox message.
type TurnStatus string

const (
	StatusPending   TurnStatus = "PENDING"
	StatusProcessed TurnStatus = "PROCESSED"
)

// Outcome is the terminal result of one coordinator pass over a turn.
type Outcome string

const (
	OutcomeSuccess          Outcome = "SUCCESS"
	OutcomePermanentFailure Outcome = "PERMANENT_FAILURE"
	OutcomeRetryScheduled   Outcome = "RETRY_SCHEDULED"
	OutcomeRetriesExhausted Outcome = "RETRIES_EXHAUSTED"
	OutcomeIgnored          Outcome = "IGNORED"
	OutcomeDuplicateSkipped Outcome = "DUPLICATE_SKIPPED"
)
