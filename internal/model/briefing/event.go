package briefing

import "time"

// InboundEvent is one message received from an end client.
type InboundEvent struct {
	MessageID   string    `json:"messageId"`
	SessionID   string    `json:"sessionId,omitempty"`
	SenderPhone string    `json:"senderPhone"`
	Text        string    `json:"text"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

// Action names what the orchestrator decided for an event.
type Action string

const (
	ActionAsked     Action = "asked"
	ActionReasked   Action = "reasked"
	ActionAnswered  Action = "answered"
	ActionSkipped   Action = "skipped"
	ActionCompleted Action = "completed"
	ActionAbandoned Action = "abandoned"
	ActionFailed    Action = "failed"
	ActionNoOp      Action = "noop"
)

// Reply is an outbound message produced by a transition.
type Reply struct {
	Text           string `json:"text"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// Result is the outcome of handling one inbound event.
type Result struct {
	SessionID     string `json:"sessionId"`
	Action        Action `json:"action"`
	Status        Status `json:"status"`
	QuestionIndex int    `json:"questionIndex"`
	Reply         *Reply `json:"reply,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Version       int64  `json:"version"`
	Replayed      bool   `json:"replayed,omitempty"`
	Delivered     bool   `json:"delivered"`
}

// NoOp builds a side-effect free result.
func NoOp(s Session, reason string) Result {
	return Result{
		SessionID:     s.ID,
		Action:        ActionNoOp,
		Status:        s.Status,
		QuestionIndex: s.CurrentQuestionIndex,
		Reason:        reason,
		Version:       s.Version,
	}
}
