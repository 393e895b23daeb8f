package briefing

import (
	"time"

	"github.com/zhouzirui/briefing/backend/internal/model/briefing"
)

// Transition describes one committed state change.
type Transition struct {
	SessionID     string          `json:"sessionId"`
	EndClientID   string          `json:"endClientId"`
	Action        briefing.Action `json:"action"`
	Status        briefing.Status `json:"status"`
	QuestionIndex int             `json:"questionIndex"`
	Version       int64           `json:"version"`
	Reason        string          `json:"reason,omitempty"`
	At            time.Time       `json:"at"`
}

// Notifier receives committed transitions. Publish must not block.
type Notifier interface {
	Publish(t Transition)
}

type nopNotifier struct{}

func (nopNotifier) Publish(Transition) {}
