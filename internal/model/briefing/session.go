package briefing

import "time"

// Status is the lifecycle state of a briefing session.
type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusAwaitingAnswer Status = "AWAITING_ANSWER"
	StatusValidating     Status = "VALIDATING"
	StatusCompleted      Status = "COMPLETED"
	StatusAbandoned      Status = "ABANDONED"
	StatusFailed         Status = "FAILED"
)

// Terminal reports whether no further mutation is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusAbandoned, StatusFailed:
		return true
	default:
		return false
	}
}

// recentMessageLimit bounds Session.RecentMessageIDs.
const recentMessageLimit = 32

// AnswerRecord is the accepted answer to one question. Immutable once written;
// a correction replaces the record for the same question id.
type AnswerRecord struct {
	QuestionID string    `json:"questionId"`
	RawText    string    `json:"rawText"`
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	MessageID  string    `json:"messageId,omitempty"`
	AcceptedAt time.Time `json:"acceptedAt"`
}

// Insight is free-form information volunteered outside the current question.
type Insight struct {
	QuestionID string    `json:"questionId"`
	Text       string    `json:"text"`
	MessageID  string    `json:"messageId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Session captures the durable conversation state for one end client.
type Session struct {
	ID                   string         `json:"id"`
	EndClientID          string         `json:"endClientId"`
	Phone                string         `json:"phone"`
	TemplateVersionID    string         `json:"templateVersionId"`
	Status               Status         `json:"status"`
	CurrentQuestionIndex int            `json:"currentQuestionIndex"`
	Answers              []AnswerRecord `json:"answers"`
	Skipped              []string       `json:"skipped,omitempty"`
	Attempts             map[string]int `json:"attempts,omitempty"`
	Insights             []Insight      `json:"insights,omitempty"`
	LastInboundMessageID string         `json:"lastInboundMessageId,omitempty"`
	LastResult           *Result        `json:"lastResult,omitempty"`
	RecentMessageIDs     []string       `json:"recentMessageIds,omitempty"`
	AbandonReason        string         `json:"abandonReason,omitempty"`
	FailureReason        string         `json:"failureReason,omitempty"`
	Version              int64          `json:"version"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
	LastInboundAt        time.Time      `json:"lastInboundAt"`
	CompletedAt          *time.Time     `json:"completedAt,omitempty"`
}

// Clone returns a deep copy; stores and the orchestrator only ever hand out
// copies so a rolled-back attempt can never leak into committed state.
func (s Session) Clone() Session {
	out := s
	out.Answers = append([]AnswerRecord(nil), s.Answers...)
	out.Skipped = append([]string(nil), s.Skipped...)
	out.Insights = append([]Insight(nil), s.Insights...)
	out.RecentMessageIDs = append([]string(nil), s.RecentMessageIDs...)
	if s.Attempts != nil {
		out.Attempts = make(map[string]int, len(s.Attempts))
		for k, v := range s.Attempts {
			out.Attempts[k] = v
		}
	}
	if s.LastResult != nil {
		r := *s.LastResult
		out.LastResult = &r
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// Answer returns the record for questionID.
func (s *Session) Answer(questionID string) (AnswerRecord, bool) {
	for _, a := range s.Answers {
		if a.QuestionID == questionID {
			return a, true
		}
	}
	return AnswerRecord{}, false
}

// PutAnswer writes rec, replacing any prior record for the same question and
// keeping Answers in template question order.
func (s *Session) PutAnswer(rec AnswerRecord, order []Question) {
	for i := range s.Answers {
		if s.Answers[i].QuestionID == rec.QuestionID {
			s.Answers[i] = rec
			return
		}
	}
	s.Answers = append(s.Answers, rec)

	pos := make(map[string]int, len(order))
	for i, q := range order {
		pos[q.ID] = i
	}
	// insertion sort: answers arrive almost always in order
	for i := len(s.Answers) - 1; i > 0; i-- {
		if pos[s.Answers[i-1].QuestionID] <= pos[s.Answers[i].QuestionID] {
			break
		}
		s.Answers[i-1], s.Answers[i] = s.Answers[i], s.Answers[i-1]
	}
}

// IsSkipped reports whether questionID was skipped after exhausting retries.
func (s *Session) IsSkipped(questionID string) bool {
	for _, id := range s.Skipped {
		if id == questionID {
			return true
		}
	}
	return false
}

// SeenMessage reports whether messageID was already processed.
func (s *Session) SeenMessage(messageID string) bool {
	if messageID == "" {
		return false
	}
	for _, id := range s.RecentMessageIDs {
		if id == messageID {
			return true
		}
	}
	return false
}

// RememberMessage records messageID as the last processed inbound message.
func (s *Session) RememberMessage(messageID string) {
	if messageID == "" {
		return
	}
	s.LastInboundMessageID = messageID
	s.RecentMessageIDs = append(s.RecentMessageIDs, messageID)
	if over := len(s.RecentMessageIDs) - recentMessageLimit; over > 0 {
		s.RecentMessageIDs = append([]string(nil), s.RecentMessageIDs[over:]...)
	}
}

// MissingRequired lists required question ids without an answer.
func (s *Session) MissingRequired(questions []Question) []string {
	var missing []string
	for _, q := range questions {
		if !q.Required {
			continue
		}
		if _, ok := s.Answer(q.ID); !ok {
			missing = append(missing, q.ID)
		}
	}
	return missing
}
