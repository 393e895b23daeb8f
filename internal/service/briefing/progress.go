package briefing

import (
	"context"
	"math"

	"github.com/zhouzirui/briefing/backend/internal/model/briefing"
)

// Progress summarizes how far a session got through its template.
type Progress struct {
	SessionID            string             `json:"sessionId"`
	Status               briefing.Status    `json:"status"`
	TemplateVersionID    string             `json:"templateVersionId"`
	Total                int                `json:"total"`
	Answered             int                `json:"answered"`
	Skipped              int                `json:"skipped"`
	Remaining            int                `json:"remaining"`
	Percent              int                `json:"percent"`
	CurrentQuestionIndex int                `json:"currentQuestionIndex"`
	CurrentQuestion      *briefing.Question `json:"currentQuestion,omitempty"`
	MissingRequired      []string           `json:"missingRequired,omitempty"`
}

// Progress reports answered, skipped and remaining questions for a session.
func (o *Orchestrator) Progress(ctx context.Context, sessionID string) (Progress, error) {
	s, err := o.GetSession(ctx, sessionID)
	if err != nil {
		return Progress{}, err
	}
	tv, err := o.templates.Version(ctx, s.TemplateVersionID)
	if err != nil {
		return Progress{}, err
	}

	total := len(tv.Questions)
	p := Progress{
		SessionID:            s.ID,
		Status:               s.Status,
		TemplateVersionID:    s.TemplateVersionID,
		Total:                total,
		Answered:             len(s.Answers),
		Skipped:              len(s.Skipped),
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		MissingRequired:      s.MissingRequired(tv.Questions),
	}
	p.Remaining = total - s.CurrentQuestionIndex
	if p.Remaining < 0 {
		p.Remaining = 0
	}
	if total > 0 {
		p.Percent = int(math.Round(float64(s.CurrentQuestionIndex) * 100 / float64(total)))
	}
	if !s.Status.Terminal() && s.CurrentQuestionIndex < total {
		q := tv.Questions[s.CurrentQuestionIndex].Clone()
		p.CurrentQuestion = &q
	}
	return p, nil
}
