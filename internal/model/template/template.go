package template

import (
	"fmt"

	"github.com/zhouzirui/briefing/backend/internal/model/briefing"
)

// Version is an immutable, ordered question set. A new version is a new
// snapshot; published versions are never edited in place.
type Version struct {
	ID         string              `json:"id" yaml:"-"`
	TemplateID string              `json:"templateId" yaml:"template_id"`
	Number     int                 `json:"number" yaml:"version"`
	Name       string              `json:"name" yaml:"name"`
	Category   string              `json:"category,omitempty" yaml:"category,omitempty"`
	Greeting   string              `json:"greeting,omitempty" yaml:"greeting,omitempty"`
	Questions  []briefing.Question `json:"questions" yaml:"questions"`
}

// VersionID builds the canonical "<templateId>@v<number>" identifier.
func VersionID(templateID string, number int) string {
	return fmt.Sprintf("%s@v%d", templateID, number)
}

// Clone returns a deep copy.
func (v Version) Clone() Version {
	out := v
	out.Questions = make([]briefing.Question, len(v.Questions))
	for i, q := range v.Questions {
		out.Questions[i] = q.Clone()
	}
	return out
}

// Validate checks the structural rules every published version must satisfy.
func (v Version) Validate() error {
	if v.TemplateID == "" {
		return fmt.Errorf("template id is required")
	}
	if v.Number < 1 {
		return fmt.Errorf("template %s: version number must be positive", v.TemplateID)
	}
	if len(v.Questions) == 0 {
		return fmt.Errorf("template %s: at least one question is required", v.TemplateID)
	}

	seen := make(map[string]struct{}, len(v.Questions))
	for i, q := range v.Questions {
		if q.ID == "" {
			return fmt.Errorf("template %s: question %d has no id", v.TemplateID, i)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("template %s: duplicate question id %q", v.TemplateID, q.ID)
		}
		seen[q.ID] = struct{}{}
		if q.Prompt == "" {
			return fmt.Errorf("template %s: question %q has empty prompt", v.TemplateID, q.ID)
		}
		if !q.Type.Valid() {
			return fmt.Errorf("template %s: question %q has unknown type %q", v.TemplateID, q.ID, q.Type)
		}
		if q.Type == briefing.TypeEnum && len(q.Options) < 2 {
			return fmt.Errorf("template %s: enum question %q needs at least 2 options", v.TemplateID, q.ID)
		}
	}
	return nil
}
