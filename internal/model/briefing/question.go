package briefing

// QuestionType tags the expected answer shape; extraction and validation
// dispatch on it.
type QuestionType string

const (
	TypeText   QuestionType = "text"
	TypePhone  QuestionType = "phone"
	TypeEnum   QuestionType = "enum"
	TypeDate   QuestionType = "date"
	TypeNumber QuestionType = "number"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case TypeText, TypePhone, TypeEnum, TypeDate, TypeNumber:
		return true
	default:
		return false
	}
}

// Question is one immutable step of a template version.
type Question struct {
	ID            string       `json:"id" yaml:"id"`
	Prompt        string       `json:"prompt" yaml:"prompt"`
	Type          QuestionType `json:"type" yaml:"type"`
	Required      bool         `json:"required" yaml:"required"`
	Options       []string     `json:"options,omitempty" yaml:"options,omitempty"`             // enum choices
	Clarification string       `json:"clarification,omitempty" yaml:"clarification,omitempty"` // re-ask variant
	MinLength     int          `json:"minLength,omitempty" yaml:"min_length,omitempty"`
}

// Clone returns a deep copy so callers never share the Options slice.
func (q Question) Clone() Question {
	q.Options = append([]string(nil), q.Options...)
	return q
}
