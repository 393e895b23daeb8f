package template

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/briefing/backend/internal/model/briefing"
)

// ParseYAML decodes a single template version document.
func ParseYAML(data []byte) (Version, error) {
	var v Version
	if err := yaml.Unmarshal(data, &v); err != nil {
		return Version{}, fmt.Errorf("parse template yaml: %w", err)
	}
	for i := range v.Questions {
		v.Questions[i].Type = normalizeType(v.Questions[i].Type)
	}
	if err := v.Validate(); err != nil {
		return Version{}, err
	}
	v.ID = VersionID(v.TemplateID, v.Number)
	return v, nil
}

// LoadDir reads every *.yaml / *.yml file in dir. A missing directory yields
// no versions.
func LoadDir(dir string) ([]Version, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read template dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	versions := make([]Version, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", name, err)
		}
		v, err := ParseYAML(data)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// normalizeType maps the legacy "multiple_choice" spelling onto enum.
func normalizeType(t briefing.QuestionType) briefing.QuestionType {
	switch strings.ToLower(strings.TrimSpace(string(t))) {
	case "multiple_choice", "choice":
		return briefing.TypeEnum
	default:
		return briefing.QuestionType(strings.ToLower(strings.TrimSpace(string(t))))
	}
}
