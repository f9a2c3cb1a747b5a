package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type FieldType string

const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldSelect   FieldType = "select"
	FieldCheckbox FieldType = "checkbox"
)

func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldNumber, FieldSelect, FieldCheckbox:
		return true
	default:
		return false
	}
}

// FormField is a custom question asked on the registration page in addition
// to name and email.
type FormField struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name" validate:"required,max=64"`
	Type        FieldType `json:"type" validate:"required,oneof=text number select checkbox"`
	Label       string    `json:"label" validate:"required,max=200"`
	Placeholder string    `json:"placeholder,omitempty" validate:"max=200"`
	Required    bool      `json:"required"`
	Options     []string  `json:"options,omitempty" validate:"max=50,dive,required,max=200"`
	Order       int       `json:"order"`
}

// MaxTextAnswer caps a free text answer.
const MaxTextAnswer = 2000

var fieldNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// CheckFields validates a form's field set as a whole: names are unique
// snake_case identifiers, select fields have options and other types have none.
func CheckFields(fields []FormField) error {
	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		path := fmt.Sprintf("fields[%d]", i)
		if !fieldNamePattern.MatchString(f.Name) {
			return InvalidSpec(path+".name", "must be lower snake_case, got %q", f.Name)
		}
		if f.Name == "name" || f.Name == "email" {
			return InvalidSpec(path+".name", "%q is always asked and cannot be a custom field", f.Name)
		}
		if seen[f.Name] {
			return InvalidSpec(path+".name", "duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		if !f.Type.Valid() {
			return InvalidSpec(path+".type", "unknown field type %q", f.Type)
		}
		if f.Type == FieldSelect && len(f.Options) == 0 {
			return InvalidSpec(path+".options", "a select field needs at least one option")
		}
		if f.Type != FieldSelect && len(f.Options) > 0 {
			return InvalidSpec(path+".options", "only select fields take options")
		}
	}
	return nil
}

// SortFields orders fields for display.
func SortFields(fields []FormField) {
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Order < fields[j].Order })
}

// CheckAnswers validates registration answers against the form's fields and
// returns them normalized: text trimmed, numbers as float64, checkboxes as bool.
// Unanswered optional fields are left out.
func CheckAnswers(fields []FormField, answers map[string]any) (map[string]any, error) {
	byName := make(map[string]FormField, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}
	for name := range answers {
		if _, ok := byName[name]; !ok {
			return nil, InvalidSpec("answers."+name, "is not a field of this form")
		}
	}

	out := make(map[string]any, len(fields))
	for _, f := range fields {
		path := "answers." + f.Name
		raw, ok := answers[f.Name]
		if !ok || raw == nil || raw == "" {
			if f.Required {
				return nil, InvalidSpec(path, "%s is required", f.Label)
			}
			continue
		}

		switch f.Type {
		case FieldText:
			s, ok := raw.(string)
			if !ok {
				return nil, InvalidSpec(path, "must be text")
			}
			s = strings.TrimSpace(s)
			if len(s) > MaxTextAnswer {
				return nil, InvalidSpec(path, "must be at most %d characters", MaxTextAnswer)
			}
			if s == "" && f.Required {
				return nil, InvalidSpec(path, "%s is required", f.Label)
			}
			if s != "" {
				out[f.Name] = s
			}
		case FieldNumber:
			n, err := toNumber(raw)
			if err != nil {
				return nil, InvalidSpec(path, "must be a number")
			}
			out[f.Name] = n
		case FieldSelect:
			s, ok := raw.(string)
			if !ok || !contains(f.Options, s) {
				return nil, InvalidSpec(path, "must be one of %s", strings.Join(f.Options, ", "))
			}
			out[f.Name] = s
		case FieldCheckbox:
			b, err := toBool(raw)
			if err != nil {
				return nil, InvalidSpec(path, "must be true or false")
			}
			if f.Required && !b {
				return nil, InvalidSpec(path, "%s must be checked", f.Label)
			}
			out[f.Name] = b
		}
	}
	return out, nil
}

func toNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "on", "yes", "1":
			return true, nil
		case "false", "off", "no", "0":
			return false, nil
		}
	}
	return false, fmt.Errorf("not a boolean: %v", v)
}

func contains(options []string, s string) bool {
	for _, o := range options {
		if o == s {
			return true
		}
	}
	return false
}
