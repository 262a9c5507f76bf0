package validation

import (
	"fmt"
	"os"
	"slices"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/iudanet/rollcall/internal/models"
)

// FieldKind is the declared type of a record field.
type FieldKind string

// Field kinds supported by the schema.
const (
	KindString FieldKind = "string"
	KindNumber FieldKind = "number"
	KindBool   FieldKind = "bool"
	KindStatus FieldKind = "status" // enumerated workflow state
	KindObject FieldKind = "object" // small nested object or list
)

// DefaultMaxLength caps string values when the schema does not say otherwise.
const DefaultMaxLength = 1024

// FieldSpec describes one field of the record schema.
type FieldSpec struct {
	Name      string    `yaml:"name"`
	Kind      FieldKind `yaml:"kind"`
	Values    []string  `yaml:"values,omitempty"` // допустимые значения для status
	MaxLength int       `yaml:"max_length,omitempty"`
	Nullable  bool      `yaml:"nullable,omitempty"`
}

// Schema declares the fields a record may carry.
// A nil *Schema accepts any well-named field with any JSON value.
type Schema struct {
	fields map[string]FieldSpec
	Strict bool
}

type schemaFile struct {
	Fields []FieldSpec `yaml:"fields"`
	Strict bool        `yaml:"strict"`
}

// ParseSchema parses a YAML schema document.
func ParseSchema(data []byte) (*Schema, error) {
	var doc schemaFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	return NewSchema(doc.Strict, doc.Fields...)
}

// LoadSchema reads a YAML schema file.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return ParseSchema(data)
}

// NewSchema builds a schema from field specs.
func NewSchema(strict bool, specs ...FieldSpec) (*Schema, error) {
	s := &Schema{fields: make(map[string]FieldSpec, len(specs)), Strict: strict}

	for _, spec := range specs {
		if err := ValidateFieldName(spec.Name); err != nil {
			return nil, fmt.Errorf("invalid schema: %w", err)
		}
		switch spec.Kind {
		case KindString, KindNumber, KindBool, KindObject:
		case KindStatus:
			if len(spec.Values) == 0 {
				return nil, fmt.Errorf("invalid schema: status field %q has no values", spec.Name)
			}
			for i, v := range spec.Values {
				spec.Values[i] = norm.NFC.String(v)
			}
		default:
			return nil, fmt.Errorf("invalid schema: field %q has unknown kind %q", spec.Name, spec.Kind)
		}
		if spec.MaxLength <= 0 {
			spec.MaxLength = DefaultMaxLength
		}
		if _, dup := s.fields[spec.Name]; dup {
			return nil, fmt.Errorf("invalid schema: field %q declared twice", spec.Name)
		}
		s.fields[spec.Name] = spec
	}

	return s, nil
}

// ParticipantSchema is the built-in schema for event participant records.
func ParticipantSchema() *Schema {
	s, err := NewSchema(false,
		FieldSpec{Name: "name", Kind: KindString, MaxLength: 100},
		FieldSpec{Name: "phone", Kind: KindString, MaxLength: 32},
		FieldSpec{Name: "call_status", Kind: KindStatus, Values: []string{"대기중", "응답(참석)", "응답(불참)", "부재중", "재통화"}},
		FieldSpec{Name: "attendance", Kind: KindStatus, Values: []string{"미확인", "참석", "불참"}},
		FieldSpec{Name: "memo", Kind: KindString, MaxLength: 2000, Nullable: true},
		FieldSpec{Name: "seat", Kind: KindObject, Nullable: true},
		FieldSpec{Name: "party_size", Kind: KindNumber},
	)
	if err != nil {
		panic(err)
	}
	return s
}

// Spec returns the declaration of a field.
func (s *Schema) Spec(field string) (FieldSpec, bool) {
	if s == nil {
		return FieldSpec{}, false
	}
	spec, ok := s.fields[field]
	return spec, ok
}

// IsStatus reports whether field is an enumerated workflow state.
func (s *Schema) IsStatus(field string) bool {
	spec, ok := s.Spec(field)
	return ok && spec.Kind == KindStatus
}

// Classify picks the change log action type for a committed set of fields:
// any status field makes the change a status_change.
func (s *Schema) Classify(fields []string) models.ActionType {
	if slices.ContainsFunc(fields, s.IsStatus) {
		return models.ActionStatusChange
	}
	return models.ActionFieldUpdate
}

// ValidateField checks a single field write and returns the normalized value.
// Rejections are *models.ValidationError.
func (s *Schema) ValidateField(field string, value any) (any, error) {
	if err := ValidateFieldName(field); err != nil {
		return nil, &models.ValidationError{Field: field, Value: value, Reason: err.Error()}
	}

	v, err := models.NormalizeValue(value)
	if err != nil {
		return nil, &models.ValidationError{Field: field, Value: value, Reason: "value is not JSON-compatible"}
	}
	if str, ok := v.(string); ok {
		// Корейские статусы могут прийти в разной нормализации
		v = norm.NFC.String(str)
	}

	spec, declared := s.Spec(field)
	if !declared {
		if s != nil && s.Strict {
			return nil, &models.ValidationError{Field: field, Value: value, Reason: "field is not declared in schema"}
		}
		if str, ok := v.(string); ok && utf8.RuneCountInString(str) > DefaultMaxLength {
			return nil, &models.ValidationError{Field: field, Value: value, Reason: fmt.Sprintf("value exceeds %d characters", DefaultMaxLength)}
		}
		return v, nil
	}

	if v == nil {
		if spec.Nullable {
			return nil, nil
		}
		return nil, &models.ValidationError{Field: field, Value: value, Reason: "value cannot be null"}
	}

	if reason := checkKind(spec, v); reason != "" {
		return nil, &models.ValidationError{Field: field, Value: value, Reason: reason}
	}

	return v, nil
}

// ValidatePatch validates every field of a patch and returns normalized values.
func (s *Schema) ValidatePatch(fields map[string]any) (map[string]any, error) {
	if len(fields) == 0 {
		return nil, &models.ValidationError{Reason: "patch has no fields"}
	}
	out := make(map[string]any, len(fields))
	for _, name := range models.SortedKeys(fields) {
		v, err := s.ValidateField(name, fields[name])
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func checkKind(spec FieldSpec, v any) string {
	switch spec.Kind {
	case KindString:
		str, ok := v.(string)
		if !ok {
			return "value must be a string"
		}
		if utf8.RuneCountInString(str) > spec.MaxLength {
			return fmt.Sprintf("value exceeds %d characters", spec.MaxLength)
		}
	case KindNumber:
		if _, ok := v.(float64); !ok {
			return "value must be a number"
		}
	case KindBool:
		if _, ok := v.(bool); !ok {
			return "value must be a boolean"
		}
	case KindStatus:
		str, ok := v.(string)
		if !ok || !slices.Contains(spec.Values, str) {
			return fmt.Sprintf("value must be one of %v", spec.Values)
		}
	case KindObject:
		switch v.(type) {
		case map[string]any, []any:
		default:
			return "value must be an object or a list"
		}
	}
	return ""
}
