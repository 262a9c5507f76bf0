package validation

import (
	"fmt"
	"regexp"
)

// FieldNamePattern определяет допустимый формат имени поля
// Только строчные латинские буквы, цифры и нижнее подчеркивание, первая - буква
// Длина: 1-64 символа
var FieldNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// RecordIDPattern определяет допустимый формат идентификатора записи
var RecordIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-.:]{0,127}$`)

// Reserved field names are maintained by the Record Store itself.
var reservedFields = map[string]struct{}{
	"id":               {},
	"version":          {},
	"last_modified_by": {},
	"last_modified_at": {},
}

// ValidateFieldName проверяет имя поля
func ValidateFieldName(name string) error {
	if name == "" {
		return fmt.Errorf("field name cannot be empty")
	}

	if !FieldNamePattern.MatchString(name) {
		return fmt.Errorf("field name %q must match %s", name, FieldNamePattern.String())
	}

	if _, ok := reservedFields[name]; ok {
		return fmt.Errorf("field name %q is reserved", name)
	}

	return nil
}

// ValidateRecordID проверяет идентификатор записи
func ValidateRecordID(id string) error {
	if id == "" {
		return fmt.Errorf("record id cannot be empty")
	}

	if !RecordIDPattern.MatchString(id) {
		return fmt.Errorf("record id %q has invalid format", id)
	}

	return nil
}
