package collection

import (
	"fmt"
	"net/http"

	"crmconsole/internal/schema"

	"github.com/spf13/cast"
)

type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Коды ошибок
const (
	CodeRequired        = "required"
	CodeTypeMismatch    = "type_mismatch"
	CodeEnumInvalid     = "enum_invalid"
	CodeNotFound        = "not_found"
	CodeVersionConflict = "version_conflict"
)

func ferr(code, field, msg string) FieldError {
	return FieldError{Code: code, Field: field, Message: msg}
}

func statusForErrors(errs []FieldError) int {
	for _, e := range errs {
		if e.Code == CodeVersionConflict {
			return http.StatusConflict
		}
	}
	return http.StatusBadRequest
}

// validateRecord проверяет запись по экрану коллекции: обязательные поля,
// числовые виды и значения select. partial=true: проверяются только переданные ключи.
func validateRecord(s *schema.Screen, obj map[string]any, partial bool) []FieldError {
	var errs []FieldError
	for _, f := range s.Fields {
		if !f.IsEditable() {
			continue
		}
		v, ok := obj[f.Key]
		if !ok {
			if f.Required && !partial {
				errs = append(errs, ferr(CodeRequired, f.Key, fmt.Sprintf("Field '%s' is required", f.Key)))
			}
			continue
		}
		if v == nil {
			if f.Required {
				errs = append(errs, ferr(CodeRequired, f.Key, fmt.Sprintf("Field '%s' is required", f.Key)))
			}
			continue
		}
		switch {
		case f.Kind.Numeric():
			if _, err := cast.ToFloat64E(v); err != nil {
				errs = append(errs, ferr(CodeTypeMismatch, f.Key, fmt.Sprintf("Field '%s' must be a number", f.Key)))
			}
		case f.Kind == schema.KindBoolean:
			if _, isBool := v.(bool); !isBool {
				errs = append(errs, ferr(CodeTypeMismatch, f.Key, fmt.Sprintf("Field '%s' must be a boolean", f.Key)))
			}
		case f.Kind == schema.KindSelect && len(f.Options) > 0:
			if _, known := f.OptionLabel(cast.ToString(v)); !known {
				errs = append(errs, ferr(CodeEnumInvalid, f.Key, fmt.Sprintf("Field '%s' has unknown value %v", f.Key, v)))
			}
		}
	}
	return errs
}
