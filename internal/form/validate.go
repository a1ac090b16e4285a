package form

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"crmconsole/internal/schema"

	"github.com/spf13/cast"
)

// ValidationError: ошибки по ключам полей. Блокирует отправку.
type ValidationError struct {
	Errors map[string]string `json:"errors"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Errors))
	for k := range e.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Errors[k]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

var emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

var (
	patternMu    sync.Mutex
	patternCache = map[string]*regexp.Regexp{}
)

func compilePattern(p string) (*regexp.Regexp, error) {
	patternMu.Lock()
	defer patternMu.Unlock()
	if re, ok := patternCache[p]; ok {
		return re, nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	patternCache[p] = re
	return re, nil
}

// falsy: пустое значение для проверки required (nil, "", false, 0).
func falsy(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return cast.ToFloat64(t) == 0
	}
	return false
}

// present: значение задано, пользовательские правила применяются.
func present(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s != ""
	}
	return true
}

// validateField: сначала required, затем правила и Check только при наличии значения.
func validateField(f schema.Field, v any, rec schema.Record) string {
	if f.Required && falsy(v) {
		return f.Title() + " is required"
	}
	if !present(v) {
		return ""
	}
	if msg := kindRule(f, v); msg != "" {
		return msg
	}
	if f.Validate != nil {
		if msg := ruleCheck(*f.Validate, v); msg != "" {
			if f.Validate.Message != "" {
				return f.Validate.Message
			}
			return msg
		}
	}
	if f.Check != nil {
		return f.Check(v, rec)
	}
	return ""
}

func kindRule(f schema.Field, v any) string {
	switch {
	case f.Kind == schema.KindEmail:
		if !emailRe.MatchString(cast.ToString(v)) {
			return "must be a valid email"
		}
	case f.Kind.Numeric():
		if _, err := cast.ToFloat64E(v); err != nil {
			return "must be a number"
		}
	case f.Kind == schema.KindSelect && len(f.Options) > 0:
		if _, ok := f.OptionLabel(cast.ToString(v)); !ok {
			return "unknown option"
		}
	}
	return ""
}

func ruleCheck(r schema.Validation, v any) string {
	if r.Min != nil || r.Max != nil {
		n, err := cast.ToFloat64E(v)
		if err != nil {
			return "must be a number"
		}
		if r.Min != nil && n < *r.Min {
			return fmt.Sprintf("must be at least %v", *r.Min)
		}
		if r.Max != nil && n > *r.Max {
			return fmt.Sprintf("must be at most %v", *r.Max)
		}
	}
	s, isStr := v.(string)
	if !isStr {
		return ""
	}
	n := utf8.RuneCountInString(s)
	if r.MinLength > 0 && n < r.MinLength {
		return fmt.Sprintf("must be at least %d characters", r.MinLength)
	}
	if r.MaxLength > 0 && n > r.MaxLength {
		return fmt.Sprintf("must be at most %d characters", r.MaxLength)
	}
	if r.Pattern != "" {
		re, err := compilePattern(r.Pattern)
		if err != nil {
			return "invalid pattern"
		}
		if !re.MatchString(s) {
			return "has invalid format"
		}
	}
	return ""
}

// ItemErrorKey: ключ ошибки подполя строки массива, например items[0].quantity.
func ItemErrorKey(key string, index int, sub string) string {
	return fmt.Sprintf("%s[%d].%s", key, index, sub)
}
