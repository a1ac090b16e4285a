package schema

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Env: окружение вычисляемого выражения.
type Env map[string]any

var stmtRe = regexp.MustCompile(`\{\{([\s\S]*?)\}\}`)

var exprOptions = []expr.Option{
	expr.AllowUndefinedVariables(),
}

// IsExpression: строка вида "{{ ... }}".
func IsExpression(s string) bool { return stmtRe.MatchString(s) }

func unwrap(stmt string) string {
	stmt = stmtRe.ReplaceAllStringFunc(stmt, func(m string) string {
		sub := stmtRe.FindStringSubmatch(m)
		if len(sub) > 1 {
			return sub[1]
		}
		return m
	})
	return strings.TrimSpace(stmt)
}

// CompileExpr компилирует выражение (обёртка {{ }} необязательна).
func CompileExpr(stmt string) (*vm.Program, error) {
	return expr.Compile(unwrap(stmt), exprOptions...)
}

// Compile готовит вычисляемое выражение поля и его array-подполей.
func (f *Field) Compile() error {
	if f.Computed != "" && f.program == nil {
		p, err := CompileExpr(f.Computed)
		if err != nil {
			return fmt.Errorf("field %q: computed: %w", f.Key, err)
		}
		f.program = p
	}
	if f.Array != nil {
		for i := range f.Array.Fields {
			if err := f.Array.Fields[i].Compile(); err != nil {
				return fmt.Errorf("field %q: %w", f.Key, err)
			}
		}
	}
	return nil
}

// Compute вычисляет значение поля. Чистая функция окружения.
func (f Field) Compute(env Env) (any, error) {
	if f.ComputeFunc != nil {
		return f.ComputeFunc(env), nil
	}
	if f.Computed == "" {
		return nil, nil
	}
	p := f.program
	if p == nil {
		var err error
		if p, err = CompileExpr(f.Computed); err != nil {
			return nil, err
		}
	}
	return expr.Run(p, map[string]any(env))
}

func plainItems(items []Record) []any {
	out := make([]any, len(items))
	for i, it := range items {
		out[i] = map[string]any(it)
	}
	return out
}

func plainRecord(rec Record) map[string]any {
	m := make(map[string]any, len(rec))
	for k, v := range rec {
		if items, ok := v.([]Record); ok {
			m[k] = plainItems(items)
			continue
		}
		m[k] = v
	}
	return m
}

// RecordEnv: ключи записи на верхнем уровне плюс "record".
func RecordEnv(rec Record) Env {
	plain := plainRecord(rec)
	env := make(Env, len(plain)+1)
	for k, v := range plain {
		env[k] = v
	}
	env["record"] = plain
	return env
}

// ItemEnv: окружение подполя строки массива (item, items, record, index).
func ItemEnv(item Record, items []Record, rec Record, index int) Env {
	plain := plainRecord(item)
	env := make(Env, len(plain)+4)
	for k, v := range plain {
		env[k] = v
	}
	env["item"] = plain
	env["items"] = plainItems(items)
	env["record"] = plainRecord(rec)
	env["index"] = index
	return env
}

// ResolveFill вычисляет значение fill-forward: ключ исходной записи либо выражение {{ }}.
func ResolveFill(source string, raw Record, env Env) (any, error) {
	if !IsExpression(source) {
		return raw[source], nil
	}
	full := make(Env, len(env)+1)
	for k, v := range env {
		full[k] = v
	}
	full["raw"] = plainRecord(raw)
	p, err := CompileExpr(source)
	if err != nil {
		return nil, err
	}
	return expr.Run(p, map[string]any(full))
}
