package schema

import (
	"strings"

	"github.com/expr-lang/expr/vm"
)

// Служебные ключи записи. Фильтры и поля не должны с ними совпадать.
const (
	KeyID        = "id"
	KeyCreatedAt = "created_at"
	KeyUpdatedAt = "updated_at"
	KeyVersion   = "version"

	EnrichedPrefix = "_enriched_"
	DisplayPrefix  = "_display_"
)

// Параметры адреса таблицы: сортировка и страница.
const (
	ParamSort  = "sort"
	ParamOrder = "order"
	ParamPage  = "page"
)

var reservedKeys = map[string]struct{}{
	KeyID: {}, KeyCreatedAt: {}, KeyUpdatedAt: {}, KeyVersion: {},
}

// IsReserved: ключ занят движком (идентичность, аудит, синтетика обогащения).
func IsReserved(key string) bool {
	if _, ok := reservedKeys[key]; ok {
		return true
	}
	return strings.HasPrefix(key, EnrichedPrefix) || strings.HasPrefix(key, DisplayPrefix)
}

// IsAddressKey: ключ занят адресом таблицы и не может быть фильтром.
func IsAddressKey(key string) bool {
	return key == ParamSort || key == ParamOrder || key == ParamPage
}

func EnrichedKey(field string) string { return EnrichedPrefix + field }
func DisplayKey(field string) string  { return DisplayPrefix + field }

// Option: значение для select/статуса.
type Option struct {
	Value string `yaml:"value" json:"value" validate:"required"`
	Label string `yaml:"label" json:"label"`
	Color string `yaml:"color,omitempty" json:"color,omitempty"`
}

// Enrichment описывает join: row[field] ищется в индексе коллекции по ForeignKey.
type Enrichment struct {
	Endpoint      string   `yaml:"endpoint" json:"endpoint" validate:"required"`
	ForeignKey    string   `yaml:"foreign_key,omitempty" json:"foreignKey,omitempty"`
	DisplayField  string   `yaml:"display_field,omitempty" json:"displayField,omitempty"`
	DisplayFields []string `yaml:"display_fields,omitempty" json:"displayFields,omitempty"`
	Separator     string   `yaml:"separator,omitempty" json:"separator,omitempty"`
}

func (e Enrichment) Key() string {
	if e.ForeignKey == "" {
		return KeyID
	}
	return e.ForeignKey
}

func (e Enrichment) Sep() string {
	if e.Separator == "" {
		return " "
	}
	return e.Separator
}

// Signature: стабильное представление дескриптора для детекции изменений.
func (e Enrichment) Signature() string {
	return e.Endpoint + "|" + e.Key() + "|" + e.DisplayField + "|" + strings.Join(e.DisplayFields, ",") + "|" + e.Sep()
}

// Lookup: контракт async-select.
type Lookup struct {
	Endpoint      string `yaml:"endpoint" json:"endpoint" validate:"required"`
	ValueKey      string `yaml:"value_key,omitempty" json:"valueKey,omitempty"`
	LabelKey      string `yaml:"label_key,omitempty" json:"labelKey,omitempty"`
	QueryParamKey string `yaml:"query_param,omitempty" json:"queryParamKey,omitempty"`
	MinChars      int    `yaml:"min_chars,omitempty" json:"minChars,omitempty" validate:"gte=0"`
	Limit         int    `yaml:"limit,omitempty" json:"limit,omitempty" validate:"gte=0"`
}

// WithDefaults заполняет пустые ключи значениями по умолчанию.
func (l Lookup) WithDefaults() Lookup {
	if l.ValueKey == "" {
		l.ValueKey = KeyID
	}
	if l.LabelKey == "" {
		l.LabelKey = "name"
	}
	if l.QueryParamKey == "" {
		l.QueryParamKey = "q"
	}
	if l.Limit == 0 {
		l.Limit = 20
	}
	return l
}

// Validation: декларативные правила поля. Проверяются только при наличии значения.
type Validation struct {
	Pattern   string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Min       *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max       *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	MinLength int      `yaml:"min_length,omitempty" json:"minLength,omitempty" validate:"gte=0"`
	MaxLength int      `yaml:"max_length,omitempty" json:"maxLength,omitempty" validate:"gte=0"`
	Message   string   `yaml:"message,omitempty" json:"message,omitempty"`
}

// ArraySpec: повторяемые строки (позиции счёта и т.п.).
type ArraySpec struct {
	Fields   []Field `yaml:"fields" json:"fields" validate:"dive"`
	MinItems int     `yaml:"min_items,omitempty" json:"minItems,omitempty" validate:"gte=0"`
	MaxItems int     `yaml:"max_items,omitempty" json:"maxItems,omitempty" validate:"gte=0"`
}

// CheckFunc: пользовательский валидатор (значение и вся редактируемая запись).
// Пустая строка: ошибки нет.
type CheckFunc func(value any, rec Record) string

// ComputeFunc: вычисляемое значение, альтернатива выражению.
type ComputeFunc func(env Env) any

// Field: описание колонки/поля.
type Field struct {
	Key          string            `yaml:"key" json:"key" validate:"required"`
	Label        string            `yaml:"label,omitempty" json:"label,omitempty"`
	Kind         Kind              `yaml:"kind,omitempty" json:"kind"`
	Editable     *bool             `yaml:"editable,omitempty" json:"editable,omitempty"`
	Sortable     bool              `yaml:"sortable,omitempty" json:"sortable,omitempty"`
	ShowInTable  *bool             `yaml:"show_in_table,omitempty" json:"showInTable,omitempty"`
	ShowInForm   *bool             `yaml:"show_in_form,omitempty" json:"showInForm,omitempty"`
	Required     bool              `yaml:"required,omitempty" json:"required,omitempty"`
	Placeholder  string            `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
	Options      []Option          `yaml:"options,omitempty" json:"options,omitempty" validate:"dive"`
	OptionsRef   string            `yaml:"options_ref,omitempty" json:"optionsRef,omitempty"`
	DefaultValue any               `yaml:"default,omitempty" json:"defaultValue,omitempty"`
	Computed     string            `yaml:"computed,omitempty" json:"computed,omitempty"`
	Enrich       *Enrichment       `yaml:"enrich,omitempty" json:"enrich,omitempty"`
	Lookup       *Lookup           `yaml:"lookup,omitempty" json:"lookup,omitempty"`
	FillFields   map[string]string `yaml:"fill_fields,omitempty" json:"fillFields,omitempty"`
	Validate     *Validation       `yaml:"validate,omitempty" json:"validate,omitempty"`
	Array        *ArraySpec        `yaml:"array,omitempty" json:"array,omitempty"`
	Currency     string            `yaml:"currency,omitempty" json:"currency,omitempty"`
	Precision    *int              `yaml:"precision,omitempty" json:"precision,omitempty"`
	Href         string            `yaml:"href,omitempty" json:"href,omitempty"`
	Width        int               `yaml:"width,omitempty" json:"width,omitempty"`

	// EditableComputed явно разрешает отправлять вычисляемое поле в payload.
	EditableComputed bool `yaml:"editable_computed,omitempty" json:"editableComputed,omitempty"`

	Check       CheckFunc   `yaml:"-" json:"-"`
	ComputeFunc ComputeFunc `yaml:"-" json:"-"`

	program *vm.Program
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// IsComputed: значение поля проекция записи, а не ввод пользователя.
func (f Field) IsComputed() bool { return f.Computed != "" || f.ComputeFunc != nil }

// IsEditable: вычисляемые и readonly поля по умолчанию не редактируются.
func (f Field) IsEditable() bool {
	if f.IsComputed() {
		return f.EditableComputed
	}
	if f.Kind == KindReadonly {
		return false
	}
	return boolOr(f.Editable, true)
}

func (f Field) InTable() bool { return boolOr(f.ShowInTable, true) }
func (f Field) InForm() bool  { return boolOr(f.ShowInForm, true) }

func (f Field) Title() string {
	if f.Label != "" {
		return f.Label
	}
	return f.Key
}

// OptionLabel возвращает подпись значения select; ok=false если значения нет в списке.
func (f Field) OptionLabel(value string) (string, bool) {
	for _, o := range f.Options {
		if o.Value == value {
			if o.Label == "" {
				return o.Value, true
			}
			return o.Label, true
		}
	}
	return "", false
}

// Filter: фильтр; Key один в один отображается на параметр адреса.
type Filter struct {
	Key        string   `yaml:"key" json:"key" validate:"required"`
	Label      string   `yaml:"label,omitempty" json:"label,omitempty"`
	Kind       Kind     `yaml:"kind,omitempty" json:"kind"`
	Options    []Option `yaml:"options,omitempty" json:"options,omitempty" validate:"dive"`
	OptionsRef string   `yaml:"options_ref,omitempty" json:"optionsRef,omitempty"`
	Endpoint   string   `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
}

type Actions struct {
	Create     bool `yaml:"create,omitempty" json:"create"`
	Edit       bool `yaml:"edit,omitempty" json:"edit"`
	Delete     bool `yaml:"delete,omitempty" json:"delete"`
	BulkDelete bool `yaml:"bulk_delete,omitempty" json:"bulkDelete"`
	Export     bool `yaml:"export,omitempty" json:"export"`
}

// Action: имя возможности для предиката прав.
type Action string

const (
	ActionCreate     Action = "create"
	ActionEdit       Action = "edit"
	ActionDelete     Action = "delete"
	ActionBulkDelete Action = "bulkDelete"
	ActionExport     Action = "export"
)

// Allows: действие включено в схеме экрана.
func (a Actions) Allows(act Action) bool {
	switch act {
	case ActionCreate:
		return a.Create
	case ActionEdit:
		return a.Edit
	case ActionDelete:
		return a.Delete
	case ActionBulkDelete:
		return a.BulkDelete
	case ActionExport:
		return a.Export
	}
	return false
}

type Endpoints struct {
	List         string `yaml:"list,omitempty" json:"list,omitempty"`
	Create       string `yaml:"create,omitempty" json:"create,omitempty"`
	Update       string `yaml:"update,omitempty" json:"update,omitempty"`
	Delete       string `yaml:"delete,omitempty" json:"delete,omitempty"`
	BulkDelete   string `yaml:"bulk_delete,omitempty" json:"bulkDelete,omitempty"`
	UpdateStatus string `yaml:"update_status,omitempty" json:"updateStatus,omitempty"`
}

type BoardColumn struct {
	Value string `yaml:"value" json:"value" validate:"required"`
	Label string `yaml:"label,omitempty" json:"label,omitempty"`
	Limit int    `yaml:"limit,omitempty" json:"limit,omitempty" validate:"gte=0"`
	Color string `yaml:"color,omitempty" json:"color,omitempty"`
}

// BoardSpec: канбан по полю статуса.
type BoardSpec struct {
	StatusField string              `yaml:"status_field" json:"statusField" validate:"required"`
	Columns     []BoardColumn       `yaml:"columns,omitempty" json:"columns" validate:"dive"`
	OptionsRef  string              `yaml:"options_ref,omitempty" json:"optionsRef,omitempty"`
	Transitions map[string][]string `yaml:"transitions,omitempty" json:"transitions,omitempty"`
	TitleField  string              `yaml:"title_field,omitempty" json:"titleField,omitempty"`
}

// Screen: конфигурация одного экрана консоли.
type Screen struct {
	Name                string     `yaml:"name" json:"name" validate:"required"`
	Title               string     `yaml:"title,omitempty" json:"title,omitempty"`
	IDKey               string     `yaml:"id_key,omitempty" json:"idKey,omitempty"`
	Fields              []Field    `yaml:"fields" json:"fields" validate:"required,dive"`
	Filters             []Filter   `yaml:"filters,omitempty" json:"filters,omitempty" validate:"dive"`
	Actions             Actions    `yaml:"actions,omitempty" json:"actions"`
	Endpoints           Endpoints  `yaml:"endpoints,omitempty" json:"endpoints"`
	ServerSideFiltering bool       `yaml:"server_side_filtering,omitempty" json:"serverSideFiltering"`
	PageSize            int        `yaml:"page_size,omitempty" json:"pageSize,omitempty" validate:"gte=0"`
	Board               *BoardSpec `yaml:"board,omitempty" json:"board,omitempty"`
}

// Field ищет поле по ключу.
func (s *Screen) Field(key string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// Filter ищет фильтр по ключу.
func (s *Screen) Filter(key string) (Filter, bool) {
	for _, f := range s.Filters {
		if f.Key == key {
			return f, true
		}
	}
	return Filter{}, false
}

func (s *Screen) TableFields() []Field {
	out := make([]Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.InTable() {
			out = append(out, f)
		}
	}
	return out
}

// EnrichedFields: поля с дескриптором обогащения.
func (s *Screen) EnrichedFields() []Field {
	var out []Field
	for _, f := range s.Fields {
		if f.Enrich != nil {
			out = append(out, f)
		}
	}
	return out
}

func (s *Screen) IdentityKey() string {
	if s.IDKey == "" {
		return KeyID
	}
	return s.IDKey
}
