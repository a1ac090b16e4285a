// Package form: редактирование одной записи. Видимые поля, проверка,
// повторяемые строки и вычисляемые итоги.
package form

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"crmconsole/internal/render"
	"crmconsole/internal/schema"

	"go.uber.org/zap"
)

var (
	ErrMaxItems     = errors.New("max items reached")
	ErrMinItems     = errors.New("min items reached")
	ErrUnknownField = errors.New("unknown field")
	ErrReadOnly     = errors.New("field is read-only")
	ErrNotArray     = errors.New("field is not an array")
	ErrBadIndex     = errors.New("item index out of range")
	ErrNoEndpoint   = errors.New("endpoint not configured")
)

type Mode string

const (
	ModeCreate Mode = "create"
	ModeEdit   Mode = "edit"
)

// Saver: сохранение записи.
type Saver interface {
	Create(ctx context.Context, endpoint string, rec schema.Record) (schema.Record, error)
	Update(ctx context.Context, endpoint, id string, rec schema.Record) (schema.Record, error)
}

type Notify func(err error)

type Form struct {
	screen       *schema.Screen
	saver        Saver
	log          *zap.Logger
	notify       Notify
	onDataChange func()

	mu     sync.Mutex
	mode   Mode
	id     string
	values schema.Record
	errors map[string]string
}

type Option func(*Form)

func WithLogger(l *zap.Logger) Option { return func(f *Form) { f.log = l } }
func WithNotify(n Notify) Option      { return func(f *Form) { f.notify = n } }
func OnDataChange(fn func()) Option   { return func(f *Form) { f.onDataChange = fn } }

// New создаёт форму в режиме создания.
func New(screen *schema.Screen, saver Saver, opts ...Option) *Form {
	f := &Form{screen: screen, saver: saver, log: zap.NewNop()}
	for _, o := range opts {
		o(f)
	}
	f.log = f.log.With(zap.String("screen", screen.Name))
	f.Init(nil)
	return f
}

// Init полностью заменяет состояние формы и очищает ошибки.
// Запись с идентификатором открывает форму на редактирование.
func (f *Form) Init(initial schema.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.values = initial.Clone()
	if f.values == nil {
		f.values = schema.Record{}
	}
	f.errors = map[string]string{}
	f.id = f.values.String(f.screen.IdentityKey())
	f.mode = ModeCreate
	if f.id != "" {
		f.mode = ModeEdit
	}

	for _, fd := range f.screen.Fields {
		if fd.Kind == schema.KindArray {
			f.values[fd.Key] = f.initItemsLocked(fd)
			continue
		}
		if _, ok := f.values[fd.Key]; !ok && f.mode == ModeCreate && fd.DefaultValue != nil {
			f.values[fd.Key] = fd.DefaultValue
		}
	}
}

func (f *Form) Mode() Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

func (f *Form) ID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id
}

// Fields: поля, которые форма показывает для ввода.
func (f *Form) Fields() []schema.Field {
	var out []schema.Field
	for _, fd := range f.screen.Fields {
		if fd.InForm() && fd.IsEditable() {
			out = append(out, fd)
		}
	}
	return out
}

func (f *Form) field(key string) (schema.Field, error) {
	fd, ok := f.screen.Field(key)
	if !ok {
		return schema.Field{}, fmt.Errorf("%w: %s", ErrUnknownField, key)
	}
	if !fd.IsEditable() {
		return schema.Field{}, fmt.Errorf("%w: %s", ErrReadOnly, key)
	}
	return fd, nil
}

// Set меняет значение и снимает ошибку только этого поля.
func (f *Form) Set(key string, value any) error {
	fd, err := f.field(key)
	if err != nil {
		return err
	}
	if fd.Kind == schema.KindArray {
		return fmt.Errorf("%w: use item operations for %s", ErrNotArray, key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	delete(f.errors, key)
	return nil
}

// ApplySelection: выбор в async-select верхнего уровня. Значение и fill_fields
// записываются одним изменением состояния.
func (f *Form) ApplySelection(key string, value any, raw schema.Record) error {
	fd, err := f.field(key)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	next := f.values.Clone()
	next[key] = value
	cleared := []string{key}
	if raw != nil {
		env := schema.RecordEnv(next)
		for target, source := range fd.FillFields {
			v, err := schema.ResolveFill(source, raw, env)
			if err != nil {
				return fmt.Errorf("fill %s: %w", target, err)
			}
			next[target] = v
			cleared = append(cleared, target)
		}
	}
	f.values = next
	for _, k := range cleared {
		delete(f.errors, k)
	}
	return nil
}

// Values: копия текущих значений.
func (f *Form) Values() schema.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values.Clone()
}

func (f *Form) Errors() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.errors))
	for k, v := range f.errors {
		out[k] = v
	}
	return out
}

// Validate проверяет все видимые редактируемые поля и строки массивов.
// Результат заменяет прежние ошибки.
func (f *Form) Validate() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.validateLocked()
}

func (f *Form) validateLocked() map[string]string {
	errs := map[string]string{}
	for _, fd := range f.Fields() {
		v := f.values[fd.Key]
		if fd.Kind == schema.KindArray && fd.Array != nil {
			f.validateItemsLocked(fd, errs)
			continue
		}
		if msg := validateField(fd, v, f.values); msg != "" {
			errs[fd.Key] = msg
		}
	}
	f.errors = errs
	out := make(map[string]string, len(errs))
	for k, v := range errs {
		out[k] = v
	}
	return out
}

// Payload: запись для сохранения, только видимые редактируемые поля,
// без вычисляемых полей и вычисляемых подполей строк.
func (f *Form) Payload() schema.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloadLocked()
}

func (f *Form) payloadLocked() schema.Record {
	out := schema.Record{}
	for _, fd := range f.Fields() {
		v, ok := f.values[fd.Key]
		if !ok {
			continue
		}
		if fd.Kind == schema.KindArray {
			out[fd.Key] = rawItems(fd, f.values.Items(fd.Key))
			continue
		}
		out[fd.Key] = v
	}
	return out
}

// Submit проверяет форму и сохраняет запись: POST в режиме создания, PUT в режиме редактирования.
func (f *Form) Submit(ctx context.Context) (schema.Record, error) {
	f.mu.Lock()
	if errs := f.validateLocked(); len(errs) > 0 {
		f.mu.Unlock()
		return nil, &ValidationError{Errors: errs}
	}
	payload := f.payloadLocked()
	mode, id := f.mode, f.id
	f.mu.Unlock()

	if f.saver == nil {
		return nil, ErrNoEndpoint
	}
	var (
		saved schema.Record
		err   error
	)
	switch mode {
	case ModeEdit:
		endpoint := firstNonEmpty(f.screen.Endpoints.Update, f.screen.Endpoints.List)
		if endpoint == "" {
			return nil, ErrNoEndpoint
		}
		saved, err = f.saver.Update(ctx, endpoint, id, payload)
	default:
		endpoint := firstNonEmpty(f.screen.Endpoints.Create, f.screen.Endpoints.List)
		if endpoint == "" {
			return nil, ErrNoEndpoint
		}
		saved, err = f.saver.Create(ctx, endpoint, payload)
	}
	if err != nil {
		f.log.Warn("submit failed", zap.String("mode", string(mode)), zap.String("id", id), zap.Error(err))
		if f.notify != nil {
			f.notify(err)
		}
		return nil, fmt.Errorf("%s: %w", mode, err)
	}
	if f.onDataChange != nil {
		f.onDataChange()
	}
	return saved, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Input: поле ввода в модели формы.
type Input struct {
	Field schema.Field `json:"field"`
	Value any          `json:"value"`
	Error string       `json:"error,omitempty"`
	Items []ItemView   `json:"items,omitempty"`

	// CanAdd/CanRemove: ограничения количества строк массива.
	CanAdd    bool `json:"canAdd,omitempty"`
	CanRemove bool `json:"canRemove,omitempty"`
}

type ItemView struct {
	Index    int               `json:"index"`
	Values   schema.Record     `json:"values"`
	Computed []render.Cell     `json:"computed,omitempty"`
	Errors   map[string]string `json:"errors,omitempty"`
}

type View struct {
	Mode      Mode              `json:"mode"`
	ID        string            `json:"id,omitempty"`
	Inputs    []Input           `json:"inputs"`
	Summaries []render.Cell     `json:"summaries"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// View пересчитывает вычисляемые значения на каждом вызове.
func (f *Form) View() View {
	f.mu.Lock()
	defer f.mu.Unlock()

	display := f.displayLocked()
	v := View{Mode: f.mode, ID: f.id, Errors: map[string]string{}}
	for k, e := range f.errors {
		v.Errors[k] = e
	}

	for _, fd := range f.Fields() {
		in := Input{Field: fd, Value: f.values[fd.Key], Error: f.errors[fd.Key]}
		if fd.Kind == schema.KindArray && fd.Array != nil {
			items := display.Items(fd.Key)
			for i, it := range items {
				iv := ItemView{Index: i, Values: f.values.Items(fd.Key)[i].Clone(), Errors: map[string]string{}}
				for _, sub := range fd.Array.Fields {
					if sub.IsComputed() {
						iv.Computed = append(iv.Computed, render.Value(sub, it[sub.Key], it))
					}
					if e, ok := f.errors[ItemErrorKey(fd.Key, i, sub.Key)]; ok {
						iv.Errors[sub.Key] = e
					}
				}
				in.Items = append(in.Items, iv)
			}
			in.CanAdd = fd.Array.MaxItems == 0 || len(items) < fd.Array.MaxItems
			in.CanRemove = len(items) > fd.Array.MinItems
		}
		v.Inputs = append(v.Inputs, in)
	}

	for _, fd := range f.screen.Fields {
		if fd.IsComputed() && fd.InForm() {
			v.Summaries = append(v.Summaries, render.Value(fd, display[fd.Key], display))
		}
	}
	return v
}

// displayLocked: копия значений с посчитанными подполями строк и итогами записи.
// Итоги считаются по порядку полей, поэтому могут опираться на предыдущие.
func (f *Form) displayLocked() schema.Record {
	display := f.values.Clone()
	for _, fd := range f.screen.Fields {
		if fd.Kind == schema.KindArray && fd.Array != nil {
			display[fd.Key] = computeItems(f.log, fd, display.Items(fd.Key), f.values)
		}
	}
	for _, fd := range f.screen.Fields {
		if !fd.IsComputed() {
			continue
		}
		v, err := fd.Compute(schema.RecordEnv(display))
		if err != nil {
			f.log.Debug("computed field failed", zap.String("field", fd.Key), zap.Error(err))
			continue
		}
		display[fd.Key] = v
	}
	return display
}

// Summary: значение вычисляемого поля записи для текущего состояния.
func (f *Form) Summary(key string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fd, ok := f.screen.Field(key)
	if !ok || !fd.IsComputed() {
		return nil, false
	}
	v, ok := f.displayLocked()[key]
	return v, ok
}

func isInternalKey(k string) bool {
	return strings.HasPrefix(k, schema.EnrichedPrefix) || strings.HasPrefix(k, schema.DisplayPrefix)
}
