package form

import (
	"fmt"

	"crmconsole/internal/schema"

	"go.uber.org/zap"
)

// initItemsLocked приводит значение array-поля к []schema.Record и добирает строки до min_items.
func (f *Form) initItemsLocked(fd schema.Field) []schema.Record {
	src := f.values.Items(fd.Key)
	items := make([]schema.Record, 0, len(src))
	for _, it := range src {
		items = append(items, it.Clone())
	}
	if fd.Array != nil && f.mode == ModeCreate {
		for len(items) < fd.Array.MinItems {
			items = append(items, newItem(fd))
		}
	}
	return items
}

func newItem(fd schema.Field) schema.Record {
	it := schema.Record{}
	if fd.Array == nil {
		return it
	}
	for _, sub := range fd.Array.Fields {
		if sub.DefaultValue != nil && !sub.IsComputed() {
			it[sub.Key] = sub.DefaultValue
		}
	}
	return it
}

func (f *Form) arrayField(key string) (schema.Field, error) {
	fd, err := f.field(key)
	if err != nil {
		return fd, err
	}
	if fd.Kind != schema.KindArray || fd.Array == nil {
		return fd, fmt.Errorf("%w: %s", ErrNotArray, key)
	}
	return fd, nil
}

func itemField(fd schema.Field, sub string) (schema.Field, error) {
	for _, s := range fd.Array.Fields {
		if s.Key == sub {
			if !s.IsEditable() {
				return s, fmt.Errorf("%w: %s.%s", ErrReadOnly, fd.Key, sub)
			}
			return s, nil
		}
	}
	return schema.Field{}, fmt.Errorf("%w: %s.%s", ErrUnknownField, fd.Key, sub)
}

// clearItemErrorsLocked снимает ошибки строк массива: индексы после изменения сдвигаются.
func (f *Form) clearItemErrorsLocked(key string) {
	prefix := key + "["
	for k := range f.errors {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(f.errors, k)
		}
	}
	delete(f.errors, key)
}

// AddItem добавляет строку, если не достигнут max_items.
func (f *Form) AddItem(key string) error {
	fd, err := f.arrayField(key)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	items := f.values.Items(key)
	if fd.Array.MaxItems > 0 && len(items) >= fd.Array.MaxItems {
		return fmt.Errorf("%w: %s (max %d)", ErrMaxItems, key, fd.Array.MaxItems)
	}
	next := make([]schema.Record, len(items), len(items)+1)
	copy(next, items)
	f.values[key] = append(next, newItem(fd))
	delete(f.errors, key)
	return nil
}

// RemoveItem удаляет строку, если не достигнут min_items.
func (f *Form) RemoveItem(key string, index int) error {
	fd, err := f.arrayField(key)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	items := f.values.Items(key)
	if index < 0 || index >= len(items) {
		return fmt.Errorf("%w: %s[%d]", ErrBadIndex, key, index)
	}
	if len(items) <= fd.Array.MinItems {
		return fmt.Errorf("%w: %s (min %d)", ErrMinItems, key, fd.Array.MinItems)
	}
	next := make([]schema.Record, 0, len(items)-1)
	next = append(next, items[:index]...)
	next = append(next, items[index+1:]...)
	f.values[key] = next
	f.clearItemErrorsLocked(key)
	return nil
}

// SetItemValue меняет подполе строки. Строка заменяется копией.
func (f *Form) SetItemValue(key string, index int, sub string, value any) error {
	return f.updateItem(key, index, sub, func(it schema.Record, _ schema.Field) error {
		it[sub] = value
		return nil
	})
}

// ApplyItemSelection: выбор в async-select подполя строки. Значение и все
// fill_fields применяются одним обновлением строки.
func (f *Form) ApplyItemSelection(key string, index int, sub string, value any, raw schema.Record) error {
	return f.updateItem(key, index, sub, func(it schema.Record, sf schema.Field) error {
		it[sub] = value
		if raw == nil {
			return nil
		}
		items := f.values.Items(key)
		env := schema.ItemEnv(it, items, f.values, index)
		filled := make(map[string]any, len(sf.FillFields))
		for target, source := range sf.FillFields {
			v, err := schema.ResolveFill(source, raw, env)
			if err != nil {
				return fmt.Errorf("fill %s: %w", target, err)
			}
			filled[target] = v
		}
		for target, v := range filled {
			it[target] = v
		}
		return nil
	})
}

func (f *Form) updateItem(key string, index int, sub string, fn func(it schema.Record, sf schema.Field) error) error {
	fd, err := f.arrayField(key)
	if err != nil {
		return err
	}
	sf, err := itemField(fd, sub)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	items := f.values.Items(key)
	if index < 0 || index >= len(items) {
		return fmt.Errorf("%w: %s[%d]", ErrBadIndex, key, index)
	}
	it := items[index].Clone()
	if err := fn(it, sf); err != nil {
		return err
	}
	next := make([]schema.Record, len(items))
	copy(next, items)
	next[index] = it
	f.values[key] = next

	delete(f.errors, ItemErrorKey(key, index, sub))
	for target := range sf.FillFields {
		delete(f.errors, ItemErrorKey(key, index, target))
	}
	return nil
}

// Items: копия строк массива.
func (f *Form) Items(key string) []schema.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	src := f.values.Items(key)
	out := make([]schema.Record, len(src))
	for i, it := range src {
		out[i] = it.Clone()
	}
	return out
}

func (f *Form) validateItemsLocked(fd schema.Field, errs map[string]string) {
	items := f.values.Items(fd.Key)
	if fd.Array.MinItems > 0 && len(items) < fd.Array.MinItems {
		errs[fd.Key] = fmt.Sprintf("at least %d items required", fd.Array.MinItems)
	}
	if fd.Array.MaxItems > 0 && len(items) > fd.Array.MaxItems {
		errs[fd.Key] = fmt.Sprintf("at most %d items allowed", fd.Array.MaxItems)
	}
	for i, it := range items {
		for _, sub := range fd.Array.Fields {
			if !sub.IsEditable() {
				continue
			}
			if msg := validateField(sub, it[sub.Key], f.values); msg != "" {
				errs[ItemErrorKey(fd.Key, i, sub.Key)] = msg
			}
		}
	}
}

// computeItems возвращает копии строк с посчитанными подполями (item, items, record, index).
func computeItems(log *zap.Logger, fd schema.Field, items []schema.Record, rec schema.Record) []schema.Record {
	out := make([]schema.Record, len(items))
	for i, it := range items {
		c := it.Clone()
		for _, sub := range fd.Array.Fields {
			if !sub.IsComputed() {
				continue
			}
			v, err := sub.Compute(schema.ItemEnv(c, items, rec, i))
			if err != nil {
				log.Debug("item computed failed", zap.String("field", fd.Key), zap.String("sub", sub.Key), zap.Error(err))
				continue
			}
			c[sub.Key] = v
		}
		out[i] = c
	}
	return out
}

// rawItems: строки для отправки без вычисляемых подполей и служебных ключей.
func rawItems(fd schema.Field, items []schema.Record) []schema.Record {
	computed := map[string]bool{}
	if fd.Array != nil {
		for _, sub := range fd.Array.Fields {
			if sub.IsComputed() && !sub.EditableComputed {
				computed[sub.Key] = true
			}
		}
	}
	out := make([]schema.Record, len(items))
	for i, it := range items {
		c := schema.Record{}
		for k, v := range it {
			if computed[k] || isInternalKey(k) {
				continue
			}
			c[k] = v
		}
		out[i] = c
	}
	return out
}
