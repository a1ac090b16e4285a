package board

import "fmt"

// Transition: одно перемещение карточки. Живёт от apply до commit или rollback.
type Transition struct {
	ID   string
	From string
	To   string
}

// validateTransition проверяет переход по карте разрешённых переходов.
// Пустая карта разрешает всё.
func validateTransition(transitions map[string][]string, current, target string) error {
	if len(transitions) == 0 {
		return nil
	}
	allowed, ok := transitions[current]
	if !ok {
		return fmt.Errorf("%w: unknown current state %q", ErrTransitionNotAllowed, current)
	}
	for _, s := range allowed {
		if s == target {
			return nil
		}
	}
	return fmt.Errorf("%w: %q -> %q", ErrTransitionNotAllowed, current, target)
}

// apply: оптимистичная фаза, статус карточки меняется до сетевого вызова.
func (b *Board) apply(t *Transition) {
	b.setStatusLocked(t.ID, t.To)
	b.pending[t.ID] = t
}

// commit: сервер подтвердил переход.
func (b *Board) commit(t *Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending[t.ID] == t {
		delete(b.pending, t.ID)
	}
}

// rollback возвращает прежний статус. Если карточку уже переместили
// дальше или данные перечитаны, её состояние не трогаем.
func (b *Board) rollback(t *Transition) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending[t.ID] != t {
		return false
	}
	delete(b.pending, t.ID)
	if b.statusLocked(t.ID) != t.To {
		return false
	}
	b.setStatusLocked(t.ID, t.From)
	return true
}
