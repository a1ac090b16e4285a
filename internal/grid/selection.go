package grid

// Selection: выбранные строки видимой страницы.
// Всегда подмножество видимых идентификаторов.
type Selection struct {
	visible  []string
	selected map[string]struct{}
}

// SetVisible задаёт новый видимый набор и сбрасывает выбор.
func (s *Selection) SetVisible(ids []string) {
	s.visible = append(s.visible[:0:0], ids...)
	s.selected = nil
}

func (s *Selection) isVisible(id string) bool {
	for _, v := range s.visible {
		if v == id {
			return true
		}
	}
	return false
}

// SelectRow переключает строку. Невидимые id игнорируются.
func (s *Selection) SelectRow(id string) {
	if !s.isVisible(id) {
		return
	}
	if s.selected == nil {
		s.selected = make(map[string]struct{})
	}
	if _, ok := s.selected[id]; ok {
		delete(s.selected, id)
		return
	}
	s.selected[id] = struct{}{}
}

// SelectAll переключает между «ничего» и «все видимые».
func (s *Selection) SelectAll() {
	if s.AllSelected() {
		s.selected = nil
		return
	}
	s.selected = make(map[string]struct{}, len(s.visible))
	for _, id := range s.visible {
		s.selected[id] = struct{}{}
	}
}

func (s *Selection) Clear() { s.selected = nil }

// AllSelected: есть видимые строки и выбраны все.
func (s *Selection) AllSelected() bool {
	if len(s.visible) == 0 {
		return false
	}
	for _, id := range s.visible {
		if _, ok := s.selected[id]; !ok {
			return false
		}
	}
	return true
}

func (s *Selection) Has(id string) bool {
	_, ok := s.selected[id]
	return ok
}

func (s *Selection) Len() int { return len(s.selected) }

// IDs: выбранные id в порядке показа.
func (s *Selection) IDs() []string {
	out := make([]string, 0, len(s.selected))
	for _, id := range s.visible {
		if _, ok := s.selected[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
