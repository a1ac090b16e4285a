package api

import (
	"errors"
	"sync"
	"time"

	"crmconsole/internal/board"
	"crmconsole/internal/form"
	"crmconsole/internal/grid"
	"crmconsole/internal/lookup"

	"github.com/oklog/ulid/v2"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionKind: какой компонент живёт в сессии.
type SessionKind string

const (
	KindGrid   SessionKind = "grid"
	KindBoard  SessionKind = "board"
	KindForm   SessionKind = "form"
	KindLookup SessionKind = "lookup"
)

// DefaultSessionTTL: простой сессии до удаления.
const DefaultSessionTTL = 30 * time.Minute

// maxNotices: сколько непрочитанных уведомлений хранит сессия.
const maxNotices = 20

// Session: экземпляр компонента консоли. Выделение, сортировка и кэши
// живут ровно столько, сколько сессия.
type Session struct {
	ID     string
	Kind   SessionKind
	Screen string

	Grid   *grid.Grid
	Board  *board.Board
	Form   *form.Form
	Lookup *lookup.Resolver

	// Parent: сессия формы или таблицы, в которую пишет async-select.
	Parent *Session

	mu      sync.Mutex
	notices []string
	touched time.Time
}

// Notify складывает ошибку мутации в очередь уведомлений.
func (s *Session) Notify(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, err.Error())
	if len(s.notices) > maxNotices {
		s.notices = s.notices[len(s.notices)-maxNotices:]
	}
}

// Drain отдаёт накопленные уведомления и очищает очередь.
func (s *Session) Drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.notices
	s.notices = nil
	return out
}

func (s *Session) close() {
	if s.Lookup != nil {
		s.Lookup.Close()
	}
}

// Sessions: реестр сессий по ulid. Просроченные удаляются при каждом Add.
type Sessions struct {
	mu    sync.Mutex
	items map[string]*Session
	ttl   time.Duration
	now   func() time.Time
}

func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{items: map[string]*Session{}, ttl: ttl, now: time.Now}
}

// NewSession создаёт сессию с новым ulid. В реестр её кладёт Add,
// когда компонент уже подключён.
func NewSession(kind SessionKind, screen string) *Session {
	return &Session{ID: ulid.Make().String(), Kind: kind, Screen: screen}
}

func (s *Sessions) Add(sess *Session) {
	s.mu.Lock()
	expired := s.sweepLocked()
	sess.touched = s.now()
	s.items[sess.ID] = sess
	s.mu.Unlock()

	// Close ждёт запросы поиска, поэтому вне блокировки
	for _, old := range expired {
		old.close()
	}
}

// Get возвращает сессию нужного вида и продлевает её жизнь.
func (s *Sessions) Get(id string, kind SessionKind) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.items[id]
	if !ok || (kind != "" && sess.Kind != kind) {
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if s.now().Sub(sess.touched) > s.ttl {
		delete(s.items, id)
		s.mu.Unlock()
		sess.close()
		return nil, ErrSessionNotFound
	}
	sess.touched = s.now()
	s.mu.Unlock()
	return sess, nil
}

func (s *Sessions) Remove(id string) bool {
	s.mu.Lock()
	sess, ok := s.items[id]
	delete(s.items, id)
	s.mu.Unlock()
	if ok {
		sess.close()
	}
	return ok
}

func (s *Sessions) sweepLocked() []*Session {
	now := s.now()
	var expired []*Session
	for id, sess := range s.items {
		if now.Sub(sess.touched) > s.ttl {
			delete(s.items, id)
			expired = append(expired, sess)
		}
	}
	return expired
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Close закрывает все сессии (останов сервера).
func (s *Sessions) Close() {
	s.mu.Lock()
	items := s.items
	s.items = map[string]*Session{}
	s.mu.Unlock()
	for _, sess := range items {
		sess.close()
	}
}
