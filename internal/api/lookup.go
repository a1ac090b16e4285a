package api

import (
	"errors"
	"fmt"
	"net/http"

	"crmconsole/internal/form"
	"crmconsole/internal/lookup"
	"crmconsole/internal/schema"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// ===== LOOKUP (ASYNC-SELECT) HANDLERS =====

var errNoLookup = errors.New("field has no lookup")

type lookupResponse struct {
	Session string      `json:"session"`
	View    lookup.View `json:"view"`
	Form    *form.View  `json:"form,omitempty"`
	Notices []string    `json:"notices,omitempty"`
}

func lookupResult(sess *Session) lookupResponse {
	out := lookupResponse{Session: sess.ID, View: sess.Lookup.View()}
	if p := sess.Parent; p != nil {
		if p.Form != nil {
			fv := p.Form.View()
			out.Form = &fv
		}
		out.Notices = p.Drain()
	}
	return out
}

func (con *Console) lookupSession(c *gin.Context) (*Session, bool) {
	sess, err := con.sessions.Get(c.Param("sid"), KindLookup)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return sess, true
}

func (con *Console) newResolver(cfg schema.Lookup, onChange lookup.ChangeFunc) *lookup.Resolver {
	opts := []lookup.ResolverOption{lookup.WithLogger(con.log)}
	if con.debounce > 0 {
		opts = append(opts, lookup.WithDebounce(con.debounce))
	}
	if onChange != nil {
		opts = append(opts, lookup.OnChange(onChange))
	}
	return lookup.New(cfg, con.backend, opts...)
}

// fieldLookup: контракт поиска поля или подполя строки массива.
func fieldLookup(s *schema.Screen, key, sub string) (schema.Lookup, error) {
	fd, ok := s.Field(key)
	if !ok {
		return schema.Lookup{}, fmt.Errorf("%w: %s", form.ErrUnknownField, key)
	}
	if sub != "" {
		if fd.Array == nil {
			return schema.Lookup{}, fmt.Errorf("%w: %s", form.ErrNotArray, key)
		}
		found := false
		for _, sf := range fd.Array.Fields {
			if sf.Key == sub {
				fd, found = sf, true
				break
			}
		}
		if !found {
			return schema.Lookup{}, fmt.Errorf("%w: %s.%s", form.ErrUnknownField, key, sub)
		}
	}
	if fd.Lookup == nil {
		return schema.Lookup{}, fmt.Errorf("%w: %s", errNoLookup, fd.Key)
	}
	return *fd.Lookup, nil
}

// filterLookup: поиск для async-select фильтра таблицы.
func filterLookup(s *schema.Screen, key string) (schema.Lookup, error) {
	flt, ok := s.Filter(key)
	if !ok {
		return schema.Lookup{}, fmt.Errorf("unknown filter: %s", key)
	}
	if flt.Endpoint != "" {
		return schema.Lookup{Endpoint: flt.Endpoint}, nil
	}
	if fd, ok := s.Field(key); ok && fd.Lookup != nil {
		return *fd.Lookup, nil
	}
	return schema.Lookup{}, fmt.Errorf("%w: %s", errNoLookup, key)
}

func lookupError(c *gin.Context, err error) {
	if errors.Is(err, errNoLookup) {
		badRequest(c, err.Error())
		return
	}
	writeError(c, err)
}

// POST /api/forms/:sid/lookups {field, index, sub}. Выбор записывается в форму
// вместе с fill_fields одним изменением.
func FormLookupHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		parent, ok := con.formSession(c)
		if !ok {
			return
		}
		var body struct {
			Field string `json:"field"`
			Index int    `json:"index"`
			Sub   string `json:"sub"`
		}
		if !bindBody(c, &body) {
			return
		}
		s, ok := con.screen(parent.Screen)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Screen not found"})
			return
		}
		cfg, err := fieldLookup(s, body.Field, body.Sub)
		if err != nil {
			lookupError(c, err)
			return
		}

		f := parent.Form
		var current any
		if body.Sub == "" {
			current = f.Values()[body.Field]
		} else {
			items := f.Items(body.Field)
			if body.Index < 0 || body.Index >= len(items) {
				writeError(c, fmt.Errorf("%w: %s[%d]", form.ErrBadIndex, body.Field, body.Index))
				return
			}
			current = items[body.Index][body.Sub]
		}

		key, index, sub := body.Field, body.Index, body.Sub
		onChange := func(value string, raw schema.Record) {
			var v any = value
			if value == "" {
				v = nil
			}
			var err error
			if sub == "" {
				err = f.ApplySelection(key, v, raw)
			} else {
				err = f.ApplyItemSelection(key, index, sub, v, raw)
			}
			if err != nil {
				con.log.Warn("lookup selection not applied", zap.String("field", key), zap.Error(err))
				parent.Notify(err)
			}
		}

		sess := NewSession(KindLookup, parent.Screen)
		sess.Parent = parent
		sess.Lookup = con.newResolver(cfg, onChange)
		if v := cast.ToString(current); v != "" {
			sess.Lookup.SetValue(v)
		}
		con.sessions.Add(sess)
		c.JSON(http.StatusCreated, lookupResult(sess))
	}
}

// POST /api/grids/:sid/lookups {filter}. Выбор ставит фильтр таблицы.
func GridLookupHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		parent, ok := con.gridSession(c)
		if !ok {
			return
		}
		var body struct {
			Filter string `json:"filter"`
		}
		if !bindBody(c, &body) {
			return
		}
		cfg, err := filterLookup(parent.Grid.Screen(), body.Filter)
		if err != nil {
			lookupError(c, err)
			return
		}
		g, key := parent.Grid, body.Filter
		onChange := func(value string, _ schema.Record) {
			ctx, cancel := con.background()
			defer cancel()
			if err := g.SetFilter(ctx, key, value); err != nil {
				con.log.Warn("lookup filter not applied", zap.String("filter", key), zap.Error(err))
				parent.Notify(err)
			}
		}

		sess := NewSession(KindLookup, parent.Screen)
		sess.Parent = parent
		sess.Lookup = con.newResolver(cfg, onChange)
		if v := g.State().Filters[key]; v != "" {
			sess.Lookup.SetValue(v)
		}
		con.sessions.Add(sess)
		c.JSON(http.StatusCreated, lookupResult(sess))
	}
}

// GET /api/lookups/:sid
func LookupViewHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sess, ok := con.lookupSession(c); ok {
			c.JSON(http.StatusOK, lookupResult(sess))
		}
	}
}

// POST /api/lookups/:sid/input {text}. Поиск уходит после паузы ввода;
// результат забирается через GET.
func LookupInputHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := con.lookupSession(c)
		if !ok {
			return
		}
		var body struct {
			Text string `json:"text"`
		}
		if !bindBody(c, &body) {
			return
		}
		sess.Lookup.Input(body.Text)
		c.JSON(http.StatusAccepted, lookupResult(sess))
	}
}

// POST /api/lookups/:sid/select {value}: выбор из текущих результатов.
func LookupSelectHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := con.lookupSession(c)
		if !ok {
			return
		}
		var body struct {
			Value string `json:"value"`
		}
		if !bindBody(c, &body) {
			return
		}
		if !sess.Lookup.SelectValue(body.Value) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Option not found: " + body.Value})
			return
		}
		c.JSON(http.StatusOK, lookupResult(sess))
	}
}

// POST /api/lookups/:sid/value {value}: значение пришло снаружи, подпись догружается.
func LookupValueHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := con.lookupSession(c)
		if !ok {
			return
		}
		var body struct {
			Value string `json:"value"`
		}
		if !bindBody(c, &body) {
			return
		}
		sess.Lookup.SetValue(body.Value)
		c.JSON(http.StatusOK, lookupResult(sess))
	}
}

// POST /api/lookups/:sid/clear
func LookupClearHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sess, ok := con.lookupSession(c); ok {
			sess.Lookup.Clear()
			c.JSON(http.StatusOK, lookupResult(sess))
		}
	}
}
