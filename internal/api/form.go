package api

import (
	"net/http"

	"crmconsole/internal/form"
	"crmconsole/internal/schema"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ===== FORM HANDLERS =====

type formResponse struct {
	Session string        `json:"session"`
	View    form.View     `json:"view"`
	Record  schema.Record `json:"record,omitempty"`
	Notices []string      `json:"notices,omitempty"`
}

func replyForm(c *gin.Context, sess *Session, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, formResponse{Session: sess.ID, View: sess.Form.View(), Notices: sess.Drain()})
}

func (con *Console) formSession(c *gin.Context) (*Session, bool) {
	sess, err := con.sessions.Get(c.Param("sid"), KindForm)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return sess, true
}

// refreshLinked перечитывает таблицу, из которой открыта форма.
func (con *Console) refreshLinked(gridSID string) func() {
	return func() {
		sess, err := con.sessions.Get(gridSID, KindGrid)
		if err != nil {
			return
		}
		ctx, cancel := con.background()
		defer cancel()
		if err := sess.Grid.Refresh(ctx); err != nil {
			con.log.Warn("linked grid refresh failed", zap.String("session", gridSID), zap.Error(err))
		}
	}
}

// POST /api/screens/:screen/form {id, grid}. С id форма открывается на редактирование;
// grid: сессия таблицы, которую нужно перечитать после сохранения.
func FormCreateHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := con.screen(c.Param("screen"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Screen not found"})
			return
		}
		var body struct {
			ID   string `json:"id"`
			Grid string `json:"grid"`
		}
		if !bindBody(c, &body) {
			return
		}

		var initial schema.Record
		if body.ID != "" {
			endpoint := s.Endpoints.Update
			if endpoint == "" {
				endpoint = s.Endpoints.List
			}
			if endpoint == "" || con.backend == nil {
				writeError(c, form.ErrNoEndpoint)
				return
			}
			rec, err := con.backend.Get(c.Request.Context(), endpoint, body.ID)
			if err != nil {
				writeError(c, err)
				return
			}
			initial = rec
		}

		sess := NewSession(KindForm, s.Name)
		opts := []form.Option{
			form.WithLogger(con.log),
			form.WithNotify(sess.Notify),
		}
		if body.Grid != "" {
			opts = append(opts, form.OnDataChange(con.refreshLinked(body.Grid)))
		}
		var saver form.Saver
		if con.backend != nil {
			saver = con.backend
		}
		sess.Form = form.New(s, saver, opts...)
		if initial != nil {
			sess.Form.Init(initial)
		}
		con.sessions.Add(sess)
		c.JSON(http.StatusCreated, formResponse{Session: sess.ID, View: sess.Form.View()})
	}
}

// GET /api/forms/:sid
func FormViewHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sess, ok := con.formSession(c); ok {
			replyForm(c, sess, nil)
		}
	}
}

// PATCH /api/forms/:sid/values {key: value}
func FormSetHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := con.formSession(c)
		if !ok {
			return
		}
		var body map[string]any
		if !bindBody(c, &body) {
			return
		}
		for k, v := range body {
			if err := sess.Form.Set(k, v); err != nil {
				writeError(c, err)
				return
			}
		}
		replyForm(c, sess, nil)
	}
}

// POST /api/forms/:sid/reset {record}: полная переинициализация.
func FormResetHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := con.formSession(c)
		if !ok {
			return
		}
		var body struct {
			Record schema.Record `json:"record"`
		}
		if !bindBody(c, &body) {
			return
		}
		sess.Form.Init(body.Record)
		replyForm(c, sess, nil)
	}
}

// POST /api/forms/:sid/items/:key
func FormAddItemHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sess, ok := con.formSession(c); ok {
			replyForm(c, sess, sess.Form.AddItem(c.Param("key")))
		}
	}
}

// DELETE /api/forms/:sid/items/:key/:index
func FormRemoveItemHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := con.formSession(c)
		if !ok {
			return
		}
		idx, ok := paramIndex(c, "index")
		if !ok {
			return
		}
		replyForm(c, sess, sess.Form.RemoveItem(c.Param("key"), idx))
	}
}

// PATCH /api/forms/:sid/items/:key/:index {sub: value}
func FormSetItemHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := con.formSession(c)
		if !ok {
			return
		}
		idx, ok := paramIndex(c, "index")
		if !ok {
			return
		}
		var body map[string]any
		if !bindBody(c, &body) {
			return
		}
		for sub, v := range body {
			if err := sess.Form.SetItemValue(c.Param("key"), idx, sub, v); err != nil {
				writeError(c, err)
				return
			}
		}
		replyForm(c, sess, nil)
	}
}

// POST /api/forms/:sid/validate. Ошибки: в view.errors, код всегда 200.
func FormValidateHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sess, ok := con.formSession(c); ok {
			sess.Form.Validate()
			replyForm(c, sess, nil)
		}
	}
}

// POST /api/forms/:sid/submit
func FormSubmitHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := con.formSession(c)
		if !ok {
			return
		}
		saved, err := sess.Form.Submit(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		status := http.StatusOK
		if sess.Form.Mode() == form.ModeCreate {
			status = http.StatusCreated
		}
		c.JSON(status, formResponse{Session: sess.ID, View: sess.Form.View(), Record: saved, Notices: sess.Drain()})
	}
}
