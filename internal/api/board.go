package api

import (
	"net/http"

	"crmconsole/internal/board"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ===== BOARD HANDLERS =====

type boardResponse struct {
	Session string     `json:"session"`
	View    board.View `json:"view"`
	Notices []string   `json:"notices,omitempty"`
}

func replyBoard(c *gin.Context, sess *Session, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, boardResponse{Session: sess.ID, View: sess.Board.View(), Notices: sess.Drain()})
}

func (con *Console) boardSession(c *gin.Context) (*Session, bool) {
	sess, err := con.sessions.Get(c.Param("sid"), KindBoard)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return sess, true
}

// POST /api/screens/:screen/board
func BoardCreateHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := con.screen(c.Param("screen"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Screen not found"})
			return
		}
		sess := NewSession(KindBoard, s.Name)
		b, err := board.New(s, con.backend,
			board.WithLogger(con.log),
			board.WithNotify(sess.Notify),
		)
		if err != nil {
			writeError(c, err)
			return
		}
		sess.Board = b
		if err := b.Refresh(c.Request.Context()); err != nil {
			con.log.Warn("board initial load failed", zap.String("screen", s.Name), zap.Error(err))
		}
		con.sessions.Add(sess)
		c.JSON(http.StatusCreated, boardResponse{Session: sess.ID, View: b.View(), Notices: sess.Drain()})
	}
}

// GET /api/boards/:sid
func BoardViewHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sess, ok := con.boardSession(c); ok {
			replyBoard(c, sess, nil)
		}
	}
}

// POST /api/boards/:sid/refresh
func BoardRefreshHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sess, ok := con.boardSession(c); ok {
			_ = sess.Board.Refresh(c.Request.Context())
			replyBoard(c, sess, nil)
		}
	}
}

// POST /api/boards/:sid/move {id, to}. Перенос в свою же колонку: без запроса.
func BoardMoveHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := con.boardSession(c)
		if !ok {
			return
		}
		var body struct {
			ID string `json:"id"`
			To string `json:"to"`
		}
		if !bindBody(c, &body) {
			return
		}
		if body.ID == "" || body.To == "" {
			badRequest(c, "Expected {id, to}")
			return
		}
		replyBoard(c, sess, sess.Board.Move(c.Request.Context(), body.ID, body.To))
	}
}
