package api

import (
	"net/http"
	"net/url"

	"crmconsole/internal/grid"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ===== GRID HANDLERS =====

type gridResponse struct {
	Session string    `json:"session"`
	View    grid.View `json:"view"`
	Query   string    `json:"query"`
	Notices []string  `json:"notices,omitempty"`
}

func gridResult(sess *Session) gridResponse {
	return gridResponse{
		Session: sess.ID,
		View:    sess.Grid.View(),
		Query:   sess.Grid.Address().Encode(),
		Notices: sess.Drain(),
	}
}

// replyGrid отдаёт состояние таблицы; ошибка операции уходит кодом ответа.
func replyGrid(c *gin.Context, sess *Session, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gridResult(sess))
}

func (con *Console) gridSession(c *gin.Context) (*Session, bool) {
	sess, err := con.sessions.Get(c.Param("sid"), KindGrid)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return sess, true
}

// POST /api/screens/:screen/grid {query}
func GridCreateHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := con.screen(c.Param("screen"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Screen not found"})
			return
		}
		var body struct {
			Query string `json:"query"`
		}
		if !bindBody(c, &body) {
			return
		}
		q, err := url.ParseQuery(body.Query)
		if err != nil {
			badRequest(c, "Invalid query: "+err.Error())
			return
		}

		sess := NewSession(KindGrid, s.Name)
		opts := []grid.Option{
			grid.WithLogger(con.log),
			grid.WithSorter(con.sorter),
			grid.WithNotify(sess.Notify),
		}
		if s.PageSize == 0 {
			opts = append(opts, grid.WithPageSize(con.pageSize))
		}
		sess.Grid = grid.New(s, con.backend, opts...)

		ctx := c.Request.Context()
		// адрес применяется после загрузки: номер страницы иначе упрётся в пустой набор.
		// Ошибка загрузки остаётся в баннере, сессия создаётся всё равно.
		if err := sess.Grid.Refresh(ctx); err != nil {
			con.log.Warn("grid initial load failed", zap.String("screen", s.Name), zap.Error(err))
		}
		if err := sess.Grid.ApplyAddress(ctx, q); err != nil {
			con.log.Warn("grid address apply failed", zap.String("screen", s.Name), zap.Error(err))
		}
		con.sessions.Add(sess)
		c.JSON(http.StatusCreated, gridResult(sess))
	}
}

// GET /api/grids/:sid
func GridViewHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sess, ok := con.gridSession(c); ok {
			replyGrid(c, sess, nil)
		}
	}
}

// POST /api/grids/:sid/refresh. Ошибка загрузки видна в view.error.
func GridRefreshHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sess, ok := con.gridSession(c); ok {
			_ = sess.Grid.Refresh(c.Request.Context())
			replyGrid(c, sess, nil)
		}
	}
}

// POST /api/grids/:sid/retry: повтор со сбросом кэша обогащения.
func GridRetryHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sess, ok := con.gridSession(c); ok {
			_ = sess.Grid.Retry(c.Request.Context())
			replyGrid(c, sess, nil)
		}
	}
}

// PATCH /api/grids/:sid/filters {key: value}: меняет перечисленные фильтры.
func GridSetFiltersHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := con.gridSession(c)
		if !ok {
			return
		}
		var body map[string]string
		if !bindBody(c, &body) {
			return
		}
		ctx := c.Request.Context()
		for k, v := range body {
			if err := sess.Grid.SetFilter(ctx, k, v); err != nil {
				replyGrid(c, sess, err)
				return
			}
		}
		replyGrid(c, sess, nil)
	}
}

// PUT /api/grids/:sid/filters {key: value}: заменяет все фильтры.
func GridReplaceFiltersHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := con.gridSession(c)
		if !ok {
			return
		}
		var body map[string]string
		if !bindBody(c, &body) {
			return
		}
		replyGrid(c, sess, sess.Grid.SetFilters(c.Request.Context(), body))
	}
}

// DELETE /api/grids/:sid/filters
func GridClearFiltersHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sess, ok := con.gridSession(c); ok {
			replyGrid(c, sess, sess.Grid.ClearFilters(c.Request.Context()))
		}
	}
}

// POST /api/grids/:sid/sort {key}
func GridSortHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := con.gridSession(c)
		if !ok {
			return
		}
		var body struct {
			Key string `json:"key"`
		}
		if !bindBody(c, &body) {
			return
		}
		replyGrid(c, sess, sess.Grid.ToggleSort(body.Key))
	}
}

// POST /api/grids/:sid/page {page}
func GridPageHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := con.gridSession(c)
		if !ok {
			return
		}
		var body struct {
			Page int `json:"page"`
		}
		if !bindBody(c, &body) {
			return
		}
		sess.Grid.SetPage(body.Page)
		replyGrid(c, sess, nil)
	}
}

// POST /api/grids/:sid/select {id} | {all: true} | {clear: true}
func GridSelectHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := con.gridSession(c)
		if !ok {
			return
		}
		var body struct {
			ID    string `json:"id"`
			All   bool   `json:"all"`
			Clear bool   `json:"clear"`
		}
		if !bindBody(c, &body) {
			return
		}
		switch {
		case body.Clear:
			sess.Grid.ClearSelection()
		case body.All:
			sess.Grid.SelectAll()
		case body.ID != "":
			sess.Grid.SelectRow(body.ID)
		default:
			badRequest(c, "Expected {id}, {all} or {clear}")
			return
		}
		replyGrid(c, sess, nil)
	}
}

// DELETE /api/grids/:sid/rows/:id
func GridDeleteRowHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sess, ok := con.gridSession(c); ok {
			replyGrid(c, sess, sess.Grid.Delete(c.Request.Context(), c.Param("id")))
		}
	}
}

// POST /api/grids/:sid/bulk-delete: удаляет текущий выбор.
func GridBulkDeleteHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sess, ok := con.gridSession(c); ok {
			replyGrid(c, sess, sess.Grid.BulkDelete(c.Request.Context()))
		}
	}
}

// PUT /api/grids/:sid/address {query}: восстановление по ссылке.
func GridAddressHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := con.gridSession(c)
		if !ok {
			return
		}
		var body struct {
			Query string `json:"query"`
		}
		if !bindBody(c, &body) {
			return
		}
		q, err := url.ParseQuery(body.Query)
		if err != nil {
			badRequest(c, "Invalid query: "+err.Error())
			return
		}
		replyGrid(c, sess, sess.Grid.ApplyAddress(c.Request.Context(), q))
	}
}

// GET /api/grids/:sid/address/clear: адрес «сбросить фильтры».
func GridClearAddressHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sess, ok := con.gridSession(c); ok {
			c.JSON(http.StatusOK, gin.H{"query": sess.Grid.ClearAddress().Encode()})
		}
	}
}
