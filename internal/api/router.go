package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewEngine: gin без стандартного логгера, запросы пишутся в zap.
func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))
	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

// Register вешает маршруты консоли на группу (обычно /api).
func (con *Console) Register(g *gin.RouterGroup) {
	g.GET("/meta", MetaListHandler(con))
	g.GET("/meta/:screen", MetaScreenHandler(con))
	g.GET("/catalogs/:name", CatalogHandler(con))

	// создание компонентов экрана
	g.POST("/screens/:screen/grid", GridCreateHandler(con))
	g.POST("/screens/:screen/board", BoardCreateHandler(con))
	g.POST("/screens/:screen/form", FormCreateHandler(con))

	grids := g.Group("/grids/:sid")
	{
		grids.GET("", GridViewHandler(con))
		grids.POST("/refresh", GridRefreshHandler(con))
		grids.POST("/retry", GridRetryHandler(con))
		grids.PATCH("/filters", GridSetFiltersHandler(con))
		grids.PUT("/filters", GridReplaceFiltersHandler(con))
		grids.DELETE("/filters", GridClearFiltersHandler(con))
		grids.POST("/sort", GridSortHandler(con))
		grids.POST("/page", GridPageHandler(con))
		grids.POST("/select", GridSelectHandler(con))
		grids.DELETE("/rows/:id", GridDeleteRowHandler(con))
		grids.POST("/bulk-delete", GridBulkDeleteHandler(con))
		grids.PUT("/address", GridAddressHandler(con))
		grids.GET("/address/clear", GridClearAddressHandler(con))
		grids.POST("/lookups", GridLookupHandler(con))
	}

	boards := g.Group("/boards/:sid")
	{
		boards.GET("", BoardViewHandler(con))
		boards.POST("/refresh", BoardRefreshHandler(con))
		boards.POST("/move", BoardMoveHandler(con))
	}

	forms := g.Group("/forms/:sid")
	{
		forms.GET("", FormViewHandler(con))
		forms.PATCH("/values", FormSetHandler(con))
		forms.POST("/reset", FormResetHandler(con))
		forms.POST("/items/:key", FormAddItemHandler(con))
		forms.DELETE("/items/:key/:index", FormRemoveItemHandler(con))
		forms.PATCH("/items/:key/:index", FormSetItemHandler(con))
		forms.POST("/validate", FormValidateHandler(con))
		forms.POST("/submit", FormSubmitHandler(con))
		forms.POST("/lookups", FormLookupHandler(con))
	}

	lookups := g.Group("/lookups/:sid")
	{
		lookups.GET("", LookupViewHandler(con))
		lookups.POST("/input", LookupInputHandler(con))
		lookups.POST("/select", LookupSelectHandler(con))
		lookups.POST("/value", LookupValueHandler(con))
		lookups.POST("/clear", LookupClearHandler(con))
	}

	g.DELETE("/sessions/:sid", SessionDeleteHandler(con))
	g.POST("/sessions/:sid/cache/clear", CacheClearHandler(con))
}

// DELETE /api/sessions/:sid
func SessionDeleteHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !con.sessions.Remove(c.Param("sid")) {
			writeError(c, ErrSessionNotFound)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// POST /api/sessions/:sid/cache/clear: сброс кэша обогащения и перечитывание.
func CacheClearHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, err := con.sessions.Get(c.Param("sid"), "")
		if err != nil {
			writeError(c, err)
			return
		}
		ctx := c.Request.Context()
		switch sess.Kind {
		case KindGrid:
			_ = sess.Grid.Retry(ctx)
			replyGrid(c, sess, nil)
		case KindBoard:
			if e := sess.Board.Enricher(); e != nil {
				e.Reset()
			}
			_ = sess.Board.Refresh(ctx)
			replyBoard(c, sess, nil)
		default:
			badRequest(c, "Session has no cache: "+string(sess.Kind))
		}
	}
}
