package collection

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"crmconsole/internal/schema"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Bulk-действия тела {ids, action}.
const (
	BulkDelete  = "delete"
	BulkRestore = "restore"
)

// Server: REST поверх Store:
//
//	GET    /:collection            список (фильтры, q, sort, order, limit, offset, envelope)
//	GET    /:collection/:id        одна запись
//	POST   /:collection            создание
//	PUT    /:collection/:id        замена
//	PATCH  /:collection/:id        частичное обновление
//	DELETE /:collection/:id        мягкое удаление
//	POST   /:collection/_bulk      {ids, action}
//	POST   /:collection/:id/restore
type Server struct {
	store   Store
	screens map[string]*schema.Screen // коллекция -> экран для проверки записей
	log     *zap.Logger
}

type ServerOption func(*Server)

func WithLogger(l *zap.Logger) ServerOption { return func(s *Server) { s.log = l } }

// WithScreens включает проверку записей по экранам. Коллекция экрана: первый сегмент его list endpoint.
func WithScreens(screens map[string]*schema.Screen) ServerOption {
	return func(s *Server) {
		for _, sc := range screens {
			if name := CollectionOf(sc.Endpoints.List); name != "" {
				s.screens[name] = sc
			}
		}
	}
}

func NewServer(store Store, opts ...ServerOption) *Server {
	s := &Server{store: store, screens: map[string]*schema.Screen{}, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CollectionOf: имя коллекции из endpoint ("/deals" -> "deals").
func CollectionOf(endpoint string) string {
	p := strings.Trim(endpoint, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	return p
}

// Register вешает маршруты на группу.
func (s *Server) Register(g *gin.RouterGroup) {
	// служебные маршруты: раньше CRUD
	g.POST("/:collection/_bulk", s.bulk)
	g.POST("/:collection/:id/restore", s.restore)

	g.GET("/:collection", s.list)
	g.POST("/:collection", s.create)
	g.GET("/:collection/:id", s.get)
	g.PUT("/:collection/:id", s.update)
	g.PATCH("/:collection/:id", s.patch)
	g.DELETE("/:collection/:id", s.delete)
}

func (s *Server) storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
	case errors.Is(err, ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"errors": []FieldError{ferr(CodeVersionConflict, "version", "Record was modified")}})
	default:
		s.log.Error("store failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// GET /:collection
func (s *Server) list(c *gin.Context) {
	recs, err := s.store.List(c.Request.Context(), c.Param("collection"))
	if err != nil {
		s.storeError(c, err)
		return
	}
	rows := make([]map[string]any, len(recs))
	for i, r := range recs {
		rows[i] = flatten(r)
	}

	lp := parseListParams(c.Request.URL.Query())
	filtered := filterRows(rows, lp)
	sortRows(filtered, lp.Sort, lp.Nulls)
	out := page(filtered, lp.Offset, lp.Limit)

	c.Header("X-Total-Count", strconv.Itoa(len(filtered)))
	if lp.Envelope {
		c.JSON(http.StatusOK, gin.H{"data": out, "total": len(filtered)})
		return
	}
	c.JSON(http.StatusOK, out)
}

// GET /:collection/:id
func (s *Server) get(c *gin.Context) {
	rec, err := s.store.Get(c.Request.Context(), c.Param("collection"), c.Param("id"))
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.Header("ETag", `"`+strconv.FormatInt(rec.Version, 10)+`"`)
	c.JSON(http.StatusOK, flatten(rec))
}

func (s *Server) bindObject(c *gin.Context) (map[string]any, bool) {
	var obj map[string]any
	if err := c.ShouldBindJSON(&obj); err != nil || obj == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return nil, false
	}
	return obj, true
}

func (s *Server) check(c *gin.Context, obj map[string]any, partial bool) bool {
	sc := s.screens[c.Param("collection")]
	if sc == nil {
		return true
	}
	if errs := validateRecord(sc, obj, partial); len(errs) > 0 {
		c.JSON(statusForErrors(errs), gin.H{"errors": errs})
		return false
	}
	return true
}

// POST /:collection
func (s *Server) create(c *gin.Context) {
	obj, ok := s.bindObject(c)
	if !ok || !s.check(c, obj, false) {
		return
	}
	rec, err := s.store.Create(c.Request.Context(), c.Param("collection"), obj)
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, flatten(rec))
}

// PUT /:collection/:id
func (s *Server) update(c *gin.Context) {
	obj, ok := s.bindObject(c)
	if !ok || !s.check(c, obj, false) {
		return
	}
	expected, _ := readExpectedVersion(c, obj)
	rec, err := s.store.Update(c.Request.Context(), c.Param("collection"), c.Param("id"), obj, expected)
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, flatten(rec))
}

// PATCH /:collection/:id
func (s *Server) patch(c *gin.Context) {
	obj, ok := s.bindObject(c)
	if !ok || !s.check(c, obj, true) {
		return
	}
	expected, _ := readExpectedVersion(c, obj)
	rec, err := s.store.Patch(c.Request.Context(), c.Param("collection"), c.Param("id"), obj, expected)
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, flatten(rec))
}

// DELETE /:collection/:id
func (s *Server) delete(c *gin.Context) {
	if err := s.store.Delete(c.Request.Context(), c.Param("collection"), c.Param("id")); err != nil {
		s.storeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /:collection/:id/restore
func (s *Server) restore(c *gin.Context) {
	rec, err := s.store.Restore(c.Request.Context(), c.Param("collection"), c.Param("id"))
	if err != nil {
		s.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, flatten(rec))
}

// POST /:collection/_bulk {ids, action}. Результат по каждому id, 207.
func (s *Server) bulk(c *gin.Context) {
	type req struct {
		IDs    []string `json:"ids"`
		Action string   `json:"action"`
	}
	type res struct {
		ID     string       `json:"id"`
		Errors []FieldError `json:"errors,omitempty"`
	}

	var body req
	if err := c.ShouldBindJSON(&body); err != nil || len(body.IDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON: expected {ids:[], action}"})
		return
	}
	if body.Action == "" {
		body.Action = BulkDelete
	}
	if body.Action != BulkDelete && body.Action != BulkRestore {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown action: " + body.Action})
		return
	}

	ctx := c.Request.Context()
	coll := c.Param("collection")
	results := make([]res, 0, len(body.IDs))
	failed := 0
	for _, id := range body.IDs {
		var err error
		if body.Action == BulkDelete {
			err = s.store.Delete(ctx, coll, id)
		} else {
			_, err = s.store.Restore(ctx, coll, id)
		}
		if err != nil {
			failed++
			code := CodeNotFound
			if !errors.Is(err, ErrNotFound) {
				code = "store_error"
			}
			results = append(results, res{ID: id, Errors: []FieldError{ferr(code, "id", err.Error())}})
			continue
		}
		results = append(results, res{ID: id})
	}

	status := http.StatusOK
	switch {
	case failed == len(body.IDs):
		status = http.StatusUnprocessableEntity
	case failed > 0:
		status = http.StatusMultiStatus
	}
	c.JSON(status, results)
}

// readExpectedVersion читает ожидаемую версию из If-Match либо из тела ("version").
func readExpectedVersion(c *gin.Context, payload map[string]any) (int64, bool) {
	ifMatch := strings.TrimSpace(c.GetHeader("If-Match"))
	if ifMatch != "" {
		ifMatch = strings.TrimPrefix(ifMatch, "W/")
		ifMatch = strings.Trim(ifMatch, `"'`)
		if v, err := strconv.ParseInt(ifMatch, 10, 64); err == nil {
			return v, true
		}
	}
	if payload != nil {
		switch t := payload["version"].(type) {
		case float64:
			return int64(t), true
		case string:
			if v, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
				return v, true
			}
		}
	}
	return 0, false
}
