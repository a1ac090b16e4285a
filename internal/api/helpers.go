package api

import (
	"errors"
	"net/http"
	"strconv"

	"crmconsole/internal/board"
	"crmconsole/internal/form"
	"crmconsole/internal/grid"
	"crmconsole/internal/remote"

	"github.com/gin-gonic/gin"
)

// statusOf сопоставляет ошибку движка коду ответа.
func statusOf(err error) int {
	var (
		verr *form.ValidationError
		serr *remote.StatusError
	)
	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, board.ErrUnknownItem),
		errors.Is(err, remote.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, grid.ErrActionNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, board.ErrColumnFull),
		errors.Is(err, board.ErrTransitionNotAllowed),
		errors.Is(err, board.ErrTransitionPending):
		return http.StatusConflict
	case errors.Is(err, grid.ErrUnknownFilter),
		errors.Is(err, grid.ErrNotSortable),
		errors.Is(err, grid.ErrEmptySelection),
		errors.Is(err, grid.ErrNoIdentity),
		errors.Is(err, grid.ErrNoEndpoint),
		errors.Is(err, board.ErrUnknownColumn),
		errors.Is(err, board.ErrNoEndpoint),
		errors.Is(err, board.ErrNoBoard),
		errors.Is(err, form.ErrMaxItems),
		errors.Is(err, form.ErrMinItems),
		errors.Is(err, form.ErrUnknownField),
		errors.Is(err, form.ErrReadOnly),
		errors.Is(err, form.ErrNotArray),
		errors.Is(err, form.ErrBadIndex),
		errors.Is(err, form.ErrNoEndpoint):
		return http.StatusBadRequest
	case errors.As(err, &serr):
		// коллекция ответила ошибкой
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	var verr *form.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Validation failed", "errors": verr.Errors})
		return
	}
	c.JSON(statusOf(err), gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// bindBody читает JSON-тело; пустое тело допустимо.
func bindBody(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, "Invalid JSON")
		return false
	}
	return true
}

func paramIndex(c *gin.Context, name string) (int, bool) {
	n, err := strconv.Atoi(c.Param(name))
	if err != nil || n < 0 {
		badRequest(c, "Invalid index: "+c.Param(name))
		return 0, false
	}
	return n, true
}
