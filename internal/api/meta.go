package api

import (
	"net/http"

	"crmconsole/internal/schema"

	"github.com/gin-gonic/gin"
)

// ===== META HANDLERS =====

type metaScreenListItem struct {
	Name     string         `json:"name"`
	Title    string         `json:"title"`
	HasBoard bool           `json:"hasBoard"`
	Actions  schema.Actions `json:"actions"`
}

func MetaListHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		names := con.screenNames()
		out := make([]metaScreenListItem, 0, len(names))
		for _, n := range names {
			s := con.screens[n]
			title := s.Title
			if title == "" {
				title = s.Name
			}
			out = append(out, metaScreenListItem{Name: s.Name, Title: title, HasBoard: s.Board != nil, Actions: s.Actions})
		}
		c.JSON(http.StatusOK, out)
	}
}

// MetaScreenHandler отдаёт описание экрана целиком (с подставленными справочниками).
func MetaScreenHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := con.screen(c.Param("screen"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Screen not found"})
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

type metaCatalog struct {
	Name    string          `json:"name"`
	Options []schema.Option `json:"options"`
}

func CatalogHandler(con *Console) gin.HandlerFunc {
	return func(c *gin.Context) {
		cat, ok := con.catalogs[c.Param("name")]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Catalog not found"})
			return
		}
		c.JSON(http.StatusOK, metaCatalog{Name: cat.Name, Options: cat.Options()})
	}
}
