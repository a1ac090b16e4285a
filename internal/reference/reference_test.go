package reference

import (
	"os"
	"path/filepath"
	"testing"

	"crmconsole/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAndBind(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deal_stage.yaml"), []byte(`
items:
  - {code: won, name: Won, order: 3}
  - {code: new, name: New, order: 1}
  - {code: legacy, name: Legacy, order: 0, hidden: true}
  - {code: negotiation, name: Negotiation, order: 2}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("skip"), 0o644))

	cats, err := LoadCatalogs(dir)
	require.NoError(t, err)
	require.Contains(t, cats, "deal_stage")

	screens := map[string]*schema.Screen{
		"deals": {
			Name:    "deals",
			Fields:  []schema.Field{{Key: "stage", Kind: schema.KindSelect, OptionsRef: "deal_stage"}, {Key: "owner", OptionsRef: "nope"}},
			Filters: []schema.Filter{{Key: "stage", OptionsRef: "deal_stage"}},
			Board:   &schema.BoardSpec{StatusField: "stage", OptionsRef: "deal_stage"},
		},
	}
	issues := Bind(screens, cats)
	require.Len(t, issues, 1)
	assert.Equal(t, "catalog_unknown", issues[0].Code)

	d := screens["deals"]
	stage, _ := d.Field("stage")
	require.Len(t, stage.Options, 3)
	assert.Equal(t, []string{"new", "negotiation", "won"},
		[]string{stage.Options[0].Value, stage.Options[1].Value, stage.Options[2].Value})
	assert.Len(t, d.Filters[0].Options, 3)
	require.Len(t, d.Board.Columns, 3)
	assert.Equal(t, "New", d.Board.Columns[0].Label)
}
