package bot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMenu = `
root: inicio
nodes:
  - id: inicio
    prompt: Escolha
    options:
      - key: "1"
        label: Vendas
        action: navigate
        target: vendas
      - key: "9"
        label: Atendente
        action: transfer
  - id: vendas
    prompt: Vendas
    options:
      - key: "1"
        label: Falar com vendas
        action: transfer
        department: dep-sales
      - key: "2"
        label: Promocoes
        action: message
        text: Sem promocoes hoje.
`

func TestParseTree(t *testing.T) {
	tree, err := ParseTree([]byte(sampleMenu))
	require.NoError(t, err)

	assert.Equal(t, "inicio", tree.Root())
	require.Len(t, tree.Nodes(), 2)
	assert.Equal(t, "inicio", tree.Nodes()[0].ID)

	vendas, ok := tree.Node("vendas")
	require.True(t, ok)
	opt, ok := vendas.Option("1")
	require.True(t, ok)
	assert.Equal(t, ActionTransfer, opt.Action)
	assert.Equal(t, "dep-sales", opt.DepartmentID)
}

func TestLoadTreeFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "menu.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleMenu), 0o600))

	tree, err := LoadTree(path)
	require.NoError(t, err)
	assert.Equal(t, "inicio", tree.Root())

	def, err := LoadTree("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRoot, def.Root())

	_, err = LoadTree(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestTreeValidation(t *testing.T) {
	tests := []struct {
		name  string
		root  string
		nodes []Node
	}{
		{
			name:  "missing root",
			root:  "main",
			nodes: []Node{{ID: "other"}},
		},
		{
			name:  "duplicate node",
			nodes: []Node{{ID: "main"}, {ID: "main"}},
		},
		{
			name: "unknown target",
			nodes: []Node{{ID: "main", Options: []Option{
				{Key: "1", Action: ActionNavigate, Target: "nowhere"},
			}}},
		},
		{
			name: "duplicate key",
			nodes: []Node{{ID: "main", Options: []Option{
				{Key: "1", Action: ActionTransfer},
				{Key: "1", Action: ActionTransfer},
			}}},
		},
		{
			name: "message without text",
			nodes: []Node{{ID: "main", Options: []Option{
				{Key: "1", Action: ActionMessage},
			}}},
		},
		{
			name: "unknown action",
			nodes: []Node{{ID: "main", Options: []Option{
				{Key: "1", Action: "jump"},
			}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTree(tt.root, tt.nodes)
			assert.Error(t, err)
		})
	}
}

func TestRender(t *testing.T) {
	node := Node{Prompt: "Menu", Options: []Option{
		{Key: "1", Label: "Um"},
		{Key: "2", Label: "Dois"},
	}}
	assert.Equal(t, "Menu\n1 - Um\n2 - Dois", node.Render())
}
