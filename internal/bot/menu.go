// Package bot interprets customer text against a static menu tree.
package bot

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ActionKind is the kind of action a menu option or bot result carries.
type ActionKind string

const (
	ActionNavigate ActionKind = "navigate"
	ActionTransfer ActionKind = "transfer"
	ActionMessage  ActionKind = "message"
)

// DefaultRoot is the entry node when a tree does not name one.
const DefaultRoot = "main"

// Option is a selectable entry of a menu node.
type Option struct {
	Key          string     `yaml:"key"`
	Label        string     `yaml:"label"`
	Action       ActionKind `yaml:"action"`
	Target       string     `yaml:"target,omitempty"`
	DepartmentID string     `yaml:"department,omitempty"`
	Text         string     `yaml:"text,omitempty"`
}

// Node is one level of the menu.
type Node struct {
	ID      string   `yaml:"id"`
	Prompt  string   `yaml:"prompt"`
	Options []Option `yaml:"options"`
}

// Option returns the option whose key equals key.
func (n Node) Option(key string) (Option, bool) {
	for _, opt := range n.Options {
		if opt.Key == key {
			return opt, true
		}
	}
	return Option{}, false
}

// Render formats the node prompt followed by its options.
func (n Node) Render() string {
	var b strings.Builder
	b.WriteString(n.Prompt)
	for _, opt := range n.Options {
		b.WriteString("\n")
		b.WriteString(opt.Key)
		b.WriteString(" - ")
		b.WriteString(opt.Label)
	}
	return b.String()
}

// Tree is an immutable set of menu nodes addressed by id.
type Tree struct {
	root  string
	order []string
	nodes map[string]Node
}

type treeFile struct {
	Root  string `yaml:"root"`
	Nodes []Node `yaml:"nodes"`
}

// NewTree builds and validates a tree from an ordered node list.
func NewTree(root string, nodes []Node) (*Tree, error) {
	if root == "" {
		root = DefaultRoot
	}
	t := &Tree{
		root:  root,
		order: make([]string, 0, len(nodes)),
		nodes: make(map[string]Node, len(nodes)),
	}
	for _, n := range nodes {
		if n.ID == "" {
			return nil, errors.New("menu node without id")
		}
		if _, dup := t.nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate menu node %q", n.ID)
		}
		t.nodes[n.ID] = n
		t.order = append(t.order, n.ID)
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) validate() error {
	if _, ok := t.nodes[t.root]; !ok {
		return fmt.Errorf("root node %q not defined", t.root)
	}
	for _, id := range t.order {
		node := t.nodes[id]
		seen := make(map[string]bool, len(node.Options))
		for _, opt := range node.Options {
			if opt.Key == "" {
				return fmt.Errorf("node %q: option without key", id)
			}
			if seen[opt.Key] {
				return fmt.Errorf("node %q: duplicate option key %q", id, opt.Key)
			}
			seen[opt.Key] = true

			switch opt.Action {
			case ActionNavigate:
				if _, ok := t.nodes[opt.Target]; !ok {
					return fmt.Errorf("node %q option %q: unknown target %q", id, opt.Key, opt.Target)
				}
			case ActionMessage:
				if strings.TrimSpace(opt.Text) == "" {
					return fmt.Errorf("node %q option %q: message without text", id, opt.Key)
				}
			case ActionTransfer:
			default:
				return fmt.Errorf("node %q option %q: unknown action %q", id, opt.Key, opt.Action)
			}
		}
	}
	return nil
}

// Root returns the entry node id.
func (t *Tree) Root() string {
	return t.root
}

// Node looks up a node by id.
func (t *Tree) Node(id string) (Node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Nodes returns the nodes in declaration order.
func (t *Tree) Nodes() []Node {
	out := make([]Node, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.nodes[id])
	}
	return out
}

// ParseTree decodes a YAML menu definition.
func ParseTree(data []byte) (*Tree, error) {
	var f treeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse menu: %w", err)
	}
	return NewTree(f.Root, f.Nodes)
}

// LoadTree reads a YAML menu file. An empty path yields the default tree.
func LoadTree(path string) (*Tree, error) {
	if path == "" {
		return DefaultTree(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read menu file: %w", err)
	}
	return ParseTree(data)
}

// DefaultTree returns the built-in menu.
func DefaultTree() *Tree {
	t, err := NewTree(DefaultRoot, []Node{
		{
			ID:     "main",
			Prompt: "Ola! Bem-vindo ao atendimento. Escolha uma opcao:",
			Options: []Option{
				{Key: "1", Label: "Suporte tecnico", Action: ActionNavigate, Target: "support"},
				{Key: "2", Label: "Financeiro", Action: ActionNavigate, Target: "billing"},
				{Key: "3", Label: "Horario de atendimento", Action: ActionMessage, Text: "Atendemos de segunda a sexta, das 8h as 18h."},
				{Key: "0", Label: "Falar com um atendente", Action: ActionTransfer},
			},
		},
		{
			ID:     "support",
			Prompt: "Suporte tecnico. Como podemos ajudar?",
			Options: []Option{
				{Key: "1", Label: "Problemas de acesso", Action: ActionMessage, Text: "Tente redefinir sua senha pelo link 'Esqueci minha senha' na tela de login."},
				{Key: "2", Label: "Voltar ao menu principal", Action: ActionNavigate, Target: "main"},
				{Key: "3", Label: "Falar com o suporte", Action: ActionTransfer, DepartmentID: "support"},
			},
		},
		{
			ID:     "billing",
			Prompt: "Financeiro. Escolha uma opcao:",
			Options: []Option{
				{Key: "1", Label: "Segunda via de boleto", Action: ActionMessage, Text: "A segunda via esta disponivel na area do cliente, em Faturas."},
				{Key: "2", Label: "Voltar ao menu principal", Action: ActionNavigate, Target: "main"},
				{Key: "3", Label: "Falar com o financeiro", Action: ActionTransfer, DepartmentID: "billing"},
			},
		},
	})
	if err != nil {
		panic(err)
	}
	return t
}
