package bot

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/helpdesk/pkg/logger"
	"github.com/capitalize-ai/helpdesk/pkg/metrics"
)

const (
	// TransferText is sent when a menu option hands the customer to a human.
	TransferText = "Certo! Voce sera atendido por um de nossos atendentes em instantes."
	// ErrorTransferText is sent when neither the menu nor the assistant resolved the input.
	ErrorTransferText = "Desculpe, nao entendi sua mensagem. Vou transferir voce para um atendente."
)

// Strategy names reported in Result.Strategy.
const (
	StrategyEntry         = "entry"
	StrategyMenu          = "menu"
	StrategyAssistant     = "assistant"
	StrategyErrorTransfer = "error_transfer"
)

// Responder answers free text the menu could not match.
type Responder interface {
	Configured() bool
	GenerateResponse(ctx context.Context, menuContext, message string) string
}

// Result is the outcome of one bot turn. Text is always the single bot
// message to send to the customer.
type Result struct {
	Action       ActionKind
	NextLevel    string
	DepartmentID string
	Text         string
	Strategy     string
}

// Input is what a strategy sees for one turn.
type Input struct {
	Tree  *Tree
	Level string
	Node  Node
	Text  string
}

// Strategy resolves a turn or declines it.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, in Input) (Result, bool)
}

// Engine runs strategies in order until one resolves the turn.
type Engine struct {
	strategies []Strategy
	logger     *logger.Logger
}

// NewEngine builds the menu, assistant and error-transfer chain. responder may be nil.
func NewEngine(responder Responder, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{
		strategies: []Strategy{
			MenuStrategy{},
			AssistantStrategy{Responder: responder},
			ErrorTransferStrategy{},
		},
		logger: log,
	}
}

// NewEngineWithStrategies builds an engine from an explicit chain.
func NewEngineWithStrategies(log *logger.Logger, strategies ...Strategy) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{strategies: strategies, logger: log}
}

// HandleInboundText interprets text at menuLevel. An empty or unknown level
// is an entry into the tree and yields the root prompt.
func (e *Engine) HandleInboundText(ctx context.Context, tree *Tree, menuLevel, text string) Result {
	node, ok := tree.Node(menuLevel)
	if menuLevel == "" || !ok {
		root, _ := tree.Node(tree.Root())
		return e.record(Result{
			Action:    ActionNavigate,
			NextLevel: root.ID,
			Text:      root.Render(),
			Strategy:  StrategyEntry,
		})
	}

	in := Input{Tree: tree, Level: menuLevel, Node: node, Text: strings.TrimSpace(text)}
	for _, s := range e.strategies {
		if res, ok := s.Resolve(ctx, in); ok {
			if res.Strategy == "" {
				res.Strategy = s.Name()
			}
			return e.record(res)
		}
	}

	return e.record(errorTransfer())
}

func (e *Engine) record(res Result) Result {
	metrics.BotActionsTotal.WithLabelValues(string(res.Action), res.Strategy).Inc()
	e.logger.Debug("bot turn resolved",
		zap.String("action", string(res.Action)),
		zap.String("strategy", res.Strategy),
		zap.String("next_level", res.NextLevel),
	)
	return res
}

// MenuStrategy matches the trimmed text against the current node's option keys.
type MenuStrategy struct{}

func (MenuStrategy) Name() string { return StrategyMenu }

func (MenuStrategy) Resolve(_ context.Context, in Input) (Result, bool) {
	opt, ok := in.Node.Option(in.Text)
	if !ok {
		return Result{}, false
	}

	switch opt.Action {
	case ActionNavigate:
		target, _ := in.Tree.Node(opt.Target)
		return Result{Action: ActionNavigate, NextLevel: target.ID, Text: target.Render()}, true
	case ActionTransfer:
		text := opt.Text
		if text == "" {
			text = TransferText
		}
		return Result{Action: ActionTransfer, DepartmentID: opt.DepartmentID, Text: text}, true
	case ActionMessage:
		return Result{Action: ActionMessage, NextLevel: in.Level, Text: opt.Text}, true
	}
	return Result{}, false
}

// AssistantStrategy asks the AI responder using the current node as context.
type AssistantStrategy struct {
	Responder Responder
}

func (AssistantStrategy) Name() string { return StrategyAssistant }

func (s AssistantStrategy) Resolve(ctx context.Context, in Input) (Result, bool) {
	if s.Responder == nil || !s.Responder.Configured() || in.Text == "" {
		return Result{}, false
	}
	text := strings.TrimSpace(s.Responder.GenerateResponse(ctx, in.Node.Render(), in.Text))
	if text == "" {
		return Result{}, false
	}
	return Result{Action: ActionMessage, NextLevel: in.Level, Text: text}, true
}

// ErrorTransferStrategy escalates to a human with an apology.
type ErrorTransferStrategy struct{}

func (ErrorTransferStrategy) Name() string { return StrategyErrorTransfer }

func (ErrorTransferStrategy) Resolve(context.Context, Input) (Result, bool) {
	return errorTransfer(), true
}

func errorTransfer() Result {
	return Result{Action: ActionTransfer, Text: ErrorTransferText, Strategy: StrategyErrorTransfer}
}
