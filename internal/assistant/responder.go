// Package assistant produces natural-language replies when the menu bot
// cannot resolve a customer request.
package assistant

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/helpdesk/internal/llm"
	"github.com/capitalize-ai/helpdesk/pkg/logger"
	"github.com/capitalize-ai/helpdesk/pkg/metrics"
)

const (
	// UnavailableText is returned when no provider is configured.
	UnavailableText = "Assistente virtual nao disponivel no momento."
	// ApologyText is returned when the provider call fails.
	ApologyText = "Desculpe, nao consegui processar sua mensagem agora. Tente novamente ou escolha uma opcao do menu."

	defaultTimeout = 15 * time.Second
	maxInputRunes  = 2000
)

const systemPrompt = "Voce e o assistente virtual de atendimento ao cliente. " +
	"Responda em portugues, de forma breve e cordial, em no maximo tres frases. " +
	"Se nao souber a resposta, oriente o cliente a escolher uma opcao do menu ou pedir um atendente."

// Responder wraps an LLM client and never fails.
type Responder struct {
	client    llm.Client
	model     string
	timeout   time.Duration
	maxTokens int
	logger    *logger.Logger
}

// Option configures a Responder.
type Option func(*Responder)

// WithModel overrides the provider default model.
func WithModel(model string) Option {
	return func(r *Responder) { r.model = model }
}

// WithTimeout bounds each completion call.
func WithTimeout(d time.Duration) Option {
	return func(r *Responder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// New creates a responder. A nil client means no credential is configured.
func New(client llm.Client, log *logger.Logger, opts ...Option) *Responder {
	r := &Responder{
		client:    client,
		timeout:   defaultTimeout,
		maxTokens: 300,
		logger:    log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Configured reports whether a provider is available.
func (r *Responder) Configured() bool {
	return r != nil && r.client != nil
}

// GenerateResponse answers message using menuContext as the system-side
// context. Failures and timeouts collapse into ApologyText.
func (r *Responder) GenerateResponse(ctx context.Context, menuContext, message string) string {
	if !r.Configured() {
		return UnavailableText
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	resp, err := r.client.Complete(callCtx, &llm.CompletionRequest{
		Model:       r.model,
		MaxTokens:   r.maxTokens,
		Temperature: 0.3,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: systemPrompt + "\n\nContexto atual:\n" + truncate(menuContext)},
			{Role: llm.RoleUser, Content: truncate(message)},
		},
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		metrics.RecordAIResponse(r.client.Name(), "", "error", elapsed, 0, 0)
		r.logger.Warn("ai completion failed",
			zap.String("provider", r.client.Name()),
			zap.Error(err),
		)
		return ApologyText
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		metrics.RecordAIResponse(r.client.Name(), resp.Model, "empty", elapsed, resp.TokensIn, resp.TokensOut)
		return ApologyText
	}

	metrics.RecordAIResponse(r.client.Name(), resp.Model, "success", elapsed, resp.TokensIn, resp.TokensOut)
	return text
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= maxInputRunes {
		return s
	}
	return string(runes[:maxInputRunes])
}
