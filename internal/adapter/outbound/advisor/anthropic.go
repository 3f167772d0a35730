package advisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/superego-ai/superego/internal/domain/decision"
	"github.com/superego-ai/superego/internal/domain/request"
	"github.com/superego-ai/superego/internal/domain/rule"
	"github.com/superego-ai/superego/internal/port/outbound"
)

// maxVerdictTokens caps the completion; a verdict object needs far less.
const maxVerdictTokens = 1024

// MessagesClient captures the subset of the Anthropic SDK used here. It is
// satisfied by *sdk.MessageService so tests can substitute a mock.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicProvider consults a Claude model for verdicts on sampled
// requests.
type AnthropicProvider struct {
	msg   MessagesClient
	model string
}

var _ outbound.AdvisorProvider = (*AnthropicProvider)(nil)

// NewAnthropicProvider builds a provider from an API key and model
// identifier.
func NewAnthropicProvider(apiKey, model string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	if model == "" {
		return nil, errors.New("anthropic model identifier is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{msg: &client.Messages, model: model}, nil
}

// NewAnthropicProviderWithClient builds a provider around an existing
// Messages client. Used by tests.
func NewAnthropicProviderWithClient(msg MessagesClient, model string) *AnthropicProvider {
	return &AnthropicProvider{msg: msg, model: model}
}

// Name implements outbound.AdvisorProvider.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Model implements outbound.AdvisorProvider.
func (p *AnthropicProvider) Model() string { return p.model }

// Consult renders the deterministic prompt, calls Messages.New with
// temperature 0, and parses the verdict from the text blocks. Transport
// and 5xx failures are transient (retryable); a malformed verdict or a
// request-level 4xx is terminal.
func (p *AnthropicProvider) Consult(ctx context.Context, req *request.ToolRequest, matched *rule.SecurityRule) (*decision.AdvisorVerdict, error) {
	prompt := BuildPrompt(req, matched)

	msg, err := p.msg.New(ctx, sdk.MessageNewParams{
		Model:       sdk.Model(p.model),
		MaxTokens:   maxVerdictTokens,
		Temperature: sdk.Float(0),
		System:      []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, decision.NewAdvisorError(fmt.Errorf("anthropic messages.new: %w", err), isTransient(err))
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	verdict, err := ParseVerdict(text.String())
	if err != nil {
		return nil, decision.NewAdvisorError(err, false)
	}
	return verdict, nil
}

// isTransient reports whether an SDK error is worth retrying: network
// faults, timeouts, rate limits, and server errors are; other request
// errors (bad auth, malformed request) are not.
func isTransient(err error) bool {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusRequestTimeout, http.StatusTooManyRequests:
			return true
		default:
			return apierr.StatusCode >= 500
		}
	}
	// Non-API errors from the HTTP client are connection-level.
	return true
}
