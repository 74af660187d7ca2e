package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/revlane/assistant/internal/domain"
)

// AnthropicProvider implements Provider on the Anthropic Messages API.
type AnthropicProvider struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
}

// NewAnthropicProvider creates the upstream client. Every call carries the
// hard timeout.
func NewAnthropicProvider(apiKey, model string, timeout time.Duration) *AnthropicProvider {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &AnthropicProvider{
		client:  anthropic.NewClient(opts...),
		model:   model,
		timeout: timeout,
	}
}

// Model names the underlying model.
func (p *AnthropicProvider) Model() string {
	return p.model
}

// Complete performs a non-streaming call.
func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapProviderError(err)
	}
	return convertMessage(message), nil
}

// Stream performs a streaming call, pushing text deltas as they arrive and
// returning the accumulated response.
func (p *AnthropicProvider) Stream(ctx context.Context, req *Request, onDelta DeltaFunc) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, fmt.Errorf("failed to accumulate stream event: %w", err)
		}
		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := eventVariant.Delta.AsAny().(anthropic.TextDelta); ok && onDelta != nil {
				onDelta(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, wrapProviderError(err)
	}
	return convertMessage(&message), nil
}

func (p *AnthropicProvider) buildParams(req *Request) (anthropic.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	for _, msg := range req.Messages {
		var blocks []anthropic.ContentBlockParamUnion
		if msg.Text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Text))
		}
		for _, tu := range msg.ToolUses {
			blocks = append(blocks, anthropic.ContentBlockParamUnion{
				OfToolUse: &anthropic.ToolUseBlockParam{
					ID:    tu.ID,
					Name:  tu.Name,
					Input: tu.Input,
				},
			})
		}
		for _, tr := range msg.ToolResults {
			blocks = append(blocks, anthropic.ContentBlockParamUnion{
				OfToolResult: &anthropic.ToolResultBlockParam{
					ToolUseID: tr.ToolUseID,
					IsError:   anthropic.Bool(tr.IsError),
					Content: []anthropic.ToolResultBlockParamContentUnion{
						{OfText: &anthropic.TextBlockParam{Text: tr.Content}},
					},
				},
			})
		}
		if len(blocks) == 0 {
			continue
		}
		switch msg.Role {
		case "assistant":
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(blocks...))
		}
	}

	for _, def := range req.Tools {
		var schema struct {
			Properties map[string]interface{} `json:"properties"`
			Required   []string               `json:"required"`
		}
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
				return params, fmt.Errorf("invalid input schema for tool %s: %w", def.Name, err)
			}
		}
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        def.Name,
				Description: anthropic.String(def.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema.Properties,
					Required:   schema.Required,
				},
			},
		})
	}

	return params, nil
}

func convertMessage(message *anthropic.Message) *Response {
	resp := &Response{
		StopReason: convertStopReason(message.StopReason),
		Usage: TokenUsage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Text += variant.Text
		case anthropic.ToolUseBlock:
			resp.ToolUses = append(resp.ToolUses, ToolUse{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: json.RawMessage(variant.Input),
			})
		}
	}
	return resp
}

func convertStopReason(reason anthropic.StopReason) domain.StopReason {
	switch reason {
	case anthropic.StopReasonToolUse:
		return domain.StopReasonToolUse
	case anthropic.StopReasonMaxTokens:
		return domain.StopReasonMaxTokens
	default:
		return domain.StopReasonEndTurn
	}
}

func wrapProviderError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return &ProviderError{StatusCode: apierr.StatusCode, Err: err}
	}
	return &ProviderError{StatusCode: 0, Err: err}
}
