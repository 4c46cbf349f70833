package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"parley/internal/domain"
	"parley/internal/infra/config"
	"parley/internal/infra/tracer"
)

const defaultAnthropicVersion = "2023-06-01"

// Compile-time interface assertions.
var (
	_ domain.LLMProvider          = (*AnthropicProvider)(nil)
	_ domain.StreamingLLMProvider = (*AnthropicProvider)(nil)
	_ domain.ReasoningCapable     = (*AnthropicProvider)(nil)
)

// AnthropicProvider implements domain.LLMProvider for the Anthropic Messages API.
type AnthropicProvider struct {
	name            string
	model           string
	apiKey          string
	baseURL         string
	client          *http.Client
	logger          *slog.Logger
	version         string
	thinkingBudget  int
	reasoningModels []string
}

// NewAnthropicProvider creates a provider for the Anthropic Messages API.
func NewAnthropicProvider(cfg config.ProviderConfig, logger *slog.Logger) *AnthropicProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	reasoningModels := cfg.ReasoningModels
	if len(reasoningModels) == 0 {
		reasoningModels = []string{"claude-"}
	}

	return &AnthropicProvider{
		name:            cfg.Name,
		model:           cfg.Model,
		apiKey:          cfg.APIKey,
		baseURL:         baseURL,
		client:          NewHTTPClient(cfg),
		logger:          logger,
		version:         defaultAnthropicVersion,
		thinkingBudget:  cfg.ThinkingBudget,
		reasoningModels: reasoningModels,
	}
}

// Name implements domain.LLMProvider.
func (p *AnthropicProvider) Name() string { return p.name }

// SupportsReasoning implements domain.ReasoningCapable. Anthropic streams
// extended thinking as a dedicated delta channel.
func (p *AnthropicProvider) SupportsReasoning(model string) bool {
	if model == "" {
		model = p.model
	}
	for _, prefix := range p.reasoningModels {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// Chat implements domain.LLMProvider.
func (p *AnthropicProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()

	if req.Model == "" {
		req.Model = p.model
	}

	body, err := json.Marshal(p.toAnthropicRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, err := doJSONRequest(ctx, p.client, p.baseURL+"/v1/messages", body, p.headers())
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var antResp anthropicResponse
	if err := json.Unmarshal(respBody, &antResp); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	result := fromAnthropicResponse(antResp)
	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.name, result)

	return result, nil
}

func (p *AnthropicProvider) headers() map[string]string {
	return map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": p.version,
	}
}

// --- Anthropic API wire types ---

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	Stream    bool               `json:"stream,omitempty"`
	Thinking  *anthropicThinking `json:"thinking,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// --- Anthropic streaming wire types ---

type anthropicStreamEvent struct {
	Type  string          `json:"type"`
	Index int             `json:"index,omitempty"`
	Delta json.RawMessage `json:"delta,omitempty"`
	Usage json.RawMessage `json:"usage,omitempty"`

	// content_block_start fields
	ContentBlock *anthropicContent `json:"content_block,omitempty"`
}

type anthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// ChatStream implements domain.StreamingLLMProvider. Anthropic's SSE frames
// carry a "type" field in the data payload, so event dispatch happens on the
// data line alone.
func (p *AnthropicProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	if req.Model == "" {
		req.Model = p.model
	}

	antReq := p.toAnthropicRequest(req)
	antReq.Stream = true

	body, err := json.Marshal(antReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpResp, err := doStreamRequest(ctx, p.client, p.baseURL+"/v1/messages", body, p.headers())
	if err != nil {
		return nil, err
	}

	// Tool-use input JSON arrives as partial fragments; accumulate per block
	// index and emit a single tool_call event when the block closes.
	pending := map[int]*domain.ToolCall{}
	var stopReason string
	var usage *domain.Usage

	ch := parseSSEStream(ctx, httpResp.Body, func(data []byte) ([]domain.StreamEvent, error) {
		var evt anthropicStreamEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return nil, err
		}

		switch evt.Type {
		case "content_block_start":
			if evt.ContentBlock != nil && evt.ContentBlock.Type == "tool_use" {
				pending[evt.Index] = &domain.ToolCall{
					ID:   evt.ContentBlock.ID,
					Name: evt.ContentBlock.Name,
				}
				return []domain.StreamEvent{{Kind: domain.StreamStatus, Status: "using " + evt.ContentBlock.Name}}, nil
			}
			if evt.ContentBlock != nil && evt.ContentBlock.Type == "thinking" {
				return []domain.StreamEvent{{Kind: domain.StreamStatus, Status: "thinking"}}, nil
			}
			return nil, nil

		case "content_block_delta":
			var d anthropicDelta
			if err := json.Unmarshal(evt.Delta, &d); err != nil {
				return nil, err
			}
			switch d.Type {
			case "text_delta":
				return []domain.StreamEvent{{Kind: domain.StreamTextDelta, Text: d.Text}}, nil
			case "thinking_delta":
				return []domain.StreamEvent{{Kind: domain.StreamReasoningDelta, Text: d.Thinking}}, nil
			case "input_json_delta":
				if tc := pending[evt.Index]; tc != nil {
					tc.Arguments = append(tc.Arguments, d.PartialJSON...)
				}
				return nil, nil
			}
			return nil, nil

		case "content_block_stop":
			if tc, ok := pending[evt.Index]; ok {
				delete(pending, evt.Index)
				if len(tc.Arguments) == 0 {
					tc.Arguments = json.RawMessage("{}")
				}
				return []domain.StreamEvent{{Kind: domain.StreamToolCall, ToolCall: tc}}, nil
			}
			return nil, nil

		case "message_delta":
			if len(evt.Delta) > 0 {
				var d anthropicDelta
				if err := json.Unmarshal(evt.Delta, &d); err == nil && d.StopReason != "" {
					stopReason = d.StopReason
				}
			}
			if len(evt.Usage) > 0 {
				var u anthropicUsage
				if err := json.Unmarshal(evt.Usage, &u); err == nil {
					usage = &domain.Usage{
						PromptTokens:     u.InputTokens,
						CompletionTokens: u.OutputTokens,
						TotalTokens:      u.InputTokens + u.OutputTokens,
					}
				}
			}
			return nil, nil

		case "message_stop":
			reason := stopReason
			if reason == "" {
				reason = "stop"
			}
			return []domain.StreamEvent{{Kind: domain.StreamFinish, FinishReason: reason, Usage: usage}}, nil

		default:
			return nil, nil
		}
	}, nil)

	return ch, nil
}

func (p *AnthropicProvider) toAnthropicRequest(req domain.ChatRequest) anthropicRequest {
	antReq := anthropicRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
	}

	if antReq.MaxTokens <= 0 {
		antReq.MaxTokens = 4096
	}

	if req.Reasoning != nil && req.Reasoning.Enabled {
		budget := req.Reasoning.BudgetTokens
		if budget <= 0 {
			budget = p.thinkingBudget
		}
		if budget <= 0 {
			budget = 2048
		}
		antReq.Thinking = &anthropicThinking{
			Type:         "enabled",
			BudgetTokens: budget,
		}
	}

	// Extract system prompt and convert messages.
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			antReq.System = m.Content
			continue

		case domain.RoleContext:
			// Branched-conversation context rides as a user turn.
			antReq.Messages = append(antReq.Messages, anthropicMessage{
				Role:    "user",
				Content: []anthropicContent{{Type: "text", Text: m.Content}},
			})
			continue

		case domain.RoleTool:
			antReq.Messages = append(antReq.Messages, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: firstToolCallID(m),
					Content:   m.Content,
				}},
			})
			continue
		}

		antMsg := anthropicMessage{Role: m.Role}

		// Replay thinking blocks for conversation history.
		if m.Reasoning != "" {
			antMsg.Content = append(antMsg.Content, anthropicContent{
				Type:     "thinking",
				Thinking: m.Reasoning,
			})
		}

		if len(m.ToolCalls) > 0 {
			if m.Content != "" {
				antMsg.Content = append(antMsg.Content, anthropicContent{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				antMsg.Content = append(antMsg.Content, anthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Arguments,
				})
			}
		} else {
			antMsg.Content = append(antMsg.Content, anthropicContent{Type: "text", Text: m.Content})
		}

		antReq.Messages = append(antReq.Messages, antMsg)
	}

	for _, t := range req.Tools {
		antReq.Tools = append(antReq.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	return antReq
}

func firstToolCallID(m domain.Message) string {
	if len(m.ToolCalls) > 0 {
		return m.ToolCalls[0].ID
	}
	return ""
}

func fromAnthropicResponse(resp anthropicResponse) *domain.ChatResponse {
	result := &domain.ChatResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		CreatedAt: time.Now(),
	}

	msg := domain.Message{
		Role:         domain.RoleAssistant,
		FinishReason: resp.StopReason,
		Timestamp:    result.CreatedAt,
	}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			msg.Content = block.Text
		case "thinking":
			msg.Reasoning = block.Thinking
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}

	result.Message = msg
	return result
}
