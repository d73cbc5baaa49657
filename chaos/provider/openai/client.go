// Package openai provides a chaos model.Client implementation backed by the
// OpenAI Chat Completions API, translating chaos/model requests into
// openai-go calls and OpenAI streaming events back into chaos/model.Chunk.
// It follows the same request/response translation shape as
// chaos/provider/anthropic, adapted to OpenAI's chat.completions surface.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/chaosforge/agentchaos/chaos/model"
)

// CompletionsClient is the subset of the OpenAI SDK used by this adapter.
type CompletionsClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// Client implements model.Client on top of OpenAI Chat Completions.
type Client struct {
	chat         CompletionsClient
	defaultModel string
	maxTokens    int
	temperature  float64
}

// Options configures the adapter's fallback request parameters.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// New builds an OpenAI-backed chaos model client.
func New(chat CompletionsClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat completions client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model identifier is required")
	}
	return &Client{chat: chat, defaultModel: opts.DefaultModel, maxTokens: opts.MaxTokens, temperature: opts.Temperature}, nil
}

// NewFromAPIKey constructs a client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	oc := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&oc.Chat.Completions, Options{DefaultModel: defaultModel})
}

// Complete issues a non-streaming chat completion request.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("openai chat.completions.new: %w", err)
	}
	return translateResponse(resp), nil
}

// Stream invokes a streaming chat completion request.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	s := c.chat.NewStreaming(ctx, *params)
	if err := s.Err(); err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("openai chat.completions.new stream: %w", err)
	}
	return newStreamer(ctx, s), nil
}

func (c *Client) prepareRequest(req *model.Request) (*openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	params := &openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(modelID),
		Messages: encodeMessages(req.Messages),
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}
	if t := req.Temperature; t > 0 {
		params.Temperature = openai.Float(float64(t))
	} else if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}
	return params, nil
}

func encodeMessages(msgs []*model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		text := flattenText(m.Parts)
		switch m.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(text))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(text))
		default:
			toolResult := false
			for _, part := range m.Parts {
				if tr, ok := part.(model.ToolResultPart); ok {
					out = append(out, openai.ToolMessage(fmt.Sprintf("%v", tr.Content), tr.ToolUseID))
					toolResult = true
				}
			}
			if !toolResult {
				out = append(out, openai.UserMessage(text))
			}
		}
	}
	return out
}

func flattenText(parts []model.Part) string {
	var out string
	for _, p := range parts {
		if tp, ok := p.(model.TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

func encodeTools(defs []*model.ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, d := range defs {
		if d == nil {
			continue
		}
		fn := openai.FunctionDefinitionParam{
			Name:        d.Name,
			Description: openai.String(d.Description),
		}
		if params := functionParameters(d.InputSchema); params != nil {
			fn.Parameters = params
		}
		out = append(out, openai.ChatCompletionToolParam{Function: fn})
	}
	return out
}

func functionParameters(schema any) openai.FunctionParameters {
	if schema == nil {
		return nil
	}
	if m, ok := schema.(map[string]any); ok {
		return openai.FunctionParameters(m)
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return openai.FunctionParameters(m)
}

func translateResponse(resp *openai.ChatCompletion) *model.Response {
	out := &model.Response{
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.StopReason = string(choice.FinishReason)
	var parts []model.Part
	if choice.Message.Content != "" {
		parts = append(parts, model.TextPart{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		raw := json.RawMessage(tc.Function.Arguments)
		parts = append(parts, model.ToolUsePart{ID: tc.ID, Name: tc.Function.Name, Input: raw})
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{Name: tc.Function.Name, ID: tc.ID, Payload: raw})
	}
	out.Content = []model.Message{{Role: model.RoleAssistant, Parts: parts}}
	return out
}

func isRateLimited(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// streamer adapts an OpenAI chat completion streaming response to
// model.Streamer, using the same goroutine-pump shape as the Anthropic
// adapter so chaos/stream can wrap either uniformly.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	chunks chan model.Chunk
	err    error
}

func newStreamer(ctx context.Context, s *ssestream.Stream[openai.ChatCompletionChunk]) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	st := &streamer{ctx: cctx, cancel: cancel, stream: s, chunks: make(chan model.Chunk, 32)}
	go st.run()
	return st
}

func (s *streamer) Recv(ctx context.Context) (model.Chunk, error) {
	select {
	case chunk, ok := <-s.chunks:
		if ok {
			return chunk, nil
		}
		if s.err != nil {
			return model.Chunk{}, s.err
		}
		return model.Chunk{}, io.EOF
	case <-ctx.Done():
		return model.Chunk{}, ctx.Err()
	case <-s.ctx.Done():
		return model.Chunk{}, s.ctx.Err()
	}
}

func (s *streamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *streamer) run() {
	defer close(s.chunks)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			select {
			case s.chunks <- model.Chunk{Type: model.ChunkText, Text: delta.Content}:
			case <-s.ctx.Done():
				return
			}
		}
		if chunk.Choices[0].FinishReason != "" {
			select {
			case s.chunks <- model.Chunk{Type: model.ChunkStop, StopReason: chunk.Choices[0].FinishReason}:
			case <-s.ctx.Done():
				return
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		s.err = err
	}
}
