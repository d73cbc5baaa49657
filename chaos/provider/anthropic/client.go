// Package anthropic provides a chaos model.Client implementation backed by
// the Anthropic Claude Messages API, translating chaos/model requests into
// anthropic-sdk-go calls and Anthropic streaming events back into
// chaos/model.Chunk, with a goroutine-pump streamer bridging the SDK's SSE
// iterator onto a channel Recv can select against.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/chaosforge/agentchaos/chaos/model"
)

// MessagesClient is the subset of the Anthropic SDK client this adapter
// uses, satisfied by *sdk.MessageService or a test double.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Client implements model.Client on top of Anthropic Claude Messages.
type Client struct {
	msg          MessagesClient
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

// New builds an Anthropic-backed chaos model client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model identifier is required")
	}
	return &Client{msg: msg, defaultModel: opts.DefaultModel, maxTokens: opts.MaxTokens, temperature: opts.Temperature}, nil
}

// NewFromAPIKey constructs a client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, Options{DefaultModel: defaultModel})
}

// Complete issues a non-streaming Messages.New call.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateResponse(msg), nil
}

// Stream invokes Messages.NewStreaming and adapts incremental events.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	s := c.msg.NewStreaming(ctx, *params)
	if err := s.Err(); err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("anthropic messages.new stream: %w", err)
	}
	return newStreamer(ctx, s), nil
}

func (c *Client) prepareRequest(req *model.Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	msgs, system := encodeMessages(req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens <= 0 {
		return nil, errors.New("anthropic: max_tokens must be positive")
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
		Model:     sdk.Model(modelID),
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}
	if t := req.Temperature; t > 0 {
		params.Temperature = sdk.Float(float64(t))
	} else if c.temperature > 0 {
		params.Temperature = sdk.Float(c.temperature)
	}
	return &params, nil
}

func encodeMessages(msgs []*model.Message) ([]sdk.MessageParam, []sdk.TextBlockParam) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	var system []sdk.TextBlockParam

	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == model.RoleSystem {
			for _, p := range m.Parts {
				if v, ok := p.(model.TextPart); ok && v.Text != "" {
					system = append(system, sdk.TextBlockParam{Text: v.Text})
				}
			}
			continue
		}

		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch p := part.(type) {
			case model.TextPart:
				blocks = append(blocks, sdk.NewTextBlock(p.Text))
			case model.ToolUsePart:
				var input any
				_ = json.Unmarshal(p.Input, &input)
				blocks = append(blocks, sdk.NewToolUseBlock(p.ID, input, p.Name))
			case model.ToolResultPart:
				content := fmt.Sprintf("%v", p.Content)
				blocks = append(blocks, sdk.NewToolResultBlock(p.ToolUseID, content, p.IsError))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == model.RoleAssistant {
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		} else {
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		}
	}
	return conversation, system
}

func encodeTools(defs []*model.ToolDefinition) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		if d == nil {
			continue
		}
		u := sdk.ToolUnionParamOfTool(toolInputSchema(d.InputSchema), d.Name)
		if u.OfTool != nil && d.Description != "" {
			u.OfTool.Description = sdk.String(d.Description)
		}
		out = append(out, u)
	}
	return out
}

func toolInputSchema(schema any) sdk.ToolInputSchemaParam {
	if schema == nil {
		return sdk.ToolInputSchemaParam{}
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return sdk.ToolInputSchemaParam{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}
}

func translateResponse(msg *sdk.Message) *model.Response {
	resp := &model.Response{
		Usage: model.TokenUsage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		StopReason: string(msg.StopReason),
	}
	var parts []model.Part
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case sdk.TextBlock:
			parts = append(parts, model.TextPart{Text: variant.Text})
		case sdk.ToolUseBlock:
			raw, _ := json.Marshal(variant.Input)
			parts = append(parts, model.ToolUsePart{ID: variant.ID, Name: variant.Name, Input: raw})
			resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{Name: variant.Name, ID: variant.ID, Payload: raw})
		}
	}
	resp.Content = []model.Message{{Role: model.RoleAssistant, Parts: parts}}
	return resp
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// streamer adapts an Anthropic Messages streaming response to
// model.Streamer: a single background goroutine reads SSE events and posts
// decoded chunks onto a buffered channel, so cancellation is just closing
// ctx.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
	chunks chan model.Chunk

	errMu    sync.Mutex
	finalErr error
	errSet   bool
}

func newStreamer(ctx context.Context, s *ssestream.Stream[sdk.MessageStreamEventUnion]) model.Streamer {
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
		if err := s.err(); err != nil {
			return model.Chunk{}, err
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

	var usage model.TokenUsage
	for s.stream.Next() {
		event := s.stream.Current()
		switch variant := event.AsAny().(type) {
		case sdk.ContentBlockDeltaEvent:
			if text := variant.Delta.Text; text != "" {
				select {
				case s.chunks <- model.Chunk{Type: model.ChunkText, Text: text}:
				case <-s.ctx.Done():
					return
				}
			}
		case sdk.MessageDeltaEvent:
			usage.OutputTokens += int(variant.Usage.OutputTokens)
			select {
			case s.chunks <- model.Chunk{Type: model.ChunkUsage, UsageDelta: &model.TokenUsage{OutputTokens: int(variant.Usage.OutputTokens)}}:
			case <-s.ctx.Done():
				return
			}
		case sdk.MessageStopEvent:
			select {
			case s.chunks <- model.Chunk{Type: model.ChunkStop, StopReason: "end_turn"}:
			case <-s.ctx.Done():
				return
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		s.setErr(err)
	}
}

func (s *streamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if !s.errSet {
		return nil
	}
	return s.finalErr
}

func (s *streamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.finalErr = err
	s.errSet = true
}
