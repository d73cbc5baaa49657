// Package bedrock provides a chaos model.Client implementation backed by
// Amazon Bedrock's Converse API, translating chaos/model requests into
// bedrockruntime calls. Errors are classified with smithy-go's APIError
// interface rather than string matching, the way AWS SDK v2 consumers are
// expected to.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/chaosforge/agentchaos/chaos/model"
)

// ConverseClient is the subset of the Bedrock Runtime SDK used here.
type ConverseClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Client implements model.Client on top of Bedrock Converse.
type Client struct {
	rt           ConverseClient
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

// New builds a Bedrock-backed chaos model client.
func New(rt ConverseClient, opts Options) (*Client, error) {
	if rt == nil {
		return nil, errors.New("bedrock: converse client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model identifier is required")
	}
	return &Client{rt: rt, defaultModel: opts.DefaultModel, maxTokens: opts.MaxTokens, temperature: opts.Temperature}, nil
}

// NewFromStaticCredentials constructs a client talking to Bedrock in
// region with explicit credentials, for environments without a default
// AWS credential chain. sessionToken may be empty for long-lived keys.
func NewFromStaticCredentials(accessKeyID, secretAccessKey, sessionToken, region, defaultModel string) (*Client, error) {
	if accessKeyID == "" || secretAccessKey == "" {
		return nil, errors.New("bedrock: access key id and secret access key are required")
	}
	if region == "" {
		return nil, errors.New("bedrock: region is required")
	}
	rt := bedrockruntime.New(bedrockruntime.Options{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken),
	})
	return New(rt, Options{DefaultModel: defaultModel})
}

// Complete issues a non-streaming Converse call.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	in, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	out, err := c.rt.Converse(ctx, in)
	if err != nil {
		return nil, classify(err)
	}
	return translateResponse(out), nil
}

// Stream invokes ConverseStream and adapts the event stream.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	in := &bedrockruntime.ConverseStreamInput{}
	prep, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	in.ModelId = prep.ModelId
	in.Messages = prep.Messages
	in.System = prep.System
	in.InferenceConfig = prep.InferenceConfig
	in.ToolConfig = prep.ToolConfig

	out, err := c.rt.ConverseStream(ctx, in)
	if err != nil {
		return nil, classify(err)
	}
	return newStreamer(ctx, out), nil
}

func (c *Client) prepareRequest(req *model.Request) (*bedrockruntime.ConverseInput, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
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
	cfg := &types.InferenceConfiguration{}
	if maxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(maxTokens))
	}
	if t := req.Temperature; t > 0 {
		cfg.Temperature = aws.Float32(t)
	} else if c.temperature > 0 {
		cfg.Temperature = aws.Float32(float32(c.temperature))
	}
	in := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(modelID),
		Messages:        msgs,
		InferenceConfig: cfg,
	}
	if len(system) > 0 {
		in.System = system
	}
	if len(req.Tools) > 0 {
		in.ToolConfig = encodeTools(req.Tools)
	}
	return in, nil
}

func encodeMessages(msgs []*model.Message) ([]types.Message, []types.SystemContentBlock) {
	out := make([]types.Message, 0, len(msgs))
	var system []types.SystemContentBlock
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Role == model.RoleSystem {
			for _, p := range m.Parts {
				if tp, ok := p.(model.TextPart); ok && tp.Text != "" {
					system = append(system, &types.SystemContentBlockMemberText{Value: tp.Text})
				}
			}
			continue
		}
		var blocks []types.ContentBlock
		for _, part := range m.Parts {
			switch p := part.(type) {
			case model.TextPart:
				blocks = append(blocks, &types.ContentBlockMemberText{Value: p.Text})
			case model.ToolUsePart:
				var input any
				_ = json.Unmarshal(p.Input, &input)
				blocks = append(blocks, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{ToolUseId: aws.String(p.ID), Name: aws.String(p.Name), Input: document.NewLazyDocument(input)},
				})
			case model.ToolResultPart:
				blocks = append(blocks, &types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(p.ToolUseID),
						Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: fmt.Sprintf("%v", p.Content)}},
						Status:    toolResultStatus(p.IsError),
					},
				})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == model.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{Role: role, Content: blocks})
	}
	return out, system
}

func toolResultStatus(isError bool) types.ToolResultStatus {
	if isError {
		return types.ToolResultStatusError
	}
	return types.ToolResultStatusSuccess
}

func encodeTools(defs []*model.ToolDefinition) *types.ToolConfiguration {
	tools := make([]types.Tool, 0, len(defs))
	for _, d := range defs {
		if d == nil {
			continue
		}
		spec := types.ToolSpecification{
			Name:        aws.String(d.Name),
			Description: aws.String(d.Description),
		}
		if d.InputSchema != nil {
			spec.InputSchema = &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(d.InputSchema)}
		}
		tools = append(tools, &types.ToolMemberToolSpec{Value: spec})
	}
	return &types.ToolConfiguration{Tools: tools}
}

func translateResponse(out *bedrockruntime.ConverseOutput) *model.Response {
	resp := &model.Response{StopReason: string(out.StopReason)}
	if out.Usage != nil {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	member, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return resp
	}
	var parts []model.Part
	for _, block := range member.Value.Content {
		switch v := block.(type) {
		case *types.ContentBlockMemberText:
			parts = append(parts, model.TextPart{Text: v.Value})
		case *types.ContentBlockMemberToolUse:
			raw := decodeDocument(v.Value.Input)
			parts = append(parts, model.ToolUsePart{ID: aws.ToString(v.Value.ToolUseId), Name: aws.ToString(v.Value.Name), Input: raw})
			resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{Name: aws.ToString(v.Value.Name), ID: aws.ToString(v.Value.ToolUseId), Payload: raw})
		}
	}
	resp.Content = []model.Message{{Role: model.RoleAssistant, Parts: parts}}
	return resp
}

// decodeDocument extracts a tool input document's raw JSON. A nil or
// unmarshalable document decodes to nil rather than failing the whole
// response translation.
func decodeDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return nil
	}
	b, err := doc.MarshalSmithyDocument()
	if err != nil {
		return nil
	}
	return json.RawMessage(b)
}

// classify maps a Bedrock error to model.ErrRateLimited when the smithy-go
// APIError reports a throttling error code, preserving the original error
// via %w so upstream diagnostics survive.
func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
	}
	return fmt.Errorf("bedrock converse: %w", err)
}

type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	out    *bedrockruntime.ConverseStreamOutput
	chunks chan model.Chunk
	err    error
}

func newStreamer(ctx context.Context, out *bedrockruntime.ConverseStreamOutput) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, out: out, chunks: make(chan model.Chunk, 32)}
	go s.run()
	return s
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
	if s.out == nil {
		return nil
	}
	return s.out.GetStream().Close()
}

func (s *streamer) run() {
	defer close(s.chunks)
	stream := s.out.GetStream()
	defer stream.Close()
	for event := range stream.Events() {
		switch v := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockDelta:
			if d, ok := v.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
				select {
				case s.chunks <- model.Chunk{Type: model.ChunkText, Text: d.Value}:
				case <-s.ctx.Done():
					return
				}
			}
		case *types.ConverseStreamOutputMemberMetadata:
			if v.Value.Usage != nil {
				select {
				case s.chunks <- model.Chunk{Type: model.ChunkUsage, UsageDelta: &model.TokenUsage{
					InputTokens:  int(aws.ToInt32(v.Value.Usage.InputTokens)),
					OutputTokens: int(aws.ToInt32(v.Value.Usage.OutputTokens)),
				}}:
				case <-s.ctx.Done():
					return
				}
			}
		case *types.ConverseStreamOutputMemberMessageStop:
			select {
			case s.chunks <- model.Chunk{Type: model.ChunkStop, StopReason: string(v.Value.StopReason)}:
			case <-s.ctx.Done():
				return
			}
		}
	}
	if err := stream.Err(); err != nil {
		s.err = classify(err)
	}
}
