// Package model defines the provider-agnostic message, request, response, and
// streaming-chunk types shared by every provider adapter and by the injection
// engine. Messages are modeled as typed parts (text, tool use, tool result)
// rather than flattened strings so the stream wrapper and CONTEXT-stage
// mutations can operate on structure instead of parsing provider wire
// formats.
package model

import (
	"context"
	"encoding/json"
	"errors"
)

// ConversationRole identifies the speaker for a Message.
type ConversationRole string

const (
	// RoleSystem marks a system/instruction message.
	RoleSystem ConversationRole = "system"
	// RoleUser marks a message from the user side of the conversation,
	// including tool results returned to the model.
	RoleUser ConversationRole = "user"
	// RoleAssistant marks a message produced by the model.
	RoleAssistant ConversationRole = "assistant"
)

type (
	// Part is a marker interface implemented by every message content block.
	// Concrete part types form a closed variant; fault and trigger code may
	// type-switch on Part without worrying about unknown cases escaping
	// review, since isPart() can only be satisfied within this package.
	Part interface {
		isPart()
	}

	// TextPart is plain assistant- or user-visible text.
	TextPart struct {
		Text string
	}

	// ToolUsePart declares a tool invocation requested by the assistant.
	ToolUsePart struct {
		// ID uniquely identifies this tool call within the run.
		ID string
		// Name is the tool identifier as requested by the model.
		Name string
		// Input is the JSON-compatible arguments supplied by the model.
		Input json.RawMessage
	}

	// ToolResultPart carries the result of a tool invocation back to the
	// model. ToolUseID correlates it to the ToolUsePart that requested it.
	ToolResultPart struct {
		ToolUseID string
		Content   any
		IsError   bool
	}

	// Message is one entry in a conversation transcript.
	Message struct {
		Role  ConversationRole
		Parts []Part
		// Turn records the turn index that produced this message, used by
		// CONTEXT-stage faults (TRUNCATE/REMOVE) and by ConversationState.
		Turn int
	}

	// ToolDefinition describes a tool made available to the model.
	ToolDefinition struct {
		Name        string
		Description string
		InputSchema any
	}

	// ToolCall is a tool invocation requested by the model, normalized from a
	// provider response or stream.
	ToolCall struct {
		Name    string
		ID      string
		Payload json.RawMessage
	}

	// TokenUsage tracks token consumption for one model call.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}

	// Request captures the inputs to one model invocation. It is the value
	// the injector consults at the LLM interception point before the real
	// provider is called.
	Request struct {
		RunID       string
		Model       string
		Messages    []*Message
		Tools       []*ToolDefinition
		MaxTokens   int
		Temperature float32
		Stream      bool
	}

	// Response is the result of a non-streaming invocation.
	Response struct {
		Content    []Message
		ToolCalls  []ToolCall
		Usage      TokenUsage
		StopReason string
	}

	// Chunk is one streaming event from the model, after translation from
	// the provider's wire format and after any STREAM-stage fault has been
	// applied by the stream wrapper.
	Chunk struct {
		Type       ChunkType
		Text       string
		ToolCall   *ToolCall
		UsageDelta *TokenUsage
		StopReason string
	}

	// ChunkType classifies a streaming Chunk.
	ChunkType string

	// Client is the provider-agnostic model client a provider adapter
	// exposes; chaos/provider wraps it with interception. Agents never see
	// this interface directly; they issue calls through
	// scenario.AgentContext, which routes them through the intercepted
	// wrapper.
	Client interface {
		Complete(ctx context.Context, req *Request) (*Response, error)
		Stream(ctx context.Context, req *Request) (Streamer, error)
	}

	// Streamer delivers incremental chunks from a streaming invocation.
	// Callers must drain Recv until it returns io.EOF or another terminal
	// error, then call Close exactly once. Recv takes a context so a hung
	// stream (whether injected or real) can still be unwound by scenario
	// timeout or cancellation.
	Streamer interface {
		Recv(ctx context.Context) (Chunk, error)
		Close() error
	}
)

const (
	// ChunkText carries incremental assistant text.
	ChunkText ChunkType = "text"
	// ChunkToolCall carries a completed tool invocation.
	ChunkToolCall ChunkType = "tool_call"
	// ChunkUsage carries an incremental usage delta.
	ChunkUsage ChunkType = "usage"
	// ChunkStop is the terminal chunk carrying the stop reason.
	ChunkStop ChunkType = "stop"
)

func (TextPart) isPart()       {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// ErrRateLimited indicates the provider rejected the request due to rate
// limiting, whether injected by a chaos rule or raised by the real upstream.
var ErrRateLimited = errors.New("model: rate limited")

// ErrStreamClosed indicates a streaming call was terminated before the
// provider signaled a natural end, for example by a STREAM_CUT fault.
var ErrStreamClosed = errors.New("model: stream closed")

// CloneMessages returns a deep-enough copy of msgs suitable for CONTEXT-stage
// mutation: the slice and each *Message are copied, but Part values (which
// are treated as immutable once constructed) are shared.
func CloneMessages(msgs []*Message) []*Message {
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		if m == nil {
			continue
		}
		cp := *m
		cp.Parts = append([]Part(nil), m.Parts...)
		out[i] = &cp
	}
	return out
}
