// Package agent provides a reference implementation of the agent callable
// the harness drives per turn. It is not part of the harness itself:
// chaos/scenario only knows about the scenario.AgentFunc seam, and any
// caller-supplied callable of that shape works. ToolCalling is the
// everyday case, a standard LLM/tool-call loop that retries rate-limited
// completions before giving up.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/chaosforge/agentchaos/chaos/model"
	"github.com/chaosforge/agentchaos/chaos/scenario"
)

// ToolCalling returns an AgentFunc that drives a standard
// complete-then-resolve-tool-calls loop: it issues a completion, appends
// the assistant's reply to history, and if the reply requested tool calls,
// resolves each one and feeds the results back for another round, up to
// maxToolRounds rounds. A completion that fails with model.ErrRateLimited
// is retried up to maxRetries times before the turn gives up; any other
// error is not retried. The harness never retries on the agent's behalf;
// retry is agent policy, and this agent's policy is rate-limit-only.
func ToolCalling(maxToolRounds, maxRetries int) scenario.AgentFunc {
	if maxToolRounds <= 0 {
		maxToolRounds = 1
	}
	return func(ctx context.Context, input string, ac *scenario.AgentContext) (string, error) {
		for round := 0; round < maxToolRounds; round++ {
			req := &model.Request{
				Model:     ac.Model(),
				Messages:  ac.History(),
				Tools:     ac.Tools(),
				MaxTokens: ac.MaxTokens(),
			}

			resp, err := completeWithRetry(ctx, ac, req, maxRetries)
			if err != nil {
				return "", err
			}

			var text string
			for _, m := range resp.Content {
				msg := m
				ac.AppendMessage(&msg)
				for _, p := range msg.Parts {
					if tp, ok := p.(model.TextPart); ok {
						text += tp.Text
					}
				}
			}
			if text != "" {
				ac.RecordAssistantText(text)
			}

			if len(resp.ToolCalls) == 0 {
				return text, nil
			}

			var results []model.Part
			for _, call := range resp.ToolCalls {
				result, isError, err := ac.InvokeTool(ctx, call)
				if err != nil {
					return "", fmt.Errorf("agent: tool %q: %w", call.Name, err)
				}
				results = append(results, model.ToolResultPart{ToolUseID: call.ID, Content: result, IsError: isError})
			}
			ac.AppendMessage(&model.Message{Role: model.RoleUser, Parts: results})
		}
		return "", fmt.Errorf("agent: exceeded %d tool-call rounds", maxToolRounds)
	}
}

// completeWithRetry issues req, retrying up to maxRetries additional times
// when the failure is a rate limit. Injected and real rate limits both
// classify as model.ErrRateLimited, so the agent cannot tell the
// difference.
func completeWithRetry(ctx context.Context, ac *scenario.AgentContext, req *model.Request, maxRetries int) (*model.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, _, err := ac.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !errors.Is(err, model.ErrRateLimited) {
			return nil, err
		}
	}
	return nil, lastErr
}
