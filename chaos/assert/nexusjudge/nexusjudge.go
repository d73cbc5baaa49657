// Package nexusjudge adapts an external judge (any service exposing a
// Nexus operation) into an assert.Assertion, for scenarios whose pass/fail
// decision needs a verdict no local predicate can compute (e.g. "did the
// agent's final answer correctly resolve the customer's question").
//
// The judge speaks the Nexus synchronous-operation protocol, the same RPC
// shape Temporal workflows use to call Nexus handlers, so an existing
// Nexus-exposed evaluation service can be pointed at without a bespoke
// wire format.
package nexusjudge

import (
	"context"
	"fmt"

	"github.com/nexus-rpc/sdk-go/nexus"

	"github.com/chaosforge/agentchaos/chaos/assert"
)

// Verdict is the judge's structured response.
type Verdict struct {
	Pass   bool   `json:"pass"`
	Reason string `json:"reason"`
}

// Request is what the judge receives: the scenario's final response text
// plus whatever rubric the caller wants evaluated against.
type Request struct {
	ResponseText string `json:"response_text"`
	Rubric       string `json:"rubric"`
}

// operationRef is the typed reference to the judge's synchronous Nexus
// operation, shared by every call regardless of endpoint.
var operationRef = nexus.NewOperationReference[Request, Verdict]("judge")

// Caller issues a Nexus operation call to an external judge. NewHTTPCaller
// returns one backed by a *nexus.HTTPClient pointed at the judge's Nexus
// endpoint.
type Caller interface {
	Judge(ctx context.Context, req Request) (Verdict, error)
}

// httpCaller adapts a *nexus.HTTPClient to Caller.
type httpCaller struct {
	client *nexus.HTTPClient
}

// NewHTTPCaller builds a Caller backed by a Nexus HTTP client talking to
// endpoint.
func NewHTTPCaller(endpoint string) (Caller, error) {
	client, err := nexus.NewHTTPClient(nexus.HTTPClientOptions{BaseURL: endpoint, Service: "agentchaos-judge"})
	if err != nil {
		return nil, fmt.Errorf("nexusjudge: %w", err)
	}
	return &httpCaller{client: client}, nil
}

func (h *httpCaller) Judge(ctx context.Context, req Request) (Verdict, error) {
	return nexus.ExecuteOperation(ctx, h.client, operationRef, req, nexus.ExecuteOperationOptions{})
}

// Judge returns an assert.Assertion that delegates to caller. rubric is
// passed through to the judge verbatim; the assertion fails if the judge
// returns Pass=false or the RPC itself errors.
func Judge(caller Caller, rubric string) assert.Assertion {
	return assert.Assertion{
		Name: fmt.Sprintf("NexusJudge(%q)", rubric),
		Check: func(c assert.Context) error {
			v, err := caller.Judge(context.Background(), Request{
				ResponseText: c.LastResponseText,
				Rubric:       rubric,
			})
			if err != nil {
				return fmt.Errorf("assert: external judge call failed: %w", err)
			}
			if !v.Pass {
				return fmt.Errorf("assert: external judge rejected response: %s", v.Reason)
			}
			return nil
		},
	}
}
