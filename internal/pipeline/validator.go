package pipeline

import (
	"context"
	"fmt"
	"strings"

	"procura/internal/llm"
	"procura/internal/logging"
	"procura/internal/prompts"
)

// Verdict is the disclosure check's decision over one email draft.
type Verdict struct {
	Valid    bool
	Feedback string
}

// Gate decides whether a drafted email is safe for external release.
// Phase 1 is a deterministic case-insensitive keyword scan; phase 2 is a
// single semantic audit turn, reached only when phase 1 finds nothing.
// The gate never retries; the loop decision belongs to the engine.
type Gate struct {
	keywords []string
	auditor  llm.Client
	logger   logging.Logger

	// onRejection reports which phase rejected, for metrics.
	onRejection func(phase string)
}

// NewGate creates a gate scanning for the given internal-terminology
// keywords and auditing with the given client.
func NewGate(keywords []string, auditor llm.Client) *Gate {
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			lowered = append(lowered, strings.ToLower(k))
		}
	}
	return &Gate{
		keywords: lowered,
		auditor:  auditor,
		logger:   logging.NewComponentLogger("validation-gate"),
	}
}

// SetRejectionHook registers a callback fired once per rejection with the
// rejecting phase ("keyword" or "semantic").
func (g *Gate) SetRejectionHook(hook func(phase string)) {
	g.onRejection = hook
}

// Check runs the two-phase disclosure check over the email text.
func (g *Gate) Check(ctx context.Context, email string) (Verdict, error) {
	if matched := g.scanKeywords(email); len(matched) > 0 {
		g.reject("keyword")
		return Verdict{
			Valid:    false,
			Feedback: "Found internal terminology: " + strings.Join(matched, ", "),
		}, nil
	}
	return g.auditSemantics(ctx, email)
}

// scanKeywords returns every configured keyword present in the email,
// matched case-insensitively.
func (g *Gate) scanKeywords(email string) []string {
	lowered := strings.ToLower(email)
	var matched []string
	for _, keyword := range g.keywords {
		if strings.Contains(lowered, keyword) {
			matched = append(matched, keyword)
		}
	}
	return matched
}

const failPrefix = "FAIL:"

func (g *Gate) auditSemantics(ctx context.Context, email string) (Verdict, error) {
	prompt := fmt.Sprintf(`Analyze the following email draft to a supplier.
Does it contain ANY internal-only information such as:
- Internal stock quantities
- "Weeks to Out of Stock" (WksToOOS)
- Internal risk assessments (High/Medium/Low risk)
- Mentions of internal analysis logic or tools

Email Draft:
---
%s
---
If it contains any internal leaks, respond with 'FAIL: <reason>'.
If it is safe for external communication, respond with 'PASS'.`, email)

	resp, err := g.auditor.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompts.AuditorSystem},
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature: 0,
	})
	if err != nil {
		return Verdict{}, err
	}

	result := strings.TrimSpace(resp.Content)
	if strings.HasPrefix(result, "PASS") {
		return Verdict{Valid: true}, nil
	}

	g.reject("semantic")
	reason := strings.TrimSpace(strings.TrimPrefix(result, failPrefix))
	g.logger.Info("email draft rejected: %s", reason)
	return Verdict{Valid: false, Feedback: reason}, nil
}

func (g *Gate) reject(phase string) {
	if g.onRejection != nil {
		g.onRejection(phase)
	}
}
