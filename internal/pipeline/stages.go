package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"procura/internal/llm"
	"procura/internal/prompts"
	"procura/internal/rag"
)

const styleReferenceTopK = 2

// styleReferences fetches up to two reference documents for a linear stage.
// An empty index yields an empty block; a retrieval backend failure is
// fatal for the stage.
func (e *Engine) styleReferences(ctx context.Context, index, query string) (string, error) {
	docs, err := e.retriever.Search(ctx, index, query, styleReferenceTopK)
	if err != nil {
		return "", fmt.Errorf("fetch references: %w", err)
	}
	return rag.JoinContents(docs), nil
}

// prependReferences frames reference material as non-binding style guidance
// ahead of the stage input.
func prependReferences(references, label, input string) string {
	if references == "" {
		return input
	}
	return "Reference (" + label + "):\n" + references + "\n\nInput:\n" + input
}

// completeText issues one generation turn and returns the raw text.
func completeText(ctx context.Context, client llm.Client, system, user string) (string, error) {
	resp, err := client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// runEvaluation critiques the analysis output.
func (e *Engine) runEvaluation(ctx context.Context, state *State) error {
	payload := map[string]any{
		"supplier":        state.Supplier,
		"items":           state.Items,
		"analysis_output": state.AnalysisOutput,
	}
	user, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal evaluation payload: %w", err)
	}

	out, err := completeText(ctx, e.strong, prompts.EvaluationSystem, string(user))
	if err != nil {
		return err
	}
	state.EvaluationMD = out
	return nil
}

// runReport turns the analysis into a markdown report.
func (e *Engine) runReport(ctx context.Context, state *State) error {
	references, err := e.styleReferences(ctx, rag.IndexAnalysisExamples, "analysis report structure and tone")
	if err != nil {
		return err
	}

	payload := map[string]any{
		"snapshot_date":              state.SnapshotDate,
		"supplier":                   state.Supplier,
		"purchasing_report_markdown": state.AnalysisOutput.Narrative,
		"critical_questions":         state.AnalysisOutput.CriticalQuestions,
		"replenishment_timeline":     state.AnalysisOutput.ReplenishmentTimeline,
	}
	user, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal report payload: %w", err)
	}

	out, err := completeText(ctx, e.strong, prompts.ReportSystem,
		prependReferences(references, "tone/structure only", string(user)))
	if err != nil {
		return err
	}
	state.ReportMD = out
	return nil
}

// runPRDraft drafts the structured purchase request. Extraction failure
// yields a minimal structurally-valid empty purchase request.
func (e *Engine) runPRDraft(ctx context.Context, state *State) error {
	references, err := e.styleReferences(ctx, rag.IndexRequestExamples, "purchase request structure")
	if err != nil {
		return err
	}

	payload := map[string]any{
		"snapshot_date":   state.SnapshotDate,
		"supplier":        state.Supplier,
		"risk_level":      state.RiskLevel,
		"analysis_output": state.AnalysisOutput,
	}
	user, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal pr draft payload: %w", err)
	}

	out, err := completeText(ctx, e.strong, prompts.PRDraftSystem,
		prependReferences(references, "structure only", string(user)))
	if err != nil {
		return err
	}

	var draft PurchaseRequest
	if err := ExtractJSON(out, &draft); err != nil {
		e.logger.Warn("pr draft output unparseable, using empty purchase request: %v", err)
		state.PRDraft = emptyPurchaseRequest(state.Supplier, state.SnapshotDate)
		return nil
	}
	if draft.PurchaseRequests == nil {
		draft.PurchaseRequests = []PurchaseRequestLine{}
	}
	state.PRDraft = &draft
	return nil
}

// runPRDoc renders the purchase request draft as a markdown requisition.
func (e *Engine) runPRDoc(ctx context.Context, state *State) error {
	references, err := e.styleReferences(ctx, rag.IndexRequestExamples, "purchase requisition format")
	if err != nil {
		return err
	}

	user, err := json.Marshal(state.PRDraft)
	if err != nil {
		return fmt.Errorf("marshal pr doc payload: %w", err)
	}

	out, err := completeText(ctx, e.strong, prompts.PRDocSystem,
		prependReferences(references, "format only", string(user)))
	if err != nil {
		return err
	}
	state.PRMD = out
	return nil
}

// runEmailDraft writes the outward-facing supplier email. The first attempt
// uses the light model tier; every redraft after a rejection uses the
// strong tier with a hardened system instruction and the gate's feedback
// appended as an explicit revision directive. The iteration counter
// increments on every execution, including the first.
func (e *Engine) runEmailDraft(ctx context.Context, state *State) error {
	payload := map[string]any{
		"snapshot_date":   state.SnapshotDate,
		"supplier":        state.Supplier,
		"risk_level":      state.RiskLevel,
		"items":           state.Items,
		"analysis_output": state.AnalysisOutput,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email payload: %w", err)
	}
	user := string(raw)

	var out string
	if state.CorrectionFeedback != "" && state.IterationCount > 0 {
		system := prompts.EmailDraftSystem + prompts.EmailDraftStrictSuffix
		user += "\n\n[REVISION REQUEST]\nYour previous draft was rejected for the following reason: " +
			state.CorrectionFeedback +
			"\nPlease rewrite the email while strictly avoiding those issues."
		out, err = completeText(ctx, e.strong, system, user)
	} else {
		references, refErr := e.styleReferences(ctx, rag.IndexEmailExamples, "supplier email tone and structure")
		if refErr != nil {
			return refErr
		}
		out, err = completeText(ctx, e.light, prompts.EmailDraftSystem,
			prependReferences(references, "tone only", user))
	}
	if err != nil {
		return err
	}

	state.EmailText = out
	state.IterationCount++
	return nil
}
