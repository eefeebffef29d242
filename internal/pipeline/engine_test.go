package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"procura/internal/config"
	"procura/internal/llm"
	"procura/internal/logging"
	"procura/internal/rag"
)

const analysisJSON = `{"purchasing_report_markdown": "narrative", "critical_questions": ["why late?"], "replenishment_timeline": [{"item_code": "100000", "action": "order"}]}`

const prDraftJSON = `{"document_type": "purchase_request", "supplier": "SupplierA", "snapshot_date": "2025-11-03", "purchase_requests": [{"item_code": "100000", "quantity": 40}]}`

type recordedQuery struct {
	Index string
	Query string
	K     int
}

// stubRetriever serves canned documents per index and records every query.
type stubRetriever struct {
	mu      sync.Mutex
	docs    map[string][]rag.Document
	queries []recordedQuery
	err     error
}

func (r *stubRetriever) Search(_ context.Context, index, query string, k int) ([]rag.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, recordedQuery{Index: index, Query: query, K: k})
	if r.err != nil {
		return nil, r.err
	}
	return r.docs[index], nil
}

func (r *stubRetriever) recorded() []recordedQuery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedQuery(nil), r.queries...)
}

func testSnapshot() Snapshot {
	return Snapshot{
		SnapshotDate: "2025-11-03",
		Supplier:     "SupplierA",
		Items: []Item{
			{ItemCode: "100000", ItemName: "ItemA", StockLevel: 12, WeeksToOOS: 1.5, RiskLevel: "High"},
			{ItemCode: "100004", ItemName: "ItemE", StockLevel: 80, WeeksToOOS: 6, RiskLevel: "Medium"},
		},
	}
}

func newTestEngine(t *testing.T, strong, light, auditor *llm.MockClient, retriever *stubRetriever) *Engine {
	t.Helper()
	gate := NewGate(config.DefaultLeakKeywords, auditor)
	engine, err := NewEngine(EngineConfig{
		Strong:    strong,
		Light:     light,
		Retriever: retriever,
		Gate:      gate,
		Logger:    logging.Nop(),
	})
	require.NoError(t, err)
	return engine
}

func TestEngineHappyPathAcceptsFirstIteration(t *testing.T) {
	t.Parallel()

	strong := llm.NewMockClient("strong").
		EnqueueText(analysisJSON).          // analysis
		EnqueueText("## Evaluation: 8/10"). // evaluation
		EnqueueText("# Report").            // report
		EnqueueText(prDraftJSON).           // pr draft
		EnqueueText("# Purchase Requisition")
	light := llm.NewMockClient("light").
		EnqueueText("Dear SupplierA, could you confirm delivery schedules?")
	auditor := llm.NewMockClient("auditor").EnqueueText("PASS")
	retriever := &stubRetriever{docs: map[string][]rag.Document{
		rag.IndexAnalysisExamples: {{ID: "a1", Content: "example report"}},
	}}

	engine := newTestEngine(t, strong, light, auditor, retriever)
	state, err := engine.Run(context.Background(), testSnapshot())
	require.NoError(t, err)

	assert.True(t, state.IsValidEmail)
	assert.Equal(t, 1, state.IterationCount)
	assert.Empty(t, state.CorrectionFeedback)
	assert.Equal(t, "High", state.RiskLevel)
	require.NotNil(t, state.AnalysisOutput)
	assert.Equal(t, "narrative", state.AnalysisOutput.Narrative)
	assert.Equal(t, "## Evaluation: 8/10", state.EvaluationMD)
	assert.Equal(t, "# Report", state.ReportMD)
	require.NotNil(t, state.PRDraft)
	require.Len(t, state.PRDraft.PurchaseRequests, 1)
	assert.Equal(t, "# Purchase Requisition", state.PRMD)
	assert.Contains(t, state.EmailText, "Dear SupplierA")
	assert.NotEmpty(t, state.RunID)

	// Linear stages fetched their style references with k=2.
	var indices []string
	for _, q := range retriever.recorded() {
		assert.Equal(t, 2, q.K)
		indices = append(indices, q.Index)
	}
	assert.Equal(t, []string{
		rag.IndexAnalysisExamples,
		rag.IndexRequestExamples,
		rag.IndexRequestExamples,
		rag.IndexEmailExamples,
	}, indices)

	// The report stage saw the fetched reference as non-binding guidance.
	reportReq := strong.Requests[2]
	assert.Contains(t, reportReq.Messages[1].Content, "Reference (tone/structure only):")
	assert.Contains(t, reportReq.Messages[1].Content, "example report")
}

func TestEngineToolCallProtocol(t *testing.T) {
	t.Parallel()

	strong := llm.NewMockClient("strong").
		Enqueue(&llm.CompletionResponse{
			StopReason: "tool_calls",
			ToolCalls: []llm.ToolCall{
				{ID: "call_1", Name: "supplier_history", Arguments: map[string]any{"query": "SupplierA delivery delays"}},
				{ID: "call_2", Name: "item_history", Arguments: map[string]any{}},
				{ID: "call_3", Name: "mystery_tool", Arguments: nil},
			},
		}).
		EnqueueText(analysisJSON).
		EnqueueError(errors.New("backend down")) // abort at evaluation
	light := llm.NewMockClient("light")
	auditor := llm.NewMockClient("auditor")
	retriever := &stubRetriever{docs: map[string][]rag.Document{
		rag.IndexSupplierHistory: {{ID: "s1", Content: "late twice in Q3"}},
	}}

	engine := newTestEngine(t, strong, light, auditor, retriever)
	state, err := engine.Run(context.Background(), testSnapshot())

	// Analysis completed despite the later failure.
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageEvaluation, stageErr.Stage)
	require.NotNil(t, state.AnalysisOutput)

	// Both declared tools hit the retriever; the undeclared one did not.
	queries := retriever.recorded()
	require.Len(t, queries, 2)
	assert.Equal(t, rag.IndexSupplierHistory, queries[0].Index)
	assert.Equal(t, "SupplierA delivery delays", queries[0].Query)
	assert.Equal(t, 5, queries[0].K)
	assert.Equal(t, rag.IndexItemHistory, queries[1].Index)
	// No query furnished: falls back to concatenated item codes.
	assert.Equal(t, "item_code: 100000 item_code: 100004", queries[1].Query)

	// Turn 2 replays the originals plus the assistant turn plus one
	// correlated tool result per invocation.
	require.Equal(t, 3, strong.Calls()) // two analysis turns, then the failing evaluation
	turn2 := strong.Requests[1]
	require.Len(t, turn2.Messages, 6)
	assert.Equal(t, llm.RoleSystem, turn2.Messages[0].Role)
	assert.Equal(t, llm.RoleUser, turn2.Messages[1].Role)
	assert.Equal(t, llm.RoleAssistant, turn2.Messages[2].Role)
	require.Len(t, turn2.Messages[2].ToolCalls, 3)

	toolMsgs := turn2.Messages[3:]
	assert.Equal(t, "call_1", toolMsgs[0].ToolCallID)
	assert.Contains(t, toolMsgs[0].Content, "late twice in Q3")
	assert.Equal(t, "call_2", toolMsgs[1].ToolCallID)
	// Empty item index resolves to the fixed placeholder, not an error.
	assert.Equal(t, "No item history found.", toolMsgs[1].Content)
	assert.Equal(t, "call_3", toolMsgs[2].ToolCallID)
	assert.Empty(t, toolMsgs[2].Content)
	for _, msg := range toolMsgs {
		assert.Equal(t, llm.RoleTool, msg.Role)
	}
}

func TestEngineDegradedAnalysisNeverFails(t *testing.T) {
	t.Parallel()

	strong := llm.NewMockClient("strong").
		EnqueueText("I could not structure this, sorry.").
		EnqueueError(errors.New("stop here"))
	light := llm.NewMockClient("light")
	auditor := llm.NewMockClient("auditor")

	engine := newTestEngine(t, strong, light, auditor, &stubRetriever{})
	state, err := engine.Run(context.Background(), testSnapshot())

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageEvaluation, stageErr.Stage)

	require.NotNil(t, state.AnalysisOutput)
	assert.Equal(t, "I could not structure this, sorry.", state.AnalysisOutput.Narrative)
	assert.Empty(t, state.AnalysisOutput.CriticalQuestions)
	require.Len(t, state.AnalysisOutput.ReplenishmentTimeline, 2)
	assert.Equal(t, "100000", state.AnalysisOutput.ReplenishmentTimeline[0]["item_code"])
}

func TestEnginePRDraftParseFailureYieldsEmptyRequest(t *testing.T) {
	t.Parallel()

	strong := llm.NewMockClient("strong").
		EnqueueText(analysisJSON).
		EnqueueText("eval").
		EnqueueText("report").
		EnqueueText("here is your purchase request, have a nice day"). // unparseable
		EnqueueText("pr doc")
	light := llm.NewMockClient("light").EnqueueText("Dear SupplierA, hello.")
	auditor := llm.NewMockClient("auditor").EnqueueText("PASS")

	engine := newTestEngine(t, strong, light, auditor, &stubRetriever{})
	state, err := engine.Run(context.Background(), testSnapshot())
	require.NoError(t, err)

	require.NotNil(t, state.PRDraft)
	assert.Equal(t, "purchase_request", state.PRDraft.DocumentType)
	assert.Equal(t, "SupplierA", state.PRDraft.Supplier)
	assert.Equal(t, "2025-11-03", state.PRDraft.SnapshotDate)
	assert.Empty(t, state.PRDraft.PurchaseRequests)
}

func TestEngineRetriesUntilCleanOnThirdAttempt(t *testing.T) {
	t.Parallel()

	strong := llm.NewMockClient("strong").
		EnqueueText(analysisJSON).
		EnqueueText("eval").
		EnqueueText("report").
		EnqueueText(prDraftJSON).
		EnqueueText("pr doc").
		EnqueueText("Second try: your Risk Level remains high."). // retry 1, still leaky
		EnqueueText("Third try: could you confirm lead times?")   // retry 2, clean
	light := llm.NewMockClient("light").
		EnqueueText("First try: our Stock Level shows 12 units left.") // leaky
	auditor := llm.NewMockClient("auditor").EnqueueText("PASS")

	engine := newTestEngine(t, strong, light, auditor, &stubRetriever{})
	state, err := engine.Run(context.Background(), testSnapshot())
	require.NoError(t, err)

	assert.True(t, state.IsValidEmail)
	assert.Equal(t, 3, state.IterationCount)
	assert.Empty(t, state.CorrectionFeedback)
	assert.Contains(t, state.EmailText, "Third try")

	// Keyword rejections never reached the semantic auditor.
	assert.Equal(t, 1, auditor.Calls())

	// Redrafts ran on the strong tier with the gate's feedback spelled out.
	require.Equal(t, 7, strong.Calls())
	redraft := strong.Requests[5]
	assert.Contains(t, redraft.Messages[0].Content, "STRICT")
	assert.Contains(t, redraft.Messages[1].Content, "[REVISION REQUEST]")
	assert.Contains(t, redraft.Messages[1].Content, "stock level")
	assert.Equal(t, 1, light.Calls())
}

func TestEngineExhaustsRetryCeiling(t *testing.T) {
	t.Parallel()

	strong := llm.NewMockClient("strong").
		EnqueueText(analysisJSON).
		EnqueueText("eval").
		EnqueueText("report").
		EnqueueText(prDraftJSON).
		EnqueueText("pr doc").
		EnqueueText("Attempt 2 mentions the Replenishment Timeline.").
		EnqueueText("Attempt 3 mentions wks_to_oos directly.")
	light := llm.NewMockClient("light").
		EnqueueText("Attempt 1 mentions our Internal Analysis.")
	auditor := llm.NewMockClient("auditor")

	engine := newTestEngine(t, strong, light, auditor, &stubRetriever{})
	state, err := engine.Run(context.Background(), testSnapshot())
	require.NoError(t, err)

	assert.False(t, state.IsValidEmail)
	assert.Equal(t, 3, state.IterationCount)
	// The last attempt's rejection reason is retained for the caller.
	assert.Contains(t, state.CorrectionFeedback, "wks_to_oos")
	assert.Contains(t, state.EmailText, "Attempt 3")
	assert.Zero(t, auditor.Calls())
}

func TestEngineStageFailureNamesStage(t *testing.T) {
	t.Parallel()

	strong := llm.NewMockClient("strong").EnqueueError(errors.New("connection refused"))
	light := llm.NewMockClient("light")
	auditor := llm.NewMockClient("auditor")

	engine := newTestEngine(t, strong, light, auditor, &stubRetriever{})
	state, err := engine.Run(context.Background(), testSnapshot())

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageAnalysis, stageErr.Stage)
	require.NotNil(t, state)
	assert.Nil(t, state.AnalysisOutput)
	assert.Zero(t, state.IterationCount)
}

func TestEngineRetrievalFailureIsFatal(t *testing.T) {
	t.Parallel()

	strong := llm.NewMockClient("strong").
		EnqueueText(analysisJSON).
		EnqueueText("eval")
	light := llm.NewMockClient("light")
	auditor := llm.NewMockClient("auditor")
	retriever := &stubRetriever{err: errors.New("store offline")}

	engine := newTestEngine(t, strong, light, auditor, retriever)
	_, err := engine.Run(context.Background(), testSnapshot())

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageReport, stageErr.Stage)
}

func TestNextAfterValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		valid      bool
		iterations int
		want       Stage
	}{
		{"valid terminates", true, 1, StageDone},
		{"invalid below ceiling loops", false, 1, StageEmailDraft},
		{"invalid at ceiling terminates", false, 3, StageDone},
		{"invalid above ceiling terminates", false, 4, StageDone},
		{"valid at ceiling terminates", true, 3, StageDone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, nextAfterValidate(tt.valid, tt.iterations, DefaultMaxEmailIterations))
		})
	}
}

func TestNewStateRiskLevel(t *testing.T) {
	t.Parallel()

	state := NewState(testSnapshot())
	assert.Equal(t, "High", state.RiskLevel)

	empty := NewState(Snapshot{SnapshotDate: "2025-11-03", Supplier: "SupplierB"})
	assert.Equal(t, RiskUnknown, empty.RiskLevel)
	assert.Zero(t, empty.IterationCount)
	assert.False(t, empty.IsValidEmail)
}
