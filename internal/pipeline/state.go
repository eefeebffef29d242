package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// RiskUnknown is the sentinel risk level for snapshots with no items.
const RiskUnknown = "unknown"

// Item is one anomaly record in a supplier snapshot.
type Item struct {
	ItemCode   string  `json:"item_code"`
	ItemName   string  `json:"item_name,omitempty"`
	StockLevel float64 `json:"stock_level,omitempty"`
	WeeksToOOS float64 `json:"wks_to_oos,omitempty"`
	RiskLevel  string  `json:"risk_level,omitempty"`
	Notes      string  `json:"notes,omitempty"`
}

// Snapshot is the pipeline invocation input: one supplier's anomaly records
// for one snapshot date.
type Snapshot struct {
	SnapshotDate string `json:"snapshot_date"`
	Supplier     string `json:"supplier"`
	Items        []Item `json:"items"`
}

// AnalysisOutput is the structured result of the analysis stage. The
// replenishment timeline stays schemaless: it is model-produced and the
// degraded fallback substitutes the raw item list.
type AnalysisOutput struct {
	Narrative             string           `json:"purchasing_report_markdown"`
	CriticalQuestions     []string         `json:"critical_questions"`
	ReplenishmentTimeline []map[string]any `json:"replenishment_timeline"`
}

// PurchaseRequestLine is one line item of a drafted purchase request.
type PurchaseRequestLine struct {
	ItemCode      string `json:"item_code"`
	ItemName      string `json:"item_name,omitempty"`
	Quantity      int    `json:"quantity"`
	NeededBy      string `json:"needed_by,omitempty"`
	Justification string `json:"justification,omitempty"`
}

// PurchaseRequest is the structured payload produced by the pr-draft stage
// and consumed by the pr-doc stage.
type PurchaseRequest struct {
	DocumentType     string                `json:"document_type"`
	Supplier         string                `json:"supplier"`
	SnapshotDate     string                `json:"snapshot_date"`
	PurchaseRequests []PurchaseRequestLine `json:"purchase_requests"`
}

// emptyPurchaseRequest is the degraded pr-draft result when structured
// extraction fails.
func emptyPurchaseRequest(supplier, snapshotDate string) *PurchaseRequest {
	return &PurchaseRequest{
		DocumentType:     "purchase_request",
		Supplier:         supplier,
		SnapshotDate:     snapshotDate,
		PurchaseRequests: []PurchaseRequestLine{},
	}
}

// State is the per-run record mutated stage by stage. It is owned
// exclusively by one pipeline invocation and never shared.
type State struct {
	RunID        string `json:"run_id"`
	SnapshotDate string `json:"snapshot_date"`
	Supplier     string `json:"supplier"`
	Items        []Item `json:"items"`
	RiskLevel    string `json:"risk_level"`

	AnalysisOutput *AnalysisOutput  `json:"analysis_output,omitempty"`
	EvaluationMD   string           `json:"evaluation_md"`
	ReportMD       string           `json:"report_md"`
	PRDraft        *PurchaseRequest `json:"pr_draft,omitempty"`
	PRMD           string           `json:"pr_md"`
	EmailText      string           `json:"email_text"`

	IterationCount     int    `json:"iteration_count"`
	CorrectionFeedback string `json:"correction_feedback"`
	IsValidEmail       bool   `json:"is_valid_email"`
}

// NewState initializes the run state from a snapshot. The risk level derives
// from the first item, or the "unknown" sentinel when the snapshot is empty.
func NewState(snapshot Snapshot) *State {
	riskLevel := RiskUnknown
	if len(snapshot.Items) > 0 && snapshot.Items[0].RiskLevel != "" {
		riskLevel = snapshot.Items[0].RiskLevel
	}
	return &State{
		RunID:        uuid.NewString(),
		SnapshotDate: snapshot.SnapshotDate,
		Supplier:     snapshot.Supplier,
		Items:        snapshot.Items,
		RiskLevel:    riskLevel,
	}
}

// itemsAsTimeline converts the raw item list into timeline entries for the
// degraded analysis fallback.
func itemsAsTimeline(items []Item) []map[string]any {
	timeline := make([]map[string]any, 0, len(items))
	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		timeline = append(timeline, entry)
	}
	return timeline
}

// Stage preconditions: which state fields must be populated before a stage
// may run. The engine checks these instead of letting a stage dereference
// missing output.
func checkPreconditions(stage Stage, s *State) error {
	switch stage {
	case StageEvaluation, StageReport, StagePRDraft, StageEmailDraft:
		if s.AnalysisOutput == nil {
			return fmt.Errorf("stage %s requires analysis output", stage)
		}
	case StagePRDoc:
		if s.PRDraft == nil {
			return fmt.Errorf("stage %s requires purchase request draft", stage)
		}
	case StageValidate:
		if s.EmailText == "" {
			return fmt.Errorf("stage %s requires a drafted email", stage)
		}
	}
	return nil
}
