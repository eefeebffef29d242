package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"procura/internal/llm"
	"procura/internal/prompts"
	"procura/internal/rag"
)

// Tools declared to the analysis turn.
const (
	toolSupplierHistory = "supplier_history"
	toolItemHistory     = "item_history"
)

const historyTopK = 5

// Placeholders returned when a history index has nothing relevant.
const (
	noSupplierHistory = "No supplier history found."
	noItemHistory     = "No item history found."
)

func analysisTools() []llm.ToolDefinition {
	queryParam := llm.ParameterSchema{
		Type: "object",
		Properties: map[string]llm.Property{
			"query": {Type: "string", Description: "Free-text search query."},
		},
		Required: []string{"query"},
	}
	return []llm.ToolDefinition{
		{
			Name:        toolSupplierHistory,
			Description: "Look up past information about ONE supplier: delivery delays, price changes, quality incidents, negotiation patterns.",
			Parameters:  queryParam,
		},
		{
			Name:        toolItemHistory,
			Description: "Look up past information about ONE OR MORE items by item code: stock-outs, demand spikes, quality incidents, lead times.",
			Parameters:  queryParam,
		},
	}
}

// runAnalysis produces the structured analysis via up to two generation
// turns interleaved with history lookups dispatched through the declared
// tools. Parse failure degrades to a well-formed fallback; only backend
// failures surface as errors.
func (e *Engine) runAnalysis(ctx context.Context, state *State) error {
	input := Snapshot{
		SnapshotDate: state.SnapshotDate,
		Supplier:     state.Supplier,
		Items:        state.Items,
	}
	userText, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: prompts.AnalysisSystem},
		{Role: llm.RoleUser, Content: string(userText)},
	}
	tools := analysisTools()

	resp, err := e.strong.Complete(ctx, llm.CompletionRequest{
		Messages:    messages,
		Tools:       tools,
		Temperature: 0,
	})
	if err != nil {
		return err
	}

	if len(resp.ToolCalls) > 0 {
		toolResults := make([]llm.Message, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			content, err := e.dispatchTool(ctx, call, input)
			if err != nil {
				return err
			}
			toolResults = append(toolResults, llm.Message{
				Role:       llm.RoleTool,
				Content:    content,
				ToolCallID: call.ID,
			})
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		messages = append(messages, toolResults...)

		resp, err = e.strong.Complete(ctx, llm.CompletionRequest{
			Messages:    messages,
			Tools:       tools,
			Temperature: 0,
		})
		if err != nil {
			return err
		}
	}

	var output AnalysisOutput
	if err := ExtractJSON(resp.Content, &output); err != nil {
		e.logger.Warn("analysis output unparseable, using degraded result: %v", err)
		output = AnalysisOutput{
			Narrative:             resp.Content,
			CriticalQuestions:     []string{},
			ReplenishmentTimeline: itemsAsTimeline(state.Items),
		}
	}
	if output.CriticalQuestions == nil {
		output.CriticalQuestions = []string{}
	}
	if output.ReplenishmentTimeline == nil {
		output.ReplenishmentTimeline = itemsAsTimeline(state.Items)
	}

	state.AnalysisOutput = &output
	return nil
}

// dispatchTool routes one requested tool call to the retrieval service.
// The tool name selects the index; a missing query falls back to a default
// derived from the snapshot. Tool names outside the declared set resolve to
// an empty result rather than failing the stage.
func (e *Engine) dispatchTool(ctx context.Context, call llm.ToolCall, input Snapshot) (string, error) {
	query, _ := call.Arguments["query"].(string)

	var index, placeholder string
	switch call.Name {
	case toolSupplierHistory:
		index = rag.IndexSupplierHistory
		placeholder = noSupplierHistory
		if strings.TrimSpace(query) == "" {
			query = input.Supplier
		}
	case toolItemHistory:
		index = rag.IndexItemHistory
		placeholder = noItemHistory
		if strings.TrimSpace(query) == "" {
			codes := make([]string, 0, len(input.Items))
			for _, item := range input.Items {
				codes = append(codes, "item_code: "+item.ItemCode)
			}
			query = strings.Join(codes, " ")
		}
	default:
		e.logger.Warn("analysis requested undeclared tool %q, returning empty result", call.Name)
		return "", nil
	}

	docs, err := e.retriever.Search(ctx, index, query, historyTopK)
	if err != nil {
		return "", fmt.Errorf("%s lookup: %w", call.Name, err)
	}
	if joined := rag.JoinContents(docs); joined != "" {
		return joined, nil
	}
	return placeholder, nil
}
