package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient implements Client for testing. Responses are returned in the
// order they were scripted; every request is recorded for inspection.
type MockClient struct {
	mu        sync.Mutex
	model     string
	responses []*CompletionResponse
	errs      []error
	Requests  []CompletionRequest
}

// NewMockClient creates a mock client identifying as model.
func NewMockClient(model string) *MockClient {
	return &MockClient{model: model}
}

// Enqueue scripts the next successful response.
func (m *MockClient) Enqueue(resp *CompletionResponse) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	m.errs = append(m.errs, nil)
	return m
}

// EnqueueText scripts a plain-content response.
func (m *MockClient) EnqueueText(content string) *MockClient {
	return m.Enqueue(&CompletionResponse{Content: content, StopReason: "stop"})
}

// EnqueueError scripts the next call to fail.
func (m *MockClient) EnqueueError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, nil)
	m.errs = append(m.errs, err)
	return m
}

func (m *MockClient) Complete(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)

	if len(m.responses) == 0 {
		return nil, fmt.Errorf("mock client: no scripted response for call %d", len(m.Requests))
	}
	resp, err := m.responses[0], m.errs[0]
	m.responses = m.responses[1:]
	m.errs = m.errs[1:]
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (m *MockClient) Model() string {
	return m.model
}

// Calls returns how many completion requests were issued.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
