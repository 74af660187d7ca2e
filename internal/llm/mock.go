package llm

import (
	"context"
	"sync"
	"time"

	"github.com/revlane/assistant/internal/domain"
)

// MockProvider is a scripted provider for tests and offline evaluation. Each
// call consumes the next scripted response; an optional error may be scripted
// in its place.
type MockProvider struct {
	mu      sync.Mutex
	script  []MockStep
	nextIdx int

	// Requests records every request received, for assertions.
	Requests []*Request
}

// MockStep is one scripted provider call outcome. Delay makes the call take
// that long, for exercising deadline behavior.
type MockStep struct {
	Response *Response
	Err      error
	Delay    time.Duration
}

// NewMockProvider creates a provider that replays the given steps in order.
func NewMockProvider(steps ...MockStep) *MockProvider {
	return &MockProvider{script: steps}
}

// Ensure MockProvider implements Provider.
var _ Provider = (*MockProvider)(nil)

// Complete returns the next scripted step.
func (m *MockProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	return m.next(req)
}

// Stream returns the next scripted step, emitting its text in small chunks.
func (m *MockProvider) Stream(ctx context.Context, req *Request, onDelta DeltaFunc) (*Response, error) {
	resp, err := m.next(req)
	if err != nil {
		return nil, err
	}
	if onDelta != nil {
		for _, chunk := range splitIntoChunks(resp.Text, 10) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			onDelta(chunk)
		}
	}
	return resp, nil
}

// Model names the mock model.
func (m *MockProvider) Model() string {
	return "mock-model"
}

// Calls reports how many provider calls were made.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextIdx
}

func (m *MockProvider) next(req *Request) (*Response, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	if len(m.script) == 0 {
		m.mu.Unlock()
		return &Response{Text: "", StopReason: domain.StopReasonEndTurn}, nil
	}
	// Past the script the last step repeats, so loop caps can be exercised
	// without an unbounded script.
	idx := m.nextIdx
	if idx >= len(m.script) {
		idx = len(m.script) - 1
	}
	step := m.script[idx]
	m.nextIdx++
	m.mu.Unlock()

	if step.Delay > 0 {
		time.Sleep(step.Delay)
	}
	return step.Response, step.Err
}

func splitIntoChunks(s string, chunkSize int) []string {
	if len(s) == 0 {
		return nil
	}
	var chunks []string
	for i := 0; i < len(s); i += chunkSize {
		end := i + chunkSize
		if end > len(s) {
			end = len(s)
		}
		chunks = append(chunks, s[i:end])
	}
	return chunks
}
