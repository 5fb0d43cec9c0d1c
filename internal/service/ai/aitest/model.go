// Package aitest provides a scripted chat model for tests.
package aitest

import (
	"context"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/parley/backend/internal/service/ai"
)

// Model replays Chunks as a stream.
//
// OpenErr fails Stream itself; FailAfter is sent as a stream error after the
// chunks; Hold keeps the stream open after the chunks until ctx is done.
type Model struct {
	Chunks    []string
	OpenErr   error
	FailAfter error
	Hold      bool

	mu     sync.Mutex
	calls  int
	inputs [][]*schema.Message
}

var _ model.BaseChatModel = (*Model)(nil)

// Builder returns an ai.Builder that always hands out m and records the spec.
func (m *Model) Builder(specs *[]ai.Spec) ai.Builder {
	return func(_ context.Context, spec ai.Spec) (model.BaseChatModel, error) {
		if specs != nil {
			m.mu.Lock()
			*specs = append(*specs, spec)
			m.mu.Unlock()
		}
		return m, nil
	}
}

// Calls reports how many times the model was invoked.
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastInput returns the messages of the most recent invocation.
func (m *Model) LastInput() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inputs) == 0 {
		return nil
	}
	return m.inputs[len(m.inputs)-1]
}

func (m *Model) record(input []*schema.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.inputs = append(m.inputs, input)
}

func (m *Model) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.record(input)
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	if m.FailAfter != nil {
		return nil, m.FailAfter
	}
	return schema.AssistantMessage(strings.Join(m.Chunks, ""), nil), nil
}

func (m *Model) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.record(input)
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}

	sr, sw := schema.Pipe[*schema.Message](1)
	go func() {
		defer sw.Close()
		for _, chunk := range m.Chunks {
			if err := ctx.Err(); err != nil {
				sw.Send(nil, err)
				return
			}
			if closed := sw.Send(schema.AssistantMessage(chunk, nil), nil); closed {
				return
			}
		}
		if m.FailAfter != nil {
			sw.Send(nil, m.FailAfter)
			return
		}
		if m.Hold {
			<-ctx.Done()
			sw.Send(nil, ctx.Err())
		}
	}()
	return sr, nil
}
