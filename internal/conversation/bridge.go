package conversation

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/compresr/agent-bridge/internal/adapters"
)

// Messenger is the part of comms.Service the Bridge calls.
type Messenger interface {
	SendConversation(ctx context.Context, agentID string, messages []adapters.Message, opts adapters.Options) (*adapters.Response, error)
	StreamConversation(ctx context.Context, agentID string, messages []adapters.Message, opts adapters.Options) <-chan adapters.StreamEvent
}

// Bridge runs conversation turns against a Messenger and records them in a
// Store. It owns the cancel function of each agent's in-flight stream.
type Bridge struct {
	messenger Messenger
	store     *Store

	mu      sync.Mutex
	cancels map[string]*turn
}

// turn identifies one in-flight stream so a finished turn never removes the
// cancel function of the next one.
type turn struct {
	cancel context.CancelFunc
}

// NewBridge creates a Bridge.
func NewBridge(messenger Messenger, store *Store) *Bridge {
	return &Bridge{
		messenger: messenger,
		store:     store,
		cancels:   make(map[string]*turn),
	}
}

// Store returns the backing Store.
func (b *Bridge) Store() *Store { return b.store }

// history converts the stored conversation into adapter messages.
func (b *Bridge) history(agentID string) []adapters.Message {
	c, ok := b.store.Get(agentID)
	if !ok {
		return nil
	}
	out := make([]adapters.Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		out = append(out, adapters.Message{Role: m.Role, Content: m.Content, Metadata: m.Metadata})
	}
	return out
}

// Send runs one non-streaming turn: the user message and the reply are both
// stored, and usage is added when reported. It fails with ErrStreaming while
// the agent has a stream in flight.
func (b *Bridge) Send(ctx context.Context, agentID, text string, opts adapters.Options) (*adapters.Response, error) {
	if b.store.IsStreaming(agentID) {
		return nil, ErrStreaming
	}
	b.store.AddMessage(agentID, Message{Role: adapters.RoleUser, Content: text})

	resp, err := b.messenger.SendConversation(ctx, agentID, b.history(agentID), opts)
	if err != nil {
		b.store.SetError(agentID, err.Error())
		return nil, err
	}
	b.store.AddMessage(agentID, Message{Role: adapters.RoleAssistant, Content: resp.Content, Metadata: resp.Metadata})
	if resp.Usage != nil {
		b.store.UpdateUsage(agentID, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}
	return resp, nil
}

// Stream starts a streaming turn and returns its events. The Store is updated
// as events pass through; callers must drain the channel. It fails with
// ErrStreaming if the agent already has a turn in flight.
func (b *Bridge) Stream(ctx context.Context, agentID, text string, opts adapters.Options) (<-chan adapters.StreamEvent, error) {
	if err := b.store.StartStreaming(agentID); err != nil {
		return nil, err
	}
	b.store.AddMessage(agentID, Message{Role: adapters.RoleUser, Content: text})

	ctx, cancel := context.WithCancel(ctx)
	t := &turn{cancel: cancel}
	b.mu.Lock()
	b.cancels[agentID] = t
	b.mu.Unlock()

	upstream := b.messenger.StreamConversation(ctx, agentID, b.history(agentID), opts)
	out := make(chan adapters.StreamEvent, 16)
	go func() {
		defer close(out)
		defer func() {
			b.mu.Lock()
			if b.cancels[agentID] == t {
				delete(b.cancels, agentID)
			}
			b.mu.Unlock()
			cancel()
		}()

		terminated := false
		for ev := range upstream {
			switch ev.Type {
			case adapters.EventChunk:
				b.store.AppendStreamContent(agentID, ev.Data)
			case adapters.EventComplete:
				terminated = true
				b.store.CompleteStreaming(agentID, ev.Data)
				if ev.Usage != nil {
					b.store.UpdateUsage(agentID, ev.Usage.InputTokens, ev.Usage.OutputTokens)
				}
			case adapters.EventError:
				terminated = true
				b.store.SetStreamingError(agentID, adapters.Normalize(ev.Err).Error())
			}
			out <- ev
		}
		if !terminated {
			log.Warn().Str("agent_id", agentID).Msg("conversation: stream closed without terminal event")
			b.store.SetStreamingError(agentID, adapters.GenericErrorMessage)
		}
	}()
	return out, nil
}

// Cancel aborts the agent's in-flight stream. The stream still ends with its
// terminal error event. It reports whether a stream was running.
func (b *Bridge) Cancel(agentID string) bool {
	b.mu.Lock()
	t, ok := b.cancels[agentID]
	b.mu.Unlock()
	if ok {
		t.cancel()
	}
	return ok
}

// CancelAll aborts every in-flight stream.
func (b *Bridge) CancelAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.cancels {
		t.cancel()
	}
}
