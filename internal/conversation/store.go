// Package conversation holds per-agent conversation state and the bridge that
// feeds it from Service calls.
//
// DESIGN: Store is the only writer of conversation state. Every read returns
// a deep copy, so callers (UI renderers, the CLI) can hold snapshots without
// locking. The streaming flag is cleared exactly once per turn: by
// CompleteStreaming or SetStreamingError, whichever comes first.
package conversation

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/compresr/agent-bridge/internal/adapters"
)

// ErrNotFound is returned for operations on an unknown agent id.
var ErrNotFound = errors.New("conversation not found")

// ErrStreaming is returned by StartStreaming and Bridge.Send while a turn is in flight.
var ErrStreaming = errors.New("conversation is already streaming")

// Usage holds cumulative token counts.
type Usage struct {
	TotalInputTokens  int `json:"total_input_tokens"`
	TotalOutputTokens int `json:"total_output_tokens"`
	TotalTokens       int `json:"total_tokens"`
}

func (u *Usage) add(o Usage) {
	u.TotalInputTokens += o.TotalInputTokens
	u.TotalOutputTokens += o.TotalOutputTokens
	u.TotalTokens += o.TotalTokens
}

// Message is one stored turn.
type Message struct {
	ID        string         `json:"id"`
	Role      adapters.Role  `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Conversation is the state of one agent's conversation.
type Conversation struct {
	AgentID         string    `json:"agent_id"`
	Messages        []Message `json:"messages"`
	IsStreaming     bool      `json:"is_streaming"`
	CurrentResponse string    `json:"current_response,omitempty"`
	Error           string    `json:"error,omitempty"`
	Usage           Usage     `json:"usage"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (c *Conversation) clone() Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		if m.Metadata != nil {
			md := make(map[string]any, len(m.Metadata))
			for k, v := range m.Metadata {
				md[k] = v
			}
			m.Metadata = md
		}
		out.Messages[i] = m
	}
	return out
}

// Store maps agent ids to conversations.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	order         []string
	active        string
	now           func() time.Time
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*Conversation),
		now:           time.Now,
	}
}

// get returns the conversation for agentID, creating it when missing.
// Callers hold the write lock.
func (s *Store) get(agentID string) *Conversation {
	c, ok := s.conversations[agentID]
	if !ok {
		c = &Conversation{AgentID: agentID, Messages: []Message{}, UpdatedAt: s.now()}
		s.conversations[agentID] = c
		s.order = append(s.order, agentID)
	}
	return c
}

// CreateConversation ensures a conversation exists for agentID and makes it
// active. Existing history is kept.
func (s *Store) CreateConversation(agentID string) Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.get(agentID)
	s.active = agentID
	return c.clone()
}

// AddMessage appends a message, filling in ID and CreatedAt when unset.
func (s *Store) AddMessage(agentID string, msg Message) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	c := s.get(agentID)
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = msg.CreatedAt
	return msg
}

// StartStreaming marks a turn in flight and clears the previous partial
// response and error.
func (s *Store) StartStreaming(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.get(agentID)
	if c.IsStreaming {
		return ErrStreaming
	}
	c.IsStreaming = true
	c.CurrentResponse = ""
	c.Error = ""
	c.UpdatedAt = s.now()
	return nil
}

// AppendStreamContent adds a delta to the partial response. It reports false
// when no turn is streaming.
func (s *Store) AppendStreamContent(agentID, delta string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[agentID]
	if !ok || !c.IsStreaming {
		return false
	}
	c.CurrentResponse += delta
	c.UpdatedAt = s.now()
	return true
}

// CompleteStreaming ends the turn and stores the assistant reply. An empty
// content uses the accumulated partial response. It reports false when no
// turn is streaming, so a turn completes at most once.
func (s *Store) CompleteStreaming(agentID, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[agentID]
	if !ok || !c.IsStreaming {
		return false
	}
	if content == "" {
		content = c.CurrentResponse
	}
	now := s.now()
	c.Messages = append(c.Messages, Message{
		ID:        uuid.NewString(),
		Role:      adapters.RoleAssistant,
		Content:   content,
		CreatedAt: now,
	})
	c.IsStreaming = false
	c.CurrentResponse = ""
	c.UpdatedAt = now
	return true
}

// SetStreamingError records a failure. It reports whether it ended a
// streaming turn; the error is recorded either way.
func (s *Store) SetStreamingError(agentID, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.get(agentID)
	c.Error = message
	c.UpdatedAt = s.now()
	if !c.IsStreaming {
		return false
	}
	c.IsStreaming = false
	c.CurrentResponse = ""
	return true
}

// SetError records a failure that did not come from a stream. An in-flight
// turn and its partial response are left alone.
func (s *Store) SetError(agentID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.get(agentID)
	c.Error = message
	c.UpdatedAt = s.now()
}

// IsStreaming reports whether the agent has a turn in flight.
func (s *Store) IsStreaming(agentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[agentID]
	return ok && c.IsStreaming
}

// UpdateUsage adds token counts to the conversation.
func (s *Store) UpdateUsage(agentID string, inputTokens, outputTokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.get(agentID)
	c.Usage.add(Usage{
		TotalInputTokens:  inputTokens,
		TotalOutputTokens: outputTokens,
		TotalTokens:       inputTokens + outputTokens,
	})
	c.UpdatedAt = s.now()
}

// DeleteConversation removes the conversation. Deleting the active one
// leaves no active conversation.
func (s *Store) DeleteConversation(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[agentID]; !ok {
		return false
	}
	delete(s.conversations, agentID)
	for i, id := range s.order {
		if id == agentID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if s.active == agentID {
		s.active = ""
	}
	return true
}

// SetActive selects the active conversation.
func (s *Store) SetActive(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[agentID]; !ok {
		return ErrNotFound
	}
	s.active = agentID
	return nil
}

// =============================================================================
// VIEWS
// =============================================================================

// Get returns a snapshot of one conversation.
func (s *Store) Get(agentID string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[agentID]
	if !ok {
		return Conversation{}, false
	}
	return c.clone(), true
}

// Active returns the active conversation, if any.
func (s *Store) Active() (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[s.active]
	if !ok {
		return Conversation{}, false
	}
	return c.clone(), true
}

// Conversations returns snapshots in creation order.
func (s *Store) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.conversations[id].clone())
	}
	return out
}

// AnyStreaming reports whether any conversation has a turn in flight.
func (s *Store) AnyStreaming() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.IsStreaming {
			return true
		}
	}
	return false
}

// TotalUsage sums usage across all conversations.
func (s *Store) TotalUsage() Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var u Usage
	for _, c := range s.conversations {
		u.add(c.Usage)
	}
	return u
}
