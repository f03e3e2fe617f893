package actions

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

// RecordRepository is the external keyed-record store consumed by record
// actions and the orchestrator. Implementations must be safe for
// concurrent use; the engine performs no locking of its own and assumes
// last-writer-wins on updates.
type RecordRepository interface {
	// Select returns up to limit rows of an entity collection.
	Select(ctx context.Context, entityType string, limit int) ([]map[string]any, error)
	// Insert stores a new record and returns it with its id populated.
	Insert(ctx context.Context, entityType string, data map[string]any) (map[string]any, error)
	// Update merges the given fields into the record with the given id.
	Update(ctx context.Context, entityType, id string, updates map[string]any) (map[string]any, error)
}

// AgentRunInfo is what an invoked agent reports back.
type AgentRunInfo struct {
	RunID   string         `json:"run_id"`
	Success bool           `json:"success"`
	Stats   map[string]any `json:"stats,omitempty"`
}

// AgentInvoker invokes a named catalog-quality agent. An unknown name is
// an error, never a silent skip.
type AgentInvoker interface {
	Invoke(ctx context.Context, agentName string, agentCtx map[string]any) (*AgentRunInfo, error)
}

// Agent is a registrable specialized agent.
type Agent interface {
	Name() string
	Run(ctx context.Context, agentCtx map[string]any) (*AgentRunInfo, error)
}

// AgentRegistry is a thread-safe, case-insensitive AgentInvoker backed by
// registered Agent implementations.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewAgentRegistry creates an empty AgentRegistry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{agents: make(map[string]Agent)}
}

// Register adds an agent. Returns an error on duplicate or empty names.
func (r *AgentRegistry) Register(agent Agent) error {
	if agent == nil {
		return schema.NewError(schema.ErrCodeValidation, "agent is nil")
	}
	key := strings.ToLower(strings.TrimSpace(agent.Name()))
	if key == "" {
		return schema.NewError(schema.ErrCodeValidation, "agent name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[key]; exists {
		return schema.NewErrorf(schema.ErrCodeValidation, "agent %q already registered", agent.Name())
	}
	r.agents[key] = agent
	return nil
}

// Invoke runs the named agent. Lookup is case-insensitive.
func (r *AgentRegistry) Invoke(ctx context.Context, agentName string, agentCtx map[string]any) (*AgentRunInfo, error) {
	r.mu.RLock()
	agent, ok := r.agents[strings.ToLower(strings.TrimSpace(agentName))]
	r.mu.RUnlock()

	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "agent %q not registered", agentName)
	}
	return agent.Run(ctx, agentCtx)
}

// Names returns the registered agent names, lowercased.
func (r *AgentRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	return names
}

// TextGenerator is the external LLM text-generation service: prompt in,
// text out. The caller parses the response per output type.
type TextGenerator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// QualityScore is one table's entry in the quality-score source.
type QualityScore struct {
	Score        float64   `json:"score"`
	Source       string    `json:"source,omitempty"`
	Owner        string    `json:"owner,omitempty"`
	LastProfiled time.Time `json:"last_profiled,omitempty"`
}

// QualityScoreSource resolves table names to quality scores. A missing
// table returns (nil, nil).
type QualityScoreSource interface {
	Lookup(ctx context.Context, tableName string) (*QualityScore, error)
}
