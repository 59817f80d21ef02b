package agent

import (
	"fmt"
	"time"
)

// State is the dispatch state of an agent.
type State string

const (
	StateIdle     State = "idle"
	StateActive   State = "active"
	StateError    State = "error"
	StateTraining State = "training"
)

// Definition configures an agent.
type Definition struct {
	Type         string   `json:"type" yaml:"type" mapstructure:"type"`
	Name         string   `json:"name" yaml:"name" mapstructure:"name"`
	Model        string   `json:"model" yaml:"model" mapstructure:"model"`
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities" mapstructure:"capabilities"`
	Temperature  float64  `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
	MaxTokens    int      `json:"maxTokens" yaml:"max_tokens" mapstructure:"max_tokens"`
	SystemPrompt string   `json:"systemPrompt,omitempty" yaml:"system_prompt" mapstructure:"system_prompt"`
}

// Validate checks the definition.
func (d Definition) Validate() error {
	if d.Type == "" {
		return fmt.Errorf("agent type is required")
	}
	if d.Model == "" {
		return fmt.Errorf("agent %s: model is required", d.Type)
	}
	if d.Temperature < 0 || d.Temperature > 2 {
		return fmt.Errorf("agent %s: temperature must be between 0 and 2, got %v", d.Type, d.Temperature)
	}
	if d.MaxTokens < 0 {
		return fmt.Errorf("agent %s: max_tokens must not be negative", d.Type)
	}
	return nil
}

// Performance is the running statistics of an agent.
type Performance struct {
	TasksCompleted      int64         `json:"tasksCompleted"`
	AvgLatency          time.Duration `json:"avgLatency"`
	SuccessRate         float64       `json:"successRate"`
	UserSatisfaction    float64       `json:"userSatisfaction"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
}

// Agent is a snapshot of an agent's state.
type Agent struct {
	Definition
	State       State       `json:"state"`
	CurrentTask string      `json:"currentTask,omitempty"`
	Performance Performance `json:"performance"`
	LastActive  time.Time   `json:"lastActive,omitempty"`
}

// Outcome reports how a dispatch ended.
type Outcome struct {
	Success bool
	Latency time.Duration
}

// DefaultDefinitions returns the built-in agents.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Type:         "turbo",
			Name:         "SuperAgent Turbo",
			Model:        "ninja-405b",
			Capabilities: []string{"research", "coding", "analysis", "chat", "quick-response"},
			Temperature:  0.5,
			MaxTokens:    2048,
			SystemPrompt: "You are SuperAgent Turbo, optimized for speed and efficiency. Provide quick, accurate responses.",
		},
		{
			Type:         "apex",
			Name:         "SuperAgent Apex",
			Model:        "claude-3-5-sonnet-20241022",
			Capabilities: []string{"deep-research", "complex-coding", "advanced-analysis", "multimodal", "in-depth-reasoning"},
			Temperature:  0.7,
			MaxTokens:    8192,
			SystemPrompt: "You are SuperAgent Apex, built for in-depth analysis and high-accuracy tasks.",
		},
		{
			Type:         "reasoning",
			Name:         "SuperAgent-R 2.0",
			Model:        "claude-sonnet-20241022",
			Capabilities: []string{"math", "science", "advanced-reasoning", "proof-writing", "logical-deduction"},
			Temperature:  0.1,
			MaxTokens:    4096,
			SystemPrompt: "You are SuperAgent-R 2.0, an advanced reasoning system excelling at math, science and coding with precise logical deduction.",
		},
		{
			Type:         "deep-coder",
			Name:         "Deep Coder",
			Model:        "deepseek-coder-v2",
			Capabilities: []string{"full-stack-development", "code-review", "debugging", "architecture-design", "testing"},
			Temperature:  0.3,
			MaxTokens:    16384,
			SystemPrompt: "You are Deep Coder, specialized in complete application development from frontend to backend.",
		},
		{
			Type:         "data-analyst",
			Name:         "Data Analyst",
			Model:        "gpt-4-turbo",
			Capabilities: []string{"data-analysis", "visualization", "statistics", "machine-learning", "business-intelligence"},
			Temperature:  0.2,
			MaxTokens:    8192,
			SystemPrompt: "You are Data Analyst, expert in transforming raw data into actionable insights with statistical analysis.",
		},
		{
			Type:         "content-creator",
			Name:         "Content Creator",
			Model:        "gpt-4o",
			Capabilities: []string{"writing", "creative-content", "marketing", "seo", "documentation"},
			Temperature:  0.8,
			MaxTokens:    4096,
			SystemPrompt: "You are Content Creator, specialized in professional and creative writing, marketing content and documentation.",
		},
		{
			Type:         "researcher",
			Name:         "Deep Researcher 2.0",
			Model:        "gemini-1.5-pro",
			Capabilities: []string{"multi-hop-research", "source-verification", "comprehensive-analysis", "citation-management"},
			Temperature:  0.4,
			MaxTokens:    16384,
			SystemPrompt: "You are Deep Researcher 2.0, providing accurate multi-hop results with verified sources.",
		},
		{
			Type:         "scheduler",
			Name:         "AI Scheduler",
			Model:        "claude-3-haiku-20240307",
			Capabilities: []string{"meeting-scheduling", "time-zone-management", "calendar-integration", "negotiation"},
			Temperature:  0.1,
			MaxTokens:    2048,
			SystemPrompt: "You are AI Scheduler, automating meeting scheduling across time zones.",
		},
	}
}
