package convoflow

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/convoflow/convoflow/compaction"
	"github.com/convoflow/convoflow/persistence"
	"github.com/convoflow/convoflow/scheduler"
	"github.com/convoflow/convoflow/session"
	"github.com/convoflow/convoflow/tool"
)

// Defaults for the optional knobs. All are overridable via options, a
// settings file, or the runtime setters.
const (
	// DefaultCompactionThreshold is the observed-token count at which a
	// turn triggers background compaction.
	DefaultCompactionThreshold = 100000

	// DefaultMaxToolRounds bounds the completion/tool loop within one turn.
	DefaultMaxToolRounds = 10

	// DefaultProactiveSessionID is the conversation the proactive scheduler
	// drives when none is configured.
	DefaultProactiveSessionID = "proactive"

	// DefaultProactiveTrigger is the synthetic message a proactive run
	// appends in place of user input.
	DefaultProactiveTrigger = "It's time for a scheduled check-in. Review the conversation and decide whether anything needs follow-up."
)

// Config holds the required configuration for a Service.
//
// Example:
//
//	client := anthropicadapter.New(&sdk, "claude-sonnet-4-5-20250929")
//	svc, _ := convoflow.New(convoflow.Config{
//	    Client:       client,
//	    SystemPrompt: "You are a helpful assistant",
//	})
type Config struct {
	// Client produces completions (required). If it also implements
	// StreamingCompletionClient, RunTurnStreaming streams incrementally;
	// otherwise streaming turns fall back to a single final event.
	Client CompletionClient

	// SystemPrompt is the system message for every turn (required).
	SystemPrompt string
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Client == nil {
		return fmt.Errorf("%w: completion client is required", ErrInvalidConfig)
	}

	if c.SystemPrompt == "" {
		return fmt.Errorf("%w: SystemPrompt is required", ErrInvalidConfig)
	}

	return nil
}

// internalConfig holds the full service configuration including optional
// parameters
type internalConfig struct {
	// Required from Config
	client       CompletionClient
	systemPrompt string

	// Compaction configuration
	compactionThreshold int
	keepRecent          int

	// Turn configuration
	maxToolRounds int
	toolTimeout   time.Duration

	// Session store configuration
	sessionTTL    time.Duration
	sweepInterval time.Duration

	// Proactive scheduler configuration
	proactive          scheduler.Settings
	proactiveSessionID string
	proactiveTrigger   string

	// Collaborators
	persist persistence.Store
	invoker ToolInvoker
	tools   []tool.Tool
	logger  *slog.Logger
}

// newInternalConfig creates a new internal config from the public Config
func newInternalConfig(cfg Config) *internalConfig {
	return &internalConfig{
		client:       cfg.Client,
		systemPrompt: cfg.SystemPrompt,

		// Defaults
		compactionThreshold: DefaultCompactionThreshold,
		keepRecent:          compaction.DefaultKeepRecent,
		maxToolRounds:       DefaultMaxToolRounds,
		sessionTTL:          session.DefaultTTL,
		sweepInterval:       session.DefaultSweepInterval,

		proactive: scheduler.Settings{
			Enabled:  false,
			Interval: scheduler.DefaultInterval,
		},
		proactiveSessionID: DefaultProactiveSessionID,
		proactiveTrigger:   DefaultProactiveTrigger,

		tools:  []tool.Tool{},
		logger: slog.Default(),
	}
}
