package convoflow

import (
	"log/slog"
	"time"

	"github.com/convoflow/convoflow/persistence"
	"github.com/convoflow/convoflow/scheduler"
	"github.com/convoflow/convoflow/tool"
)

// Option is a functional option for configuring a Service
type Option func(*internalConfig) error

// WithCompactionThreshold sets the observed-token count at which a finished
// turn triggers background compaction
func WithCompactionThreshold(tokens int) Option {
	return func(c *internalConfig) error {
		if tokens <= 0 {
			return NewConvoError("WithCompactionThreshold", ErrInvalidConfig).
				WithContext("tokens", tokens).
				WithContext("reason", "threshold must be positive")
		}
		c.compactionThreshold = tokens
		return nil
	}
}

// WithKeepRecent sets how many trailing messages compaction always preserves
func WithKeepRecent(n int) Option {
	return func(c *internalConfig) error {
		if n < 0 {
			return NewConvoError("WithKeepRecent", ErrInvalidConfig).
				WithContext("n", n).
				WithContext("reason", "must not be negative")
		}
		c.keepRecent = n
		return nil
	}
}

// WithMaxToolRounds sets the maximum completion/tool rounds per turn
// (default 10)
func WithMaxToolRounds(n int) Option {
	return func(c *internalConfig) error {
		if n <= 0 {
			return NewConvoError("WithMaxToolRounds", ErrInvalidConfig).
				WithContext("n", n).
				WithContext("reason", "must be positive")
		}
		c.maxToolRounds = n
		return nil
	}
}

// WithSessionTTL sets how long an idle session survives before the sweeper
// evicts it (default 24h)
func WithSessionTTL(ttl time.Duration) Option {
	return func(c *internalConfig) error {
		if ttl <= 0 {
			return NewConvoError("WithSessionTTL", ErrInvalidConfig).
				WithContext("ttl", ttl).
				WithContext("reason", "ttl must be positive")
		}
		c.sessionTTL = ttl
		return nil
	}
}

// WithSweepInterval sets how often the background sweeper runs (default 1h)
func WithSweepInterval(interval time.Duration) Option {
	return func(c *internalConfig) error {
		if interval <= 0 {
			return NewConvoError("WithSweepInterval", ErrInvalidConfig).
				WithContext("interval", interval).
				WithContext("reason", "interval must be positive")
		}
		c.sweepInterval = interval
		return nil
	}
}

// WithProactive enables or disables the proactive scheduler and sets its
// tick interval (default disabled, 15m)
func WithProactive(enabled bool, interval time.Duration) Option {
	return func(c *internalConfig) error {
		if interval <= 0 {
			interval = scheduler.DefaultInterval
		}
		c.proactive = scheduler.Settings{Enabled: enabled, Interval: interval}
		return nil
	}
}

// WithProactiveSessionID sets the conversation the proactive scheduler
// drives. Turns against this session require the active-driver token.
func WithProactiveSessionID(id string) Option {
	return func(c *internalConfig) error {
		if id == "" {
			return NewConvoError("WithProactiveSessionID", ErrInvalidConfig).
				WithContext("reason", "session id must not be empty")
		}
		c.proactiveSessionID = id
		return nil
	}
}

// WithProactiveTrigger overrides the synthetic message appended by a
// proactive run
func WithProactiveTrigger(text string) Option {
	return func(c *internalConfig) error {
		if text == "" {
			return NewConvoError("WithProactiveTrigger", ErrEmptyMessage)
		}
		c.proactiveTrigger = text
		return nil
	}
}

// WithPersistence sets the durable store snapshots are saved to after each
// turn. Without it the service is memory-only.
func WithPersistence(store persistence.Store) Option {
	return func(c *internalConfig) error {
		c.persist = store
		return nil
	}
}

// WithTools registers tools with the service
func WithTools(tools ...tool.Tool) Option {
	return func(c *internalConfig) error {
		for _, t := range tools {
			schema := t.InputSchema()
			if schema.Type != "object" {
				return NewConvoError("WithTools", tool.ErrInvalidSchema).
					WithContext("tool", t.Name()).
					WithContext("reason", "schema type must be 'object'")
			}
			c.tools = append(c.tools, t)
		}
		return nil
	}
}

// WithToolInvoker replaces the built-in registry/executor with an external
// tool-invocation client. Registered tools are still advertised to the
// model; only execution is delegated.
func WithToolInvoker(invoker ToolInvoker) Option {
	return func(c *internalConfig) error {
		c.invoker = invoker
		return nil
	}
}

// WithToolTimeout sets the timeout for individual tool executions
// (default 30s)
func WithToolTimeout(timeout time.Duration) Option {
	return func(c *internalConfig) error {
		if timeout <= 0 {
			return NewConvoError("WithToolTimeout", ErrInvalidConfig).
				WithContext("timeout", timeout).
				WithContext("reason", "timeout must be positive")
		}
		c.toolTimeout = timeout
		return nil
	}
}

// WithLogger sets the structured logger. Subsystems derive child loggers
// from it with a component attribute.
func WithLogger(logger *slog.Logger) Option {
	return func(c *internalConfig) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}
