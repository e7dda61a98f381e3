package convoflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the YAML settings file shape. Every field is optional; zero
// values leave the corresponding default untouched. Durations are Go
// duration strings ("15m", "24h").
//
//	system_prompt: "You are a helpful assistant"
//	compaction:
//	  threshold: 100000
//	  keep_recent: 10
//	session:
//	  ttl: 24h
//	  sweep_interval: 1h
//	proactive:
//	  enabled: true
//	  interval: 15m
//	  session_id: proactive
type Settings struct {
	SystemPrompt string `yaml:"system_prompt"`

	Compaction struct {
		Threshold  int `yaml:"threshold"`
		KeepRecent int `yaml:"keep_recent"`
	} `yaml:"compaction"`

	Session struct {
		TTL           string `yaml:"ttl"`
		SweepInterval string `yaml:"sweep_interval"`
	} `yaml:"session"`

	Turn struct {
		MaxToolRounds int    `yaml:"max_tool_rounds"`
		ToolTimeout   string `yaml:"tool_timeout"`
	} `yaml:"turn"`

	Proactive struct {
		Enabled   bool   `yaml:"enabled"`
		Interval  string `yaml:"interval"`
		SessionID string `yaml:"session_id"`
		Trigger   string `yaml:"trigger"`
	} `yaml:"proactive"`
}

// LoadSettings reads and parses a YAML settings file.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	return &s, nil
}

// Options converts the loaded settings into functional options, skipping
// fields left at their zero value.
func (s *Settings) Options() ([]Option, error) {
	var opts []Option

	if s.Compaction.Threshold > 0 {
		opts = append(opts, WithCompactionThreshold(s.Compaction.Threshold))
	}
	if s.Compaction.KeepRecent > 0 {
		opts = append(opts, WithKeepRecent(s.Compaction.KeepRecent))
	}
	if s.Turn.MaxToolRounds > 0 {
		opts = append(opts, WithMaxToolRounds(s.Turn.MaxToolRounds))
	}

	if s.Session.TTL != "" {
		ttl, err := time.ParseDuration(s.Session.TTL)
		if err != nil {
			return nil, fmt.Errorf("settings session.ttl: %w", err)
		}
		opts = append(opts, WithSessionTTL(ttl))
	}
	if s.Session.SweepInterval != "" {
		interval, err := time.ParseDuration(s.Session.SweepInterval)
		if err != nil {
			return nil, fmt.Errorf("settings session.sweep_interval: %w", err)
		}
		opts = append(opts, WithSweepInterval(interval))
	}
	if s.Turn.ToolTimeout != "" {
		timeout, err := time.ParseDuration(s.Turn.ToolTimeout)
		if err != nil {
			return nil, fmt.Errorf("settings turn.tool_timeout: %w", err)
		}
		opts = append(opts, WithToolTimeout(timeout))
	}

	interval := time.Duration(0)
	if s.Proactive.Interval != "" {
		parsed, err := time.ParseDuration(s.Proactive.Interval)
		if err != nil {
			return nil, fmt.Errorf("settings proactive.interval: %w", err)
		}
		interval = parsed
	}
	if s.Proactive.Enabled || interval > 0 {
		opts = append(opts, WithProactive(s.Proactive.Enabled, interval))
	}
	if s.Proactive.SessionID != "" {
		opts = append(opts, WithProactiveSessionID(s.Proactive.SessionID))
	}
	if s.Proactive.Trigger != "" {
		opts = append(opts, WithProactiveTrigger(s.Proactive.Trigger))
	}

	return opts, nil
}
