package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/btdebug/internal/event"
)

// Scenario seeds an event log and replays requests against it.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Runs are created, with their events, before any request is sent.
	Runs []RunFixture `yaml:"runs"`

	// Requests are dispatched in order.
	Requests []RequestStep `yaml:"requests"`
}

// RunFixture is one backtest run and its events.
type RunFixture struct {
	ID                 string         `yaml:"id"`
	StartTime          string         `yaml:"start_time"`
	StrategyConfigHash string         `yaml:"strategy_config_hash,omitempty"`
	Events             []EventFixture `yaml:"events"`
}

// EventFixture is one event, timed relative to its run's start.
type EventFixture struct {
	ID               string           `yaml:"id"`
	Type             string           `yaml:"type"`
	At               string           `yaml:"at"`
	Severity         string           `yaml:"severity,omitempty"`
	Category         string           `yaml:"category,omitempty"`
	Parent           string           `yaml:"parent,omitempty"`
	Properties       map[string]any   `yaml:"properties,omitempty"`
	ValidationErrors []WarningFixture `yaml:"validation_errors,omitempty"`
}

// WarningFixture is a soft validation error attached to an event.
type WarningFixture struct {
	Field    string `yaml:"field"`
	Error    string `yaml:"error"`
	Severity string `yaml:"severity"`
}

// RequestStep is one dispatcher call.
type RequestStep struct {
	// Call is the method name.
	Call string `yaml:"call"`

	// Params are sent as the request's params object.
	Params map[string]any `yaml:"params,omitempty"`

	// Expect validates the response. Nil means any response is accepted.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes the expected response.
type Expect struct {
	Status string         `yaml:"status"`
	Code   string         `yaml:"code,omitempty"`
	Data   map[string]any `yaml:"data,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields (typos) are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Requests) == 0 {
		return fmt.Errorf("requests list is required and must be non-empty")
	}

	for i, run := range s.Runs {
		if run.ID == "" {
			return fmt.Errorf("runs[%d]: id is required", i)
		}
		if _, err := time.Parse(time.RFC3339Nano, run.StartTime); err != nil {
			return fmt.Errorf("runs[%d]: start_time: %w", i, err)
		}
		for j, ev := range run.Events {
			if ev.ID == "" {
				return fmt.Errorf("runs[%d].events[%d]: id is required", i, j)
			}
			if _, err := event.ParseType(ev.Type); err != nil {
				return fmt.Errorf("runs[%d].events[%d]: %w", i, j, err)
			}
			if _, err := time.ParseDuration(ev.At); err != nil {
				return fmt.Errorf("runs[%d].events[%d]: at: %w", i, j, err)
			}
		}
	}

	for i, step := range s.Requests {
		if step.Call == "" {
			return fmt.Errorf("requests[%d]: call is required", i)
		}
		if step.Expect == nil {
			continue
		}
		switch step.Expect.Status {
		case "ok":
			if step.Expect.Code != "" {
				return fmt.Errorf("requests[%d].expect: code only applies to status error", i)
			}
		case "error":
		default:
			return fmt.Errorf("requests[%d].expect: status must be ok or error, got %q", i, step.Expect.Status)
		}
	}
	return nil
}
