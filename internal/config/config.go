package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"formtrack/internal/domain"
)

// Config models formtrack.yml.
type Config struct {
	Program struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"program"`
	Automation struct {
		Rules map[string]AutomationRule `yaml:"rules"`
	} `yaml:"automation"`
	Dashboard struct {
		CriticalLimit int `yaml:"critical_limit"`
		HorizonDays   int `yaml:"horizon_days"`
	} `yaml:"dashboard"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AutomationRule describes the task spawned when a training reaches the
// status the rule is keyed by. The description may contain a {title}
// placeholder filled with the training's title.
type AutomationRule struct {
	Description string `yaml:"description"`
	DueInDays   int    `yaml:"due_in_days"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// DefaultDueInDays applies when a rule leaves due_in_days unset.
const DefaultDueInDays = 2

// Rule returns the automation rule for a training status, if configured.
func (c *Config) Rule(status domain.TrainingStatus) (AutomationRule, bool) {
	rule, ok := c.Automation.Rules[string(status)]
	return rule, ok
}

// Describe fills the rule's description template for a training title.
func (r AutomationRule) Describe(title string) string {
	return strings.ReplaceAll(r.Description, "{title}", title)
}

// DueDays returns the rule's due offset in calendar days.
func (r AutomationRule) DueDays() int {
	if r.DueInDays <= 0 {
		return DefaultDueInDays
	}
	return r.DueInDays
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with ft config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Program.ID == "" {
		return fmt.Errorf("config.program.id is required")
	}
	for status, rule := range c.Automation.Rules {
		if !domain.TrainingStatus(status).Valid() {
			return fmt.Errorf("automation rule keyed by unknown training status %s", status)
		}
		if strings.TrimSpace(rule.Description) == "" {
			return fmt.Errorf("automation rule for %s has empty description", status)
		}
		if rule.DueInDays < 0 {
			return fmt.Errorf("automation rule for %s has negative due_in_days", status)
		}
	}
	if c.Dashboard.CriticalLimit < 0 {
		return fmt.Errorf("config.dashboard.critical_limit must not be negative")
	}
	if c.Dashboard.HorizonDays < 0 {
		return fmt.Errorf("config.dashboard.horizon_days must not be negative")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout_seconds", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "formtrack.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(programID string) string {
	return fmt.Sprintf(defaultTemplate, programID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a program.
func Default(programID string) *Config {
	var cfg Config
	cfg.Program.ID = programID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, programID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `program:
  id: %s
  name: Programa de Implementação

automation:
  rules:
    post_training:
      description: "Enviar relatório de despesas e presença: {title}"
      due_in_days: 2
    completed:
      description: "Enviar e-mail de agradecimento e feedback: {title}"
      due_in_days: 2

dashboard:
  critical_limit: 5
  horizon_days: 7
`
