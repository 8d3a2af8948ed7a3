package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models ideahub.yml.
type Config struct {
	Dedup struct {
		DuplicateThreshold   float64 `yaml:"duplicate_threshold"`
		ImprovementThreshold float64 `yaml:"improvement_threshold"`
		SimilarityFloor      float64 `yaml:"similarity_floor"`
		MaxNeighbors         int     `yaml:"max_neighbors"`
	} `yaml:"dedup"`
	Embedding struct {
		Model     string `yaml:"model"`
		Dimension int    `yaml:"dimension"`
	} `yaml:"embedding"`
	SLA struct {
		AnalystDays   int    `yaml:"analyst_days"`
		FinanceDays   int    `yaml:"finance_days"`
		DeveloperDays int    `yaml:"developer_days"`
		SweepInterval string `yaml:"sweep_interval"`
	} `yaml:"sla"`
	Assignments struct {
		InviteFanout int `yaml:"invite_fanout"`
	} `yaml:"assignments"`
	Notify struct {
		FromAddress  string `yaml:"from_address"`
		SendInterval string `yaml:"send_interval"`
		MaxBatch     int    `yaml:"max_batch"`
	} `yaml:"notify"`
	Server struct {
		Listen    string `yaml:"listen"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
		DevAuth   bool   `yaml:"dev_auth"`
	} `yaml:"server"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with ih config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	d := c.Dedup
	if d.DuplicateThreshold <= 0 || d.DuplicateThreshold > 1 {
		return fmt.Errorf("dedup.duplicate_threshold must be in (0,1]")
	}
	if d.ImprovementThreshold <= 0 || d.ImprovementThreshold > d.DuplicateThreshold {
		return fmt.Errorf("dedup.improvement_threshold must be in (0, duplicate_threshold]")
	}
	if d.SimilarityFloor < 0 || d.SimilarityFloor >= d.ImprovementThreshold {
		return fmt.Errorf("dedup.similarity_floor must be in [0, improvement_threshold)")
	}
	if d.MaxNeighbors <= 0 {
		return fmt.Errorf("dedup.max_neighbors must be positive")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive")
	}
	if c.SLA.AnalystDays <= 0 || c.SLA.FinanceDays <= 0 || c.SLA.DeveloperDays <= 0 {
		return fmt.Errorf("sla deadlines must be positive day counts")
	}
	if _, err := c.SweepInterval(); err != nil {
		return fmt.Errorf("sla.sweep_interval: %w", err)
	}
	if _, err := c.SendInterval(); err != nil {
		return fmt.Errorf("notify.send_interval: %w", err)
	}
	if c.Assignments.InviteFanout <= 0 {
		return fmt.Errorf("assignments.invite_fanout must be positive")
	}
	if c.Notify.MaxBatch <= 0 {
		return fmt.Errorf("notify.max_batch must be positive")
	}
	return nil
}

// SweepInterval parses the sweep interval duration.
func (c *Config) SweepInterval() (time.Duration, error) {
	return time.ParseDuration(c.SLA.SweepInterval)
}

// SendInterval parses the notification dispatch interval.
func (c *Config) SendInterval() (time.Duration, error) {
	return time.ParseDuration(c.Notify.SendInterval)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "ideahub.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const defaultTemplate = `dedup:
  duplicate_threshold: 0.8
  improvement_threshold: 0.5
  similarity_floor: 0.1
  max_neighbors: 5

embedding:
  model: text-embedding-3-small
  dimension: 1536

sla:
  analyst_days: 5
  finance_days: 5
  developer_days: 5
  sweep_interval: 60s

assignments:
  invite_fanout: 3

notify:
  from_address: ideahub@localhost
  send_interval: 30s
  max_batch: 50

server:
  listen: 127.0.0.1:8484
  base_path: /v0
  jwt_secret: ""
  dev_auth: false
`
