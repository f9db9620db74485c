package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/models"
)

// Config holds the process-level settings, read from the environment with
// an optional .env file.
type Config struct {
	Port            string
	DatabaseURL     string
	WorkflowsFile   string
	HistoryCapacity int
}

// Load reads the configuration from the environment. A missing .env file
// is not an error.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port:          getenv("PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		WorkflowsFile: os.Getenv("WORKFLOWS_FILE"),
	}
	if v := os.Getenv("HISTORY_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HistoryCapacity = n
		}
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// stepSpec mirrors models.Step with the timeout as a duration string, the
// way it is written in YAML ("30s", "2m").
type stepSpec struct {
	ID         string         `yaml:"id"`
	Agent      string         `yaml:"agent"`
	DependsOn  []string       `yaml:"depends_on"`
	Optional   bool           `yaml:"optional"`
	MaxRetries int            `yaml:"max_retries"`
	Timeout    string         `yaml:"timeout"`
	Params     map[string]any `yaml:"params"`
}

type workflowSpec struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Parallel    bool       `yaml:"parallel"`
	Steps       []stepSpec `yaml:"steps"`
}

type workflowsFile struct {
	Workflows []workflowSpec `yaml:"workflows"`
}

// LoadWorkflows parses workflow definitions from a YAML file.
func LoadWorkflows(path string) ([]models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflows file: %w", err)
	}
	return ParseWorkflows(data)
}

// ParseWorkflows parses workflow definitions from YAML bytes.
func ParseWorkflows(data []byte) ([]models.Workflow, error) {
	var file workflowsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse workflows: %w", err)
	}
	out := make([]models.Workflow, 0, len(file.Workflows))
	for _, spec := range file.Workflows {
		wf := models.Workflow{
			ID:          spec.ID,
			Name:        spec.Name,
			Description: spec.Description,
			Parallel:    spec.Parallel,
		}
		for _, ss := range spec.Steps {
			step := models.Step{
				ID:         ss.ID,
				AgentID:    ss.Agent,
				DependsOn:  ss.DependsOn,
				Optional:   ss.Optional,
				MaxRetries: ss.MaxRetries,
				Params:     ss.Params,
			}
			if ss.Timeout != "" {
				d, err := time.ParseDuration(ss.Timeout)
				if err != nil {
					return nil, fmt.Errorf("step '%s': invalid timeout '%s': %w", ss.ID, ss.Timeout, err)
				}
				step.Timeout = &d
			}
			wf.Steps = append(wf.Steps, step)
		}
		if err := wf.Validate(); err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}
