// Package config loads agent and pipeline settings from defaults, an
// optional YAML file, an optional .env file, and environment variables, in
// that order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"sigs.k8s.io/yaml"
)

// Provider names accepted by the oracle layer.
const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
	ProviderGemini = "gemini"
)

// AgentConfig holds the settings for learning, replay, and autonomous runs.
type AgentConfig struct {
	// AI provider ("openai", "azure", "gemini"; empty = auto-detect)
	Provider string `json:"provider" env:"AI_PROVIDER"`

	// Gemini API
	GeminiAPIKey string `json:"-" env:"GEMINI_API_KEY"`
	GeminiModel  string `json:"gemini_model" env:"GEMINI_MODEL"`

	// OpenAI API
	OpenAIAPIKey string `json:"-" env:"OPENAI_API_KEY"`
	OpenAIModel  string `json:"openai_model" env:"OPENAI_MODEL"`

	// Azure OpenAI
	AzureOpenAIKey      string `json:"-" env:"AZURE_OPENAI_KEY"`
	AzureOpenAIEndpoint string `json:"azure_openai_endpoint" env:"AZURE_OPENAI_ENDPOINT"`
	AzureDeploymentID   string `json:"azure_deployment_id" env:"AZURE_OPENAI_DEPLOYMENT_ID"`

	// Storage
	WorkflowDir   string `json:"workflow_dir" env:"AGENT_WORKFLOW_DIR"`
	ScreenshotDir string `json:"screenshot_dir" env:"AGENT_SCREENSHOT_DIR"`

	// Execution limits
	MaxSteps               int     `json:"max_steps"`
	MaxConsecutiveFailures int     `json:"max_consecutive_failures"`
	StepDelay              float64 `json:"step_delay"`

	// Safety
	DryRun           bool     `json:"dry_run"`
	ConfirmDangerous bool     `json:"confirm_dangerous"`
	DangerousApps    []string `json:"dangerous_apps"`

	// Oracle request shaping
	ReasoningEffort string `json:"reasoning_effort"`
	MaxOutputTokens int    `json:"max_output_tokens"`

	// UI probe helper command (empty = no probe available)
	ProbeCommand string `json:"probe_command" env:"AGENT_PROBE_CMD"`

	MinConfidence float64 `json:"min_confidence"`
}

// PipelineConfig holds the settings for the skills pipeline daemon.
type PipelineConfig struct {
	WatchDir      string  `json:"watch_dir" env:"PIPELINE_WATCH_DIR"`
	SkillsDir     string  `json:"skills_dir" env:"PIPELINE_SKILLS_DIR"`
	SessionGap    int     `json:"session_gap" env:"PIPELINE_SESSION_GAP"`
	SessionMax    int     `json:"session_max" env:"PIPELINE_SESSION_MAX"`
	AIProvider    string  `json:"ai_provider" env:"PIPELINE_AI_PROVIDER"`
	AIModel       string  `json:"ai_model" env:"PIPELINE_AI_MODEL"`
	CPULimit      int     `json:"cpu_limit" env:"PIPELINE_CPU_LIMIT"`
	MemLimitMB    int     `json:"mem_limit" env:"PIPELINE_MEM_LIMIT"`
	PollSec       float64 `json:"poll_sec" env:"PIPELINE_POLL_SEC"`
	MinConfidence float64 `json:"min_confidence" env:"PIPELINE_MIN_CONFIDENCE"`
	MetricsAddr   string  `json:"metrics_addr" env:"PIPELINE_METRICS_ADDR"`
}

// fileConfig is the shape of the optional YAML config file.
type fileConfig struct {
	Agent    *AgentConfig    `json:"agent"`
	Pipeline *PipelineConfig `json:"pipeline"`
}

func DefaultAgentConfig() *AgentConfig {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = os.TempDir()
	}
	return &AgentConfig{
		GeminiModel:            "gemini-2.5-flash",
		OpenAIModel:            "gpt-5",
		WorkflowDir:            filepath.Join(home, ".agent", "workflows"),
		ScreenshotDir:          filepath.Join(home, ".agent", "screenshots"),
		MaxSteps:               50,
		MaxConsecutiveFailures: 5,
		StepDelay:              1.0,
		ConfirmDangerous:       true,
		DangerousApps: []string{
			"Mail", "メール", "Slack", "Discord", "Messages", "メッセージ",
			"LINE", "Telegram", "WhatsApp",
		},
		ReasoningEffort: "medium",
		MaxOutputTokens: 2000,
		MinConfidence:   0.5,
	}
}

func DefaultPipelineConfig() *PipelineConfig {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = os.TempDir()
	}
	return &PipelineConfig{
		WatchDir:      "./screenshots",
		SkillsDir:     filepath.Join(home, ".claude", "skills"),
		SessionGap:    300,
		SessionMax:    50,
		AIProvider:    ProviderGemini,
		AIModel:       "gemini-2.0-flash",
		CPULimit:      30,
		MemLimitMB:    500,
		PollSec:       10.0,
		MinConfidence: 0.6,
	}
}

// LoadAgent builds the agent configuration: defaults, then the YAML file at
// configFile (or agent.yaml in the working directory when present), then
// .env, then environment variables. File keys merge over the defaults, so an
// omitted key keeps its default value.
func LoadAgent(configFile string) (*AgentConfig, error) {
	cfg := DefaultAgentConfig()

	loadDotenv()

	if err := mergeFileConfig(configFile, &fileConfig{Agent: cfg}); err != nil {
		return nil, err
	}

	cfg.loadFromEnv()
	cfg.resolveProvider()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadPipeline builds the pipeline configuration with the same precedence as
// LoadAgent.
func LoadPipeline(configFile string) (*PipelineConfig, error) {
	cfg := DefaultPipelineConfig()

	loadDotenv()

	if err := mergeFileConfig(configFile, &fileConfig{Pipeline: cfg}); err != nil {
		return nil, err
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadDotenv loads the first .env found among the usual locations. Absence is
// not an error.
func loadDotenv() {
	candidates := []string{".env"}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), ".env"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".agent", ".env"))
	}
	for _, c := range candidates {
		if fileExists(c) {
			_ = godotenv.Load(c)
			return
		}
	}
}

// mergeFileConfig unmarshals the YAML config file over fc, whose sections
// point at defaults-populated structs. A missing implicit agent.yaml is not
// an error; a missing explicitly named file is.
func mergeFileConfig(configFile string, fc *fileConfig) error {
	path := configFile
	if path == "" {
		if !fileExists("agent.yaml") {
			return nil
		}
		path = "agent.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *AgentConfig) loadFromEnv() {
	if v := os.Getenv("AI_PROVIDER"); v != "" {
		c.Provider = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.GeminiAPIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		c.GeminiModel = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAIAPIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		c.OpenAIModel = v
	}
	if v := os.Getenv("AZURE_OPENAI_KEY"); v != "" {
		c.AzureOpenAIKey = v
	}
	if v := os.Getenv("AZURE_OPENAI_ENDPOINT"); v != "" {
		c.AzureOpenAIEndpoint = v
	}
	if v := os.Getenv("AZURE_OPENAI_DEPLOYMENT_ID"); v != "" {
		c.AzureDeploymentID = v
	}
	if v := os.Getenv("AGENT_WORKFLOW_DIR"); v != "" {
		c.WorkflowDir = v
	}
	if v := os.Getenv("AGENT_SCREENSHOT_DIR"); v != "" {
		c.ScreenshotDir = v
	}
	if v := os.Getenv("AGENT_PROBE_CMD"); v != "" {
		c.ProbeCommand = v
	}
}

func (c *PipelineConfig) loadFromEnv() {
	if v := os.Getenv("PIPELINE_WATCH_DIR"); v != "" {
		c.WatchDir = v
	}
	if v := os.Getenv("PIPELINE_SKILLS_DIR"); v != "" {
		c.SkillsDir = v
	}
	if v := os.Getenv("PIPELINE_SESSION_GAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SessionGap = n
		}
	}
	if v := os.Getenv("PIPELINE_SESSION_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SessionMax = n
		}
	}
	if v := os.Getenv("PIPELINE_AI_PROVIDER"); v != "" {
		c.AIProvider = v
	}
	if v := os.Getenv("PIPELINE_AI_MODEL"); v != "" {
		c.AIModel = v
	}
	if v := os.Getenv("PIPELINE_CPU_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CPULimit = n
		}
	}
	if v := os.Getenv("PIPELINE_MEM_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MemLimitMB = n
		}
	}
	if v := os.Getenv("PIPELINE_POLL_SEC"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.PollSec = f
		}
	}
	if v := os.Getenv("PIPELINE_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.MinConfidence = f
		}
	}
	if v := os.Getenv("PIPELINE_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
}

// resolveProvider applies the auto-detection order: explicit setting, then
// gemini when its key is present, then openai when its key is present, then
// gemini as the final default.
func (c *AgentConfig) resolveProvider() {
	if c.Provider != "" {
		return
	}
	switch {
	case c.GeminiAPIKey != "":
		c.Provider = ProviderGemini
	case c.OpenAIAPIKey != "":
		c.Provider = ProviderOpenAI
	default:
		c.Provider = ProviderGemini
	}
}

// Model returns the model name matching the selected provider.
func (c *AgentConfig) Model() string {
	switch c.Provider {
	case ProviderOpenAI:
		return c.OpenAIModel
	case ProviderAzure:
		return c.AzureDeploymentID
	default:
		return c.GeminiModel
	}
}

// IsDangerousApp reports whether appName matches the sensitivity list by
// case-insensitive containment.
func (c *AgentConfig) IsDangerousApp(appName string) bool {
	lower := strings.ToLower(appName)
	for _, d := range c.DangerousApps {
		if strings.Contains(lower, strings.ToLower(d)) {
			return true
		}
	}
	return false
}

func (c *AgentConfig) Validate() error {
	switch c.Provider {
	case "", ProviderOpenAI, ProviderAzure, ProviderGemini:
	default:
		return fmt.Errorf("provider must be one of: openai, azure, gemini")
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive")
	}
	if c.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("max_consecutive_failures must be positive")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in [0,1]")
	}
	return nil
}

func (c *PipelineConfig) Validate() error {
	if c.WatchDir == "" {
		return fmt.Errorf("watch_dir is required")
	}
	if c.SessionGap <= 0 {
		return fmt.Errorf("session_gap must be positive")
	}
	if c.SessionMax <= 0 {
		return fmt.Errorf("session_max must be positive")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in [0,1]")
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
