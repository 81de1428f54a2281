package types

// Config represents the main configuration for Newsroom.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Store       StoreConfig       `yaml:"store"`
	Crypto      CryptoConfig      `yaml:"crypto"`
	Models      ModelsConfig      `yaml:"models"`
	Budgets     BudgetsConfig     `yaml:"budgets"`
	Negotiation NegotiationConfig `yaml:"negotiation"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Mailbox     MailboxConfig     `yaml:"mailbox"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Agents      []AgentDefinition `yaml:"agents"`
}

// ServerConfig defines HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StoreConfig defines shared store settings.
type StoreConfig struct {
	Path string `yaml:"path"` // Path to the sqlite database file
}

// CryptoConfig defines encryption settings.
type CryptoConfig struct {
	IdentityPath string `yaml:"identity_path"` // Path to age identity file
}

// ModelsConfig maps task types to model names, with a default fallback.
type ModelsConfig struct {
	Default   string                    `yaml:"default"`
	Tasks     map[string]string         `yaml:"tasks,omitempty"` // task_type -> model
	Providers map[string]ProviderConfig `yaml:"providers,omitempty"`
}

// ProviderConfig defines settings for an AI provider.
type ProviderConfig struct {
	APIKeyEncrypted string `yaml:"api_key_encrypted"` // age-encrypted API key
}

// BudgetLimits is the per-task-execution resource ceiling.
type BudgetLimits struct {
	MaxLLMCalls int `yaml:"max_llm_calls" json:"max_llm_calls"`
	MaxSeconds  int `yaml:"max_seconds" json:"max_seconds"`
	MaxSubtasks int `yaml:"max_subtasks" json:"max_subtasks"`
	MaxRetries  int `yaml:"max_retries" json:"max_retries"`
}

// BudgetsConfig holds the nested budget configuration table.
// Lookup order: agents[name][task_type], then agents[name]["default"],
// then a hardcoded conservative default - never unlimited.
type BudgetsConfig struct {
	Global GlobalBudgets                      `yaml:"global"`
	Agents map[string]map[string]BudgetLimits `yaml:"agents,omitempty"`
}

// GlobalBudgets are per-day caps independent of any single task's budget.
type GlobalBudgets struct {
	DailyMaxLLMCalls int `yaml:"daily_max_llm_calls"`
	DailyMaxAlerts   int `yaml:"daily_max_alerts"`
}

// NegotiationConfig governs the cross-agent negotiation protocol.
type NegotiationConfig struct {
	MaxRounds             int                 `yaml:"max_rounds"`
	MaxConcurrentPerAgent int                 `yaml:"max_concurrent_per_agent"`
	TimeoutMinutes        int                 `yaml:"timeout_minutes"`
	AllowedPairs          map[string][]string `yaml:"allowed_pairs,omitempty"` // requester -> responders
}

// MonitorConfig tunes the proactive anomaly scan. The thresholds are
// tuning values, not contracts; defaults are illustrative.
type MonitorConfig struct {
	Enabled                bool    `yaml:"enabled"`
	ScanIntervalMin        int     `yaml:"scan_interval_min"`
	CooldownMin            int     `yaml:"cooldown_min"`
	WindowHours            int     `yaml:"window_hours"`
	BaselineDays           int     `yaml:"baseline_days"`
	MinBaselineItems       int     `yaml:"min_baseline_items"`
	FrequencySpikeRatio    float64 `yaml:"frequency_spike_ratio"`
	SentimentDropThreshold float64 `yaml:"sentiment_drop_threshold"`
	VolumeRatioHigh        float64 `yaml:"volume_ratio_high"`
	VolumeRatioLow         float64 `yaml:"volume_ratio_low"`
}

// DispatchConfig tunes the polling dispatchers and the stale-task sweep.
type DispatchConfig struct {
	PollIntervalSec  int `yaml:"poll_interval_sec"`
	BatchSize        int `yaml:"batch_size"`
	SweepIntervalSec int `yaml:"sweep_interval_sec"`
	StaleMultiplier  int `yaml:"stale_multiplier"` // Stale after max_seconds x this
}

// MailboxConfig defines the handoff channel to the reasoning collaborator.
type MailboxConfig struct {
	Dir                string `yaml:"dir"` // Base dir holding queue/ and responses/
	ResponseTimeoutSec int    `yaml:"response_timeout_sec"`
}

// PipelineConfig tunes the end-to-end cycle orchestration.
type PipelineConfig struct {
	AnalysisWaitSec int    `yaml:"analysis_wait_sec"`
	ResearchWaitSec int    `yaml:"research_wait_sec"`
	AssemblyWaitSec int    `yaml:"assembly_wait_sec"`
	OutputDir       string `yaml:"output_dir"` // Where published issues land
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Store: StoreConfig{
			Path: "./newsroom.db",
		},
		Crypto: CryptoConfig{
			IdentityPath: "./newsroom.key",
		},
		Models: ModelsConfig{
			Default: "claude-sonnet-4-20250514",
			Tasks: map[string]string{
				string(TaskDeepResearch): "claude-opus-4-20250514",
			},
		},
		Budgets: BudgetsConfig{
			Global: GlobalBudgets{
				DailyMaxLLMCalls: 100,
				DailyMaxAlerts:   3,
			},
			Agents: map[string]map[string]BudgetLimits{
				"analyst": {
					"default":                     {MaxLLMCalls: 8, MaxSeconds: 300, MaxSubtasks: 3, MaxRetries: 2},
					string(TaskProactiveAnalysis): {MaxLLMCalls: 3, MaxSeconds: 120, MaxSubtasks: 1, MaxRetries: 1},
				},
				"researcher": {
					"default": {MaxLLMCalls: 12, MaxSeconds: 600, MaxSubtasks: 2, MaxRetries: 2},
				},
				"newsletter": {
					"default": {MaxLLMCalls: 6, MaxSeconds: 300, MaxSubtasks: 1, MaxRetries: 2},
				},
			},
		},
		Negotiation: NegotiationConfig{
			MaxRounds:             3,
			MaxConcurrentPerAgent: 2,
			TimeoutMinutes:        30,
			AllowedPairs: map[string][]string{
				"analyst":    {"researcher"},
				"newsletter": {"analyst"},
			},
		},
		Monitor: MonitorConfig{
			Enabled:                true,
			ScanIntervalMin:        30,
			CooldownMin:            60,
			WindowHours:            4,
			BaselineDays:           7,
			MinBaselineItems:       50,
			FrequencySpikeRatio:    3.0,
			SentimentDropThreshold: 0.5,
			VolumeRatioHigh:        2.5,
			VolumeRatioLow:         0.3,
		},
		Dispatch: DispatchConfig{
			PollIntervalSec:  5,
			BatchSize:        2,
			SweepIntervalSec: 60,
			StaleMultiplier:  2,
		},
		Mailbox: MailboxConfig{
			Dir:                "./.newsroom/mailbox",
			ResponseTimeoutSec: 180,
		},
		Pipeline: PipelineConfig{
			AnalysisWaitSec: 600,
			ResearchWaitSec: 900,
			AssemblyWaitSec: 600,
			OutputDir:       "./.newsroom/issues",
		},
		Agents: []AgentDefinition{
			{
				Name:     "analyst",
				Identity: "You are the analyst: you read the recent content window, extract findings, rate significance and select topics worth deeper coverage.",
				TaskTypes: []TaskType{
					TaskFullAnalysis, TaskTopicSelection, TaskProactiveAnalysis, TaskDataRequest, TaskNotification,
				},
			},
			{
				Name:     "researcher",
				Identity: "You are the researcher: you deep-dive one selected topic, verify claims against sources and produce a sourced brief.",
				TaskTypes: []TaskType{
					TaskDeepResearch, TaskDataRequest,
				},
			},
			{
				Name:     "newsletter",
				Identity: "You are the newsletter editor: you assemble the periodical from whatever upstream material exists, degrading gracefully when sections are missing.",
				TaskTypes: []TaskType{
					TaskNewsletterAssembly,
				},
			},
		},
	}
}
