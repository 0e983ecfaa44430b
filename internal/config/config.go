package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config root configuration
type Config struct {
	Workspace WorkspaceConfig `mapstructure:"workspace" json:"workspace"`
	Log       LogConfig       `mapstructure:"log" json:"log"`
	Safety    SafetyConfig    `mapstructure:"safety" json:"safety"`
	Threat    ThreatConfig    `mapstructure:"threat" json:"threat"`
	Access    AccessConfig    `mapstructure:"access" json:"access"`
	Oversight OversightConfig `mapstructure:"oversight" json:"oversight"`
	Monitor   MonitorConfig   `mapstructure:"monitor" json:"monitor"`
	Isolation IsolationConfig `mapstructure:"isolation" json:"isolation"`
	Gateway   GatewayConfig   `mapstructure:"gateway" json:"gateway"`
	Notify    NotifyConfig    `mapstructure:"notify" json:"notify"`
}

// WorkspaceConfig selects the directory holding warden's state.
type WorkspaceConfig struct {
	Mode string `mapstructure:"mode" json:"mode"`
	Path string `mapstructure:"path" json:"path"`
}

// LogConfig application logging settings
type LogConfig struct {
	Level string `mapstructure:"level" json:"level"`
	File  string `mapstructure:"file" json:"file"`
}

// SafetyConfig switches for the safety pipeline
type SafetyConfig struct {
	SecurityLevel           string   `mapstructure:"security_level" json:"security_level"`
	EnableIsolation         bool     `mapstructure:"enable_isolation" json:"enable_isolation"`
	EnableOversight         bool     `mapstructure:"enable_oversight" json:"enable_oversight"`
	DefaultResource         string   `mapstructure:"default_resource" json:"default_resource"`
	ExecutionTimeoutSeconds int      `mapstructure:"execution_timeout_seconds" json:"execution_timeout_seconds"`
	OversightRequired       []string `mapstructure:"oversight_required" json:"oversight_required"`
}

// ThreatConfig detector thresholds and weights
type ThreatConfig struct {
	CriticalThreshold float64 `mapstructure:"critical_threshold" json:"critical_threshold"`
	HighThreshold     float64 `mapstructure:"high_threshold" json:"high_threshold"`
	MediumThreshold   float64 `mapstructure:"medium_threshold" json:"medium_threshold"`
	LowThreshold      float64 `mapstructure:"low_threshold" json:"low_threshold"`
	MaxScore          float64 `mapstructure:"max_score" json:"max_score"`
	MarkerLimit       int     `mapstructure:"marker_limit" json:"marker_limit"`
	Base64Limit       int     `mapstructure:"base64_limit" json:"base64_limit"`
	PercentLimit      int     `mapstructure:"percent_limit" json:"percent_limit"`
	UnicodeLimit      int     `mapstructure:"unicode_limit" json:"unicode_limit"`
	// Weights overrides the weight of individual categories, e.g. "command_execution".
	Weights map[string]float64 `mapstructure:"weights" json:"weights,omitempty"`
}

// PermissionConfig is one resource entry of an agent or user grant.
type PermissionConfig struct {
	Level   string          `mapstructure:"level" json:"level"`
	Actions map[string]bool `mapstructure:"actions" json:"actions,omitempty"`
}

// AccessConfig access control settings
type AccessConfig struct {
	SessionTimeoutMinutes int    `mapstructure:"session_timeout_minutes" json:"session_timeout_minutes"`
	MaxFailedAttempts     int    `mapstructure:"max_failed_attempts" json:"max_failed_attempts"`
	LockoutMinutes        int    `mapstructure:"lockout_minutes" json:"lockout_minutes"`
	TokenSecret           string `mapstructure:"token_secret" json:"token_secret"`
	// Agents and Users seed permissions keyed by name, then resource.
	Agents map[string]map[string]PermissionConfig `mapstructure:"agents" json:"agents"`
	Users  map[string]map[string]PermissionConfig `mapstructure:"users" json:"users,omitempty"`
	// Credentials maps username to a bcrypt hash.
	Credentials map[string]string `mapstructure:"credentials" json:"credentials,omitempty"`
	// PolicyFiles are YAML bundles applied at startup.
	PolicyFiles []string `mapstructure:"policy_files" json:"policy_files,omitempty"`
}

// OversightConfig human oversight settings
type OversightConfig struct {
	TimeoutSeconds       int      `mapstructure:"timeout_seconds" json:"timeout_seconds"`
	NotifyTimeoutSeconds int      `mapstructure:"notify_timeout_seconds" json:"notify_timeout_seconds"`
	SweepSeconds         int      `mapstructure:"sweep_seconds" json:"sweep_seconds"`
	CompletedLimit       int      `mapstructure:"completed_limit" json:"completed_limit"`
	HighRiskTypes        []string `mapstructure:"high_risk_types" json:"high_risk_types"`
	MediumRiskTypes      []string `mapstructure:"medium_risk_types" json:"medium_risk_types"`
	HighRiskAgents       []string `mapstructure:"high_risk_agents" json:"high_risk_agents"`
	HighTypeWeight       int      `mapstructure:"high_type_weight" json:"high_type_weight"`
	MediumTypeWeight     int      `mapstructure:"medium_type_weight" json:"medium_type_weight"`
	LowTypeWeight        int      `mapstructure:"low_type_weight" json:"low_type_weight"`
	AgentWeight          int      `mapstructure:"agent_weight" json:"agent_weight"`
	ExternalWeight       int      `mapstructure:"external_weight" json:"external_weight"`
	ProductionWeight     int      `mapstructure:"production_weight" json:"production_weight"`
	ElevatedWeight       int      `mapstructure:"elevated_weight" json:"elevated_weight"`
	CriticalThreshold    int      `mapstructure:"critical_threshold" json:"critical_threshold"`
	HighThreshold        int      `mapstructure:"high_threshold" json:"high_threshold"`
	MediumThreshold      int      `mapstructure:"medium_threshold" json:"medium_threshold"`
}

// MonitorConfig logging monitor and dashboard settings
type MonitorConfig struct {
	QueueSize             int     `mapstructure:"queue_size" json:"queue_size"`
	SlowExecutionSeconds  int     `mapstructure:"slow_execution_seconds" json:"slow_execution_seconds"`
	RecentAlerts          int     `mapstructure:"recent_alerts" json:"recent_alerts"`
	SampleIntervalSeconds int     `mapstructure:"sample_interval_seconds" json:"sample_interval_seconds"`
	RetentionHours        int     `mapstructure:"retention_hours" json:"retention_hours"`
	MaxSamples            int     `mapstructure:"max_samples" json:"max_samples"`
	QueueThreshold        int     `mapstructure:"queue_threshold" json:"queue_threshold"`
	MemoryThreshold       float64 `mapstructure:"memory_threshold" json:"memory_threshold"`
	CPUThreshold          float64 `mapstructure:"cpu_threshold" json:"cpu_threshold"`
	AlertThreshold        int     `mapstructure:"alert_threshold" json:"alert_threshold"`
}

// IsolationLevelConfig overrides the command policy of one security level.
type IsolationLevelConfig struct {
	BlockedCommands     []string `mapstructure:"blocked_commands" json:"blocked_commands"`
	MaxExecutionSeconds int      `mapstructure:"max_execution_seconds" json:"max_execution_seconds"`
}

// IsolationConfig per-level overrides; levels left out keep their defaults.
type IsolationConfig struct {
	Levels map[string]IsolationLevelConfig `mapstructure:"levels" json:"levels,omitempty"`
}

// GatewayConfig server settings
type GatewayConfig struct {
	Host  string `mapstructure:"host" json:"host"`
	Port  int    `mapstructure:"port" json:"port"`
	Token string `mapstructure:"token" json:"token"`
}

// NotifyConfig oversight notification sinks
type NotifyConfig struct {
	Log      bool           `mapstructure:"log" json:"log"`
	Telegram TelegramConfig `mapstructure:"telegram" json:"telegram"`
}

// TelegramConfig Telegram notification settings
type TelegramConfig struct {
	Enabled bool     `mapstructure:"enabled" json:"enabled"`
	Token   string   `mapstructure:"token" json:"token"`
	ChatIDs []string `mapstructure:"chat_ids" json:"chat_ids"`
}

const (
	defaultSecurityLevel    = "standard"
	defaultResource         = "qa_system"
	defaultExecutionTimeout = 300
	defaultOversightTimeout = 1800
	defaultGatewayPort      = 18791
)

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Mode: "default",
		},
		Log: LogConfig{
			Level: "info",
			File:  "",
		},
		Safety: SafetyConfig{
			SecurityLevel:           defaultSecurityLevel,
			EnableIsolation:         true,
			EnableOversight:         true,
			DefaultResource:         defaultResource,
			ExecutionTimeoutSeconds: defaultExecutionTimeout,
			OversightRequired:       []string{"system_modification", "security_change", "data_deletion", "external_network_access"},
		},
		Threat: ThreatConfig{
			CriticalThreshold: 8.0,
			HighThreshold:     6.0,
			MediumThreshold:   4.0,
			LowThreshold:      2.0,
			MaxScore:          10.0,
			MarkerLimit:       5,
			Base64Limit:       3,
			PercentLimit:      10,
			UnicodeLimit:      5,
		},
		Access: AccessConfig{
			SessionTimeoutMinutes: 480,
			MaxFailedAttempts:     3,
			LockoutMinutes:        30,
			Agents:                defaultAgents(),
		},
		Oversight: OversightConfig{
			TimeoutSeconds:       defaultOversightTimeout,
			NotifyTimeoutSeconds: 10,
			SweepSeconds:         30,
			CompletedLimit:       1000,
			HighRiskTypes:        []string{"system_modification", "security_change", "data_deletion"},
			MediumRiskTypes:      []string{"configuration_change", "network_access", "external_network_access", "file_modification"},
			HighRiskAgents:       []string{"computer_terminal", "web_surfer"},
			HighTypeWeight:       5,
			MediumTypeWeight:     2,
			LowTypeWeight:        1,
			AgentWeight:          2,
			ExternalWeight:       2,
			ProductionWeight:     3,
			ElevatedWeight:       2,
			CriticalThreshold:    7,
			HighThreshold:        5,
			MediumThreshold:      3,
		},
		Monitor: MonitorConfig{
			QueueSize:             10000,
			SlowExecutionSeconds:  300,
			RecentAlerts:          100,
			SampleIntervalSeconds: 30,
			RetentionHours:        24,
			MaxSamples:            2880,
			QueueThreshold:        1000,
			MemoryThreshold:       90,
			CPUThreshold:          90,
			AlertThreshold:        10,
		},
		Gateway: GatewayConfig{
			Host:  "127.0.0.1",
			Port:  defaultGatewayPort,
			Token: "",
		},
		Notify: NotifyConfig{
			Log: true,
			Telegram: TelegramConfig{
				Enabled: false,
				ChatIDs: []string{},
			},
		},
	}
}

func defaultAgents() map[string]map[string]PermissionConfig {
	env := map[string]bool{"create_environment": true}
	return map[string]map[string]PermissionConfig{
		"orchestrator":      {defaultResource: {Level: "admin"}},
		"coder":             {defaultResource: {Level: "execute", Actions: env}},
		"computer_terminal": {defaultResource: {Level: "execute", Actions: env}},
		"file_surfer":       {defaultResource: {Level: "write", Actions: env}},
		"web_surfer":        {defaultResource: {Level: "read", Actions: env}},
		"tool_gateway": {
			defaultResource: {Level: "read", Actions: env},
			"tools":         {Level: "read", Actions: map[string]bool{"submit_action": true, "analyze_prompt": true}},
		},
	}
}

// ConfigDir returns the config directory. WARDEN_HOME overrides ~/.warden.
func ConfigDir() string {
	if dir := strings.TrimSpace(os.Getenv("WARDEN_HOME")); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("failed to resolve home directory, using current directory as fallback", "error", err)
		homeDir = "."
	}
	return filepath.Join(homeDir, ".warden")
}

// ConfigPath returns the config file path
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// Load loads config from the default path, creating it with defaults when missing.
func Load() (*Config, error) {
	configPath := ConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := Save(cfg); err != nil {
			return cfg, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}
	return LoadFile(configPath)
}

// LoadFile loads config from path on top of the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("WARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return cfg, err
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Save saves config to the default path
func Save(cfg *Config) error {
	return SaveFile(cfg, ConfigPath())
}

// SaveFile saves config to path
func SaveFile(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate checks that the configuration values are within acceptable ranges.
// Zero values are replaced with defaults.
func (c *Config) Validate() error {
	def := DefaultConfig()

	mode := strings.TrimSpace(c.Workspace.Mode)
	if mode != "" {
		validModes := map[string]bool{"default": true, "cwd": true, "path": true}
		if !validModes[strings.ToLower(mode)] {
			return fmt.Errorf("workspace.mode must be one of: default, cwd, path; got %q", mode)
		}
		if strings.EqualFold(mode, "path") && strings.TrimSpace(c.Workspace.Path) == "" {
			return fmt.Errorf("workspace.path must be non-empty when workspace.mode is \"path\"")
		}
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	if level == "" {
		c.Log.Level = "info"
	} else {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[level] {
			return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
		}
		c.Log.Level = level
	}

	if err := c.validateSafety(def); err != nil {
		return err
	}
	if err := c.validateThreat(def); err != nil {
		return err
	}
	if err := c.validateAccess(def); err != nil {
		return err
	}
	if err := c.validateOversight(def); err != nil {
		return err
	}
	if err := c.validateMonitor(def); err != nil {
		return err
	}

	for name, lvl := range c.Isolation.Levels {
		if !validSecurityLevel(name) {
			return fmt.Errorf("isolation.levels: unknown security level %q", name)
		}
		if lvl.MaxExecutionSeconds < 0 {
			return fmt.Errorf("isolation.levels.%s.max_execution_seconds must not be negative, got %d", name, lvl.MaxExecutionSeconds)
		}
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be between 1 and 65535, got %d", c.Gateway.Port)
	}
	if strings.TrimSpace(c.Gateway.Host) == "" {
		c.Gateway.Host = def.Gateway.Host
	}

	if c.Notify.Telegram.Enabled && strings.TrimSpace(c.Notify.Telegram.Token) == "" {
		return fmt.Errorf("notify.telegram.token is required when telegram notifications are enabled")
	}

	return nil
}

func (c *Config) validateSafety(def *Config) error {
	s := &c.Safety
	if strings.TrimSpace(s.SecurityLevel) == "" {
		s.SecurityLevel = def.Safety.SecurityLevel
	}
	s.SecurityLevel = strings.ToLower(strings.TrimSpace(s.SecurityLevel))
	if !validSecurityLevel(s.SecurityLevel) {
		return fmt.Errorf("safety.security_level must be one of minimal, standard, strict, maximum; got %q", s.SecurityLevel)
	}
	if strings.TrimSpace(s.DefaultResource) == "" {
		s.DefaultResource = def.Safety.DefaultResource
	}
	if s.ExecutionTimeoutSeconds < 0 {
		return fmt.Errorf("safety.execution_timeout_seconds must not be negative, got %d", s.ExecutionTimeoutSeconds)
	}
	if s.ExecutionTimeoutSeconds == 0 {
		s.ExecutionTimeoutSeconds = def.Safety.ExecutionTimeoutSeconds
	}
	if s.OversightRequired == nil {
		s.OversightRequired = def.Safety.OversightRequired
	}
	return nil
}

func (c *Config) validateThreat(def *Config) error {
	t := &c.Threat
	if t.CriticalThreshold == 0 && t.HighThreshold == 0 && t.MediumThreshold == 0 && t.LowThreshold == 0 {
		t.CriticalThreshold = def.Threat.CriticalThreshold
		t.HighThreshold = def.Threat.HighThreshold
		t.MediumThreshold = def.Threat.MediumThreshold
		t.LowThreshold = def.Threat.LowThreshold
	}
	if !(t.CriticalThreshold > t.HighThreshold && t.HighThreshold > t.MediumThreshold &&
		t.MediumThreshold > t.LowThreshold && t.LowThreshold > 0) {
		return fmt.Errorf("threat thresholds must satisfy critical > high > medium > low > 0, got %.2f/%.2f/%.2f/%.2f",
			t.CriticalThreshold, t.HighThreshold, t.MediumThreshold, t.LowThreshold)
	}
	if t.MaxScore == 0 {
		t.MaxScore = def.Threat.MaxScore
	}
	if t.MaxScore < t.CriticalThreshold {
		return fmt.Errorf("threat.max_score %.2f is below threat.critical_threshold %.2f", t.MaxScore, t.CriticalThreshold)
	}
	for cat, w := range t.Weights {
		if w < 0 {
			return fmt.Errorf("threat.weights.%s must not be negative", cat)
		}
	}
	return nil
}

func (c *Config) validateAccess(def *Config) error {
	a := &c.Access
	if a.SessionTimeoutMinutes < 0 || a.MaxFailedAttempts < 0 || a.LockoutMinutes < 0 {
		return fmt.Errorf("access timeouts and attempt limits must not be negative")
	}
	if a.SessionTimeoutMinutes == 0 {
		a.SessionTimeoutMinutes = def.Access.SessionTimeoutMinutes
	}
	if a.MaxFailedAttempts == 0 {
		a.MaxFailedAttempts = def.Access.MaxFailedAttempts
	}
	if a.LockoutMinutes == 0 {
		a.LockoutMinutes = def.Access.LockoutMinutes
	}
	for _, grants := range []map[string]map[string]PermissionConfig{a.Agents, a.Users} {
		for name, perms := range grants {
			for resource, p := range perms {
				if !validPermissionLevel(p.Level) {
					return fmt.Errorf("access: %s on %s has unknown permission level %q", name, resource, p.Level)
				}
			}
		}
	}
	return nil
}

func (c *Config) validateOversight(def *Config) error {
	o := &c.Oversight
	d := def.Oversight
	if o.TimeoutSeconds < 0 || o.NotifyTimeoutSeconds < 0 || o.SweepSeconds < 0 {
		return fmt.Errorf("oversight timeouts must not be negative")
	}
	defaultInt(&o.TimeoutSeconds, d.TimeoutSeconds)
	defaultInt(&o.NotifyTimeoutSeconds, d.NotifyTimeoutSeconds)
	defaultInt(&o.SweepSeconds, d.SweepSeconds)
	defaultInt(&o.CompletedLimit, d.CompletedLimit)
	defaultInt(&o.HighTypeWeight, d.HighTypeWeight)
	defaultInt(&o.MediumTypeWeight, d.MediumTypeWeight)
	defaultInt(&o.LowTypeWeight, d.LowTypeWeight)
	defaultInt(&o.AgentWeight, d.AgentWeight)
	defaultInt(&o.ExternalWeight, d.ExternalWeight)
	defaultInt(&o.ProductionWeight, d.ProductionWeight)
	defaultInt(&o.ElevatedWeight, d.ElevatedWeight)
	if o.CriticalThreshold == 0 && o.HighThreshold == 0 && o.MediumThreshold == 0 {
		o.CriticalThreshold = d.CriticalThreshold
		o.HighThreshold = d.HighThreshold
		o.MediumThreshold = d.MediumThreshold
	}
	if !(o.CriticalThreshold > o.HighThreshold && o.HighThreshold > o.MediumThreshold && o.MediumThreshold > 0) {
		return fmt.Errorf("oversight thresholds must satisfy critical > high > medium > 0, got %d/%d/%d",
			o.CriticalThreshold, o.HighThreshold, o.MediumThreshold)
	}
	if o.HighRiskTypes == nil {
		o.HighRiskTypes = d.HighRiskTypes
	}
	if o.MediumRiskTypes == nil {
		o.MediumRiskTypes = d.MediumRiskTypes
	}
	if o.HighRiskAgents == nil {
		o.HighRiskAgents = d.HighRiskAgents
	}
	return nil
}

func (c *Config) validateMonitor(def *Config) error {
	m := &c.Monitor
	d := def.Monitor
	if m.QueueSize < 0 || m.SlowExecutionSeconds < 0 || m.SampleIntervalSeconds < 0 || m.RetentionHours < 0 {
		return fmt.Errorf("monitor sizes and intervals must not be negative")
	}
	if m.MemoryThreshold < 0 || m.MemoryThreshold > 100 || m.CPUThreshold < 0 || m.CPUThreshold > 100 {
		return fmt.Errorf("monitor.memory_threshold and monitor.cpu_threshold must be between 0 and 100")
	}
	defaultInt(&m.QueueSize, d.QueueSize)
	defaultInt(&m.SlowExecutionSeconds, d.SlowExecutionSeconds)
	defaultInt(&m.RecentAlerts, d.RecentAlerts)
	defaultInt(&m.SampleIntervalSeconds, d.SampleIntervalSeconds)
	defaultInt(&m.RetentionHours, d.RetentionHours)
	defaultInt(&m.MaxSamples, d.MaxSamples)
	defaultInt(&m.QueueThreshold, d.QueueThreshold)
	defaultInt(&m.AlertThreshold, d.AlertThreshold)
	if m.MemoryThreshold == 0 {
		m.MemoryThreshold = d.MemoryThreshold
	}
	if m.CPUThreshold == 0 {
		m.CPUThreshold = d.CPUThreshold
	}
	return nil
}

func defaultInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func validSecurityLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "minimal", "standard", "strict", "maximum":
		return true
	}
	return false
}

func validPermissionLevel(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "read", "write", "execute", "admin":
		return true
	}
	return false
}

// WorkspacePath returns the expanded workspace path
func (c *Config) WorkspacePath() string {
	path, err := c.WorkspacePathChecked()
	if err != nil {
		return filepath.Join(ConfigDir(), "workspace")
	}
	return path
}

// WorkspacePathChecked returns the expanded workspace path or an error if invalid.
func (c *Config) WorkspacePathChecked() (string, error) {
	mode := strings.TrimSpace(c.Workspace.Mode)
	if mode == "" || strings.EqualFold(mode, "default") {
		return filepath.Join(ConfigDir(), "workspace"), nil
	}
	if strings.EqualFold(mode, "cwd") {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to resolve cwd: %w", err)
		}
		return wd, nil
	}
	if !strings.EqualFold(mode, "path") {
		return "", fmt.Errorf("unknown workspace mode: %s", mode)
	}
	if c.Workspace.Path == "" {
		return "", fmt.Errorf("workspace.path is required when workspace.mode=path")
	}
	if c.Workspace.Path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory for workspace path: %w", err)
		}
		rest := c.Workspace.Path[1:]
		rest = strings.TrimPrefix(rest, string(filepath.Separator))
		rest = strings.TrimPrefix(rest, "/")
		return filepath.Join(homeDir, rest), nil
	}
	return c.Workspace.Path, nil
}
