package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the agent core
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Servers    []ServerConfig   `mapstructure:"servers"`
	Capability CapabilityConfig `mapstructure:"capability"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Sandbox    SandboxConfig    `mapstructure:"sandbox"`
	Reasoner   ReasonerConfig   `mapstructure:"reasoner"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	History    HistoryConfig    `mapstructure:"history"`
	Guard      GuardConfig      `mapstructure:"guard"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Server     HTTPConfig       `mapstructure:"server"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // json or console
}

func (g GeneralConfig) Normalize() GeneralConfig {
	g.LogLevel = strings.ToLower(strings.TrimSpace(g.LogLevel))
	if g.LogLevel == "" {
		g.LogLevel = "info"
	}
	g.LogFormat = strings.ToLower(strings.TrimSpace(g.LogFormat))
	if g.LogFormat == "" {
		g.LogFormat = "json"
	}
	return g
}

func (g GeneralConfig) Validate() error {
	switch g.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("general.log_format must be json or console, got %q", g.LogFormat)
	}
	return nil
}

// CapabilityConfig controls discovery and dispatch of capability servers.
type CapabilityConfig struct {
	CallTimeout      time.Duration `mapstructure:"call_timeout"`
	DiscoveryTimeout time.Duration `mapstructure:"discovery_timeout"`
	ReloadCron       string        `mapstructure:"reload_cron"`
	SchemaCacheSize  int           `mapstructure:"schema_cache_size"`
}

func (c CapabilityConfig) Normalize() CapabilityConfig {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 20 * time.Second
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = 15 * time.Second
	}
	if c.SchemaCacheSize <= 0 {
		c.SchemaCacheSize = 256
	}
	c.ReloadCron = strings.TrimSpace(c.ReloadCron)
	return c
}

// StrategyConfig bounds the orchestration loop and selects the planning mode.
type StrategyConfig struct {
	PlanningMode          string `mapstructure:"planning_mode"`    // conservative or exploratory
	ExplorationMode       string `mapstructure:"exploration_mode"` // parallel or sequential
	MemoryFallbackEnabled bool   `mapstructure:"memory_fallback_enabled"`
	MaxSteps              int    `mapstructure:"max_steps"`
	MaxLifelinesPerStep   int    `mapstructure:"max_lifelines_per_step"`
	RedecideOnFailure     bool   `mapstructure:"redecide_on_failure"`
}

func (s StrategyConfig) Normalize() StrategyConfig {
	s.PlanningMode = strings.ToLower(strings.TrimSpace(s.PlanningMode))
	if s.PlanningMode == "" {
		s.PlanningMode = "conservative"
	}
	s.ExplorationMode = strings.ToLower(strings.TrimSpace(s.ExplorationMode))
	if s.ExplorationMode == "" {
		s.ExplorationMode = "sequential"
	}
	if s.MaxSteps <= 0 {
		s.MaxSteps = 3
	}
	if s.MaxLifelinesPerStep <= 0 {
		s.MaxLifelinesPerStep = 3
	}
	return s
}

func (s StrategyConfig) Validate() error {
	switch s.PlanningMode {
	case "conservative", "exploratory":
	default:
		return fmt.Errorf("strategy.planning_mode must be conservative or exploratory, got %q", s.PlanningMode)
	}
	switch s.ExplorationMode {
	case "parallel", "sequential":
	default:
		return fmt.Errorf("strategy.exploration_mode must be parallel or sequential, got %q", s.ExplorationMode)
	}
	return nil
}

// SandboxConfig declares plan execution limits. PolicyFile, when set, is a YAML
// policy that overrides the values here.
type SandboxConfig struct {
	PolicyFile  string        `mapstructure:"policy_file"`
	MaxCalls    int           `mapstructure:"max_calls"`
	PlanTimeout time.Duration `mapstructure:"plan_timeout"`
}

func (s SandboxConfig) Normalize() SandboxConfig {
	if s.MaxCalls <= 0 {
		s.MaxCalls = 5
	}
	if s.PlanTimeout <= 0 {
		s.PlanTimeout = 2 * time.Minute
	}
	s.PolicyFile = strings.TrimSpace(s.PolicyFile)
	return s
}

// ReasonerConfig selects the model backing perception and decision.
type ReasonerConfig struct {
	Provider string        `mapstructure:"provider"`
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r ReasonerConfig) Normalize() ReasonerConfig {
	if strings.TrimSpace(r.Provider) == "" {
		r.Provider = "gemini"
	}
	if strings.TrimSpace(r.Model) == "" {
		r.Model = "gemini-2.0-flash"
	}
	if r.Timeout <= 0 {
		r.Timeout = time.Minute
	}
	return r
}

func (r ReasonerConfig) Validate() error {
	if r.Provider != "gemini" {
		return fmt.Errorf("reasoner.provider %q is not supported", r.Provider)
	}
	return nil
}

// MemoryConfig selects the run memory backend.
type MemoryConfig struct {
	Backend   string         `mapstructure:"backend"` // inmemory, file, redis, postgres
	Retention time.Duration  `mapstructure:"retention"`
	File      FileConfig     `mapstructure:"file"`
	Redis     RedisConfig    `mapstructure:"redis"`
	Postgres  PostgresConfig `mapstructure:"postgres"`
}

func (m MemoryConfig) Normalize() MemoryConfig {
	m.Backend = strings.ToLower(strings.TrimSpace(m.Backend))
	if m.Backend == "" {
		m.Backend = "inmemory"
	}
	if strings.TrimSpace(m.File.Dir) == "" {
		m.File.Dir = filepath.Join("data", "memory")
	}
	return m
}

func (m MemoryConfig) Validate() error {
	switch m.Backend {
	case "inmemory", "file":
		return nil
	case "redis":
		return m.Redis.Validate()
	case "postgres":
		return m.Postgres.Validate()
	default:
		return fmt.Errorf("memory.backend %q is not supported", m.Backend)
	}
}

// FileConfig contains file storage settings
type FileConfig struct {
	Dir string `mapstructure:"dir"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("memory.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("memory.redis.port required")
	}
	return nil
}

// Addr joins host and port.
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("memory.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("memory.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("memory.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN returns URL when set, otherwise builds a postgres URL from the parts.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, p.Port, p.DBName, ssl)
}

// HistoryConfig controls injection of past conversations into a new run.
type HistoryConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Tool       string  `mapstructure:"tool"`
	MaxResults int     `mapstructure:"max_results"`
	MinScore   float64 `mapstructure:"min_score"`
}

func (h HistoryConfig) Normalize() HistoryConfig {
	if strings.TrimSpace(h.Tool) == "" {
		h.Tool = "search_historical_conversations"
	}
	if h.MaxResults <= 0 {
		h.MaxResults = 2
	}
	return h
}

// GuardConfig toggles input guardrails.
type GuardConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// HTTPConfig contains the ops server settings
type HTTPConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.log_format", "json")
	v.SetDefault("capability.call_timeout", "20s")
	v.SetDefault("capability.discovery_timeout", "15s")
	v.SetDefault("capability.schema_cache_size", 256)
	v.SetDefault("strategy.planning_mode", "conservative")
	v.SetDefault("strategy.exploration_mode", "sequential")
	v.SetDefault("strategy.memory_fallback_enabled", true)
	v.SetDefault("strategy.max_steps", 3)
	v.SetDefault("strategy.max_lifelines_per_step", 3)
	v.SetDefault("strategy.redecide_on_failure", true)
	v.SetDefault("sandbox.max_calls", 5)
	v.SetDefault("sandbox.plan_timeout", "2m")
	v.SetDefault("reasoner.provider", "gemini")
	v.SetDefault("memory.backend", "inmemory")
	v.SetDefault("history.max_results", 2)
	v.SetDefault("server.address", ":8080")
}

// Load reads config from path (or the default search paths when empty),
// applies CORTEX_* environment overrides, then normalizes and validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("cortex")
	v.SetConfigType("yaml")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("CORTEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig is Load for callers that cannot continue without configuration.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}

func (c *Config) normalize() {
	c.General = c.General.Normalize()
	c.Capability = c.Capability.Normalize()
	c.Strategy = c.Strategy.Normalize()
	c.Sandbox = c.Sandbox.Normalize()
	c.Reasoner = c.Reasoner.Normalize()
	c.Memory = c.Memory.Normalize()
	c.History = c.History.Normalize()
	for i := range c.Servers {
		c.Servers[i] = c.Servers[i].Normalize()
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.General.Validate(); err != nil {
		return err
	}
	if err := validateServers(c.Servers); err != nil {
		return err
	}
	if err := c.Strategy.Validate(); err != nil {
		return err
	}
	if err := c.Reasoner.Validate(); err != nil {
		return err
	}
	if err := c.Memory.Validate(); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	return nil
}
