package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/lei/streams-build/internal/scheduler"
)

// Instance types accepted in platform.instance_type
const (
	InstanceTypeCP4D       = "cp4d"
	InstanceTypeStandalone = "standalone"
)

// Config represents the gateway configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Auth          AuthConfig          `yaml:"auth" toml:"auth"`
	Platform      PlatformConfig      `yaml:"platform" toml:"platform"`
	Orchestration OrchestrationConfig `yaml:"orchestration" toml:"orchestration"`
	Build         BuildConfig         `yaml:"build" toml:"build"`
	Journal       JournalConfig       `yaml:"journal" toml:"journal"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port           int      `yaml:"port" toml:"port"`
	ReadTimeout    Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout" toml:"write_timeout"`
	RequestTimeout Duration `yaml:"request_timeout" toml:"request_timeout"`
	CORSOrigins    []string `yaml:"cors_origins" toml:"cors_origins"`
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	APIKeys []APIKey `yaml:"api_keys" toml:"api_keys"`
}

// APIKey represents an API key for authentication
type APIKey struct {
	Name string `yaml:"name" toml:"name"`
	Key  string `yaml:"key" toml:"key"`
}

// PlatformConfig describes the Streams deployment to log in to
type PlatformConfig struct {
	InstanceType      string `yaml:"instance_type" toml:"instance_type"` // cp4d or standalone
	URL               string `yaml:"url" toml:"url"`
	UseMasterNodeHost bool   `yaml:"use_master_node_host" toml:"use_master_node_host"`
	// InstancesRootURL is the standalone instance endpoint
	InstancesRootURL string `yaml:"instances_root_url" toml:"instances_root_url"`
	RestURL          string `yaml:"rest_url" toml:"rest_url"`
	BuildURL         string `yaml:"build_url" toml:"build_url"`
	InstanceName     string `yaml:"instance_name" toml:"instance_name"`

	Username         string `yaml:"username" toml:"username"`
	Password         string `yaml:"password" toml:"password"`
	RememberPassword bool   `yaml:"remember_password" toml:"remember_password"`

	InsecureSkipVerify bool     `yaml:"insecure_skip_verify" toml:"insecure_skip_verify"`
	RequestTimeout     Duration `yaml:"request_timeout" toml:"request_timeout"`
}

// Standalone reports whether the platform is a standalone Streams instance
func (p PlatformConfig) Standalone() bool {
	return p.InstanceType == InstanceTypeStandalone
}

// OrchestrationConfig overrides the workflow delays. Zero keeps the default.
type OrchestrationConfig struct {
	SettleDelay             Duration `yaml:"settle_delay" toml:"settle_delay"`
	PollInterval            Duration `yaml:"poll_interval" toml:"poll_interval"`
	PlatformTokenLifetime   Duration `yaml:"platform_token_lifetime" toml:"platform_token_lifetime"`
	StandaloneTokenLifetime Duration `yaml:"standalone_token_lifetime" toml:"standalone_token_lifetime"`
}

// Timings converts the section to scheduler timings
func (o OrchestrationConfig) Timings() scheduler.Timings {
	return scheduler.Timings{
		SettleDelay:             o.SettleDelay.Std(),
		PollInterval:            o.PollInterval.Std(),
		PlatformTokenLifetime:   o.PlatformTokenLifetime.Std(),
		StandaloneTokenLifetime: o.StandaloneTokenLifetime.Std(),
	}.WithDefaults()
}

// BuildConfig contains build and toolkit settings
type BuildConfig struct {
	Originator       string `yaml:"originator" toml:"originator"`
	ToolkitsCacheDir string `yaml:"toolkits_cache_dir" toml:"toolkits_cache_dir"`
	ToolkitsPath     string `yaml:"toolkits_path" toml:"toolkits_path"`
	// ArchiveDir holds source archives until they are uploaded
	ArchiveDir string `yaml:"archive_dir" toml:"archive_dir"`
}

// JournalConfig contains the action journal settings. An empty path
// disables the journal.
type JournalConfig struct {
	Path   string `yaml:"path" toml:"path"`
	Buffer int    `yaml:"buffer" toml:"buffer"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // json or text
}

// Load reads and parses the configuration file. Files ending in .toml are
// decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables in the config
	expanded := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(expanded, &cfg)
	default:
		err = yaml.Unmarshal(expanded, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv builds a configuration from defaults and STREAMS_* variables only
func FromEnv() (*Config, error) {
	var cfg Config
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills defaults into a configuration built in code and validates
// it. Environment variables are not consulted.
func Normalize(c *Config) error {
	c.setDefaults()
	return c.Validate()
}

func (c *Config) finish() error {
	if err := c.applyEnv(); err != nil {
		return err
	}
	c.setDefaults()
	return c.Validate()
}

func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(30 * time.Second)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(30 * time.Second)
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = Duration(60 * time.Second)
	}
	if c.Platform.InstanceType == "" {
		c.Platform.InstanceType = InstanceTypeCP4D
	}
	if c.Platform.RequestTimeout == 0 {
		c.Platform.RequestTimeout = Duration(30 * time.Second)
	}
	if c.Build.ArchiveDir == "" {
		c.Build.ArchiveDir = os.TempDir()
	}
	if c.Journal.Buffer == 0 {
		c.Journal.Buffer = 256
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// applyEnv lets STREAMS_* variables override the file
func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"STREAMS_INSTANCE_TYPE":      &c.Platform.InstanceType,
		"STREAMS_PLATFORM_URL":       &c.Platform.URL,
		"STREAMS_INSTANCES_ROOT_URL": &c.Platform.InstancesRootURL,
		"STREAMS_REST_URL":           &c.Platform.RestURL,
		"STREAMS_BUILD_URL":          &c.Platform.BuildURL,
		"STREAMS_INSTANCE_NAME":      &c.Platform.InstanceName,
		"STREAMS_USERNAME":           &c.Platform.Username,
		"STREAMS_PASSWORD":           &c.Platform.Password,
		"STREAMS_TOOLKITS_CACHE_DIR": &c.Build.ToolkitsCacheDir,
		"STREAMS_TOOLKITS_PATH":      &c.Build.ToolkitsPath,
		"STREAMS_JOURNAL_PATH":       &c.Journal.Path,
		"STREAMS_LOG_LEVEL":          &c.Logging.Level,
		"STREAMS_LOG_FORMAT":         &c.Logging.Format,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"STREAMS_USE_MASTER_NODE_HOST": &c.Platform.UseMasterNodeHost,
		"STREAMS_REMEMBER_PASSWORD":    &c.Platform.RememberPassword,
		"STREAMS_INSECURE":             &c.Platform.InsecureSkipVerify,
	}
	for name, dst := range bools {
		v, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		*dst = b
	}

	if v, ok := os.LookupEnv("STREAMS_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse STREAMS_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := os.LookupEnv("STREAMS_API_KEY"); ok && v != "" {
		c.Auth.APIKeys = append(c.Auth.APIKeys, APIKey{Name: "env", Key: v})
	}
	return nil
}

// Validate checks values that have no sensible default
func (c *Config) Validate() error {
	switch c.Platform.InstanceType {
	case InstanceTypeCP4D, InstanceTypeStandalone:
	default:
		return fmt.Errorf("unsupported instance type: %s", c.Platform.InstanceType)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	for i, k := range c.Auth.APIKeys {
		if k.Key == "" {
			return fmt.Errorf("api key %d (%s) is empty", i, k.Name)
		}
	}
	return nil
}
