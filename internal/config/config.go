package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cogwheel/mcp-colab/internal/colab"
)

const (
	// DirName is the configuration directory under the user's home.
	DirName = ".mcp-colab"

	// FileName is the server configuration file inside the config dir.
	FileName = "server_config.json"

	// EnvDirOverride relocates the whole config directory, mainly for
	// tests and containerized deployments.
	EnvDirOverride = "MCP_COLAB_CONFIG_DIR"

	// envPrefix is the prefix for environment variable overrides of
	// individual config keys.
	envPrefix = "MCP_COLAB"
)

// Config is the full server configuration, mirroring
// server_config.json.
type Config struct {
	Selenium  SeleniumConfig  `json:"selenium" mapstructure:"selenium"`
	Colab     ColabConfig     `json:"colab" mapstructure:"colab"`
	GoogleAPI GoogleAPIConfig `json:"google_api" mapstructure:"google_api"`
}

// SeleniumConfig controls the browser driver. The section name is
// historical; it applies to any driver implementation.
type SeleniumConfig struct {
	Browser             string              `json:"browser" mapstructure:"browser"`
	Headless            bool                `json:"headless" mapstructure:"headless"`
	Timeout             int                 `json:"timeout" mapstructure:"timeout"`
	ImplicitWait        int                 `json:"implicit_wait" mapstructure:"implicit_wait"`
	PageLoadTimeout     int                 `json:"page_load_timeout" mapstructure:"page_load_timeout"`
	UseStealth          bool                `json:"use_stealth" mapstructure:"use_stealth"`
	UseUndetectedChrome bool                `json:"use_undetected_chrome" mapstructure:"use_undetected_chrome"`
	AntiDetection       AntiDetectionConfig `json:"anti_detection" mapstructure:"anti_detection"`
	Profile             ProfileConfig       `json:"profile" mapstructure:"profile"`
}

// AntiDetectionConfig tunes how hard the driver tries to look like a
// regular browser.
type AntiDetectionConfig struct {
	DisableAutomationFlags bool   `json:"disable_automation_flags" mapstructure:"disable_automation_flags"`
	CustomUserAgent        string `json:"custom_user_agent" mapstructure:"custom_user_agent"`
	WindowSize             string `json:"window_size" mapstructure:"window_size"`
}

// ProfileConfig controls persistent Chrome profiles.
type ProfileConfig struct {
	UsePersistentProfile bool `json:"use_persistent_profile" mapstructure:"use_persistent_profile"`
	// RootDir overrides where per-user profiles live. Empty means
	// <config dir>/profiles.
	RootDir    string `json:"root_dir" mapstructure:"root_dir"`
	AutoCreate bool   `json:"auto_create" mapstructure:"auto_create"`
}

// ColabConfig has the Colab-facing knobs. Timeouts are seconds, as in
// the JSON file.
type ColabConfig struct {
	BaseURL           string `json:"base_url" mapstructure:"base_url"`
	ExecutionTimeout  int    `json:"execution_timeout" mapstructure:"execution_timeout"`
	MaxIdleTime       int    `json:"max_idle_time" mapstructure:"max_idle_time"`
	ConnectionTimeout int    `json:"connection_timeout" mapstructure:"connection_timeout"`
	MaxRetries        int    `json:"max_retries" mapstructure:"max_retries"`
	RetryDelay        int    `json:"retry_delay" mapstructure:"retry_delay"`
}

// GoogleAPIConfig configures Drive API access.
type GoogleAPIConfig struct {
	Scopes          []string `json:"scopes" mapstructure:"scopes"`
	CredentialsFile string   `json:"credentials_file" mapstructure:"credentials_file"`
	TokenFile       string   `json:"token_file" mapstructure:"token_file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Selenium: SeleniumConfig{
			Browser:             "chrome",
			Headless:            false,
			Timeout:             30,
			ImplicitWait:        10,
			PageLoadTimeout:     30,
			UseStealth:          true,
			UseUndetectedChrome: true,
			AntiDetection: AntiDetectionConfig{
				DisableAutomationFlags: true,
				WindowSize:             "1920,1080",
			},
			Profile: ProfileConfig{
				UsePersistentProfile: true,
				AutoCreate:           true,
			},
		},
		Colab: ColabConfig{
			BaseURL:           "https://colab.research.google.com",
			ExecutionTimeout:  300,
			MaxIdleTime:       1800,
			ConnectionTimeout: 60,
			MaxRetries:        3,
			RetryDelay:        2,
		},
		GoogleAPI: GoogleAPIConfig{
			Scopes:          []string{"https://www.googleapis.com/auth/drive"},
			CredentialsFile: "credentials.json",
			TokenFile:       "token.json",
		},
	}
}

// Dir returns the configuration directory, honoring EnvDirOverride.
func Dir() (string, error) {
	if dir := os.Getenv(EnvDirOverride); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

// Path returns the full path of the server config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads the config file, applies defaults for anything unset and
// environment overrides on top. A missing or broken file falls back to
// defaults with a warning; Load only fails when the config location
// itself cannot be determined.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom is Load for an explicit file path.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	setDefaults(v, Default())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			// File exists but does not parse. Keep serving on defaults.
			slog.Warn("config file is invalid, using defaults",
				"path", path, "error", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Warn("config file did not unmarshal, using defaults",
			"path", path, "error", err)
		return Default(), nil
	}
	return &cfg, nil
}

// setDefaults registers every default leaf so env overrides work even
// without a config file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("selenium.browser", d.Selenium.Browser)
	v.SetDefault("selenium.headless", d.Selenium.Headless)
	v.SetDefault("selenium.timeout", d.Selenium.Timeout)
	v.SetDefault("selenium.implicit_wait", d.Selenium.ImplicitWait)
	v.SetDefault("selenium.page_load_timeout", d.Selenium.PageLoadTimeout)
	v.SetDefault("selenium.use_stealth", d.Selenium.UseStealth)
	v.SetDefault("selenium.use_undetected_chrome", d.Selenium.UseUndetectedChrome)
	v.SetDefault("selenium.anti_detection.disable_automation_flags", d.Selenium.AntiDetection.DisableAutomationFlags)
	v.SetDefault("selenium.anti_detection.custom_user_agent", d.Selenium.AntiDetection.CustomUserAgent)
	v.SetDefault("selenium.anti_detection.window_size", d.Selenium.AntiDetection.WindowSize)
	v.SetDefault("selenium.profile.use_persistent_profile", d.Selenium.Profile.UsePersistentProfile)
	v.SetDefault("selenium.profile.root_dir", d.Selenium.Profile.RootDir)
	v.SetDefault("selenium.profile.auto_create", d.Selenium.Profile.AutoCreate)
	v.SetDefault("colab.base_url", d.Colab.BaseURL)
	v.SetDefault("colab.execution_timeout", d.Colab.ExecutionTimeout)
	v.SetDefault("colab.max_idle_time", d.Colab.MaxIdleTime)
	v.SetDefault("colab.connection_timeout", d.Colab.ConnectionTimeout)
	v.SetDefault("colab.max_retries", d.Colab.MaxRetries)
	v.SetDefault("colab.retry_delay", d.Colab.RetryDelay)
	v.SetDefault("google_api.scopes", d.GoogleAPI.Scopes)
	v.SetDefault("google_api.credentials_file", d.GoogleAPI.CredentialsFile)
	v.SetDefault("google_api.token_file", d.GoogleAPI.TokenFile)
}

// Validate checks the effective configuration for values the server
// cannot run with.
func (c *Config) Validate() error {
	if c.Colab.BaseURL == "" {
		return colab.NewConfigError("colab.base_url", "must not be empty")
	}
	if !strings.HasPrefix(c.Colab.BaseURL, "http://") && !strings.HasPrefix(c.Colab.BaseURL, "https://") {
		return colab.NewConfigError("colab.base_url", "must be an http(s) URL")
	}
	if c.Colab.ExecutionTimeout <= 0 {
		return colab.NewConfigError("colab.execution_timeout", "must be positive")
	}
	if c.Colab.MaxRetries < 0 {
		return colab.NewConfigError("colab.max_retries", "must not be negative")
	}
	if c.Colab.RetryDelay < 0 {
		return colab.NewConfigError("colab.retry_delay", "must not be negative")
	}
	if c.Selenium.Browser != "chrome" && c.Selenium.Browser != "chromium" {
		return colab.NewConfigError("selenium.browser", fmt.Sprintf("unsupported browser %q", c.Selenium.Browser))
	}
	if ws := c.Selenium.AntiDetection.WindowSize; ws != "" {
		var w, h int
		if _, err := fmt.Sscanf(ws, "%d,%d", &w, &h); err != nil || w <= 0 || h <= 0 {
			return colab.NewConfigError("selenium.anti_detection.window_size", fmt.Sprintf("%q is not WIDTH,HEIGHT", ws))
		}
	}
	return nil
}

// WriteDefault writes the default configuration file. With force unset
// an existing file is left alone; the returned path always names the
// config file.
func WriteDefault(force bool) (string, error) {
	path, err := Path()
	if err != nil {
		return "", err
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}

// ProfileRoot returns the directory user profiles live under.
func (c *Config) ProfileRoot() (string, error) {
	if c.Selenium.Profile.RootDir != "" {
		return c.Selenium.Profile.RootDir, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "profiles"), nil
}

// ExecutionTimeout returns the default per-execution deadline.
func (c *Config) ExecutionTimeout() time.Duration {
	return time.Duration(c.Colab.ExecutionTimeout) * time.Second
}

// ConnectionTimeout returns the runtime connection deadline.
func (c *Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.Colab.ConnectionTimeout) * time.Second
}

// RetryDelay returns the base backoff delay between driver retries.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Colab.RetryDelay) * time.Second
}

// MaxIdle returns how long a runtime may idle before cleanup.
func (c *Config) MaxIdle() time.Duration {
	return time.Duration(c.Colab.MaxIdleTime) * time.Second
}

// PageLoadTimeout returns the driver's navigation deadline.
func (c *Config) PageLoadTimeout() time.Duration {
	return time.Duration(c.Selenium.PageLoadTimeout) * time.Second
}

// Redacted returns a copy suitable for exposing over diagnostics
// surfaces: locations that reveal the user's filesystem layout are
// masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Selenium.Profile.RootDir != "" {
		out.Selenium.Profile.RootDir = "<configured>"
	}
	return &out
}
