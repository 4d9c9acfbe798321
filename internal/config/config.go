package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tanq16/parafetch/internal/manager"
	"github.com/tanq16/parafetch/internal/utils"
)

const (
	ProgressStatus = "status"
	ProgressBar    = "bar"
	ProgressNone   = "none"
)

// Config holds every tunable of the CLI. File values sit between the
// defaults and the command line flags.
type Config struct {
	Dir              string
	Connections      int
	FollowRedirects  bool
	ChunkSize        int64
	UserAgent        string
	Headers          map[string]string
	Proxy            string
	ProxyUsername    string
	ProxyPassword    string
	ConnectTimeout   time.Duration
	KeepAliveTimeout time.Duration
	BearerToken      string
	AWSProfile       string
	Progress         string
	LogFile          string
	Debug            bool
}

func Default() Config {
	return Config{
		Dir:              ".",
		Connections:      manager.DefaultConnections,
		FollowRedirects:  true,
		ChunkSize:        manager.DefaultChunkSize,
		UserAgent:        utils.ToolUserAgent,
		ConnectTimeout:   30 * time.Second,
		KeepAliveTimeout: 90 * time.Second,
		AWSProfile:       "default",
		Progress:         ProgressStatus,
	}
}

// yamlConfig uses pointers so that keys missing from the file keep their
// defaults, and strings for sizes and durations.
type yamlConfig struct {
	Dir              *string           `yaml:"dir"`
	Connections      *int              `yaml:"connections"`
	FollowRedirects  *bool             `yaml:"follow_redirects"`
	ChunkSize        *string           `yaml:"chunk_size"`
	UserAgent        *string           `yaml:"user_agent"`
	Headers          map[string]string `yaml:"headers"`
	Proxy            *string           `yaml:"proxy"`
	ProxyUsername    *string           `yaml:"proxy_username"`
	ProxyPassword    *string           `yaml:"proxy_password"`
	ConnectTimeout   *string           `yaml:"connect_timeout"`
	KeepAliveTimeout *string           `yaml:"keep_alive_timeout"`
	BearerToken      *string           `yaml:"bearer_token"`
	AWSProfile       *string           `yaml:"aws_profile"`
	Progress         *string           `yaml:"progress"`
	LogFile          *string           `yaml:"log_file"`
	Debug            *bool             `yaml:"debug"`
}

// Load reads a YAML config file on top of the defaults. An empty path or a
// missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	setString(&cfg.Dir, yc.Dir)
	setString(&cfg.UserAgent, yc.UserAgent)
	setString(&cfg.Proxy, yc.Proxy)
	setString(&cfg.ProxyUsername, yc.ProxyUsername)
	setString(&cfg.ProxyPassword, yc.ProxyPassword)
	setString(&cfg.BearerToken, yc.BearerToken)
	setString(&cfg.AWSProfile, yc.AWSProfile)
	setString(&cfg.Progress, yc.Progress)
	setString(&cfg.LogFile, yc.LogFile)
	if yc.Connections != nil {
		cfg.Connections = *yc.Connections
	}
	if yc.FollowRedirects != nil {
		cfg.FollowRedirects = *yc.FollowRedirects
	}
	if yc.Debug != nil {
		cfg.Debug = *yc.Debug
	}
	if len(yc.Headers) > 0 {
		cfg.Headers = yc.Headers
	}
	if yc.ChunkSize != nil {
		size, err := utils.ParseBytes(*yc.ChunkSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse chunk_size: %w", err)
		}
		cfg.ChunkSize = size
	}
	if yc.ConnectTimeout != nil {
		d, err := time.ParseDuration(*yc.ConnectTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.ConnectTimeout = d
	}
	if yc.KeepAliveTimeout != nil {
		d, err := time.ParseDuration(*yc.KeepAliveTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse keep_alive_timeout: %w", err)
		}
		cfg.KeepAliveTimeout = d
	}
	return cfg, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// LoadFromEnv applies PARAFETCH_* environment variables.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("PARAFETCH_DIR"); v != "" {
		c.Dir = v
	}
	if v := os.Getenv("PARAFETCH_CONNECTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse PARAFETCH_CONNECTIONS: %w", err)
		}
		c.Connections = n
	}
	if v := os.Getenv("PARAFETCH_CHUNK_SIZE"); v != "" {
		size, err := utils.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse PARAFETCH_CHUNK_SIZE: %w", err)
		}
		c.ChunkSize = size
	}
	if v := os.Getenv("PARAFETCH_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv("PARAFETCH_PROXY"); v != "" {
		c.Proxy = v
	}
	if v := os.Getenv("PARAFETCH_BEARER_TOKEN"); v != "" {
		c.BearerToken = v
	}
	if v := os.Getenv("PARAFETCH_AWS_PROFILE"); v != "" {
		c.AWSProfile = v
	}
	if v := os.Getenv("PARAFETCH_PROGRESS"); v != "" {
		c.Progress = v
	}
	if v := os.Getenv("PARAFETCH_DEBUG"); v != "" {
		c.Debug = v == "true" || v == "1"
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Connections <= 0 {
		return errors.New("config: connections must be positive")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive")
	}
	if c.ChunkSize > manager.MaxChunkSize {
		return fmt.Errorf("config: chunk_size must not exceed %s", utils.FormatSize(manager.MaxChunkSize))
	}
	if c.ConnectTimeout < 0 || c.KeepAliveTimeout < 0 {
		return errors.New("config: timeouts must not be negative")
	}
	switch c.Progress {
	case ProgressStatus, ProgressBar, ProgressNone:
	default:
		return fmt.Errorf("config: unknown progress mode %q", c.Progress)
	}
	return nil
}

// HTTPClient converts the config to the shared client settings. Credentials
// embedded in the proxy URL are split out unless given separately.
func (c Config) HTTPClient() utils.HTTPClientConfig {
	proxyURL, user, pass := splitProxyAuth(c.Proxy)
	if c.ProxyUsername != "" {
		user, pass = c.ProxyUsername, c.ProxyPassword
	}
	userAgent := c.UserAgent
	if userAgent == "randomize" {
		userAgent = utils.GetRandomUserAgent()
	}
	return utils.HTTPClientConfig{
		ConnectTimeout:  c.ConnectTimeout,
		KATimeout:       c.KeepAliveTimeout,
		ProxyURL:        proxyURL,
		ProxyUsername:   user,
		ProxyPassword:   pass,
		UserAgent:       userAgent,
		Headers:         c.Headers,
		BearerToken:     c.BearerToken,
		FollowRedirects: c.FollowRedirects,
	}
}

func (c Config) Manager() manager.Config {
	return manager.Config{
		Connections:     c.Connections,
		FollowRedirects: c.FollowRedirects,
		ChunkSize:       int(c.ChunkSize),
		HTTP:            c.HTTPClient(),
	}
}

func splitProxyAuth(raw string) (string, string, string) {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.User == nil {
		return raw, "", ""
	}
	user := parsed.User.Username()
	pass, _ := parsed.User.Password()
	parsed.User = nil
	return parsed.String(), user, pass
}
