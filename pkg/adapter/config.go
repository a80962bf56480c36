package adapter

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/psantana5/phoenix-oracle/pkg/models"
	"github.com/psantana5/phoenix-oracle/pkg/retry"
	tlsutil "github.com/psantana5/phoenix-oracle/pkg/tls"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the adapter's YAML configuration
type Config struct {
	OracleURL    string        `yaml:"oracle_url"`
	Identity     string        `yaml:"identity"`
	Key          string        `yaml:"key"`
	KeyEnv       string        `yaml:"key_env"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	StartAfter   uint64        `yaml:"start_after"`
	Retry        RetryConfig   `yaml:"retry"`
	TLS          TLSConfig     `yaml:"tls"`
	Feeds        []Feed        `yaml:"feeds"`
}

// RetryConfig controls how fulfillment submissions are retried
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// TLSConfig configures the connection to an oracle served over HTTPS
type TLSConfig struct {
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// Feed tells the adapter where to fetch the answer for requests sent to a target
type Feed struct {
	Name string `yaml:"name"`
	// Target restricts the feed to requests for this identity; empty matches any target
	Target string `yaml:"target"`
	// Selector restricts the feed to one handler variant; empty matches any
	Selector string            `yaml:"selector"`
	URL      string            `yaml:"url"`
	Path     string            `yaml:"path"`
	Times    string            `yaml:"times"`
	Headers  map[string]string `yaml:"headers"`
	Timeout  time.Duration     `yaml:"timeout"`

	target   models.Identity
	selector *models.Selector
	times    decimal.Decimal
}

var errNoFeeds = errors.New("no feeds configured")

// LoadConfig reads and validates a YAML config file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies defaults and checks every feed
func (c *Config) Validate() error {
	if c.OracleURL == "" {
		return errors.New("oracle_url is required")
	}
	if _, err := models.ParseIdentity(c.Identity); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	if c.Key == "" && c.KeyEnv != "" {
		c.Key = os.Getenv(c.KeyEnv)
	}
	if c.Key == "" {
		return errors.New("key or key_env is required")
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if len(c.Feeds) == 0 {
		return errNoFeeds
	}
	for i := range c.Feeds {
		if err := c.Feeds[i].compile(); err != nil {
			return fmt.Errorf("feed %d (%s): %w", i, c.Feeds[i].Name, err)
		}
	}
	return nil
}

// RetryPolicy converts the YAML retry settings to a retry.Config
func (c *Config) RetryPolicy() retry.Config {
	policy := retry.DefaultConfig()
	if c.Retry.MaxRetries > 0 {
		policy.MaxRetries = c.Retry.MaxRetries
	}
	if c.Retry.InitialBackoff > 0 {
		policy.InitialBackoff = c.Retry.InitialBackoff
	}
	if c.Retry.MaxBackoff > 0 {
		policy.MaxBackoff = c.Retry.MaxBackoff
	}
	return policy
}

// HTTPClient builds the client used to talk to the oracle
func (c *Config) HTTPClient() (*http.Client, error) {
	hc := &http.Client{Timeout: 30 * time.Second}
	if c.TLS == (TLSConfig{}) {
		return hc, nil
	}
	tlsConfig, err := tlsutil.LoadClientTLSConfig(c.TLS.CertFile, c.TLS.KeyFile, c.TLS.CAFile, c.TLS.InsecureSkipVerify)
	if err != nil {
		return nil, err
	}
	hc.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	return hc, nil
}

func (f *Feed) compile() error {
	if f.URL == "" {
		return errors.New("url is required")
	}
	if f.Target != "" {
		id, err := models.ParseIdentity(f.Target)
		if err != nil {
			return err
		}
		f.target = id
	}
	if f.Selector != "" {
		sel, err := models.ParseSelector(f.Selector)
		if err != nil {
			return err
		}
		f.selector = &sel
	}
	f.times = decimal.NewFromInt(1)
	if f.Times != "" {
		t, err := decimal.NewFromString(f.Times)
		if err != nil {
			return fmt.Errorf("times: %w", err)
		}
		f.times = t
	}
	if f.Timeout <= 0 {
		f.Timeout = 10 * time.Second
	}
	return nil
}

func (f *Feed) matches(target models.Identity, selector models.Selector) bool {
	if f.target != "" && f.target != target {
		return false
	}
	if f.selector != nil && *f.selector != selector {
		return false
	}
	return true
}
