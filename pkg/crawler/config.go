package crawler

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"stockbot/pkg/confkit"
)

// Config describes the set of exchange fetchers available to the
// application, keyed by exchange code.
type Config struct {
	Default   string                    `yaml:"default"`
	Exchanges map[string]*FetcherConfig `yaml:"exchanges"`
}

// FetcherConfig represents configuration for a single exchange fetcher.
type FetcherConfig struct {
	Type string `yaml:"type"`

	BaseURL   string `yaml:"base_url"`
	UserAgent string `yaml:"user_agent"`

	TimeoutRaw string        `yaml:"timeout"`
	Timeout    time.Duration `yaml:"-"`
	PauseRaw   string        `yaml:"pause"`
	Pause      time.Duration `yaml:"-"`
	MaxRetries int           `yaml:"max_retries"`
}

// FetcherBuilder constructs a Fetcher from configuration.
type FetcherBuilder func(code string, cfg *FetcherConfig) (Fetcher, error)

var (
	fetcherRegistry   = make(map[string]FetcherBuilder)
	fetcherRegistryMu sync.RWMutex
)

// RegisterFetcher registers an exchange fetcher constructor.
func RegisterFetcher(typeName string, builder FetcherBuilder) {
	fetcherRegistryMu.Lock()
	defer fetcherRegistryMu.Unlock()
	fetcherRegistry[strings.ToLower(strings.TrimSpace(typeName))] = builder
}

func lookupFetcherBuilder(typeName string) (FetcherBuilder, bool) {
	fetcherRegistryMu.RLock()
	defer fetcherRegistryMu.RUnlock()
	builder, ok := fetcherRegistry[strings.ToLower(strings.TrimSpace(typeName))]
	return builder, ok
}

// LoadConfig reads exchange configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open exchange config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// MustLoad reads exchange configuration from the default project location
// and panics on error.
func MustLoad() *Config {
	path := confkit.MustProjectPath("etc/exchanges.yaml")
	cfg, err := LoadConfig(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	confkit.LoadDotenvOnce()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read exchange config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal exchange config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() error {
	if c.Exchanges == nil {
		c.Exchanges = make(map[string]*FetcherConfig)
	}
	for code, fetcher := range c.Exchanges {
		if fetcher == nil {
			fetcher = &FetcherConfig{}
			c.Exchanges[code] = fetcher
		}
		fetcher.expandEnv()
		if err := fetcher.parseDurations(code); err != nil {
			return err
		}
	}
	return nil
}

func (f *FetcherConfig) expandEnv() {
	f.Type = strings.TrimSpace(os.ExpandEnv(f.Type))
	f.BaseURL = strings.TrimSpace(os.ExpandEnv(f.BaseURL))
	f.UserAgent = strings.TrimSpace(os.ExpandEnv(f.UserAgent))
	f.TimeoutRaw = strings.TrimSpace(os.ExpandEnv(f.TimeoutRaw))
	f.PauseRaw = strings.TrimSpace(os.ExpandEnv(f.PauseRaw))
}

func (f *FetcherConfig) parseDurations(code string) error {
	if f.TimeoutRaw != "" {
		d, err := time.ParseDuration(f.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("exchange %s: invalid timeout %q: %w", code, f.TimeoutRaw, err)
		}
		if d <= 0 {
			return fmt.Errorf("exchange %s: timeout must be positive, got %s", code, d)
		}
		f.Timeout = d
	}
	if f.PauseRaw != "" {
		d, err := time.ParseDuration(f.PauseRaw)
		if err != nil {
			return fmt.Errorf("exchange %s: invalid pause %q: %w", code, f.PauseRaw, err)
		}
		if d < 0 {
			return fmt.Errorf("exchange %s: pause cannot be negative, got %s", code, d)
		}
		f.Pause = d
	}
	return nil
}

// Validate ensures the configuration is structurally sound.
func (c *Config) Validate() error {
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("exchange config: exchanges cannot be empty")
	}
	if c.Default != "" {
		if _, ok := c.Exchanges[c.Default]; !ok {
			return fmt.Errorf("exchange config: default exchange %q not defined", c.Default)
		}
	}
	for code, fetcher := range c.Exchanges {
		if strings.TrimSpace(code) == "" {
			return fmt.Errorf("exchange config: exchange code cannot be empty")
		}
		if err := fetcher.validate(code); err != nil {
			return err
		}
	}
	return nil
}

func (f *FetcherConfig) validate(code string) error {
	if f == nil {
		return fmt.Errorf("exchange config: exchange %s is nil", code)
	}
	if strings.TrimSpace(f.Type) == "" {
		return fmt.Errorf("exchange config: exchange %s must specify type", code)
	}
	if _, ok := lookupFetcherBuilder(f.Type); !ok {
		return fmt.Errorf("exchange config: exchange %s has unsupported type %q", code, f.Type)
	}
	return nil
}

// BuildFetchers instantiates exchange fetchers according to configuration.
func (c *Config) BuildFetchers() (map[string]Fetcher, error) {
	result := make(map[string]Fetcher, len(c.Exchanges))
	for code, fetcherCfg := range c.Exchanges {
		builder, ok := lookupFetcherBuilder(fetcherCfg.Type)
		if !ok {
			return nil, fmt.Errorf("exchange %s: unsupported type %q", code, fetcherCfg.Type)
		}
		fetcher, err := builder(code, fetcherCfg)
		if err != nil {
			return nil, fmt.Errorf("exchange %s: %w", code, err)
		}
		result[code] = fetcher
	}
	return result, nil
}
