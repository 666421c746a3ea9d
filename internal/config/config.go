package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort            = 5005
	DefaultStartupTimeout  = 30 * time.Second
	DefaultStartupInterval = 500 * time.Millisecond
	DefaultHealthInterval  = 30 * time.Second
	DefaultHealthTimeout   = 5 * time.Second
	DefaultStopTimeout     = 10 * time.Second
	DefaultPollInterval    = time.Second
	DefaultPollAttempts    = 60
)

// Config holds persistent client configuration loaded from ~/.lectern/config.yaml.
type Config struct {
	Backend Backend `yaml:"backend"`
	Timing  Timing  `yaml:"timing"`
	API     API     `yaml:"api"`
}

// Backend describes where the backend project lives and how to launch it.
type Backend struct {
	Root          string            `yaml:"root,omitempty"`
	ProjectName   string            `yaml:"project_name,omitempty"`
	SearchParents []string          `yaml:"search_parents,omitempty"`
	Dir           string            `yaml:"dir,omitempty"`
	Interpreter   string            `yaml:"interpreter,omitempty"`
	Module        string            `yaml:"module,omitempty"`
	App           string            `yaml:"app,omitempty"`
	EntryScript   string            `yaml:"entry_script,omitempty"`
	Host          string            `yaml:"host,omitempty"`
	Port          *int              `yaml:"port,omitempty"` // nil = default, 0 = allocate
	UnbufferedEnv string            `yaml:"unbuffered_env,omitempty"`
	Env           map[string]string `yaml:"env,omitempty"`
	Secrets       map[string]string `yaml:"secrets,omitempty"` // env var -> keychain key
	TokenSecret   string            `yaml:"token_secret,omitempty"`
	LogFile       string            `yaml:"log_file,omitempty"`
}

// Timing holds every timeout and interval used by the supervisor and pollers.
type Timing struct {
	StartupTimeout      Duration `yaml:"startup_timeout,omitempty"`
	StartupPollInterval Duration `yaml:"startup_poll_interval,omitempty"`
	HealthInterval      Duration `yaml:"health_interval,omitempty"`
	HealthTimeout       Duration `yaml:"health_timeout,omitempty"`
	StopTimeout         Duration `yaml:"stop_timeout,omitempty"`
	PollInterval        Duration `yaml:"poll_interval,omitempty"`
	PollMaxAttempts     int      `yaml:"poll_max_attempts,omitempty"`
	RequestRate         float64  `yaml:"request_rate,omitempty"` // requests/second, 0 = unlimited
}

type API struct {
	Socket string `yaml:"socket,omitempty"`
	Addr   string `yaml:"addr,omitempty"`
}

// Duration wraps time.Duration for YAML unmarshaling from strings like "10s", "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Home returns the lectern home directory (~/.lectern).
func Home() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".lectern"), nil
}

// DefaultPath returns the default config file path: ~/.lectern/config.yaml.
func DefaultPath() string {
	dir, err := Home()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file from path and fills in defaults. If the file
// does not exist, it returns the defaults and no error. An empty or
// all-comment file behaves the same way.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config as YAML, creating the parent directory.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (c *Config) applyDefaults() {
	b := &c.Backend
	if b.ProjectName == "" {
		b.ProjectName = "lectern"
	}
	if b.SearchParents == nil {
		b.SearchParents = []string{"Developer", "Projects", "Code", "src", "git"}
	}
	if b.Dir == "" {
		b.Dir = "server"
	}
	if b.Interpreter == "" {
		b.Interpreter = filepath.Join("venv", "bin", "python")
	}
	if b.Module == "" {
		b.Module = "uvicorn"
	}
	if b.App == "" {
		b.App = "main:app"
	}
	if b.EntryScript == "" {
		b.EntryScript = "main.py"
	}
	if b.Host == "" {
		b.Host = "127.0.0.1"
	}
	if b.Port == nil {
		p := DefaultPort
		b.Port = &p
	}
	if b.UnbufferedEnv == "" {
		b.UnbufferedEnv = "PYTHONUNBUFFERED"
	}
	b.Root = expandHome(b.Root)
	b.LogFile = expandHome(b.LogFile)

	t := &c.Timing
	setDefault(&t.StartupTimeout, DefaultStartupTimeout)
	setDefault(&t.StartupPollInterval, DefaultStartupInterval)
	setDefault(&t.HealthInterval, DefaultHealthInterval)
	setDefault(&t.HealthTimeout, DefaultHealthTimeout)
	setDefault(&t.StopTimeout, DefaultStopTimeout)
	setDefault(&t.PollInterval, DefaultPollInterval)
	if t.PollMaxAttempts == 0 {
		t.PollMaxAttempts = DefaultPollAttempts
	}

	if c.API.Socket == "" {
		if dir, err := Home(); err == nil {
			c.API.Socket = filepath.Join(dir, "lectern.sock")
		} else {
			c.API.Socket = filepath.Join(os.TempDir(), "lectern.sock")
		}
	}
	c.API.Socket = expandHome(c.API.Socket)
}

func setDefault(d *Duration, def time.Duration) {
	if d.Duration == 0 {
		d.Duration = def
	}
}

// Validate reports configuration values that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if p := c.PortValue(); p < 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("backend.port %d out of range", p))
	}
	if c.Backend.Host != "127.0.0.1" && c.Backend.Host != "localhost" {
		errs = append(errs, fmt.Errorf("backend.host %q must be a loopback address", c.Backend.Host))
	}
	if strings.ContainsAny(c.Backend.Module, " \t") {
		errs = append(errs, fmt.Errorf("backend.module %q must be a single module name", c.Backend.Module))
	}
	for name, d := range map[string]Duration{
		"startup_timeout":       c.Timing.StartupTimeout,
		"startup_poll_interval": c.Timing.StartupPollInterval,
		"health_interval":       c.Timing.HealthInterval,
		"health_timeout":        c.Timing.HealthTimeout,
		"stop_timeout":          c.Timing.StopTimeout,
	} {
		if d.Duration < 0 {
			errs = append(errs, fmt.Errorf("timing.%s must not be negative", name))
		}
	}
	if c.Timing.PollInterval.Duration < 0 {
		errs = append(errs, fmt.Errorf("timing.poll_interval must not be negative"))
	}
	if c.Timing.PollMaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("timing.poll_max_attempts must not be negative"))
	}
	if c.Timing.RequestRate < 0 {
		errs = append(errs, fmt.Errorf("timing.request_rate must not be negative"))
	}
	return errors.Join(errs...)
}

// PortValue returns the configured backend port; 0 means allocate one.
func (c *Config) PortValue() int {
	if c.Backend.Port == nil {
		return DefaultPort
	}
	return *c.Backend.Port
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
