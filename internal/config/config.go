// Package config loads sweep's YAML configuration: host groups, named
// credentials, run defaults, custom probes and output parsers.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agent462/sweep/internal/pathutil"
	"github.com/agent462/sweep/internal/ssh"
)

// Output formats accepted in defaults.output.
var OutputFormats = []string{"table", "grouped", "json", "jsonl", "csv", "yaml", "fields"}

// Config is the top-level configuration file.
type Config struct {
	Groups      map[string]Group      `yaml:"groups"`
	Credentials map[string]Credential `yaml:"credentials,omitempty"`
	Defaults    Defaults              `yaml:"defaults"`
	Probes      map[string]Probe      `yaml:"probes,omitempty"`
	Parsers     map[string]Parser     `yaml:"parsers,omitempty"`
}

// Group is a named set of hosts.
type Group struct {
	Hosts      []string `yaml:"hosts"`
	User       string   `yaml:"user,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

// Credential is a named login hosts can refer to.
type Credential struct {
	User         string `yaml:"user,omitempty"`
	IdentityFile string `yaml:"identity_file,omitempty"`
	PasswordEnv  string `yaml:"password_env,omitempty"`
}

// Defaults are the run settings used when flags don't override them.
type Defaults struct {
	Concurrency    int      `yaml:"concurrency"`
	Timeout        Duration `yaml:"timeout"`
	OverallTimeout Duration `yaml:"overall_timeout"`
	Output         string   `yaml:"output"`
	Credential     string   `yaml:"credential,omitempty"`
}

// Probe is a user-defined read-only diagnostic command.
type Probe struct {
	Description string `yaml:"description,omitempty"`
	Command     string `yaml:"command"`
	Parser      string `yaml:"parser,omitempty"`
}

// Parser is a named set of field-extraction rules.
type Parser struct {
	Description string        `yaml:"description,omitempty"`
	Extract     []ExtractRule `yaml:"extract"`
}

// ExtractRule pulls one field out of command output, either by regex
// capture group or by 1-based whitespace column.
type ExtractRule struct {
	Field   string `yaml:"field"`
	Pattern string `yaml:"pattern,omitempty"`
	Column  int    `yaml:"column,omitempty"`
}

// Duration reads YAML strings such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Groups: make(map[string]Group),
		Defaults: Defaults{
			Concurrency:    20,
			Timeout:        Duration{30 * time.Second},
			OverallTimeout: Duration{10 * time.Minute},
			Output:         "table",
		},
	}
}

// DefaultConfigPath is $XDG_CONFIG_HOME/sweep/config.yaml, falling back to
// ~/.config/sweep/config.yaml.
func DefaultConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "sweep", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "sweep", "config.yaml")
}

// Load reads, parses and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads DefaultConfigPath, or returns DefaultConfig when the
// file does not exist.
func LoadDefault() (*Config, error) {
	path := DefaultConfigPath()
	if path == "" {
		return DefaultConfig(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return Load(path)
}

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate checks the config for logical errors.
func (c *Config) Validate() error {
	d := c.Defaults
	if d.Concurrency < 0 {
		return fmt.Errorf("concurrency must be non-negative, got %d", d.Concurrency)
	}
	if d.Timeout.Duration < 0 {
		return fmt.Errorf("default timeout must be non-negative, got %s", d.Timeout)
	}
	if d.OverallTimeout.Duration < 0 {
		return fmt.Errorf("overall timeout must be non-negative, got %s", d.OverallTimeout)
	}
	if d.Output != "" && !validOutput(d.Output) {
		return fmt.Errorf("invalid output mode %q, must be one of: %v", d.Output, OutputFormats)
	}
	if d.Credential != "" {
		if _, ok := c.Credentials[d.Credential]; !ok {
			return fmt.Errorf("default credential %q is not defined", d.Credential)
		}
	}

	for name, cred := range c.Credentials {
		if !nameRe.MatchString(name) {
			return fmt.Errorf("credential name %q must match [a-zA-Z0-9_-]+", name)
		}
		if cred.User == "" && cred.IdentityFile == "" && cred.PasswordEnv == "" {
			return fmt.Errorf("credential %q sets none of user, identity_file, password_env", name)
		}
	}

	for name, group := range c.Groups {
		if len(group.Hosts) == 0 {
			return fmt.Errorf("group %q has no hosts", name)
		}
		if group.Credential != "" {
			if _, ok := c.Credentials[group.Credential]; !ok {
				return fmt.Errorf("group %q refers to undefined credential %q", name, group.Credential)
			}
		}
	}

	for name, p := range c.Probes {
		if !nameRe.MatchString(name) {
			return fmt.Errorf("probe name %q must match [a-zA-Z0-9_-]+", name)
		}
		if p.Command == "" {
			return fmt.Errorf("probe %q has no command", name)
		}
	}

	for name, parser := range c.Parsers {
		if !nameRe.MatchString(name) {
			return fmt.Errorf("parser name %q must match [a-zA-Z0-9_-]+", name)
		}
		if len(parser.Extract) == 0 {
			return fmt.Errorf("parser %q has no extract rules", name)
		}
		for i, rule := range parser.Extract {
			if rule.Field == "" {
				return fmt.Errorf("parser %q rule %d has empty field name", name, i)
			}
			if rule.Pattern == "" && rule.Column == 0 {
				return fmt.Errorf("parser %q rule %d (%s) must have pattern or column", name, i, rule.Field)
			}
			if rule.Pattern != "" {
				if _, err := regexp.Compile(rule.Pattern); err != nil {
					return fmt.Errorf("parser %q rule %d (%s): %w", name, i, rule.Field, err)
				}
			}
		}
	}
	return nil
}

func validOutput(s string) bool {
	for _, f := range OutputFormats {
		if f == s {
			return true
		}
	}
	return false
}

// SSHCredentials converts the credentials section for the ssh layer.
func (c *Config) SSHCredentials() map[string]ssh.Credential {
	out := make(map[string]ssh.Credential, len(c.Credentials))
	for name, cred := range c.Credentials {
		out[name] = ssh.Credential{
			User:         cred.User,
			IdentityFile: pathutil.ExpandHome(cred.IdentityFile),
			PasswordEnv:  cred.PasswordEnv,
		}
	}
	return out
}

// GroupNames lists the configured groups, sorted.
func (c *Config) GroupNames() []string {
	names := make([]string, 0, len(c.Groups))
	for name := range c.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
