// Package config loads PollWatch watches from a YAML file, for running the
// standalone binary instead of using the SDK.
//
// Example configuration:
//
//	title: Release pipeline
//	port: 8080
//	poll_interval: 10s
//
//	watches:
//	  - name: build
//	    url: https://ci.example.com/api/jobs/${JOB_ID}
//	    headers:
//	      Authorization: Bearer ${CI_TOKEN}
//	    until: json:state=FINISHED,FAILED
//
//	  - name: rollout
//	    url: https://deploy.example.com/rollouts/42
//	    interval: 30s
//	    until:
//	      type: regex
//	      pattern: '"phase":\s*"(\w+)"'
//	      match: complete
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort         = 8080
	defaultPollInterval = 15 * time.Second

	// minPollInterval guards polled services against overly aggressive configs.
	minPollInterval = 1 * time.Second
)

// Condition types accepted by the until field.
const (
	UntilForever  = "forever"
	UntilJSON     = "json"
	UntilContains = "contains"
	UntilStatus   = "status"
	UntilRegex    = "regex"
)

// Config is the root of the YAML configuration file.
// Use [Load] or [Parse] to create one.
type Config struct {
	// Title is the dashboard title. Defaults to "PollWatch".
	Title string `yaml:"title"`

	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// PollInterval is the delay between polls for watches without their own
	// interval. Defaults to 15s, minimum 1s.
	PollInterval Duration `yaml:"poll_interval"`

	Watches []WatchConfig `yaml:"watches"`
}

// WatchConfig defines a single watch.
type WatchConfig struct {
	// Name must be unique within the file.
	Name string `yaml:"name"`

	// URL supports environment variable substitution: ${VAR} or ${VAR:-default}.
	URL string `yaml:"url"`

	// Method is GET, HEAD or POST. Defaults to GET.
	Method string `yaml:"method"`

	// Timeout is the request timeout. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// Headers values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`

	Labels map[string]string `yaml:"labels"`

	// Interval overrides poll_interval. Must be between 1s and 1h.
	Interval Duration `yaml:"interval"`

	// Until decides when polling stops. Defaults to polling forever.
	Until UntilConfig `yaml:"until"`
}

// UntilConfig selects the stop condition of a watch.
//
// Shorthand string:
//
//	until: forever
//	until: json:status.phase=done,failed
//	until: contains:COMPLETE
//	until: status:200,204
//	until: regex:"state":"(\w+)"=done
//
// Structured object:
//
//	until:
//	  type: json
//	  path: status.phase
//	  values: [done, failed]
type UntilConfig struct {
	Type    string
	Path    string
	Values  []string
	Text    string
	Codes   []int
	Pattern string
	Match   string
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler for UntilConfig.
func (u *UntilConfig) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		return u.parseShorthand(s)

	case yaml.MappingNode:
		// separate type so Decode does not recurse into this method
		var raw struct {
			Type    string   `yaml:"type"`
			Path    string   `yaml:"path"`
			Values  []string `yaml:"values"`
			Text    string   `yaml:"text"`
			Codes   []int    `yaml:"codes"`
			Pattern string   `yaml:"pattern"`
			Match   string   `yaml:"match"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		*u = UntilConfig(raw)
		return nil
	}

	return fmt.Errorf("until must be a string or object, got %v", node.Kind)
}

func (u *UntilConfig) parseShorthand(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	kind, value, hasValue := strings.Cut(s, ":")
	if !hasValue {
		if s == UntilForever {
			u.Type = s
			return nil
		}
		return fmt.Errorf("unknown condition %q (expected 'forever', 'json:path=values', 'contains:text', 'status:codes' or 'regex:pattern=match')", s)
	}

	u.Type = kind
	switch kind {
	case UntilJSON:
		path, values, ok := strings.Cut(value, "=")
		if !ok {
			return fmt.Errorf("json condition %q must have the form path=value[,value...]", value)
		}
		u.Path = path
		u.Values = splitList(values)
	case UntilContains:
		u.Text = value
	case UntilStatus:
		for _, c := range splitList(value) {
			code, err := strconv.Atoi(c)
			if err != nil {
				return fmt.Errorf("invalid status code %q", c)
			}
			u.Codes = append(u.Codes, code)
		}
	case UntilRegex:
		// patterns may contain '=', the match never does
		idx := strings.LastIndex(value, "=")
		if idx == -1 {
			return fmt.Errorf("regex condition %q must have the form pattern=match", value)
		}
		u.Pattern, u.Match = value[:idx], value[idx+1:]
	default:
		return fmt.Errorf("unknown condition type %q", kind)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
// Group 1 is the name, group 2 the ":-default" part, group 3 the default.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment values.
// An unset variable without a default is an error.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		sub := envVarPattern.FindStringSubmatch(match)
		name, hasDefault, def := sub[1], sub[2] != "", sub[3]

		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		if hasDefault {
			return def
		}
		firstErr = fmt.Errorf("environment variable %q is not set", name)
		return match
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data, applies defaults and validates it.
//
// Environment variables are expanded in watch URLs and header values.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = Duration(defaultPollInterval)
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) expandAndValidate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.PollInterval.Duration() < minPollInterval {
		return fmt.Errorf("poll_interval must be at least %s, got %s", minPollInterval, c.PollInterval.Duration())
	}
	if len(c.Watches) == 0 {
		return errors.New("at least one watch must be defined")
	}

	seen := make(map[string]int, len(c.Watches))
	for i := range c.Watches {
		w := &c.Watches[i]

		if w.Name == "" {
			return fmt.Errorf("watches[%d]: name is required", i)
		}
		if first, dup := seen[w.Name]; dup {
			return fmt.Errorf("watches[%d] (%s): duplicate name, first used by watches[%d]", i, w.Name, first)
		}
		seen[w.Name] = i

		if err := w.expandAndValidate(); err != nil {
			return fmt.Errorf("watches[%d] (%s): %w", i, w.Name, err)
		}
	}
	return nil
}

func (w *WatchConfig) expandAndValidate() error {
	if w.URL == "" {
		return errors.New("url is required")
	}
	expanded, err := expandEnvVars(w.URL)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	w.URL = expanded

	parsedURL, err := url.Parse(w.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("url must have an http:// or https:// scheme, got %q", w.URL)
	}

	for k, v := range w.Headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("headers[%s]: %w", k, err)
		}
		w.Headers[k] = expanded
	}

	switch w.Method {
	case "", "GET", "HEAD", "POST":
	default:
		return errors.New("method must be GET, HEAD, or POST")
	}

	if w.Timeout != 0 && w.Timeout.Duration() < time.Second {
		return fmt.Errorf("timeout must be at least 1s if specified, got %s", w.Timeout.Duration())
	}

	if w.Interval != 0 {
		if w.Interval.Duration() < time.Second {
			return fmt.Errorf("interval must be at least 1s, got %s", w.Interval.Duration())
		}
		if w.Interval.Duration() > time.Hour {
			return fmt.Errorf("interval must not exceed 1h, got %s", w.Interval.Duration())
		}
	}

	return w.Until.validate()
}

func (u UntilConfig) validate() error {
	switch u.Type {
	case "", UntilForever:
	case UntilJSON:
		if u.Path == "" {
			return errors.New("until: json requires a path")
		}
		if len(u.Values) == 0 {
			return errors.New("until: json requires at least one value")
		}
	case UntilContains:
		if u.Text == "" {
			return errors.New("until: contains requires text")
		}
	case UntilStatus:
		if len(u.Codes) == 0 {
			return errors.New("until: status requires at least one code")
		}
		for _, c := range u.Codes {
			if c < 100 || c > 599 {
				return fmt.Errorf("until: invalid status code %d", c)
			}
		}
	case UntilRegex:
		re, err := regexp.Compile(u.Pattern)
		if err != nil {
			return fmt.Errorf("until: invalid regex: %w", err)
		}
		if re.NumSubexp() < 1 {
			return errors.New("until: regex must contain a capture group")
		}
	default:
		return fmt.Errorf("until: unknown condition type %q", u.Type)
	}
	return nil
}
