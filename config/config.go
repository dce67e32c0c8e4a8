// Package config contains the service configuration of the request filter.
package config

import (
	"bytes"
	"fmt"
	"io"
	"net/netip"
	"os"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"gopkg.in/yaml.v3"
)

// DefaultContent is the commented default configuration file.
const DefaultContent = `# reqfilter configuration file

log:
  # Write debug-level messages.
  verbose: false
  # Path to the log file.  If empty, the log is written to stderr.
  output: ""
  # Log format: text or json.
  format: "text"
  # Rotation settings of the log file.
  max_size_mb: 100
  max_backups: 3
  max_age_days: 28

proxy:
  # Address of the filtering proxy.
  listen_addr: "0.0.0.0:8080"
  # Paths to the root certificate and its private key.  Required for HTTPS
  # filtering.
  ca_cert: ""
  ca_key: ""
  # Proxy authorization.
  username: ""
  password: ""
  # Run an HTTPS proxy with the given server name.
  https: false
  https_name: ""
  # Host that serves the proxy's own API, e.g. the root certificate.
  api_host: "reqfilter"
  # Hosts that are never MITM-ed.
  mitm_exceptions: []

api:
  # Address of the command API.  If empty, the API is disabled.
  listen_addr: "127.0.0.1:8081"
  timeout: 30s

storage:
  # Path to the state file.  If empty, the state is only kept in memory.
  path: "reqfilter.json"

rules:
  # Source of the default rules: a file path or an HTTP(S) URL.  If both
  # are empty, the bundled rules are used.
  file: ""
  url: ""
  timeout: 30s

# Size of the decision cache in bytes.  Zero disables the cache.
cache_size: 1048576
`

// Config is the service configuration.
type Config struct {
	Log       LogConfig     `yaml:"log"`
	Proxy     ProxyConfig   `yaml:"proxy"`
	API       APIConfig     `yaml:"api"`
	Storage   StorageConfig `yaml:"storage"`
	Rules     RulesConfig   `yaml:"rules"`
	CacheSize int           `yaml:"cache_size"`
}

// LogConfig is the logging configuration.
type LogConfig struct {
	Output     string `yaml:"output"`
	Format     string `yaml:"format"`
	MaxSize    int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age_days"`
	Verbose    bool   `yaml:"verbose"`
}

// ProxyConfig is the filtering proxy configuration.
type ProxyConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	CACert         string   `yaml:"ca_cert"`
	CAKey          string   `yaml:"ca_key"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	HTTPSName      string   `yaml:"https_name"`
	APIHost        string   `yaml:"api_host"`
	MITMExceptions []string `yaml:"mitm_exceptions"`
	HTTPS          bool     `yaml:"https"`
}

// APIConfig is the command API configuration.
type APIConfig struct {
	ListenAddr string        `yaml:"listen_addr"`
	Timeout    time.Duration `yaml:"timeout"`
}

// StorageConfig is the persisted state configuration.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// RulesConfig is the configuration of the default rules source.
type RulesConfig struct {
	File    string        `yaml:"file"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Default returns the default configuration.
func Default() (c *Config) {
	c = &Config{}
	errors.Check(decode(bytes.NewReader([]byte(DefaultContent)), c))

	return c
}

// Load reads the configuration from the YAML file at path, fills the missing
// values with the defaults, and validates it.  If path is empty, the default
// configuration is returned.
func Load(path string) (c *Config, err error) {
	c = Default()
	if path == "" {
		return c, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	err = decode(f, c)
	if err != nil {
		return nil, fmt.Errorf("decoding config %q: %w", path, err)
	}

	err = c.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating config %q: %w", path, err)
	}

	return c, nil
}

// decode decodes YAML from r into c.  Unknown fields are errors.  An empty
// document leaves c unchanged.
func decode(r io.Reader, c *Config) (err error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	err = dec.Decode(c)
	if errors.Is(err, io.EOF) {
		return nil
	}

	return err
}

// Validate returns an error if c is invalid.
func (c *Config) Validate() (err error) {
	var errs []error

	if _, pErr := netip.ParseAddrPort(c.Proxy.ListenAddr); pErr != nil {
		errs = append(errs, fmt.Errorf("proxy.listen_addr: %w", pErr))
	}

	if (c.Proxy.CACert == "") != (c.Proxy.CAKey == "") {
		errs = append(errs, errors.Error("proxy: ca_cert and ca_key must be set together"))
	}

	if c.Proxy.HTTPS && (c.Proxy.HTTPSName == "" || c.Proxy.CACert == "") {
		errs = append(errs, errors.Error("proxy: https requires https_name, ca_cert, and ca_key"))
	}

	if c.API.ListenAddr != "" {
		if _, pErr := netip.ParseAddrPort(c.API.ListenAddr); pErr != nil {
			errs = append(errs, fmt.Errorf("api.listen_addr: %w", pErr))
		}
	}

	if c.Rules.File != "" && c.Rules.URL != "" {
		errs = append(errs, errors.Error("rules: file and url are mutually exclusive"))
	}

	if c.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("cache_size: negative value %d", c.CacheSize))
	}

	switch c.Log.Format {
	case LogFormatText, LogFormatJSON:
		// Go on.
	default:
		errs = append(errs, fmt.Errorf("log.format: unsupported value %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
