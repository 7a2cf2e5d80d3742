package fathom

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Config is a set of process-wide settings, loaded from a TOML, YAML or INI
// file and decoded into Go types via mapstructure. App does not read it;
// only applyStaticResolver consumes it, installing the static-file
// settings.
type Config struct {
	AppName string `mapstructure:"app_name"`

	DebugMode bool `mapstructure:"debug_mode"`

	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`

	ImplicitBodyLengthLimit int64 `mapstructure:"implicit_body_length_limit"`

	StaticRoot           string   `mapstructure:"static_root"`
	StaticIndexFiles     []string `mapstructure:"static_index_files"`
	StaticMinifierEnabled bool    `mapstructure:"static_minifier_enabled"`
	StaticMinifierTypes  []string `mapstructure:"static_minifier_types"`
	StaticGzipEnabled    bool     `mapstructure:"static_gzip_enabled"`
	StaticGzipTypes      []string `mapstructure:"static_gzip_types"`
	StaticCacheMaxBytes  int      `mapstructure:"static_cache_max_bytes"`

	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`

	ACMEEnabled     bool     `mapstructure:"acme_enabled"`
	ACMECertRoot    string   `mapstructure:"acme_cert_root"`
	ACMEHostWhitelist []string `mapstructure:"acme_host_whitelist"`
}

// DefaultConfig returns the baseline settings a caller can override before
// LoadConfig merges a file over them.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:             15 * time.Second,
		WriteTimeout:            15 * time.Second,
		IdleTimeout:             60 * time.Second,
		ImplicitBodyLengthLimit: 32 << 20,
		StaticRoot:              "static",
		StaticCacheMaxBytes:     64 << 20,
	}
}

// LoadConfig reads path, dispatching on its extension to the appropriate
// decoder (TOML, YAML, or INI), then decodes the resulting map into cfg.
func LoadConfig(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return &ConfigError{Path: path, Reason: err.Error()}
	}

	m := map[string]interface{}{}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(b, &m); err != nil {
			return &ConfigError{Path: path, Reason: fmt.Sprintf("invalid TOML: %v", err)}
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &m); err != nil {
			return &ConfigError{Path: path, Reason: fmt.Sprintf("invalid YAML: %v", err)}
		}
	case ".ini":
		f, err := ini.Load(b)
		if err != nil {
			return &ConfigError{Path: path, Reason: fmt.Sprintf("invalid INI: %v", err)}
		}
		for _, section := range f.Sections() {
			for _, key := range section.Keys() {
				m[key.Name()] = key.Value()
			}
		}
	default:
		return &ConfigError{Path: path, Reason: fmt.Sprintf("unsupported configuration file extension: %s", ext)}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           cfg,
	})
	if err != nil {
		return &ConfigError{Path: path, Reason: err.Error()}
	}

	if err := decoder.Decode(m); err != nil {
		return &ConfigError{Path: path, Reason: err.Error()}
	}

	return nil
}

// applyStaticResolver wires cfg's static-file settings into the
// process-wide static resolver.
func (cfg *Config) applyStaticResolver() {
	if cfg.StaticRoot == "" {
		return
	}

	r := newStaticResolver(cfg.StaticRoot, cfg.StaticCacheMaxBytes)
	if len(cfg.StaticIndexFiles) > 0 {
		r.indexFiles = cfg.StaticIndexFiles
	}
	r.minifyEnabled = cfg.StaticMinifierEnabled
	r.minifyTypes = cfg.StaticMinifierTypes
	r.gzipEnabled = cfg.StaticGzipEnabled
	r.gzipTypes = cfg.StaticGzipTypes

	globalStaticResolver = r
}
