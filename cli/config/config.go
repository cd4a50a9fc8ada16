// Package config loads wsfs.yaml.
//
// Every value is optional and acts as a default for the matching command
// flag. Flags always override config values.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the wsfs.yaml document.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Responder ResponderConfig `yaml:"responder"`
	Upload    UploadConfig    `yaml:"upload"`
	Receiver  ReceiverConfig  `yaml:"receiver"`
	Storage   StorageConfig   `yaml:"storage"`
	Adapter   AdapterConfig   `yaml:"adapter"`
}

// ResponderConfig holds defaults for wsfs serve.
type ResponderConfig struct {
	URL      string            `yaml:"url"`
	Encoding string            `yaml:"encoding"`
	ClientID string            `yaml:"client_id"`
	Watch    bool              `yaml:"watch"`
	Debounce Duration          `yaml:"debounce,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
}

// UploadConfig holds defaults for wsfs upload.
type UploadConfig struct {
	Endpoint    string            `yaml:"endpoint"`
	RetryDelays []Duration        `yaml:"retry_delays,omitempty"`
	ChunkSize   int64             `yaml:"chunk_size"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	// Record writes each finished upload to the storage ledger.
	Record bool `yaml:"record"`
}

// Delays returns the retry schedule, or nil when none is configured.
func (u UploadConfig) Delays() []time.Duration {
	if u.RetryDelays == nil {
		return nil
	}
	out := make([]time.Duration, len(u.RetryDelays))
	for i, d := range u.RetryDelays {
		out[i] = d.Duration
	}
	return out
}

// ReceiverConfig holds defaults for wsfs receive.
type ReceiverConfig struct {
	Listen         string   `yaml:"listen"`
	Parts          int      `yaml:"parts"`
	RequestTimeout Duration `yaml:"request_timeout,omitempty"`
	SpoolDir       string   `yaml:"spool_dir"`
}

// StorageConfig holds storage defaults.
type StorageConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds notification adapter defaults.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML strings such as "3s" or "1m30s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string. An empty string leaves d zero.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders d as a duration string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Validate checks enumerated values. Empty values are allowed and mean
// "use the flag default".
func (c *Config) Validate() error {
	switch c.Responder.Encoding {
	case "", "json", "msgpack":
	default:
		return fmt.Errorf("responder.encoding: unknown encoding %q", c.Responder.Encoding)
	}
	switch c.Storage.Backend {
	case "", "fs", "s3", "memory":
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		return fmt.Errorf("adapter.type: unknown adapter %q", c.Adapter.Type)
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		return fmt.Errorf("adapter.url is required for adapter %q", c.Adapter.Type)
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		return fmt.Errorf("adapter.retries must be >= 0, got %d", *c.Adapter.Retries)
	}
	if c.Receiver.Parts < 0 {
		return fmt.Errorf("receiver.parts must be >= 0, got %d", c.Receiver.Parts)
	}
	for i, d := range c.Upload.RetryDelays {
		if d.Duration < 0 {
			return fmt.Errorf("upload.retry_delays[%d] is negative", i)
		}
	}
	return nil
}
