package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/wsfs/cli/config"
	"github.com/pithecene-io/wsfs/cli/render"
	"github.com/pithecene-io/wsfs/log"
	"github.com/pithecene-io/wsfs/metrics"
	"github.com/pithecene-io/wsfs/notify"
	"github.com/pithecene-io/wsfs/notify/redis"
	"github.com/pithecene-io/wsfs/notify/webhook"
	"github.com/pithecene-io/wsfs/storage"
	"github.com/pithecene-io/wsfs/types"
)

// Exit codes.
const (
	exitSuccess     = 0
	exitFailure     = 1
	exitConfigError = 2
)

func configError(format string, args ...any) error {
	return cli.Exit(fmt.Sprintf(format, args...), exitConfigError)
}

func failure(format string, args ...any) error {
	return cli.Exit(fmt.Sprintf(format, args...), exitFailure)
}

// loadConfig validates --format and reads --config when set. Without it every value comes from
// flags and package defaults.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if _, err := render.ParseFormat(c.String(FormatFlag.Name)); err != nil {
		return nil, configError("%v", err)
	}
	path := c.String(ConfigFlag.Name)
	if path == "" {
		return &config.Config{}, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, configError("%v", err)
	}
	return cfg, nil
}

// stringOption resolves a flag against its config value: an explicitly set
// flag wins, then a non-empty config value, then the flag default.
func stringOption(c *cli.Context, name, fromConfig string) string {
	if c.IsSet(name) || fromConfig == "" {
		return c.String(name)
	}
	return fromConfig
}

func intOption(c *cli.Context, name string, fromConfig int) int {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Int(name)
	}
	return fromConfig
}

func durationOption(c *cli.Context, name string, fromConfig config.Duration) time.Duration {
	if c.IsSet(name) || fromConfig.Duration == 0 {
		return c.Duration(name)
	}
	return fromConfig.Duration
}

func boolOption(c *cli.Context, name string, fromConfig bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return fromConfig || c.Bool(name)
}

// parseHeaders merges config headers with repeated 'Key: Value' flags.
func parseHeaders(fromConfig map[string]string, flags []string) (http.Header, error) {
	h := make(http.Header)
	for k, v := range fromConfig {
		h.Set(k, v)
	}
	for _, raw := range flags {
		k, v, ok := strings.Cut(raw, ":")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid header %q (want 'Key: Value')", raw)
		}
		h.Set(strings.TrimSpace(k), strings.TrimSpace(v))
	}
	return h, nil
}

func headerMap(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	m := make(map[string]string, len(h))
	for k := range h {
		m[k] = h.Get(k)
	}
	return m
}

// session bundles the per-invocation logger and collector.
type session struct {
	meta      *types.SessionMeta
	logger    *log.Logger
	collector *metrics.Collector
}

func newSession(c *cli.Context, cfg *config.Config, role types.Role, fileName, encoding, backend string) (*session, error) {
	meta := &types.SessionMeta{
		SessionID: uuid.NewString(),
		Role:      role,
	}
	if fileName != "" {
		meta.FileName = &fileName
	}

	level := stringOption(c, LogLevelFlag.Name, cfg.LogLevel)
	if level == "" {
		level = "info"
	}
	logger, err := log.NewLoggerWithLevel(meta, level)
	if err != nil {
		return nil, configError("invalid log level %q: %v", level, err)
	}

	return &session{
		meta:      meta,
		logger:    logger,
		collector: metrics.NewCollector(string(role), meta.SessionID, encoding, backend),
	}, nil
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// storageConfig resolves storage flags against the storage section.
func storageConfig(c *cli.Context, cfg config.StorageConfig) (storage.Config, error) {
	name := stringOption(c, "storage-backend", cfg.Backend)
	backend := storage.BackendFS
	if name != "" {
		b, err := storage.ParseBackend(name)
		if err != nil {
			return storage.Config{}, err
		}
		backend = b
	}

	return storage.Config{
		Backend: backend,
		Path:    stringOption(c, "storage-path", cfg.Path),
		Dataset: stringOption(c, "storage-dataset", cfg.Dataset),
		S3: storage.S3Config{
			Region:       stringOption(c, "s3-region", cfg.Region),
			Endpoint:     stringOption(c, "s3-endpoint", cfg.Endpoint),
			UsePathStyle: boolOption(c, "s3-path-style", cfg.S3PathStyle),
		},
	}, nil
}

// newPublisher builds the configured notification adapter. Without an
// adapter, events are dropped.
func newPublisher(c *cli.Context, cfg config.AdapterConfig) (notify.Publisher, error) {
	kind := stringOption(c, "adapter", cfg.Type)
	url := stringOption(c, "adapter-url", cfg.URL)
	timeout := durationOption(c, "adapter-timeout", cfg.Timeout)

	retries := -1
	switch {
	case c.IsSet("adapter-retries"):
		retries = c.Int("adapter-retries")
	case cfg.Retries != nil:
		retries = *cfg.Retries
	}

	switch kind {
	case "":
		return notify.Nop{}, nil
	case "webhook":
		headers, err := parseHeaders(cfg.Headers, c.StringSlice("adapter-header"))
		if err != nil {
			return nil, err
		}
		if retries < 0 {
			retries = webhook.DefaultRetries
		}
		return webhook.New(webhook.Config{
			URL:     url,
			Headers: headerMap(headers),
			Timeout: timeout,
			Retries: retries,
		})
	case "redis":
		if retries < 0 {
			retries = redis.DefaultRetries
		}
		return redis.New(redis.Config{
			URL:     url,
			Channel: stringOption(c, "adapter-channel", cfg.Channel),
			Timeout: timeout,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter %q (must be webhook or redis)", kind)
	}
}

// publish sends event and logs failures. Notification problems never fail
// the transfer that produced them.
func publish(ctx context.Context, p notify.Publisher, logger *log.Logger, event *notify.Event) {
	if err := p.Publish(ctx, event); err != nil {
		logger.Warn("notification failed", map[string]any{
			"event_type": event.EventType,
			"name":       event.Name,
			"error":      err.Error(),
		})
	}
}

// renderStats writes the session counters in the --format selected format.
func renderStats(c *cli.Context, snap metrics.Snapshot) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(snap)
}
