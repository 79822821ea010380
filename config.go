package guestbookd

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigFileName is the YAML config file looked up under
// DefaultConfigDir when no --config flag is given.
const DefaultConfigFileName = "guestbookd.yaml"

// DefaultConfigDir returns the per-user configuration directory.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".guestbookd"), nil
}

const (
	// DefaultListen is the default TCP endpoint the server binds to.
	DefaultListen = ":3000"
	// DefaultListenProto controls the scheme used when no protocol is configured.
	DefaultListenProto = "tcp"
	// DefaultMetricsListen is the default metrics endpoint (Prometheus scrape).
	// Empty disables metrics unless explicitly configured.
	DefaultMetricsListen = ""
	// DefaultStore persists entries to a JSON file under ./data.
	DefaultStore = "disk://data/guestbook.json"
	// DefaultJSONMaxBytes bounds incoming JSON payloads.
	DefaultJSONMaxBytes = 1 << 20
	// DefaultShutdownTimeout caps graceful HTTP shutdown duration.
	DefaultShutdownTimeout = 10 * time.Second
)

// Config holds server settings. The zero value is usable after Validate
// fills in defaults.
type Config struct {
	// Listen is the server bind address (for example ":3000").
	Listen string
	// ListenProto selects listener type (for example "tcp" or "unix").
	ListenProto string
	// MetricsListen is the metrics endpoint bind address; empty disables metrics.
	MetricsListen string
	// Store is the backend DSN (for example mem://, disk://..., s3://...).
	Store string
	// AdminToken guards DELETE and import. Empty disables the check; this is
	// the documented open default for local deployments.
	AdminToken string
	// JSONMaxBytes caps incoming JSON payload size.
	JSONMaxBytes int64
	// ShutdownTimeout caps graceful shutdown duration.
	ShutdownTimeout time.Duration
	// DiskDisableWatch turns off filesystem watching for disk stores.
	DiskDisableWatch bool
	// S3AccessKeyID and S3SecretAccessKey override ambient credentials for
	// s3:// stores. Empty selects the environment/IAM credential chain.
	S3AccessKeyID     string
	S3SecretAccessKey string
	// S3Region sets the bucket region for s3:// stores.
	S3Region string
}

// Validate normalizes cfg in place, filling defaults and rejecting
// contradictory settings.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.ListenProto == "" {
		c.ListenProto = DefaultListenProto
	}
	switch c.ListenProto {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return fmt.Errorf("config: unsupported listen proto %q", c.ListenProto)
	}
	if c.Store == "" {
		c.Store = DefaultStore
	}
	if _, err := url.Parse(c.Store); err != nil {
		return fmt.Errorf("config: parse store URL: %w", err)
	}
	c.AdminToken = strings.TrimSpace(c.AdminToken)
	if c.JSONMaxBytes <= 0 {
		c.JSONMaxBytes = DefaultJSONMaxBytes
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return nil
}
