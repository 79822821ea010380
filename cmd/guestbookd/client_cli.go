package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"pkt.systems/guestbookd"
	"pkt.systems/guestbookd/api"
	"pkt.systems/guestbookd/client"
	"pkt.systems/guestbookd/internal/svcfields"
	"pkt.systems/pslog"
)

const (
	clientServerKey   = "client.server"
	clientTokenKey    = "client.admin_token"
	clientTimeoutKey  = "client.timeout"
	clientLogLevelKey = "client.log_level"
)

type clientCLIConfig struct {
	baseLogger pslog.Logger
	verbose    *bool
}

func newClientCommand(baseLogger pslog.Logger) *cobra.Command {
	cfg := &clientCLIConfig{baseLogger: baseLogger}
	var verbose bool
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Interact with a running guestbookd server",
	}

	flags := cmd.PersistentFlags()
	flags.String("server", "http://127.0.0.1:3000", "guestbookd server base URL (comma-separated for failover)")
	flags.String("admin-token", "", "bearer token for destructive operations")
	flags.Duration("timeout", 10*time.Second, "HTTP client timeout")
	flags.String("log-level", "none", "client log level (trace|debug|info|warn|error|none)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose (trace) client logging")

	mustBindFlag(clientServerKey, "GUESTBOOKD_CLIENT_SERVER", flags.Lookup("server"))
	mustBindFlag(clientTokenKey, "GUESTBOOKD_ADMIN_TOKEN", flags.Lookup("admin-token"))
	mustBindFlag(clientTimeoutKey, "GUESTBOOKD_CLIENT_TIMEOUT", flags.Lookup("timeout"))
	mustBindFlag(clientLogLevelKey, "GUESTBOOKD_CLIENT_LOG_LEVEL", flags.Lookup("log-level"))

	cfg.verbose = &verbose

	cmd.AddCommand(
		newClientEntriesCommand(cfg),
		newClientSignCommand(cfg),
		newClientClearCommand(cfg),
		newClientImportCommand(cfg),
		newClientExportCommand(cfg),
	)

	return cmd
}

func mustBindFlag(key, env string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for key %s not found", key))
	}
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
	if env != "" {
		if err := viper.BindEnv(key, env); err != nil {
			panic(err)
		}
	}
}

func (c *clientCLIConfig) logger() pslog.Base {
	level := strings.ToLower(strings.TrimSpace(viper.GetString(clientLogLevelKey)))
	if c.verbose != nil && *c.verbose {
		level = "trace"
	}
	if level == "" || level == "none" || level == "off" {
		return pslog.NoopLogger()
	}
	logger := c.baseLogger
	if parsed, ok := pslog.ParseLevel(level); ok {
		logger = logger.LogLevel(parsed)
	}
	return svcfields.WithSubsystem(logger, "cli.client")
}

func (c *clientCLIConfig) newClient() (*client.Client, error) {
	return client.New(viper.GetString(clientServerKey),
		client.WithAdminToken(viper.GetString(clientTokenKey)),
		client.WithHTTPTimeout(viper.GetDuration(clientTimeoutKey)),
		client.WithLogger(c.logger()),
	)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newClientEntriesCommand(cfg *clientCLIConfig) *cobra.Command {
	return &cobra.Command{
		Use:     "entries",
		Aliases: []string{"list", "ls"},
		Short:   "List all guestbook entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cfg.newClient()
			if err != nil {
				return err
			}
			defer cli.Close()
			entries, err := cli.Entries(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, api.EntriesResponse{Entries: entries})
		},
	}
}

func newClientSignCommand(cfg *clientCLIConfig) *cobra.Command {
	var name, message, rule string
	var stars int
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Add a guestbook entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cfg.newClient()
			if err != nil {
				return err
			}
			defer cli.Close()
			req := api.CreateRequest{Name: name, Message: message, Rule: rule}
			if cmd.Flags().Changed("stars") {
				req.Stars = stars
			}
			// Submitting through the feed validates locally and applies the
			// per-session cooldown before any request goes out.
			feed := client.NewFeed(cli, client.WithFeedSessionID("cli"), sessionStoreOption())
			entry, err := feed.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd, api.EntryResponse{Entry: entry})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&name, "name", "", "display name (required)")
	flags.StringVar(&message, "message", "", "entry message (required)")
	flags.StringVar(&rule, "rule", "", "optional favorite tag")
	flags.IntVar(&stars, "stars", 5, "star rating 1-5")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

// sessionStoreOption persists the submit cooldown across invocations when the
// config directory is usable; otherwise the in-memory default applies.
func sessionStoreOption() client.FeedOption {
	dir, err := guestbookd.DefaultConfigDir()
	if err != nil {
		return func(*client.Feed) {}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return func(*client.Feed) {}
	}
	store, err := client.OpenFileSessionStore(filepath.Join(dir, "session.json"))
	if err != nil {
		return func(*client.Feed) {}
	}
	return client.WithFeedSessionStore(store)
}

func newClientClearCommand(cfg *clientCLIConfig) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every guestbook entry (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear without --yes")
			}
			cli, err := cfg.newClient()
			if err != nil {
				return err
			}
			defer cli.Close()
			if err := cli.Clear(cmd.Context()); err != nil {
				return err
			}
			return printJSON(cmd, api.OKResponse{OK: true})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion of all entries")
	return cmd
}

func newClientImportCommand(cfg *clientCLIConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Replace the guestbook from a JSON export (admin)",
		Long: `Import reads a JSON document of the form {"entries": [...]} (or a bare
array) from the given file, or stdin when the file is "-" or omitted, and
replaces the guestbook with the cleaned entries. Items failing validation
are dropped server-side.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var reader io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				reader = f
			}
			data, err := io.ReadAll(reader)
			if err != nil {
				return err
			}
			items, err := decodeImportDocument(data)
			if err != nil {
				return err
			}
			cli, err := cfg.newClient()
			if err != nil {
				return err
			}
			defer cli.Close()
			entries, err := cli.Import(cmd.Context(), items)
			if err != nil {
				return err
			}
			return printJSON(cmd, api.EntriesResponse{Entries: entries})
		},
	}
	return cmd
}

// decodeImportDocument accepts either {"entries": [...]} or a bare array.
func decodeImportDocument(data []byte) ([]api.ImportItem, error) {
	var wrapped api.ImportRequest
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Entries != nil {
		return wrapped.Entries, nil
	}
	var bare []api.ImportItem
	if err := json.Unmarshal(data, &bare); err == nil {
		return bare, nil
	}
	return nil, fmt.Errorf(`import document must be {"entries": [...]} or a JSON array`)
}

func newClientExportCommand(cfg *clientCLIConfig) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the guestbook as JSON suitable for import",
		RunE: func(cmd *cobra.Command, args []string) error {
			cli, err := cfg.newClient()
			if err != nil {
				return err
			}
			defer cli.Close()
			entries, err := cli.Entries(cmd.Context())
			if err != nil {
				return err
			}
			doc, err := json.MarshalIndent(api.EntriesResponse{Entries: entries}, "", "  ")
			if err != nil {
				return err
			}
			doc = append(doc, '\n')
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(doc)
				return err
			}
			return os.WriteFile(out, doc, 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to file instead of stdout")
	return cmd
}
