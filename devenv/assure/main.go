// Command assure verifies a local MinIO dev environment end to end: it
// ensures the assurance bucket exists, starts an in-process guestbookd with
// the s3:// backend pointed at it, and runs a sign/list/clear round trip
// through the client SDK. Run it after `docker compose up` to confirm the
// environment is usable before pointing a real guestbookd at it.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pkt.systems/guestbookd"
	"pkt.systems/guestbookd/api"
	"pkt.systems/guestbookd/client"
	"pkt.systems/pslog"
)

type envConfig struct {
	MinioEndpoint string
	MinioAccess   string
	MinioSecret   string
	MinioBucket   string
	MinioPrefix   string
	AdminToken    string
}

func loadConfig() envConfig {
	cfg := envConfig{
		MinioEndpoint: "localhost:9000",
		MinioAccess:   "guestbookdev",
		MinioSecret:   "guestbookdevpass",
		MinioBucket:   "guestbookd-assure",
		MinioPrefix:   "assure",
		AdminToken:    "assure-token",
	}
	if v := os.Getenv("ASSURE_MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("ASSURE_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccess = v
	}
	if v := os.Getenv("ASSURE_MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecret = v
	}
	return cfg
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	cfg := loadConfig()
	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "devenv assurance failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("devenv assurance succeeded")
}

func run(ctx context.Context, cfg envConfig) error {
	l := pslog.LoggerFromEnv(context.Background(), pslog.WithEnvOptions(pslog.Options{
		Mode:     pslog.ModeConsole,
		MinLevel: pslog.InfoLevel,
	}))

	if err := ensureBucket(ctx, cfg); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}

	serverCfg := guestbookd.Config{
		Listen:            "127.0.0.1:0",
		Store:             fmt.Sprintf("s3://%s/%s/%s?insecure=1&path-style=1", cfg.MinioEndpoint, cfg.MinioBucket, cfg.MinioPrefix),
		AdminToken:        cfg.AdminToken,
		S3AccessKeyID:     cfg.MinioAccess,
		S3SecretAccessKey: cfg.MinioSecret,
	}
	srv, stop, err := guestbookd.StartServer(ctx, serverCfg, guestbookd.WithLogger(l.With("actor", "server")))
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	defer stop(context.Background())

	cli, err := client.New(srv.ListenerAddr().String(),
		client.WithAdminToken(cfg.AdminToken),
		client.WithLogger(l.With("actor", "client")))
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	defer cli.Close()

	if err := cli.Healthy(ctx); err != nil {
		return fmt.Errorf("healthz: %w", err)
	}

	if err := cli.Clear(ctx); err != nil {
		return fmt.Errorf("clear before round trip: %w", err)
	}

	entry, err := cli.Sign(ctx, api.CreateRequest{
		Name:    "assure",
		Message: "s3 backend round trip",
		Stars:   4,
	})
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}

	entries, err := cli.Entries(ctx)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	if len(entries) != 1 || entries[0].ID != entry.ID {
		return fmt.Errorf("round trip mismatch: got %d entries", len(entries))
	}

	if err := cli.Clear(ctx); err != nil {
		return fmt.Errorf("clear after round trip: %w", err)
	}
	entries, err = cli.Entries(ctx)
	if err != nil {
		return fmt.Errorf("list after clear: %w", err)
	}
	if len(entries) != 0 {
		return fmt.Errorf("clear left %d entries behind", len(entries))
	}
	return nil
}

func ensureBucket(ctx context.Context, cfg envConfig) error {
	mc, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccess, cfg.MinioSecret, ""),
		Secure: false,
	})
	if err != nil {
		return err
	}
	exists, err := mc.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return mc.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{})
}
