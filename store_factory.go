package guestbookd

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	minioCredentials "github.com/minio/minio-go/v7/pkg/credentials"

	"pkt.systems/guestbookd/internal/storage"
	"pkt.systems/guestbookd/internal/storage/disk"
	"pkt.systems/guestbookd/internal/storage/memory"
	"pkt.systems/guestbookd/internal/storage/s3"
	"pkt.systems/pslog"
)

func openBackend(cfg Config, logger pslog.Logger) (storage.Backend, error) {
	u, err := url.Parse(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("parse store URL: %w", err)
	}
	switch u.Scheme {
	case "memory", "mem":
		return memory.New(), nil
	case "disk", "":
		diskCfg, err := BuildDiskConfig(cfg)
		if err != nil {
			return nil, err
		}
		diskCfg.Logger = logger
		return disk.New(diskCfg)
	case "s3":
		s3cfg, err := BuildS3Config(cfg)
		if err != nil {
			return nil, err
		}
		backend, err := s3.New(s3cfg)
		if err != nil {
			return nil, err
		}
		if err := ensureObjectStoreReady(context.Background(), backend); err != nil {
			_ = backend.Close()
			return nil, err
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("store scheme %q not supported", u.Scheme)
	}
}

// BuildDiskConfig derives the disk backend configuration from a disk:// DSN.
// Both disk://relative/path.json and disk:///absolute/path.json are accepted,
// as are bare filesystem paths with no scheme.
func BuildDiskConfig(cfg Config) (disk.Config, error) {
	u, err := url.Parse(cfg.Store)
	if err != nil {
		return disk.Config{}, fmt.Errorf("parse store URL: %w", err)
	}
	if u.Scheme != "disk" && u.Scheme != "" {
		return disk.Config{}, fmt.Errorf("store scheme %q not supported", u.Scheme)
	}
	path := u.Path
	if u.Host != "" {
		path = filepath.Join(u.Host, strings.TrimPrefix(u.Path, "/"))
	}
	if u.Scheme == "" {
		path = u.Opaque
		if path == "" {
			path = cfg.Store
		}
	}
	if strings.TrimSpace(path) == "" {
		return disk.Config{}, fmt.Errorf("disk store missing path (expected disk://dir/guestbook.json)")
	}
	return disk.Config{Path: path, DisableWatch: cfg.DiskDisableWatch}, nil
}

// BuildS3Config parses s3:// DSNs targeting S3-compatible services
// (s3://host[:port]/bucket[/prefix]?secure=false&path-style=true).
func BuildS3Config(cfg Config) (s3.Config, error) {
	u, err := url.Parse(cfg.Store)
	if err != nil {
		return s3.Config{}, fmt.Errorf("parse store URL: %w", err)
	}
	if u.Scheme != "s3" {
		return s3.Config{}, fmt.Errorf("store scheme %q not supported", u.Scheme)
	}
	endpoint := strings.TrimSpace(u.Host)
	if endpoint == "" {
		return s3.Config{}, fmt.Errorf("s3 store missing host (expected s3://host[:port]/bucket[/prefix])")
	}
	path := strings.Trim(strings.TrimPrefix(u.Path, "/"), "/")
	if path == "" {
		return s3.Config{}, fmt.Errorf("s3 store missing bucket (expected s3://host[:port]/bucket[/prefix])")
	}
	parts := strings.SplitN(path, "/", 2)
	bucket := strings.TrimSpace(parts[0])
	if bucket == "" {
		return s3.Config{}, fmt.Errorf("s3 store missing bucket name")
	}
	var prefix string
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	query := u.Query()
	secure := true
	if v := query.Get("secure"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			secure = ok
		}
	}
	if v := query.Get("insecure"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil && ok {
			secure = false
		}
	}
	forcePath := false
	if v := query.Get("path-style"); v != "" {
		if ok, err := strconv.ParseBool(v); err == nil {
			forcePath = ok
		}
	}
	region := cfg.S3Region
	if v := query.Get("region"); v != "" {
		region = v
	}
	var creds *minioCredentials.Credentials
	if cfg.S3AccessKeyID != "" || cfg.S3SecretAccessKey != "" {
		if cfg.S3AccessKeyID == "" || cfg.S3SecretAccessKey == "" {
			return s3.Config{}, fmt.Errorf("s3 store requires both access key id and secret access key")
		}
		creds = minioCredentials.NewStaticV4(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")
	}
	return s3.Config{
		Endpoint:       endpoint,
		Region:         region,
		Bucket:         bucket,
		Prefix:         prefix,
		Insecure:       !secure,
		ForcePathStyle: forcePath,
		CustomCreds:    creds,
	}, nil
}

func ensureObjectStoreReady(ctx context.Context, backend *s3.Store) error {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ok, err := backend.BucketExists(checkCtx)
	if err != nil {
		return fmt.Errorf("s3 store not reachable: %w", err)
	}
	if !ok {
		return fmt.Errorf("s3 store bucket does not exist")
	}
	return nil
}
