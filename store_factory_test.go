package guestbookd

import (
	"path/filepath"
	"testing"
)

func TestBuildDiskConfig(t *testing.T) {
	cases := []struct {
		store string
		want  string
	}{
		{"disk://data/guestbook.json", filepath.Join("data", "guestbook.json")},
		{"disk:///var/lib/guestbookd/guestbook.json", "/var/lib/guestbookd/guestbook.json"},
		{"data/guestbook.json", "data/guestbook.json"},
	}
	for _, tc := range cases {
		cfg, err := BuildDiskConfig(Config{Store: tc.store})
		if err != nil {
			t.Errorf("BuildDiskConfig(%q): %v", tc.store, err)
			continue
		}
		if cfg.Path != tc.want {
			t.Errorf("BuildDiskConfig(%q).Path = %q, want %q", tc.store, cfg.Path, tc.want)
		}
	}
}

func TestBuildDiskConfigPropagatesWatchFlag(t *testing.T) {
	cfg, err := BuildDiskConfig(Config{Store: "disk://data/guestbook.json", DiskDisableWatch: true})
	if err != nil {
		t.Fatalf("BuildDiskConfig: %v", err)
	}
	if !cfg.DisableWatch {
		t.Error("DisableWatch not propagated")
	}
}

func TestBuildDiskConfigRejectsEmptyPath(t *testing.T) {
	if _, err := BuildDiskConfig(Config{Store: "disk://"}); err == nil {
		t.Fatal("empty disk path accepted")
	}
}

func TestBuildS3Config(t *testing.T) {
	cfg, err := BuildS3Config(Config{Store: "s3://minio.local:9000/guestbook/prod?insecure=1&path-style=true&region=eu-north-1"})
	if err != nil {
		t.Fatalf("BuildS3Config: %v", err)
	}
	if cfg.Endpoint != "minio.local:9000" {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	if cfg.Bucket != "guestbook" || cfg.Prefix != "prod" {
		t.Errorf("Bucket/Prefix = %q/%q", cfg.Bucket, cfg.Prefix)
	}
	if !cfg.Insecure {
		t.Error("insecure=1 not honored")
	}
	if !cfg.ForcePathStyle {
		t.Error("path-style=true not honored")
	}
	if cfg.Region != "eu-north-1" {
		t.Errorf("Region = %q", cfg.Region)
	}
}

func TestBuildS3ConfigDefaultsToTLS(t *testing.T) {
	cfg, err := BuildS3Config(Config{Store: "s3://s3.amazonaws.com/guestbook"})
	if err != nil {
		t.Fatalf("BuildS3Config: %v", err)
	}
	if cfg.Insecure {
		t.Error("TLS not the default")
	}
	if cfg.Prefix != "" {
		t.Errorf("Prefix = %q", cfg.Prefix)
	}
}

func TestBuildS3ConfigStaticCredentials(t *testing.T) {
	cfg, err := BuildS3Config(Config{
		Store:             "s3://minio.local:9000/guestbook",
		S3AccessKeyID:     "minioadmin",
		S3SecretAccessKey: "minioadmin",
	})
	if err != nil {
		t.Fatalf("BuildS3Config: %v", err)
	}
	if cfg.CustomCreds == nil {
		t.Error("static credentials not configured")
	}
	if _, err := BuildS3Config(Config{
		Store:         "s3://minio.local:9000/guestbook",
		S3AccessKeyID: "minioadmin",
	}); err == nil {
		t.Error("half-configured credentials accepted")
	}
}

func TestBuildS3ConfigErrors(t *testing.T) {
	for _, store := range []string{"s3://", "s3://host", "s3://host/"} {
		if _, err := BuildS3Config(Config{Store: store}); err == nil {
			t.Errorf("BuildS3Config(%q) accepted", store)
		}
	}
}

func TestOpenBackendRejectsUnknownScheme(t *testing.T) {
	if _, err := openBackend(Config{Store: "redis://localhost"}, nil); err == nil {
		t.Fatal("unknown scheme accepted")
	}
}
