// Package s3 implements a storage backend that keeps the guestbook document
// as a single object in S3-compatible object storage.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pkt.systems/guestbookd/api"
	"pkt.systems/guestbookd/internal/storage"
)

// objectName is the key of the guestbook document inside the bucket prefix.
const objectName = "guestbook.json"

// maxDocumentBytes caps how much of the object Load will read.
const maxDocumentBytes = 32 << 20

// Config controls the behaviour of the S3 storage backend.
type Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	Prefix         string
	Insecure       bool
	ForcePathStyle bool
	CustomCreds    *credentials.Credentials
	Transport      http.RoundTripper
}

// Store implements storage.Backend backed by S3-compatible object storage.
type Store struct {
	client *minio.Client
	cfg    Config
	object string
}

// New validates cfg and builds the MinIO client.
func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.Region != "" {
			endpoint = fmt.Sprintf("s3.%s.amazonaws.com", cfg.Region)
		} else {
			endpoint = "s3.amazonaws.com"
		}
	}
	if cfg.Transport == nil {
		cfg.Transport = defaultTransport()
	}
	var creds *credentials.Credentials
	if cfg.CustomCreds != nil {
		creds = cfg.CustomCreds
	} else {
		chain := []credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		}
		creds = credentials.NewChainCredentials(chain)
	}
	options := &minio.Options{
		Creds:     creds,
		Secure:    !cfg.Insecure,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	}
	if cfg.ForcePathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}
	client, err := minio.New(endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	object := objectName
	if cfg.Prefix != "" {
		object = path.Join(cfg.Prefix, objectName)
	}
	return &Store{client: client, cfg: cfg, object: object}, nil
}

func defaultTransport() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return http.DefaultTransport
	}
	clone := base.Clone()
	if clone.MaxIdleConnsPerHost == 0 {
		clone.MaxIdleConnsPerHost = 16
	}
	if clone.IdleConnTimeout == 0 {
		clone.IdleConnTimeout = 90 * time.Second
	}
	if clone.TLSHandshakeTimeout == 0 {
		clone.TLSHandshakeTimeout = 10 * time.Second
	}
	return clone
}

// BucketExists reports whether the configured bucket exists. Used as a
// startup readiness probe.
func (s *Store) BucketExists(ctx context.Context) (bool, error) {
	return s.client.BucketExists(ctx, s.cfg.Bucket)
}

// Load downloads and decodes the guestbook object.
func (s *Store) Load(ctx context.Context) ([]api.Entry, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, s.object, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("s3: get object: %w", err)
	}
	defer obj.Close()
	payload, err := io.ReadAll(io.LimitReader(obj, maxDocumentBytes))
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("s3: read object: %w", err)
	}
	return storage.DecodeDocument(payload)
}

// Save uploads entries as the full guestbook object.
func (s *Store) Save(ctx context.Context, entries []api.Entry) error {
	payload, err := storage.EncodeDocument(entries)
	if err != nil {
		return err
	}
	opts := minio.PutObjectOptions{ContentType: storage.ContentTypeJSON}
	if _, err := s.client.PutObject(ctx, s.cfg.Bucket, s.object, bytes.NewReader(payload), int64(len(payload)), opts); err != nil {
		return fmt.Errorf("s3: put object: %w", err)
	}
	return nil
}

// Close satisfies storage.Backend and is a no-op for the S3 client.
func (s *Store) Close() error { return nil }

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) {
		return false
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return true
		}
		return resp.StatusCode == http.StatusNotFound
	}
	return false
}
