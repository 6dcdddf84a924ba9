// Package media stores images embedded in uploaded documents and returns the
// URL questions should reference them by.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Sink persists an image and returns the URL to reference it by.
type Sink interface {
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error)
}

var ErrNotDataURI = errors.New("not a data URI")

// DecodeDataURI splits a base64 "data:" URI into its content type and bytes.
func DecodeDataURI(s string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, ErrNotDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URI")
	}
	contentType, isBase64 := strings.CutSuffix(meta, ";base64")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if !isBase64 {
		text, err := url.PathUnescape(payload)
		if err != nil {
			return "", nil, fmt.Errorf("decode data URI: %w", err)
		}
		return contentType, []byte(text), nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URI: %w", err)
	}
	return contentType, data, nil
}

// Resolve stores src through sink when it is a data URI and returns the
// resulting URL. Other sources, and every source when sink is nil, are
// returned unchanged.
func Resolve(ctx context.Context, sink Sink, src string) (string, error) {
	if sink == nil || !strings.HasPrefix(src, "data:") {
		return src, nil
	}
	contentType, data, err := DecodeDataURI(src)
	if err != nil {
		return "", err
	}
	name := uuid.NewString() + extensionFor(contentType)
	return sink.Put(ctx, name, bytes.NewReader(data), int64(len(data)), contentType)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	}
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

// LocalSink writes images under Dir and serves them below URLPrefix.
type LocalSink struct {
	Dir       string
	URLPrefix string
}

func (s *LocalSink) Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(filepath.Join(s.Dir, filepath.Base(name)))
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return "", err
	}
	return strings.TrimSuffix(s.URLPrefix, "/") + "/" + filepath.Base(name), nil
}

// MinioConfig holds connection settings for a MinIO or S3-compatible bucket.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
	// PublicURL is prepended to object names; defaults to the endpoint URL.
	PublicURL string
}

// MinioSink uploads images to a bucket.
type MinioSink struct {
	cfg    MinioConfig
	client *minio.Client
}

func NewMinioSink(cfg MinioConfig) (*MinioSink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	if cfg.PublicURL == "" {
		scheme := "http"
		if cfg.Secure {
			scheme = "https"
		}
		cfg.PublicURL = scheme + "://" + cfg.Endpoint
	}
	return &MinioSink{cfg: cfg, client: client}, nil
}

func (s *MinioSink) Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, name, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", name, err)
	}
	return strings.TrimSuffix(s.cfg.PublicURL, "/") + "/" + s.cfg.Bucket + "/" + name, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioSink) EnsureBucket(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.cfg.Bucket, err)
	}
	if ok {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}
