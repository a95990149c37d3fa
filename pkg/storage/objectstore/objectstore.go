package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config contains the information required to talk to an object store.
type Config struct {
	Provider      string
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	PublicBaseURL string
}

// PutOptions carries the per-object headers set on upload.
type PutOptions struct {
	ContentType  string
	CacheControl string
	Metadata     map[string]string
}

// Client represents the capabilities the pipeline expects from durable storage.
type Client interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, opts PutOptions) error
	PutFile(ctx context.Context, key, path string, opts PutOptions) error
	Download(ctx context.Context, key, path string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	PublicURL(key string) string
	Close() error
}

// New creates an object store client based on the given configuration.
func New(cfg Config) (Client, error) {
	switch cfg.Provider {
	case "minio", "s3", "gcs":
		return newMinioClient(cfg)
	case "memory":
		return NewMemory(cfg.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported object store provider: %s", cfg.Provider)
	}
}

// JoinURL joins a public base URL and an object key with exactly one slash.
func JoinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

type minioClient struct {
	client     *minio.Client
	bucket     string
	publicBase string
}

func newMinioClient(cfg Config) (Client, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
	cl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	return &minioClient{client: cl, bucket: cfg.Bucket, publicBase: cfg.PublicBaseURL}, nil
}

func (m *minioClient) Put(ctx context.Context, key string, reader io.Reader, size int64, opts PutOptions) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, reader, size, putObjectOptions(opts))
	return err
}

func (m *minioClient) PutFile(ctx context.Context, key, path string, opts PutOptions) error {
	_, err := m.client.FPutObject(ctx, m.bucket, key, path, putObjectOptions(opts))
	return err
}

func (m *minioClient) Download(ctx context.Context, key, path string) error {
	return m.client.FGetObject(ctx, m.bucket, key, path, minio.GetObjectOptions{})
}

func (m *minioClient) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (m *minioClient) PublicURL(key string) string {
	return JoinURL(m.publicBase, key)
}

func (m *minioClient) Close() error {
	return nil
}

func putObjectOptions(opts PutOptions) minio.PutObjectOptions {
	return minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
		UserMetadata: opts.Metadata,
	}
}
