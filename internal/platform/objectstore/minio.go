package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

// Mirror uploads node artifacts (block0, genesis) so operators can fetch them
// without database access.
type Mirror struct {
	client *minio.Client
	cfg    Config
}

func NewMirror(cfg Config) (*Mirror, error) {
	client, err := NewMinIOClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Mirror{client: client, cfg: cfg}, nil
}

// PutFile uploads the file at path under key, creating the bucket on first use.
func (m *Mirror) PutFile(ctx context.Context, key, path, contentType string) error {
	if m == nil || m.client == nil {
		return errors.New("object store mirror not initialized")
	}
	if err := ensureBucket(ctx, m.client, m.cfg.Bucket, m.cfg.Region); err != nil {
		return fmt.Errorf("ensure bucket %s: %w", m.cfg.Bucket, err)
	}
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := m.client.FPutObject(ctx, m.cfg.Bucket, m.cfg.ObjectKey(key), path, opts); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
