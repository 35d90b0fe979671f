// Package storage mirrors provider-hosted media into durable object
// storage. WhatsApp media URLs expire, so every incoming photo is copied
// into our bucket before anything downstream looks at it.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"pazarglobal/internal/util"
)

// ObjectStore provides access to object storage.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// MediaMirror copies an external media URL into durable storage and
// returns an addressable URL for the stored copy.
type MediaMirror interface {
	MirrorURL(ctx context.Context, srcURL string) (string, error)
}

// MinioStore implements ObjectStore and MediaMirror for MinIO/S3
// compatible storage.
type MinioStore struct {
	client *minio.Client
	bucket string
	// Twilio media URLs require basic auth with the account credentials.
	fetchUser string
	fetchPass string
	httpc     *http.Client
	presign   time.Duration
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
// fetchUser/fetchPass may be empty when source URLs need no auth.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool, fetchUser, fetchPass string) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{
		client:    client,
		bucket:    bucket,
		fetchUser: fetchUser,
		fetchPass: fetchPass,
		httpc:     &http.Client{Timeout: 30 * time.Second},
		presign:   7 * 24 * time.Hour,
	}, nil
}

// Put uploads an object.
func (m *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// PresignGet generates a pre-signed GET URL.
func (m *MinioStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	url, err := m.client.PresignedGetObject(ctx, m.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return url.String(), nil
}

// Delete removes an object.
func (m *MinioStore) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// MirrorURL downloads srcURL and stores it under a fresh key, returning
// a presigned URL for the stored copy.
func (m *MinioStore) MirrorURL(ctx context.Context, srcURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetch media: %w", err)
	}
	if m.fetchUser != "" {
		req.SetBasicAuth(m.fetchUser, m.fetchPass)
	}
	resp, err := m.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch media: %s", resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := "media/" + util.NewID() + extForContentType(contentType, srcURL)
	if err := m.Put(ctx, key, resp.Body, resp.ContentLength, contentType); err != nil {
		return "", err
	}
	return m.PresignGet(ctx, key, m.presign)
}

func extForContentType(contentType, srcURL string) string {
	switch {
	case strings.HasPrefix(contentType, "image/jpeg"):
		return ".jpg"
	case strings.HasPrefix(contentType, "image/png"):
		return ".png"
	case strings.HasPrefix(contentType, "image/webp"):
		return ".webp"
	}
	if ext := path.Ext(strings.SplitN(srcURL, "?", 2)[0]); ext != "" && len(ext) <= 5 {
		return ext
	}
	return ""
}

// PassthroughMirror returns source URLs unchanged. Used when object
// storage is not configured and for tests.
type PassthroughMirror struct{}

func (PassthroughMirror) MirrorURL(ctx context.Context, srcURL string) (string, error) {
	return srcURL, nil
}
