package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Minio talks to an S3 compatible object store.
type Minio struct {
	client  *minio.Client
	baseURL string
}

// NewMinio connects to opts.Endpoint and makes sure opts.Bucket exists.
func NewMinio(ctx context.Context, opts Options) (*Minio, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	if opts.Bucket != "" {
		exists, err := client.BucketExists(ctx, opts.Bucket)
		if err != nil {
			return nil, fmt.Errorf("check bucket existence: %w", err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
				return nil, fmt.Errorf("create bucket: %w", err)
			}
		}
	}

	baseURL := opts.PublicBaseURL
	if baseURL == "" {
		baseURL = client.EndpointURL().String()
	}
	return &Minio{client: client, baseURL: baseURL}, nil
}

func (m *Minio) Upload(ctx context.Context, bucket, objectName string, body io.Reader, size int64, contentType string) (string, error) {
	if err := validName(bucket, objectName); err != nil {
		return "", err
	}
	if size <= 0 {
		size = -1
	}
	_, err := m.client.PutObject(ctx, bucket, objectName, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err //nolint:wrapcheck // store message is surfaced verbatim
	}
	return m.PublicURL(bucket, objectName), nil
}

func (m *Minio) PublicURL(bucket, objectName string) string {
	return joinPublicURL(m.baseURL, bucket, objectName)
}

func (m *Minio) Copy(ctx context.Context, bucket, sourceName, destName string) error {
	if err := validName(bucket, destName); err != nil {
		return err
	}
	_, err := m.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: bucket, Object: destName},
		minio.CopySrcOptions{Bucket: bucket, Object: sourceName},
	)
	if err != nil {
		return translateMinioErr(err)
	}
	return nil
}

func (m *Minio) Remove(ctx context.Context, bucket string, objectNames []string) error {
	var errs []error
	for _, name := range objectNames {
		if err := m.client.RemoveObject(ctx, bucket, name, minio.RemoveObjectOptions{}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Minio) Stat(ctx context.Context, bucket, objectName string) error {
	if _, err := m.client.StatObject(ctx, bucket, objectName, minio.StatObjectOptions{}); err != nil {
		return fmt.Errorf("stat %s: %w", objectName, translateMinioErr(err))
	}
	return nil
}

func translateMinioErr(err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrObjectNotFound
	}
	return err
}
