package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidObject  = errors.New("invalid bucket or object name")
)

// ObjectStore is durable object storage keyed by object name within a bucket.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, objectName string, body io.Reader, size int64, contentType string) (string, error)
	PublicURL(bucket, objectName string) string
	Copy(ctx context.Context, bucket, sourceName, destName string) error
	Remove(ctx context.Context, bucket string, objectNames []string) error
}

// Statter is implemented by stores that can confirm an object exists.
type Statter interface {
	Stat(ctx context.Context, bucket, objectName string) error
}

// Options selects and configures a driver.
type Options struct {
	Driver        string
	DataDir       string
	PublicBaseURL string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	Bucket        string
}

const (
	DriverMemory = "memory"
	DriverLocal  = "local"
	DriverMinio  = "minio"
)

// Open builds the store named by opts.Driver.
func Open(ctx context.Context, opts Options) (ObjectStore, error) { //nolint:ireturn
	switch opts.Driver {
	case "", DriverMemory:
		return NewMemory(opts.PublicBaseURL), nil
	case DriverLocal:
		return NewLocal(opts.DataDir, opts.PublicBaseURL)
	case DriverMinio:
		return NewMinio(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}

func validName(bucket, objectName string) error {
	if bucket == "" || objectName == "" {
		return ErrInvalidObject
	}
	if strings.ContainsAny(bucket, `/\`) || strings.ContainsAny(objectName, `/\`) {
		return ErrInvalidObject
	}
	if bucket == "." || bucket == ".." || objectName == "." || objectName == ".." {
		return ErrInvalidObject
	}
	return nil
}

func joinPublicURL(base, bucket, objectName string) string {
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(bucket) + "/" + url.PathEscape(objectName)
}
