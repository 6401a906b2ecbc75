package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	fileutil "insightxr/internal/file"
)

// objectMeta is stored next to each object under .meta/.
type objectMeta struct {
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Local stores objects as files under dataDir/<bucket>/<object>.
type Local struct {
	dataDir string
	baseURL string
}

func NewLocal(dataDir, publicBaseURL string) (*Local, error) {
	if dataDir == "" {
		dataDir = "data"
	}
	if err := fileutil.EnsureDir(dataDir); err != nil {
		return nil, fmt.Errorf("local store: %w", err)
	}
	if publicBaseURL == "" {
		publicBaseURL = "/objects"
	}
	return &Local{dataDir: dataDir, baseURL: publicBaseURL}, nil
}

func (l *Local) objectPath(bucket, objectName string) string {
	return filepath.Join(l.dataDir, bucket, objectName)
}

func (l *Local) metaPath(bucket, objectName string) string {
	return filepath.Join(l.dataDir, bucket, ".meta", objectName+".json")
}

func (l *Local) Upload(ctx context.Context, bucket, objectName string, body io.Reader, size int64, contentType string) (string, error) { //nolint:revive // context reserved for future use
	if err := validName(bucket, objectName); err != nil {
		return "", err
	}
	written, err := fileutil.CopyAtomic(l.objectPath(bucket, objectName), body)
	if err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	if size > 0 && written != size {
		_ = os.Remove(l.objectPath(bucket, objectName))
		return "", fmt.Errorf("short write: got %d of %d bytes", written, size)
	}
	if err := fileutil.WriteJSONAtomic(l.metaPath(bucket, objectName), objectMeta{ContentType: contentType, Size: written}); err != nil {
		return "", fmt.Errorf("write object meta: %w", err)
	}
	return l.PublicURL(bucket, objectName), nil
}

func (l *Local) PublicURL(bucket, objectName string) string {
	return joinPublicURL(l.baseURL, bucket, objectName)
}

func (l *Local) Copy(ctx context.Context, bucket, sourceName, destName string) error { //nolint:revive // context reserved for future use
	if err := validName(bucket, sourceName); err != nil {
		return err
	}
	if err := validName(bucket, destName); err != nil {
		return err
	}
	src, err := os.Open(l.objectPath(bucket, sourceName))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("copy %s: %w", sourceName, ErrObjectNotFound)
		}
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	written, err := fileutil.CopyAtomic(l.objectPath(bucket, destName), src)
	if err != nil {
		return fmt.Errorf("write copy: %w", err)
	}
	var meta objectMeta
	if err := fileutil.ReadJSON(l.metaPath(bucket, sourceName), &meta); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read source meta: %w", err)
	}
	meta.Size = written
	if err := fileutil.WriteJSONAtomic(l.metaPath(bucket, destName), meta); err != nil {
		return fmt.Errorf("write copy meta: %w", err)
	}
	return nil
}

func (l *Local) Remove(ctx context.Context, bucket string, objectNames []string) error { //nolint:revive // context reserved for future use
	var errs []error
	for _, name := range objectNames {
		if err := validName(bucket, name); err != nil {
			errs = append(errs, fmt.Errorf("remove %q: %w", name, err))
			continue
		}
		if err := os.Remove(l.objectPath(bucket, name)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", name, err))
			continue
		}
		_ = os.Remove(l.metaPath(bucket, name))
	}
	return errors.Join(errs...)
}

func (l *Local) Stat(ctx context.Context, bucket, objectName string) error { //nolint:revive // context reserved for future use
	if err := validName(bucket, objectName); err != nil {
		return err
	}
	if _, err := os.Stat(l.objectPath(bucket, objectName)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("stat %s: %w", objectName, ErrObjectNotFound)
		}
		return fmt.Errorf("stat %s: %w", objectName, err)
	}
	return nil
}

// Open returns the object file and its recorded content type for serving.
func (l *Local) Open(bucket, objectName string) (*os.File, string, error) {
	if err := validName(bucket, objectName); err != nil {
		return nil, "", err
	}
	f, err := os.Open(l.objectPath(bucket, objectName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrObjectNotFound
		}
		return nil, "", fmt.Errorf("open object: %w", err)
	}
	var meta objectMeta
	if err := fileutil.ReadJSON(l.metaPath(bucket, objectName), &meta); err != nil || meta.ContentType == "" {
		meta.ContentType = "application/octet-stream"
	}
	return f, meta.ContentType, nil
}
