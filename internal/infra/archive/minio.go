package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/you-humble/docconv/internal/domain"
)

const codeNoSuchKey = "NoSuchKey"

type minioStore struct {
	db       *minio.Client
	bucket   string
	basePath string
}

// NewMinIOStore keeps converted artifacts under basePath in bucket. The
// bucket must already exist.
func NewMinIOStore(client *minio.Client, bucket, basePath string) *minioStore {
	basePath = strings.Trim(basePath, "/")
	if basePath != "" {
		basePath += "/"
	}

	return &minioStore{
		db:       client,
		bucket:   bucket,
		basePath: basePath,
	}
}

// Archive uploads the local file under name and returns the object key.
func (s *minioStore) Archive(ctx context.Context, localPath, name string) (string, error) {
	key, err := s.objectName(name)
	if err != nil {
		return "", err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat artifact: %w", err)
	}

	_, err = s.db.PutObject(ctx, s.bucket, key, f, st.Size(), minio.PutObjectOptions{
		ContentType: contentType(name),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	return key, nil
}

// Open streams an archived artifact by its converted name.
func (s *minioStore) Open(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	default:
	}

	key, err := s.objectName(name)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", domain.ErrArtifactNotFound, err)
	}

	obj, err := s.db.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("get object: %w", err)
	}

	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		if resp := minio.ToErrorResponse(err); resp.Code == codeNoSuchKey {
			return nil, 0, fmt.Errorf("%w: %s", domain.ErrArtifactNotFound, name)
		}
		return nil, 0, fmt.Errorf("stat object: %w", err)
	}

	return obj, st.Size, nil
}

// Remove deletes an object by key. A missing object is not an error.
func (s *minioStore) Remove(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	err := s.db.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		var merr minio.ErrorResponse
		if errors.As(err, &merr) && merr.Code == codeNoSuchKey {
			return nil
		}
		return fmt.Errorf("remove object: %w", err)
	}

	return nil
}

func (s *minioStore) objectName(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("empty filename")
	}

	if name != path.Base(name) || strings.ContainsRune(name, '\\') || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid filename: %s", name)
	}

	return s.basePath + name, nil
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return domain.MediaTypePDF
	case ".docx":
		return domain.MediaTypeDOCX
	case ".doc":
		return domain.MediaTypeDOC
	default:
		return "application/octet-stream"
	}
}
