package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"clipd/internal/modelstore"
)

// S3Config configures an S3Fetcher against an S3-compatible mirror.
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Region          string
	Bucket          string
	// Prefix is prepended to the escaped model directory name.
	Prefix string
	Log    zerolog.Logger
}

// S3Fetcher mirrors models from an object store laid out like the local cache:
// <bucket>/<prefix>/<escaped model id>/...
type S3Fetcher struct {
	client *minio.Client
	bucket string
	prefix string
	log    zerolog.Logger
}

// NewS3Fetcher connects a minio client for cfg.
func NewS3Fetcher(cfg S3Config) (*S3Fetcher, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("s3 endpoint cannot be empty")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket cannot be empty")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}
	return &S3Fetcher{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/"), log: cfg.Log}, nil
}

// objectPrefix returns the key prefix holding modelID's files.
func (s *S3Fetcher) objectPrefix(modelID string) (string, error) {
	dir, err := modelstore.EscapeModelID(modelID)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return dir + "/", nil
	}
	return path.Join(s.prefix, dir) + "/", nil
}

// Fetch downloads every object under the model prefix.
func (s *S3Fetcher) Fetch(ctx context.Context, modelID, dest string) error {
	prefix, err := s.objectPrefix(modelID)
	if err != nil {
		return err
	}
	n := 0
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("list %s/%s: %w", s.bucket, prefix, obj.Err)
		}
		rel := strings.TrimPrefix(obj.Key, prefix)
		if strings.HasSuffix(rel, "/") || !safeRelPath(rel) {
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(rel))
		tmp := partName(target)
		if err := s.client.FGetObject(ctx, s.bucket, obj.Key, tmp, minio.GetObjectOptions{}); err != nil {
			_ = os.Remove(tmp)
			return fmt.Errorf("get %s: %w", obj.Key, err)
		}
		if err := os.Rename(tmp, target); err != nil {
			return err
		}
		n++
		s.log.Debug().Str("key", obj.Key).Int64("bytes", obj.Size).Msg("downloaded")
	}
	if n == 0 {
		return fmt.Errorf("no objects under s3://%s/%s", s.bucket, prefix)
	}
	return nil
}
