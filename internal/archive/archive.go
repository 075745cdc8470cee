package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"event-extractor/internal/config"
)

// Archiver stores raw API page bodies under a slash separated key.
type Archiver interface {
	Put(ctx context.Context, key string, body []byte) error
}

// New picks the archive backend from cfg. It returns nil, nil when
// archiving is disabled.
func New(ctx context.Context, cfg config.Config) (Archiver, error) {
	switch strings.ToLower(cfg.ArchiveDestination) {
	case "", "none":
		return nil, nil
	case "local":
		dir := cfg.ArchiveDir
		if dir == "" {
			dir = "./archive"
		}
		return &Local{BaseDir: dir}, nil
	case "s3":
		if cfg.ArchiveS3Bucket == "" {
			return nil, errors.New("archive destination s3 requested but ARCHIVE_S3_BUCKET is not configured")
		}
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &S3{client: client, bucket: cfg.ArchiveS3Bucket}, nil
	default:
		return nil, fmt.Errorf("unknown archive destination %q", cfg.ArchiveDestination)
	}
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.ArchiveS3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ArchiveS3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.ArchiveS3Endpoint)
		}
		o.UsePathStyle = cfg.ArchiveS3PathStyle
	}), nil
}

func sanitizeKey(key string) (string, error) {
	key = filepath.ToSlash(filepath.Clean("/" + key))
	key = strings.TrimPrefix(key, "/")
	if key == "" || key == "." {
		return "", errors.New("empty archive key")
	}
	return key, nil
}

// Local writes pages below BaseDir.
type Local struct {
	BaseDir string
}

func (l *Local) Put(_ context.Context, key string, body []byte) error {
	key, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	path := filepath.Join(l.BaseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// S3 uploads pages to a bucket.
type S3 struct {
	client *s3.Client
	bucket string
}

func (s *S3) Put(ctx context.Context, key string, body []byte) error {
	key, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put object s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
