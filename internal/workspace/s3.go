package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3 implements Store on an S3-compatible bucket (AWS S3 or MinIO), for
// workspaces shared between analysis hosts. Single bucket; names map to
// object keys under an optional prefix.
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config holds explicit construction parameters. Production deployments
// usually go through OpenS3FromEnv instead.
type S3Config struct {
	Region    string
	Bucket    string
	Prefix    string
	Endpoint  string // optional; custom endpoint (e.g. MinIO)
	PathStyle bool
}

// Environment variables:
//
//	BIOIMAGEIT_WORKSPACE_S3_BUCKET=<bucket> (required)
//	BIOIMAGEIT_WORKSPACE_S3_REGION=<region> (default us-east-1)
//	BIOIMAGEIT_WORKSPACE_S3_PREFIX=<key prefix> (optional)
//	BIOIMAGEIT_WORKSPACE_S3_ENDPOINT=<url> (optional, for MinIO)
//	BIOIMAGEIT_WORKSPACE_S3_PATH_STYLE=true|false (default false)
//	AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY / AWS_SESSION_TOKEN (optional)

// NewS3 creates an S3 workspace from S3Config.
func NewS3(ctx context.Context, cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

// OpenS3FromEnv constructs an S3 workspace from process environment.
func OpenS3FromEnv(ctx context.Context) (*S3, error) {
	bucket := os.Getenv("BIOIMAGEIT_WORKSPACE_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("BIOIMAGEIT_WORKSPACE_S3_BUCKET required for s3 driver")
	}
	cfg := S3Config{
		Bucket:    bucket,
		Region:    os.Getenv("BIOIMAGEIT_WORKSPACE_S3_REGION"),
		Prefix:    os.Getenv("BIOIMAGEIT_WORKSPACE_S3_PREFIX"),
		Endpoint:  os.Getenv("BIOIMAGEIT_WORKSPACE_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("BIOIMAGEIT_WORKSPACE_S3_PATH_STYLE"), "true"),
	}
	return NewS3(ctx, cfg)
}

func (s *S3) Driver() Driver { return DriverS3 }

func (s *S3) keyFor(name string) (string, error) {
	n, err := sanitizeName(name)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return n, nil
	}
	return s.prefix + "/" + n, nil
}

func (s *S3) URI(name string) string {
	key, err := s.keyFor(name)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

func (s *S3) Stage(ctx context.Context, name string, r io.Reader) (Entry, error) {
	key, err := s.keyFor(name)
	if err != nil {
		return Entry{}, err
	}
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{Bucket: &s.bucket, Key: &key, Body: r}); err != nil {
		return Entry{}, err
	}
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		return Entry{}, err
	}
	return s.entryFor(name, head.ContentLength, head.LastModified), nil
}

func (s *S3) entryFor(name string, size *int64, modTime *time.Time) Entry {
	entry := Entry{Name: name, Location: s.URI(name)}
	if size != nil {
		entry.Size = *size
	}
	if modTime != nil {
		entry.ModTime = *modTime
	}
	return entry
}

func isMissingObject(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

func (s *S3) Open(ctx context.Context, name string) (Entry, io.ReadCloser, error) {
	key, err := s.keyFor(name)
	if err != nil {
		return Entry{}, nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		if isMissingObject(err) {
			return Entry{}, nil, ErrNotStaged
		}
		return Entry{}, nil, err
	}
	return s.entryFor(name, out.ContentLength, out.LastModified), out.Body, nil
}

func (s *S3) Discard(ctx context.Context, name string) (bool, error) {
	key, err := s.keyFor(name)
	if err != nil {
		return false, err
	}
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		if isMissingObject(err) {
			return false, nil
		}
		return false, err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &key}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *S3) List(ctx context.Context, prefix string) ([]Entry, error) {
	keyPrefix := s.prefix
	if keyPrefix != "" {
		keyPrefix += "/"
	}
	keyPrefix += prefix
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: &s.bucket, Prefix: &keyPrefix})
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(out.Contents))
	for _, obj := range out.Contents {
		if obj.Key == nil {
			continue
		}
		name := strings.TrimPrefix(*obj.Key, s.prefix)
		name = strings.TrimPrefix(name, "/")
		entries = append(entries, s.entryFor(name, obj.Size, obj.LastModified))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

var _ Store = (*S3)(nil)
