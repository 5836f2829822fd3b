// Package artifacts implements node.Artifacts (§6 "Artifact storage"): the
// per-attempt working directory a Group creates on prepare and removes on
// unprepare. Store wraps github.com/aws/aws-sdk-go-v2/service/s3 through the
// same narrow storage.S3Client seam the teacher's storage package defines
// (HeadBucket/PutObject/CreateBucket/GetObject/HeadObject), grounded on its
// storage.S3AWS wrapper; when ARTIFACT_ROOT isn't an s3:// URL, New returns a
// local-filesystem implementation instead, so a single-node dev deployment
// needs no bucket at all.
package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"cm.lsst.io/node"
	"cm.lsst.io/storage"
)

// New builds the artifact store named by root: an "s3://bucket/prefix" URL
// selects the S3-backed Store, anything else is treated as a local
// filesystem root.
func New(ctx context.Context, root string) (node.Artifacts, error) {
	if strings.HasPrefix(root, "s3://") {
		return newS3Store(ctx, root)
	}
	return NewLocalStore(root), nil
}

// S3Store implements node.Artifacts against a single S3 bucket, using a
// zero-byte object with a trailing slash as a directory marker (S3 has no
// native directory concept).
type S3Store struct {
	client storage.S3Client
	bucket string
	prefix string
}

func newS3Store(ctx context.Context, root string) (*S3Store, error) {
	rest := strings.TrimPrefix(root, "s3://")
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return nil, fmt.Errorf("artifacts: invalid s3 root %q: missing bucket", root)
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifacts: load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
			return nil, fmt.Errorf("artifacts: ensure bucket %s: %w", bucket, err)
		}
	}

	return &S3Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (s *S3Store) key(p string) string {
	p = strings.TrimPrefix(p, "/")
	if s.prefix == "" {
		return p
	}
	return s.prefix + "/" + p
}

// CreateDir writes a zero-byte marker object at path+"/" so Exists can find
// an otherwise-empty directory.
func (s *S3Store) CreateDir(ctx context.Context, dirPath string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(dirPath) + "/"),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return fmt.Errorf("artifacts: create dir %s: %w", dirPath, err)
	}
	return nil
}

// RemoveDir deletes every object under path, including the directory marker.
func (s *S3Store) RemoveDir(ctx context.Context, dirPath string) error {
	prefix := s.key(dirPath) + "/"
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return fmt.Errorf("artifacts: list %s: %w", dirPath, err)
	}

	deleter, ok := s.client.(interface {
		DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	})
	if !ok {
		return fmt.Errorf("artifacts: remove dir %s: client does not support DeleteObject", dirPath)
	}
	for _, obj := range out.Contents {
		if obj.Key == nil {
			continue
		}
		if _, err := deleter.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    obj.Key,
		}); err != nil {
			return fmt.Errorf("artifacts: delete %s: %w", *obj.Key, err)
		}
	}
	return nil
}

func (s *S3Store) WriteFile(ctx context.Context, filePath string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(filePath)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("artifacts: write file %s: %w", filePath, err)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, checkPath string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(checkPath)),
	})
	if err == nil {
		return true, nil
	}
	if !isNoSuchKey(err) {
		return false, fmt.Errorf("artifacts: head %s: %w", checkPath, err)
	}
	// Try again as a directory marker.
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(checkPath) + "/"),
	})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, fmt.Errorf("artifacts: head %s: %w", checkPath, err)
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	return strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound")
}

// LocalStore implements node.Artifacts against a local filesystem root, used
// when ARTIFACT_ROOT is not an s3:// URL (single-node dev and test runs).
type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (l *LocalStore) resolve(p string) string {
	return filepath.Join(l.root, filepath.FromSlash(path.Clean("/"+p)))
}

func (l *LocalStore) CreateDir(ctx context.Context, dirPath string) error {
	if err := os.MkdirAll(l.resolve(dirPath), 0o755); err != nil {
		return fmt.Errorf("artifacts: create dir %s: %w", dirPath, err)
	}
	return nil
}

func (l *LocalStore) RemoveDir(ctx context.Context, dirPath string) error {
	if err := os.RemoveAll(l.resolve(dirPath)); err != nil {
		return fmt.Errorf("artifacts: remove dir %s: %w", dirPath, err)
	}
	return nil
}

func (l *LocalStore) WriteFile(ctx context.Context, filePath string, data []byte) error {
	full := l.resolve(filePath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("artifacts: write file %s: %w", filePath, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("artifacts: write file %s: %w", filePath, err)
	}
	return nil
}

func (l *LocalStore) Exists(ctx context.Context, checkPath string) (bool, error) {
	_, err := os.Stat(l.resolve(checkPath))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("artifacts: stat %s: %w", checkPath, err)
}
