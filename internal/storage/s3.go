package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/sirupsen/logrus"
)

// S3Config holds configuration for the S3 store
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	Region          string
	Prefix          string
}

// S3Store keeps files in an S3-compatible bucket. Folders are key prefixes,
// so EnsureDateFolder never touches the bucket.
type S3Store struct {
	client   s3iface.S3API
	bucket   string
	prefix   string
	endpoint string
	region   string
	log      logrus.FieldLogger
}

// NewS3Store creates a store; static credentials are used when given,
// otherwise the default AWS credential chain applies
func NewS3Store(cfg *S3Config, log logrus.FieldLogger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is not configured")
	}

	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKeyID != "" && cfg.AccessKeySecret != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.AccessKeySecret, "")
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 session: %w", err)
	}
	return NewS3StoreWithClient(s3.New(sess), cfg, log), nil
}

// NewS3StoreWithClient wraps an existing client
func NewS3StoreWithClient(client s3iface.S3API, cfg *S3Config, log logrus.FieldLogger) *S3Store {
	return &S3Store{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		region:   cfg.Region,
		log:      log,
	}
}

func (s *S3Store) key(ref string) string {
	if s.prefix == "" {
		return ref
	}
	return s.prefix + "/" + ref
}

func (s *S3Store) EnsureDateFolder(_ context.Context, date time.Time) (string, error) {
	return DateFolder(date), nil
}

func (s *S3Store) SaveFile(ctx context.Context, data []byte, name, folder string) (string, error) {
	ref := path.Join(folder, path.Base(name))
	contentType := "application/octet-stream"
	if strings.EqualFold(path.Ext(name), ".pdf") {
		contentType = "application/pdf"
	}
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(ref)),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	s.log.WithFields(logrus.Fields{"key": s.key(ref), "bytes": len(data)}).Debug("File uploaded")
	return ref, nil
}

func (s *S3Store) MoveFile(ctx context.Context, fileRef, folder string) (string, error) {
	return s.move(ctx, fileRef, path.Join(folder, path.Base(fileRef)))
}

func (s *S3Store) RenameFile(ctx context.Context, fileRef, newName string) (string, error) {
	return s.move(ctx, fileRef, path.Join(path.Dir(fileRef), path.Base(newName)))
}

// move copies then deletes; S3 has no rename
func (s *S3Store) move(ctx context.Context, from, to string) (string, error) {
	if from == to {
		return to, nil
	}
	source := url.PathEscape(s.bucket) + "/" + escapeKey(s.key(from))
	_, err := s.client.CopyObjectWithContext(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.key(to)),
		CopySource: aws.String(source),
	})
	if err != nil {
		return "", fmt.Errorf("failed to copy %s to %s: %w", from, to, err)
	}
	if err := s.Delete(ctx, from); err != nil {
		return "", err
	}
	return to, nil
}

func (s *S3Store) Delete(ctx context.Context, fileRef string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(fileRef)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", fileRef, err)
	}
	return nil
}

func (s *S3Store) URLOf(fileRef string) string {
	key := escapeKey(s.key(fileRef))
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
