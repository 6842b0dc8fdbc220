package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"invoice-harvester-go/internal/config"
)

// BlobStore keeps invoice files in date-keyed folders. References are opaque
// strings owned by the implementation; move and rename return the new one.
type BlobStore interface {
	EnsureDateFolder(ctx context.Context, date time.Time) (string, error)
	SaveFile(ctx context.Context, data []byte, name, folder string) (string, error)
	MoveFile(ctx context.Context, fileRef, folder string) (string, error)
	RenameFile(ctx context.Context, fileRef, newName string) (string, error)
	Delete(ctx context.Context, fileRef string) error
	URLOf(fileRef string) string
}

// StagingFolder holds attachment copies until a message is accepted
const StagingFolder = "_staging"

// New builds the store selected by cfg.Backend
func New(cfg config.StorageConfig, log logrus.FieldLogger) (BlobStore, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(cfg.LocalRoot, log)
	case "s3":
		return NewS3Store(&S3Config{
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKey,
			AccessKeySecret: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Prefix:          cfg.S3Prefix,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
