package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LocalStore keeps files under a root directory. References are slash
// separated paths relative to the root.
type LocalStore struct {
	root string
	log  logrus.FieldLogger
}

// NewLocalStore creates the root directory if needed
func NewLocalStore(root string, log logrus.FieldLogger) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("local storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalStore{root: abs, log: log}, nil
}

func (s *LocalStore) abs(ref string) (string, error) {
	clean := path.Clean("/" + ref)
	if clean == "/" {
		return "", fmt.Errorf("invalid file reference %q", ref)
	}
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// cleanRef keeps a reference inside the root
func cleanRef(ref string) string {
	return strings.TrimPrefix(path.Clean("/"+ref), "/")
}

func (s *LocalStore) EnsureDateFolder(ctx context.Context, date time.Time) (string, error) {
	folder := DateFolder(date)
	if err := s.ensure(ctx, folder); err != nil {
		return "", err
	}
	return folder, nil
}

func (s *LocalStore) ensure(ctx context.Context, folder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.abs(folder)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create folder %s: %w", folder, err)
	}
	return nil
}

func (s *LocalStore) SaveFile(ctx context.Context, data []byte, name, folder string) (string, error) {
	if err := s.ensure(ctx, folder); err != nil {
		return "", err
	}
	ref := cleanRef(path.Join(folder, path.Base(name)))
	target, err := s.abs(ref)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", ref, err)
	}
	s.log.WithFields(logrus.Fields{"ref": ref, "bytes": len(data)}).Debug("File saved")
	return ref, nil
}

func (s *LocalStore) MoveFile(ctx context.Context, fileRef, folder string) (string, error) {
	if err := s.ensure(ctx, folder); err != nil {
		return "", err
	}
	return s.rename(fileRef, cleanRef(path.Join(folder, path.Base(fileRef))))
}

func (s *LocalStore) RenameFile(ctx context.Context, fileRef, newName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.rename(fileRef, path.Join(path.Dir(fileRef), path.Base(newName)))
}

func (s *LocalStore) rename(from, to string) (string, error) {
	if from == to {
		return to, nil
	}
	src, err := s.abs(from)
	if err != nil {
		return "", err
	}
	dst, err := s.abs(to)
	if err != nil {
		return "", err
	}
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("move %s to %s: %w", from, to, err)
	}
	return to, nil
}

func (s *LocalStore) Delete(ctx context.Context, fileRef string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.abs(fileRef)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", fileRef, err)
	}
	return nil
}

func (s *LocalStore) URLOf(fileRef string) string {
	target, err := s.abs(fileRef)
	if err != nil {
		return ""
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(target)}
	return u.String()
}
