package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"reportsync/internal/config"
	"reportsync/internal/logging"
	"reportsync/internal/payload"
)

// objectClient is the subset of *minio.Client the store uses.
type objectClient interface {
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	FGetObject(ctx context.Context, bucket, object, filePath string, opts minio.GetObjectOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// S3Store mirrors a bucket prefix into a local cache directory. Keys are
// job scoped, so concurrent writers never touch the same object and
// Publish never reports a conflict.
type S3Store struct {
	client objectClient
	bucket string
	prefix string
	cache  string
	log    *slog.Logger
}

// OpenS3 connects to the configured endpoint and uses cacheDir as the
// local view.
func OpenS3(ctx context.Context, cfg config.S3Config, cacheDir string) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	ok, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !ok {
		return nil, config.Errorf("bucket %q does not exist", cfg.Bucket)
	}
	return newS3Store(client, cfg.Bucket, cfg.Prefix, cacheDir)
}

func newS3Store(client objectClient, bucket, prefix, cacheDir string) (*S3Store, error) {
	abs, err := filepath.Abs(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", cacheDir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		cache:  abs,
		log:    logging.New("s3store"),
	}, nil
}

func (s *S3Store) Root() string { return s.cache }

// Sync downloads changed objects and removes cached files that no longer
// exist in the bucket.
func (s *S3Store) Sync(ctx context.Context) error {
	remote := make(map[string]minio.ObjectInfo)
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.keyPrefix(),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return fmt.Errorf("list objects: %w", obj.Err)
		}
		rel := s.relPath(obj.Key)
		if rel == "" {
			continue
		}
		remote[rel] = obj
	}

	for rel, obj := range remote {
		local := filepath.Join(s.cache, filepath.FromSlash(rel))
		if info, err := os.Stat(local); err == nil && info.Size() == obj.Size && info.ModTime().Equal(obj.LastModified) {
			continue
		}
		if err := s.client.FGetObject(ctx, s.bucket, obj.Key, local, minio.GetObjectOptions{}); err != nil {
			return fmt.Errorf("download %s: %w", obj.Key, err)
		}
		if err := os.Chtimes(local, obj.LastModified, obj.LastModified); err != nil {
			return fmt.Errorf("set mtime %s: %w", local, err)
		}
	}

	// Hidden top-level entries (the ledger) are local state, not mirror content.
	return filepath.WalkDir(s.cache, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.cache, p)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if filepath.Dir(rel) == "." && strings.HasPrefix(rel, ".") && rel != "." {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Dir(rel) == "." && strings.HasPrefix(rel, ".") {
			return nil
		}
		if _, ok := remote[filepath.ToSlash(rel)]; ok {
			return nil
		}
		return os.Remove(p)
	})
}

// Publish uploads new or changed files under paths and removes objects
// whose local file is gone. A file whose size and mtime match its object
// is skipped; after an upload the local mtime is set to the object's so
// the next comparison holds.
func (s *S3Store) Publish(ctx context.Context, _ string, paths ...string) error {
	for _, p := range paths {
		p = payload.SanitizeRelPath(p)
		if p == "" {
			continue
		}
		remote, err := s.list(ctx, p)
		if err != nil {
			return err
		}

		local := make(map[string]bool)
		root := filepath.Join(s.cache, filepath.FromSlash(p))
		err = filepath.WalkDir(root, func(fp string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			rel, err := filepath.Rel(s.cache, fp)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			local[rel] = true
			info, err := d.Info()
			if err != nil {
				return err
			}
			if obj, ok := remote[rel]; ok && obj.Size == info.Size() && obj.LastModified.Equal(info.ModTime()) {
				return nil
			}
			return s.upload(ctx, rel, fp)
		})
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}

		for rel, obj := range remote {
			if local[rel] {
				continue
			}
			if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
				return fmt.Errorf("remove %s: %w", obj.Key, err)
			}
			s.log.Info("removed object", "key", obj.Key)
		}
	}
	return nil
}

// list returns the objects at or under p, keyed by cache-relative path.
func (s *S3Store) list(ctx context.Context, p string) (map[string]minio.ObjectInfo, error) {
	remote := make(map[string]minio.ObjectInfo)
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.key(p),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects: %w", obj.Err)
		}
		rel := s.relPath(obj.Key)
		if rel != p && !strings.HasPrefix(rel, p+"/") {
			continue
		}
		remote[rel] = obj
	}
	return remote, nil
}

func (s *S3Store) upload(ctx context.Context, rel, fp string) error {
	key := s.key(rel)
	_, err := s.client.FPutObject(ctx, s.bucket, key, fp, minio.PutObjectOptions{
		ContentType: payload.ContentType(payload.Extension(rel)),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", rel, err)
	}
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return fmt.Errorf("stat %s: %w", key, err)
	}
	if err := os.Chtimes(fp, info.LastModified, info.LastModified); err != nil {
		return fmt.Errorf("set mtime %s: %w", fp, err)
	}
	return nil
}

func (s *S3Store) ModTime(ctx context.Context, p string) (time.Time, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.key(p), minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("stat %s: %w", p, err)
	}
	return info.LastModified, nil
}

func (s *S3Store) keyPrefix() string {
	if s.prefix == "" {
		return ""
	}
	return s.prefix + "/"
}

func (s *S3Store) key(rel string) string {
	return s.keyPrefix() + rel
}

func (s *S3Store) relPath(key string) string {
	return payload.SanitizeRelPath(strings.TrimPrefix(key, s.keyPrefix()))
}

