package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/ChuLiYu/buildtrace/pkg/types"
)

// GCSStore keeps snapshots as objects in a Cloud Storage bucket.
type GCSStore struct {
	client     *storage.Client
	bucketName string
	prefix     string
}

// NewGCSStore connects with application default credentials, or with the
// service account key at credentialsFile when it is set. A "gs://" prefix on
// bucket is accepted and stripped.
func NewGCSStore(ctx context.Context, bucket, prefix, credentialsFile string) (*GCSStore, error) {
	bucket = strings.TrimPrefix(bucket, "gs://")
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return NewGCSStoreWithClient(client, bucket, prefix), nil
}

// NewGCSStoreWithClient wraps an existing client. The store takes ownership
// and closes it in Close.
func NewGCSStoreWithClient(client *storage.Client, bucket, prefix string) *GCSStore {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &GCSStore{client: client, bucketName: bucket, prefix: prefix}
}

func (s *GCSStore) objectName(id types.JobID) string {
	return s.prefix + ObjectName(id)
}

func (s *GCSStore) Get(ctx context.Context, id types.JobID) (*types.Snapshot, error) {
	name := s.objectName(id)
	reader, err := s.client.Bucket(s.bucketName).Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: job %d", ErrSnapshotNotFound, id)
		}
		return nil, fmt.Errorf("failed to open gs://%s/%s: %w", s.bucketName, name, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", s.bucketName, name, err)
	}
	return decode(id, data)
}

func (s *GCSStore) Put(ctx context.Context, snap *types.Snapshot) error {
	if err := validate(snap); err != nil {
		return err
	}
	data, err := encode(snap)
	if err != nil {
		return err
	}

	name := s.objectName(snap.JobID)
	writer := s.client.Bucket(s.bucketName).Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write gs://%s/%s: %w", s.bucketName, name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", name, err)
	}
	return nil
}

// Ping reads the bucket attributes.
func (s *GCSStore) Ping(ctx context.Context) error {
	if _, err := s.client.Bucket(s.bucketName).Attrs(ctx); err != nil {
		return fmt.Errorf("gcs bucket %s unavailable: %w", s.bucketName, err)
	}
	return nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
