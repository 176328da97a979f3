// Package gcs provides a state store that keeps the backlog snapshot in a
// Google Cloud Storage object.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
	"github.com/JakeFAU/crawl-cluster-master/internal/statestore"
)

const defaultObject = "cluster-master/pending.json"

// Config captures the snapshot location.
type Config struct {
	Bucket string
	Object string
}

// objects is the slice of the storage client the store needs.
type objects interface {
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	NewWriter(ctx context.Context, bucket, object string) io.WriteCloser
}

type clientObjects struct {
	client *storage.Client
}

func (c clientObjects) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	return c.client.Bucket(bucket).Object(object).NewReader(ctx)
}

func (c clientObjects) NewWriter(ctx context.Context, bucket, object string) io.WriteCloser {
	w := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/json"
	return w
}

// Store persists the backlog to one GCS object.
type Store struct {
	objects objects
	bucket  string
	object  string
}

var _ cluster.StateStore = (*Store)(nil)

// New creates a GCS-backed state store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	return newStore(clientObjects{client: client}, cfg)
}

func newStore(objs objects, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.Object == "" {
		cfg.Object = defaultObject
	}
	return &Store{objects: objs, bucket: cfg.Bucket, object: cfg.Object}, nil
}

// Load downloads the snapshot. It returns cluster.ErrNotFound when the object
// does not exist.
func (s *Store) Load(ctx context.Context) ([]cluster.PendingJob, error) {
	r, err := s.objects.NewReader(ctx, s.bucket, s.object)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, cluster.ErrNotFound
		}
		return nil, fmt.Errorf("open gs://%s/%s: %w", s.bucket, s.object, err)
	}
	defer func() {
		_ = r.Close()
	}()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", s.bucket, s.object, err)
	}
	return statestore.Decode(data)
}

// Save uploads the snapshot, replacing the previous object.
func (s *Store) Save(ctx context.Context, pending []cluster.PendingJob) error {
	data, err := statestore.Encode(pending)
	if err != nil {
		return err
	}
	writer := s.objects.NewWriter(ctx, s.bucket, s.object)
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
