// Package archive copies reconciliation payloads to durable storage.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// Sink stores named objects and returns their URI.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// ObjectName is the object path for a reconciliation run:
// <prefix>/<period>/<created>-<run id>.json.
func ObjectName(prefix, period, runID string, created time.Time) string {
	name := fmt.Sprintf("%s/%s-%s.json", period, created.UTC().Format("20060102T150405Z"), runID)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// objectWriter opens a writer that fails if the object already exists.
type objectWriter func(ctx context.Context, name string) io.WriteCloser

// GCS writes objects to a Google Cloud Storage bucket. Existing objects
// are never overwritten.
type GCS struct {
	bucket string
	client *storage.Client
	open   objectWriter
}

// NewGCS connects to GCS with application default credentials.
func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: storage client: %w", err)
	}
	handle := client.Bucket(bucket)
	return &GCS{
		bucket: bucket,
		client: client,
		open: func(ctx context.Context, name string) io.WriteCloser {
			w := handle.Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
			w.ContentType = "application/json"
			return w
		},
	}, nil
}

// Put writes data to name. An object that already exists counts as
// success, so retried runs stay idempotent.
func (g *GCS) Put(ctx context.Context, name string, data []byte) (string, error) {
	uri := fmt.Sprintf("gs://%s/%s", g.bucket, name)
	w := g.open(ctx, name)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		if exists(err) {
			return uri, nil
		}
		return "", fmt.Errorf("archive: write %s: %w", uri, err)
	}
	if err := w.Close(); err != nil {
		if exists(err) {
			log.Printf("archive: %s already exists, skipping", uri)
			return uri, nil
		}
		return "", fmt.Errorf("archive: finalize %s: %w", uri, err)
	}
	return uri, nil
}

// Close releases the storage client.
func (g *GCS) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func exists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
