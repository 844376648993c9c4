// Package artifact writes the training outputs (model, metrics, plot) to a
// local directory or a Cloud Storage prefix.
package artifact

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/YuminosukeSato/rftrainer/pkg/errors"
)

// Sink stores named artifacts under one output location.
type Sink interface {
	// Put creates or overwrites name with whatever write produces.
	Put(ctx context.Context, name string, write func(io.Writer) error) error
	// Location returns where name is (or would be) stored.
	Location(name string) string
	Close() error
}

// Open returns a GCSSink for gs:// URIs and a LocalSink otherwise.
func Open(ctx context.Context, dir string) (Sink, error) {
	if strings.HasPrefix(dir, gcsScheme) {
		return NewGCSSink(ctx, dir)
	}
	return NewLocalSink(dir)
}

func validateName(name string) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return errors.NewValidationError("artifact", "must be a plain file name", name)
	}
	return nil
}

// LocalSink writes files into a directory.
type LocalSink struct {
	dir string
}

// NewLocalSink creates dir (and parents) if missing.
func NewLocalSink(dir string) (*LocalSink, error) {
	if dir == "" {
		return nil, errors.NewValidationError("output_dir", "must not be empty", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create output dir %s", dir)
	}
	return &LocalSink{dir: dir}, nil
}

// Put truncates any existing file.
func (s *LocalSink) Put(_ context.Context, name string, write func(io.Writer) error) error {
	if err := validateName(name); err != nil {
		return err
	}
	path := s.Location(name)
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := write(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	return nil
}

// Location returns the file path for name.
func (s *LocalSink) Location(name string) string {
	return filepath.Join(s.dir, name)
}

// Close is a no-op.
func (s *LocalSink) Close() error {
	return nil
}

const gcsScheme = "gs://"

// GCSSink writes objects under gs://bucket/prefix.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

// parseGCSURI splits gs://bucket/some/prefix into bucket and prefix (no
// trailing slash).
func parseGCSURI(uri string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(uri, gcsScheme)
	if !ok {
		return "", "", errors.NewValidationError("output_dir", "expected gs://bucket[/prefix]", uri)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", errors.NewValidationError("output_dir", "missing bucket", uri)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// NewGCSSink creates a client with Application Default Credentials.
func NewGCSSink(ctx context.Context, uri string) (*GCSSink, error) {
	bucket, prefix, err := parseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "create storage client")
	}
	return &GCSSink{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSSink) object(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

// Put uploads name; the object becomes visible when the writer closes.
func (s *GCSSink) Put(ctx context.Context, name string, write func(io.Writer) error) error {
	if err := validateName(name); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(s.object(name)).NewWriter(ctx)
	if err := write(w); err != nil {
		// cancel で書きかけのアップロードを破棄する
		cancel()
		w.Close()
		return errors.Wrapf(err, "write %s", s.Location(name))
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "upload %s", s.Location(name))
	}
	return nil
}

// Location returns the gs:// URI for name.
func (s *GCSSink) Location(name string) string {
	return gcsScheme + s.bucket + "/" + s.object(name)
}

// Close closes the storage client.
func (s *GCSSink) Close() error {
	return s.client.Close()
}
