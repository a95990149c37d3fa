// Package publish uploads an extracted package tree to object storage under a
// fixed prefix, preserving relative paths.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/scormflow/pkg/storage/objectstore"
)

// ErrPublishFailure is returned when any file failed to upload.
var ErrPublishFailure = errors.New("publish failure")

const defaultContentType = "application/octet-stream"

// Uploader is the storage capability the publisher needs.
type Uploader interface {
	PutFile(ctx context.Context, key, path string, opts objectstore.PutOptions) error
}

// Publisher uploads files with bounded concurrency.
type Publisher struct {
	uploader     Uploader
	concurrency  int
	cacheControl string
}

type Params struct {
	Uploader Uploader
	// Concurrency caps in-flight uploads. Zero or less means unbounded.
	Concurrency  int
	CacheControl string
}

// Result summarizes a publish run.
type Result struct {
	Files int
}

func NewPublisher(p Params) *Publisher {
	return &Publisher{
		uploader:     p.Uploader,
		concurrency:  p.Concurrency,
		cacheControl: p.CacheControl,
	}
}

// Publish uploads every regular file under dir to prefix/<relative path>.
// All uploads are attempted; if any fail the error wraps ErrPublishFailure
// along with each upload error and the failure count. Already uploaded
// objects are left in place.
func (p *Publisher) Publish(ctx context.Context, dir, prefix string) (Result, error) {
	prefix = strings.TrimRight(prefix, "/")

	type upload struct{ path, key string }
	var files []upload
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, upload{path: path, key: prefix + "/" + filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: walk %s: %v", ErrPublishFailure, dir, err)
	}

	var (
		mu     sync.Mutex
		errs   *multierror.Error
		failed int
	)

	var g errgroup.Group
	if p.concurrency > 0 {
		g.SetLimit(p.concurrency)
	}

	for _, f := range files {
		g.Go(func() error {
			opts := objectstore.PutOptions{
				ContentType:  ContentType(f.path),
				CacheControl: p.cacheControl,
			}
			if err := p.uploader.PutFile(ctx, f.key, f.path, opts); err != nil {
				mu.Lock()
				failed++
				errs = multierror.Append(errs, fmt.Errorf("upload %s: %w", f.key, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if failed > 0 {
		errs.ErrorFormat = joinErrors
		return Result{Files: len(files) - failed}, fmt.Errorf("%w: %d of %d files: %w", ErrPublishFailure, failed, len(files), errs.ErrorOrNil())
	}
	return Result{Files: len(files)}, nil
}

// joinErrors renders every failed upload on one line, in completion order.
func joinErrors(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// ContentType infers a MIME type from the file extension.
func ContentType(path string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		return ct
	}
	return defaultContentType
}
