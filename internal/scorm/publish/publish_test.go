package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/scormflow/pkg/storage/objectstore"
)

type fakeUploader struct {
	mu       sync.Mutex
	keys     map[string]objectstore.PutOptions
	failKeys map[string]bool
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeUploader) PutFile(_ context.Context, key, _ string, opts objectstore.PutOptions) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	if f.failKeys[key] {
		return errors.New("boom")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys == nil {
		f.keys = map[string]objectstore.PutOptions{}
	}
	f.keys[key] = opts
	return nil
}

func (f *fakeUploader) sortedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.keys))
	for k := range f.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func tree(t *testing.T, files ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		p := filepath.Join(dir, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(f), 0o644))
	}
	return dir
}

func TestPublishPreservesRelativePaths(t *testing.T) {
	dir := tree(t, "imsmanifest.xml", "a.html", "css/site.css", "img/logo.PNG", "data/blob")
	up := &fakeUploader{}
	p := NewPublisher(Params{Uploader: up, Concurrency: 2, CacheControl: "public, max-age=60"})

	res, err := p.Publish(context.Background(), dir, "scorm-extracted/c1/pkg/")
	require.NoError(t, err)
	assert.Equal(t, 5, res.Files)

	assert.Equal(t, []string{
		"scorm-extracted/c1/pkg/a.html",
		"scorm-extracted/c1/pkg/css/site.css",
		"scorm-extracted/c1/pkg/data/blob",
		"scorm-extracted/c1/pkg/img/logo.PNG",
		"scorm-extracted/c1/pkg/imsmanifest.xml",
	}, up.sortedKeys())

	opts := up.keys["scorm-extracted/c1/pkg/a.html"]
	assert.True(t, strings.HasPrefix(opts.ContentType, "text/html"))
	assert.Equal(t, "public, max-age=60", opts.CacheControl)
	assert.Equal(t, "image/png", up.keys["scorm-extracted/c1/pkg/img/logo.PNG"].ContentType)
	assert.Equal(t, defaultContentType, up.keys["scorm-extracted/c1/pkg/data/blob"].ContentType)
	assert.LessOrEqual(t, up.peak.Load(), int32(2))
}

func TestPublishAttemptsEveryFileBeforeFailing(t *testing.T) {
	dir := tree(t, "a.html", "b.html", "c.html")
	up := &fakeUploader{failKeys: map[string]bool{"pfx/b.html": true}}
	p := NewPublisher(Params{Uploader: up})

	res, err := p.Publish(context.Background(), dir, "pfx")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublishFailure)
	assert.Contains(t, err.Error(), "1 of 3")
	assert.Equal(t, 2, res.Files)
	assert.Equal(t, []string{"pfx/a.html", "pfx/c.html"}, up.sortedKeys())
}

func TestPublishEmptyTree(t *testing.T) {
	res, err := NewPublisher(Params{Uploader: &fakeUploader{}}).Publish(context.Background(), t.TempDir(), "pfx")
	require.NoError(t, err)
	assert.Zero(t, res.Files)
}

func TestPublishMissingDir(t *testing.T) {
	_, err := NewPublisher(Params{Uploader: &fakeUploader{}}).Publish(context.Background(), filepath.Join(t.TempDir(), "nope"), "pfx")
	assert.ErrorIs(t, err, ErrPublishFailure)
}

func TestPublishReportsEveryFailedKey(t *testing.T) {
	dir := tree(t, "a.html", "b.html", "css/c.css", "d.js")
	up := &fakeUploader{failKeys: map[string]bool{"pfx/b.html": true, "pfx/css/c.css": true}}
	p := NewPublisher(Params{Uploader: up, Concurrency: 1})

	res, err := p.Publish(context.Background(), dir, "pfx/")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPublishFailure)
	assert.Contains(t, err.Error(), "2 of 4")
	assert.Contains(t, err.Error(), "upload pfx/b.html: boom")
	assert.Contains(t, err.Error(), "upload pfx/css/c.css: boom")
	assert.Equal(t, 2, res.Files)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 2)
	assert.Equal(t, []string{"pfx/a.html", "pfx/d.js"}, up.sortedKeys())
}
