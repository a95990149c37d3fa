package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/scormflow/internal/events"
	"github.com/your-org/scormflow/internal/jobs"
	"github.com/your-org/scormflow/internal/scorm/archive"
	"github.com/your-org/scormflow/internal/scorm/course"
	"github.com/your-org/scormflow/internal/scorm/manifest"
	"github.com/your-org/scormflow/internal/scorm/publish"
	"github.com/your-org/scormflow/pkg/storage/objectstore"
)

const publicBase = "https://cdn.example.com/learn"

const scenarioAManifest = `<?xml version="1.0"?>
<manifest identifier="pkg">
  <organizations default="org_1">
    <organization identifier="org_1">
      <item identifier="i_a"><title>Module A</title>
        <item identifier="i_a1" identifierref="res_1"><title>Lesson A1</title></item>
      </item>
      <item identifier="i_b" identifierref="res_2"><title>Module B</title></item>
    </organization>
  </organizations>
  <resources>
    <resource identifier="res_1" href="a.html" type="webcontent"/>
    <resource identifier="res_2" href="b.html" type="webcontent"/>
  </resources>
</manifest>`

const flatManifest = `<manifest>
  <organizations><organization identifier="o"><item identifier="i"><title>Course</title></item></organization></organizations>
  <resources><resource identifier="r" href="index.html"/></resources>
</manifest>`

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// failingStore fails PutFile for keys with the given suffix.
type failingStore struct {
	*objectstore.MemoryClient
	failSuffix string
}

func (f *failingStore) PutFile(ctx context.Context, key, path string, opts objectstore.PutOptions) error {
	if f.failSuffix != "" && strings.HasSuffix(key, f.failSuffix) {
		return errors.New("access denied")
	}
	return f.MemoryClient.PutFile(ctx, key, path, opts)
}

type statusNotifier struct {
	mu       sync.Mutex
	statuses []jobs.Status
}

func (n *statusNotifier) Notify(_ context.Context, job jobs.Job) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, job.Status)
	return nil
}

func (n *statusNotifier) count(s jobs.Status) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, st := range n.statuses {
		if st == s {
			c++
		}
	}
	return c
}

type fixture struct {
	mem      *objectstore.MemoryClient
	store    objectstore.Client
	jobStore *jobs.MemoryStore
	notifier *statusNotifier
	recorder *jobs.Recorder
	scratch  string
	service  *Service
}

func newFixture(t *testing.T, failSuffix string) *fixture {
	t.Helper()
	mem := objectstore.NewMemory(publicBase)
	f := &fixture{
		mem:      mem,
		store:    mem,
		jobStore: jobs.NewMemoryStore(),
		notifier: &statusNotifier{},
		scratch:  t.TempDir(),
	}
	if failSuffix != "" {
		f.store = &failingStore{MemoryClient: mem, failSuffix: failSuffix}
	}
	logger := zaptest.NewLogger(t)
	f.recorder = jobs.NewRecorder(jobs.RecorderParams{Store: f.jobStore, Notifier: f.notifier, Logger: logger})
	f.service = NewService(Params{
		Store:         f.store,
		Recorder:      f.recorder,
		Publisher:     publish.NewPublisher(publish.Params{Uploader: f.store, Concurrency: 4, CacheControl: "public, max-age=31536000"}),
		Logger:        logger,
		PackagePrefix: "scorm-packages/",
		ExtractPrefix: "scorm-extracted",
		PublicBaseURL: publicBase,
		ScratchDir:    f.scratch,
	})
	return f
}

func (f *fixture) upload(t *testing.T, key string, data []byte) events.UploadEvent {
	t.Helper()
	require.NoError(t, f.mem.Put(context.Background(), key, bytes.NewReader(data), int64(len(data)), objectstore.PutOptions{}))
	return events.UploadEvent{Bucket: "b", ObjectPath: key, ContentType: "application/zip", Size: int64(len(data))}
}

func (f *fixture) job(t *testing.T, path string) jobs.Job {
	t.Helper()
	job, err := f.jobStore.Get(context.Background(), jobs.Key(path))
	require.NoError(t, err)
	return job
}

func (f *fixture) assertScratchEmpty(t *testing.T) {
	t.Helper()
	leftovers, err := filepath.Glob(filepath.Join(f.scratch, "*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "working directory must be released")
}

func TestParsePackagePath(t *testing.T) {
	s := newFixture(t, "").service
	tests := []struct {
		path      string
		ok        bool
		courseID  string
		packageID string
	}{
		{"scorm-packages/c1/1700-pkg.zip", true, "c1", "1700-pkg"},
		{"scorm-packages/c1/nested/pkg.ZIP", true, "c1", "pkg"},
		{"scorm-packages/c1/1700000000-pkg", true, "c1", "1700000000-pkg"},
		{"scorm-packages/pkg.zip", false, "", ""},
		{"scorm-packages//pkg.zip", false, "", ""},
		{"other/c1/pkg.zip", false, "", ""},
		{"scorm-packages/c1/.zip", false, "", ""},
		{"scorm-packages/c1/", false, "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			ref, ok := s.ParsePackagePath(tc.path)
			require.Equal(t, tc.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tc.courseID, ref.CourseID)
			assert.Equal(t, tc.packageID, ref.PackageID)
			assert.Equal(t, jobs.Key(tc.path), ref.JobKey)
		})
	}
}

func TestAccepts(t *testing.T) {
	s := newFixture(t, "").service
	assert.True(t, s.Accepts(events.UploadEvent{ObjectPath: "scorm-packages/c1/p.zip"}))
	assert.True(t, s.Accepts(events.UploadEvent{ObjectPath: "scorm-packages/c1/p.zip", ContentType: "application/zip"}))
	assert.False(t, s.Accepts(events.UploadEvent{ObjectPath: "scorm-packages/c1/p.pdf", ContentType: "application/pdf"}))
	assert.True(t, s.Accepts(events.UploadEvent{ObjectPath: "scorm-packages/c1/1700000000-pkg", ContentType: "application/zip"}))
	assert.False(t, s.Accepts(events.UploadEvent{ObjectPath: "scorm-packages/c1/1700000000-pkg", ContentType: "text/plain"}))
	assert.False(t, s.Accepts(events.UploadEvent{ObjectPath: "scorm-packages/c1/readme.txt"}))
	assert.False(t, s.Accepts(events.UploadEvent{ObjectPath: "course-imports/i1/p.zip"}))
}

func TestHandleManifestPackage(t *testing.T) {
	f := newFixture(t, "")
	path := "scorm-packages/c1/1700-pkg.zip"
	ev := f.upload(t, path, buildZip(t, map[string]string{
		"imsmanifest.xml": scenarioAManifest,
		"a.html":          "<html>a</html>",
		"b.html":          "<html>b</html>",
		"css/site.css":    "body{}",
	}))

	require.NoError(t, f.service.Handle(context.Background(), ev))

	job := f.job(t, path)
	assert.Equal(t, jobs.StatusReady, job.Status)
	assert.Equal(t, "1700-pkg", job.PackageID)
	assert.Equal(t, path, job.StoragePath)
	assert.Empty(t, job.Error)
	require.Len(t, job.CourseStructure, 2)

	modB := job.CourseStructure[1]
	assert.Equal(t, "Module B", modB.Title)
	require.Len(t, modB.Lessons, 1)
	block := modB.Lessons[0].Blocks[0]
	assert.Equal(t, course.BlockSCORM, block.Type)
	require.NotNil(t, block.LaunchURL)
	assert.Equal(t, publicBase+"/scorm-extracted/c1/1700-pkg/b.html", *block.LaunchURL)

	for _, key := range []string{"a.html", "b.html", "css/site.css", "imsmanifest.xml"} {
		obj, ok := f.mem.Object("scorm-extracted/c1/1700-pkg/" + key)
		require.True(t, ok, key)
		assert.Equal(t, "public, max-age=31536000", obj.Opts.CacheControl)
	}

	assert.Equal(t, []jobs.Status{jobs.StatusProcessing, jobs.StatusReady}, f.notifier.statuses)
	f.assertScratchEmpty(t)
}

func TestHandleZipByContentTypeAndNestedPath(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		assetBase string
	}{
		{"no extension", "scorm-packages/c1/1700000000-pkg", "scorm-extracted/c1/1700000000-pkg/"},
		{"nested folder", "scorm-packages/c1/extra/pkg.zip", "scorm-extracted/c1/pkg/"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, "")
			ev := f.upload(t, tc.path, buildZip(t, map[string]string{
				"imsmanifest.xml": scenarioAManifest,
				"a.html":          "<html>a</html>",
				"b.html":          "<html>b</html>",
			}))
			require.True(t, f.service.Accepts(ev))

			require.NoError(t, f.service.Handle(context.Background(), ev))

			job := f.job(t, tc.path)
			assert.Equal(t, jobs.StatusReady, job.Status)
			_, ok := f.mem.Object(tc.assetBase + "b.html")
			assert.True(t, ok, "assets published under the course from the first path segment")
			f.assertScratchEmpty(t)
		})
	}
}

func TestHandleFolderPackage(t *testing.T) {
	f := newFixture(t, "")
	path := "scorm-packages/c2/etiquette.zip"
	ev := f.upload(t, path, buildZip(t, map[string]string{
		"imsmanifest.xml":          flatManifest,
		"index.html":               "<html/>",
		"Etiquette/Intro.html":     "<html/>",
		"Etiquette/HavingFun.html": "<html/>",
		"shared/launcher.html":     "<html/>",
	}))

	require.NoError(t, f.service.Handle(context.Background(), ev))

	job := f.job(t, path)
	require.Equal(t, jobs.StatusReady, job.Status)
	require.Len(t, job.CourseStructure, 1)
	mod := job.CourseStructure[0]
	assert.Equal(t, "Etiquette", mod.Title)

	titles := []string{}
	for _, l := range mod.Lessons {
		titles = append(titles, l.Title)
		require.Len(t, l.Blocks, 1)
		assert.Equal(t, course.BlockHTMLViewer, l.Blocks[0].Type)
	}
	assert.ElementsMatch(t, []string{"Intro", "Having Fun"}, titles)
	f.assertScratchEmpty(t)
}

func TestHandleFailures(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		failSuffix string
		sentinel   error
		class      string
		message    string
	}{
		{
			name:     "missing manifest",
			data:     buildZip(t, map[string]string{"index.html": "<html/>"}),
			sentinel: manifest.ErrNotFound,
			class:    "ManifestNotFound",
			message:  "imsmanifest.xml not found",
		},
		{
			name:     "corrupt archive",
			data:     []byte("definitely not a zip"),
			sentinel: archive.ErrCorruptArchive,
			class:    "CorruptArchive",
		},
		{
			name:     "malformed manifest",
			data:     buildZip(t, map[string]string{"imsmanifest.xml": "<manifest><organizations>"}),
			sentinel: manifest.ErrMalformed,
			class:    "ManifestMalformed",
		},
		{
			name: "no organization",
			data: buildZip(t, map[string]string{
				"imsmanifest.xml": "<manifest><organizations/><resources/></manifest>",
			}),
			sentinel: manifest.ErrNoOrganization,
			class:    "NoOrganization",
			message:  "no organization found in manifest",
		},
		{
			name: "publish failure",
			data: buildZip(t, map[string]string{
				"imsmanifest.xml": scenarioAManifest,
				"a.html":          "a",
				"b.html":          "b",
			}),
			failSuffix: "/b.html",
			sentinel:   publish.ErrPublishFailure,
			class:      "PublishFailure",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.failSuffix)
			path := "scorm-packages/c1/" + strings.ReplaceAll(tc.name, " ", "-") + ".zip"
			ev := f.upload(t, path, tc.data)

			err := f.service.Handle(context.Background(), ev)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.sentinel)
			assert.Equal(t, tc.class, Classify(err))

			job := f.job(t, path)
			assert.Equal(t, jobs.StatusError, job.Status)
			assert.Equal(t, err.Error(), job.Error)
			if tc.message != "" {
				assert.Equal(t, tc.message, job.Error)
			}
			assert.Nil(t, job.CourseStructure)

			assert.Equal(t, 1, f.notifier.count(jobs.StatusError))
			assert.Zero(t, f.notifier.count(jobs.StatusReady))
			f.assertScratchEmpty(t)
		})
	}
}

func TestHandleMissingObject(t *testing.T) {
	f := newFixture(t, "")
	path := "scorm-packages/c1/gone.zip"

	err := f.service.Handle(context.Background(), events.UploadEvent{ObjectPath: path})
	require.Error(t, err)
	assert.Equal(t, "UnexpectedFailure", Classify(err))
	assert.Equal(t, jobs.StatusError, f.job(t, path).Status)
	f.assertScratchEmpty(t)
}

func TestHandleIgnoresForeignPaths(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.service.Handle(context.Background(), events.UploadEvent{ObjectPath: "elsewhere/x.zip"}))
	assert.Empty(t, f.notifier.statuses)
}

func TestGuardRecoversPanic(t *testing.T) {
	err := guard(func() error { panic("boom") })
	assert.ErrorIs(t, err, ErrUnexpectedFailure)
	assert.Contains(t, err.Error(), "boom")
}

func TestClassify(t *testing.T) {
	assert.Empty(t, Classify(nil))
	assert.Equal(t, "ExtractionFailure", Classify(fmt.Errorf("%w: disk full", archive.ErrExtraction)))
	assert.Equal(t, "UnexpectedFailure", Classify(errors.New("anything")))
	assert.Equal(t, "UnexpectedFailure", Classify(ErrUnexpectedFailure))
}

func TestProcessUpload(t *testing.T) {
	f := newFixture(t, "")
	data := buildZip(t, map[string]string{"imsmanifest.xml": scenarioAManifest})

	res, err := f.service.ProcessUpload(context.Background(), bytes.NewReader(data), int64(len(data)), UploadOptions{
		CourseID: "c9",
		Filename: "My Package.zip",
		Metadata: map[string]string{"author": "ops", "sha256": "spoofed"},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(res.ObjectKey, "scorm-packages/c9/"))
	assert.True(t, strings.HasSuffix(res.ObjectKey, "-My Package.zip"))
	assert.Equal(t, jobs.Key(res.ObjectKey), res.JobKey)
	assert.Len(t, res.Checksum, 64)

	obj, ok := f.mem.Object(res.ObjectKey)
	require.True(t, ok)
	assert.Equal(t, data, obj.Data)
	assert.Equal(t, "application/zip", obj.Opts.ContentType)
	assert.Equal(t, res.Checksum, obj.Opts.Metadata["sha256"])
	assert.Equal(t, "ops", obj.Opts.Metadata["author"])

	job := f.job(t, res.ObjectKey)
	assert.Equal(t, jobs.StatusQueued, job.Status)
	assert.True(t, f.service.Accepts(events.UploadEvent{ObjectPath: res.ObjectKey}))
	f.assertScratchEmpty(t)
}

func TestProcessUploadRejects(t *testing.T) {
	f := newFixture(t, "")
	tests := map[string]struct {
		size int64
		opts UploadOptions
	}{
		"empty":        {0, UploadOptions{CourseID: "c", Filename: "p.zip"}},
		"no course":    {4, UploadOptions{Filename: "p.zip"}},
		"slash course": {4, UploadOptions{CourseID: "a/b", Filename: "p.zip"}},
		"not zip":      {4, UploadOptions{CourseID: "c", Filename: "p.pdf"}},
		"short body":   {40, UploadOptions{CourseID: "c", Filename: "p.zip"}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := f.service.ProcessUpload(context.Background(), strings.NewReader("data"), tc.size, tc.opts)
			assert.ErrorIs(t, err, ErrInvalidUpload)
		})
	}
	assert.Empty(t, f.mem.Keys())
}
