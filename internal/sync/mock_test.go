package sync

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/njoerd114/straysync/internal/model"
	"github.com/njoerd114/straysync/internal/retry"
	"github.com/njoerd114/straysync/internal/store"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var errTransient = errors.New("transient remote failure")

// --- Mock Document Store -----------------------------------------------------

type mockDocs struct {
	mu   sync.Mutex
	docs map[string]map[string]model.Document // collection → id → doc

	puts    int
	deletes int

	failPut    int // next N Put calls fail
	failDelete int // next N Delete calls fail
	failFetch  int // next N FetchAll calls fail
}

func newMockDocs() *mockDocs {
	return &mockDocs{docs: make(map[string]map[string]model.Document)}
}

func (m *mockDocs) seed(collection string, docs ...model.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[collection] == nil {
		m.docs[collection] = make(map[string]model.Document)
	}
	for _, d := range docs {
		m.docs[collection][d.UniqueID] = d
	}
}

func (m *mockDocs) FetchAll(_ context.Context, collection string) ([]model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFetch > 0 {
		m.failFetch--
		return nil, errTransient
	}
	var out []model.Document
	for _, d := range m.docs[collection] {
		out = append(out, d)
	}
	return out, nil
}

func (m *mockDocs) Get(_ context.Context, collection, id string) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[collection][id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &d, nil
}

func (m *mockDocs) Put(_ context.Context, collection, id string, doc model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.failPut > 0 {
		m.failPut--
		return errTransient
	}
	if m.docs[collection] == nil {
		m.docs[collection] = make(map[string]model.Document)
	}
	m.docs[collection][id] = doc
	return nil
}

func (m *mockDocs) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	if m.failDelete > 0 {
		m.failDelete--
		return errTransient
	}
	if _, ok := m.docs[collection][id]; !ok {
		return model.ErrNotFound
	}
	delete(m.docs[collection], id)
	return nil
}

func (m *mockDocs) get(collection, id string) (model.Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[collection][id]
	return d, ok
}

func (m *mockDocs) count(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs[collection])
}

// --- Mock Blob Store ---------------------------------------------------------

type mockBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte

	uploads int

	failUpload   int
	failDownload int
	failDelete   int
}

func newMockBlobs() *mockBlobs {
	return &mockBlobs{blobs: make(map[string][]byte)}
}

func (m *mockBlobs) seed(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = data
}

func (m *mockBlobs) Upload(_ context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads++
	if m.failUpload > 0 {
		m.failUpload--
		return errTransient
	}
	m.blobs[key] = data
	return nil
}

func (m *mockBlobs) Download(_ context.Context, key string, w io.Writer) error {
	m.mu.Lock()
	if m.failDownload > 0 {
		m.failDownload--
		m.mu.Unlock()
		return errTransient
	}
	data, ok := m.blobs[key]
	m.mu.Unlock()
	if !ok {
		return model.ErrNotFound
	}
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}

func (m *mockBlobs) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete > 0 {
		m.failDelete--
		return errTransient
	}
	if _, ok := m.blobs[key]; !ok {
		return model.ErrNotFound
	}
	delete(m.blobs, key)
	return nil
}

func (m *mockBlobs) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[key]
	return b, ok
}

func (m *mockBlobs) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}

// --- Fixtures ----------------------------------------------------------------

// noRetry makes each remote failure count immediately.
var noRetry = retry.Policy{Attempts: 1}

type fixture struct {
	store    *store.Store
	docs     *mockDocs
	blobs    *mockBlobs
	photoDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "reports.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return &fixture{
		store:    s,
		docs:     newMockDocs(),
		blobs:    newMockBlobs(),
		photoDir: filepath.Join(dir, "photos"),
	}
}

func (f *fixture) repo(kind model.Kind) *Repository {
	return f.repoWithPolicy(kind, noRetry)
}

func (f *fixture) repoWithPolicy(kind model.Kind, p retry.Policy) *Repository {
	return NewRepository(kind, f.store, f.docs, f.blobs, Options{PhotoDir: f.photoDir, Retry: p}, testLogger)
}

func draft(kind model.Kind) *model.Report {
	r := model.NewReport(kind, "user-1", time.Date(2024, 3, 1, 8, 15, 30, 0, time.Local))
	r.Type = "Dog"
	r.Colour = "Brown"
	r.Sex = "Male"
	r.Appearance = "Wiry coat, red collar"
	r.Location = "Riverside park"
	if kind == model.KindLostPet {
		r.Name = "Rex"
	}
	return r
}

func writePhoto(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report_image_1.png")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing photo: %v", err)
	}
	return path
}

func mustGet(t *testing.T, r *Repository, uid string) *model.Report {
	t.Helper()
	got, err := r.GetByUniqueID(context.Background(), uid)
	if err != nil {
		t.Fatalf("GetByUniqueID: %v", err)
	}
	if got == nil {
		t.Fatalf("report %s not found locally", uid)
	}
	return got
}
