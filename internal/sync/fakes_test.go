package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/nhle/robinsync/internal/model"
	"github.com/nhle/robinsync/internal/source"
	"github.com/nhle/robinsync/internal/vault"
)

// fakeRemote serves manifests per origin email and file bodies per URL.
type fakeRemote struct {
	mu         gosync.Mutex
	manifests  map[string]*model.Manifest
	failOrigin map[string]error
	files      map[string]string
	failURL    map[string]error
	delay      time.Duration
	gate       chan struct{}

	manifestCalls atomic.Int32
	textCalls     atomic.Int32
	binaryCalls   atomic.Int32
	inFlight      atomic.Int32
	maxInFlight   atomic.Int32
	lastToken     string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		manifests:  map[string]*model.Manifest{},
		failOrigin: map[string]error{},
		files:      map[string]string{},
		failURL:    map[string]error{},
	}
}

// addEmail registers one email for origin with files given as
// name, content pairs.
func (f *fakeRemote) addEmail(origin, id string, files ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.manifests[origin]
	if !ok {
		m = &model.Manifest{}
		f.manifests[origin] = m
	}
	entry := model.EmailEntry{ID: id}
	for i := 0; i+1 < len(files); i += 2 {
		url := fmt.Sprintf("https://files.test/%s/%s/%s", origin, id, files[i])
		entry.Files = append(entry.Files, model.FileRef{Name: files[i], URL: url})
		f.files[url] = files[i+1]
	}
	m.Emails = append(m.Emails, model.EmailGroup{entry})
}

func (f *fakeRemote) failFile(origin, id, name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failURL[fmt.Sprintf("https://files.test/%s/%s/%s", origin, id, name)] = err
}

func (f *fakeRemote) SyncEmails(ctx context.Context, originEmail, token, alias string) (*model.Manifest, error) {
	f.manifestCalls.Add(1)
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastToken = token

	if err, ok := f.failOrigin[originEmail]; ok {
		return nil, err
	}
	m, ok := f.manifests[originEmail]
	if !ok {
		return &model.Manifest{}, nil
	}
	return m, nil
}

func (f *fakeRemote) FetchText(ctx context.Context, url string) (string, error) {
	f.textCalls.Add(1)
	return f.fetch(url)
}

func (f *fakeRemote) FetchBinary(ctx context.Context, url string) ([]byte, error) {
	f.binaryCalls.Add(1)

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxInFlight.Load()
		if n <= peak || f.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	body, err := f.fetch(url)
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}

func (f *fakeRemote) fetch(url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.failURL[url]; ok {
		return "", err
	}
	body, ok := f.files[url]
	if !ok {
		return "", &source.NetworkError{Op: "download", StatusCode: 404, Status: "404 Not Found"}
	}
	return body, nil
}

// countingStorage counts create calls on top of an in-memory vault.
type countingStorage struct {
	*vault.FS
	folders atomic.Int32
	files   atomic.Int32
	failOn  map[string]error
}

func newCountingStorage() *countingStorage {
	return &countingStorage{FS: vault.NewMemory(), failOn: map[string]error{}}
}

func (c *countingStorage) CreateFolder(p string) error {
	c.folders.Add(1)
	return c.FS.CreateFolder(p)
}

func (c *countingStorage) CreateBinaryFile(p string, data []byte) error {
	if err, ok := c.failOn[p]; ok {
		return err
	}
	c.files.Add(1)
	return c.FS.CreateBinaryFile(p, data)
}

// staticSettings is a SettingsLoader returning a fixed record.
type staticSettings struct {
	s   *model.Settings
	err error
}

func (l staticSettings) Load(context.Context) (*model.Settings, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.s, nil
}

var errUnavailable = errors.New("service unavailable")
