package oauth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/onnwee/obs-relay/crypto"
)

// FileStore keeps the credential blob in a single file. Writes go through a
// temp file and rename; a sibling .lock file guards against a second process
// (the token importer, another instance) writing at the same time.
type FileStore struct {
	Path string
}

// NewFileStore returns a store for path.
func NewFileStore(path string) *FileStore { return &FileStore{Path: path} }

func (f *FileStore) lock() *flock.Flock { return flock.New(f.Path + ".lock") }

// Load reads the blob; ErrNoBlob when the file does not exist.
func (f *FileStore) Load(ctx context.Context) ([]byte, error) {
	if _, err := os.Stat(f.Path); errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoBlob
	}
	l := f.lock()
	if _, err := l.TryRLockContext(ctx, 50*time.Millisecond); err != nil {
		return nil, fmt.Errorf("lock token cache: %w", err)
	}
	defer func() { _ = l.Unlock() }()

	b, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(b) == 0) {
		return nil, ErrNoBlob
	}
	if err != nil {
		return nil, fmt.Errorf("read token cache: %w", err)
	}
	return b, nil
}

// Save atomically replaces the blob with mode 0600.
func (f *FileStore) Save(ctx context.Context, blob []byte) error {
	if dir := filepath.Dir(f.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create token dir: %w", err)
		}
	}
	l := f.lock()
	if _, err := l.TryLockContext(ctx, 50*time.Millisecond); err != nil {
		return fmt.Errorf("lock token cache: %w", err)
	}
	defer func() { _ = l.Unlock() }()

	tmp, err := os.CreateTemp(filepath.Dir(f.Path), filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	name := tmp.Name()
	defer func() { _ = os.Remove(name) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod token file: %w", err)
	}
	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write token file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close token file: %w", err)
	}
	if err := os.Rename(name, f.Path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}

// SealedStore encrypts blobs before handing them to the inner store.
type SealedStore struct {
	Inner  BlobStore
	Sealer crypto.Sealer
}

// Load opens the inner blob.
func (s *SealedStore) Load(ctx context.Context) ([]byte, error) {
	b, err := s.Inner.Load(ctx)
	if err != nil {
		return nil, err
	}
	pt, err := s.Sealer.Open(b)
	if err != nil {
		return nil, fmt.Errorf("open sealed credential: %w", err)
	}
	return pt, nil
}

// Save seals blob and writes it to the inner store.
func (s *SealedStore) Save(ctx context.Context, blob []byte) error {
	sealed, err := s.Sealer.Seal(blob)
	if err != nil {
		return fmt.Errorf("seal credential: %w", err)
	}
	return s.Inner.Save(ctx, sealed)
}

// MemoryStore holds the blob in memory. Used when no cache is configured.
type MemoryStore struct {
	mu   sync.Mutex
	blob []byte
}

// Load returns the saved blob.
func (m *MemoryStore) Load(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blob == nil {
		return nil, ErrNoBlob
	}
	return append([]byte(nil), m.blob...), nil
}

// Save replaces the blob.
func (m *MemoryStore) Save(_ context.Context, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob = append([]byte(nil), blob...)
	return nil
}
