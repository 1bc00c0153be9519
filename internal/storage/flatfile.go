package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"RealmLedger/internal/model"
)

// FlatFile stores one YAML document per player under Dir.
type FlatFile struct {
	Dir string
	mu  sync.Mutex
}

func NewFlatFile(dir string) *FlatFile {
	return &FlatFile{Dir: dir}
}

func (f *FlatFile) Name() string { return "flatfile" }

func (f *FlatFile) Initialize(_ context.Context) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("create player dir: %w", err)
	}
	return nil
}

func (f *FlatFile) path(id uuid.UUID) string {
	return filepath.Join(f.Dir, id.String()+".yml")
}

// Load reads a player file. Returns ErrNotFound if the file doesn't exist.
func (f *FlatFile) Load(_ context.Context, id uuid.UUID) (*model.Account, error) {
	data, err := os.ReadFile(f.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	var acct model.Account
	if err := yaml.Unmarshal(data, &acct); err != nil {
		return nil, fmt.Errorf("parse %s: %w", id, err)
	}
	acct.ID = id
	return &acct, nil
}

// Save writes the player file through a temp file so a crash never leaves a
// half-written document behind.
func (f *FlatFile) Save(_ context.Context, acct *model.Account) error {
	data, err := yaml.Marshal(acct)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", acct.ID, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.Dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", acct.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", acct.ID, err)
	}
	if err := os.Rename(tmp.Name(), f.path(acct.ID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", acct.ID, err)
	}
	return nil
}

func (f *FlatFile) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	_, err := os.Stat(f.path(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (f *FlatFile) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// IDs lists every player file; names that are not UUIDs are skipped.
func (f *FlatFile) IDs(_ context.Context) ([]uuid.UUID, error) {
	entries, err := os.ReadDir(f.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list player dir: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".yml") {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, ".yml"))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Backup copies every player file into a timestamped directory under dir.
func (f *FlatFile) Backup(_ context.Context, dir string) (string, error) {
	dest := filepath.Join(dir, "flatfile-"+time.Now().Format("20060102-150405"))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := os.ReadDir(f.Dir)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("list player dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yml") {
			continue
		}
		if err := copyFile(filepath.Join(f.Dir, e.Name()), filepath.Join(dest, e.Name())); err != nil {
			return "", err
		}
	}
	return dest, nil
}

func (f *FlatFile) Close() error { return nil }

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
