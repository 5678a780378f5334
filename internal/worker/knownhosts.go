package worker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/reportgate/internal/protocol/session"
)

// KnownHosts stores the first certificate fingerprint seen per gateway address.
type KnownHosts interface {
	Lookup(host string) (fingerprint string, ok bool, err error)
	Remember(host string, fingerprint string) error
}

// MemoryKnownHosts keeps fingerprints for the life of the process.
type MemoryKnownHosts struct {
	mu    sync.Mutex
	hosts map[string]string
}

func NewMemoryKnownHosts() *MemoryKnownHosts {
	return &MemoryKnownHosts{hosts: make(map[string]string)}
}

func (m *MemoryKnownHosts) Lookup(host string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fp, ok := m.hosts[host]
	return fp, ok, nil
}

func (m *MemoryKnownHosts) Remember(host string, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hosts[host] = session.NormalizeFingerprint(fingerprint)
	return nil
}

// knownHostsFile is the on-disk TOML shape:
//
//	[hosts]
//	"127.0.0.1:4433" = "9f86d0..."
type knownHostsFile struct {
	Hosts map[string]string `toml:"hosts"`
}

// FileKnownHosts persists fingerprints in a TOML file. The file is re-read on
// every lookup so concurrent processes observe each other's entries.
type FileKnownHosts struct {
	Path string

	mu sync.Mutex
}

func NewFileKnownHosts(path string) *FileKnownHosts {
	return &FileKnownHosts{Path: path}
}

func (f *FileKnownHosts) Lookup(host string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return "", false, err
	}
	fp, ok := doc.Hosts[host]
	return fp, ok, nil
}

func (f *FileKnownHosts) Remember(host string, fingerprint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.load()
	if err != nil {
		return err
	}
	doc.Hosts[host] = session.NormalizeFingerprint(fingerprint)
	return f.store(doc)
}

func (f *FileKnownHosts) load() (knownHostsFile, error) {
	doc := knownHostsFile{Hosts: make(map[string]string)}
	if strings.TrimSpace(f.Path) == "" {
		return doc, errors.New("worker: known hosts path required")
	}
	if _, err := toml.DecodeFile(f.Path, &doc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return knownHostsFile{Hosts: make(map[string]string)}, nil
		}
		return doc, fmt.Errorf("worker: known hosts %s: %w", f.Path, err)
	}
	if doc.Hosts == nil {
		doc.Hosts = make(map[string]string)
	}
	return doc, nil
}

func (f *FileKnownHosts) store(doc knownHostsFile) error {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("worker: known hosts dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".known_hosts-*")
	if err != nil {
		return fmt.Errorf("worker: known hosts temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := toml.NewEncoder(tmp).Encode(doc); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("worker: encode known hosts: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.Path)
}
