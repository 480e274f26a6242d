package directory

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/botcomet/crypto"
)

// reloadDelay coalesces the burst of events editors produce on save.
const reloadDelay = 100 * time.Millisecond

// Document is the on-disk layout of a directory file:
//
//	plugins:
//	  - name: echo
//	    public_key: 5f1c...  # hex, 32 bytes
//	  - public_key_file: keys/weather.pub.pem
//
// Addresses are derived from the keys, never configured.
type Document struct {
	Plugins []Entry `yaml:"plugins"`
}

// Entry registers one plugin key.
type Entry struct {
	Name          string `yaml:"name,omitempty"`
	PublicKey     string `yaml:"public_key,omitempty"`
	PublicKeyFile string `yaml:"public_key_file,omitempty"`
}

// File is a Directory backed by a YAML document.
type File struct {
	path  string
	store *Static
}

// LoadFile reads the directory document at path.
func LoadFile(path string) (*File, error) {
	f := &File{path: path, store: NewStatic()}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the file the directory was loaded from.
func (f *File) Path() string {
	return f.path
}

// Len returns the number of registered plugins.
func (f *File) Len() int {
	return f.store.Len()
}

// LookupPublicKey implements Directory.
func (f *File) LookupPublicKey(ctx context.Context, address string) ([32]byte, error) {
	return f.store.LookupPublicKey(ctx, address)
}

// Reload re-reads the document. On error the previous registrations stay in
// effect.
func (f *File) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read directory %s: %w", f.path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse directory %s: %w", f.path, err)
	}

	keys := make(map[string][32]byte, len(doc.Plugins))
	for i, entry := range doc.Plugins {
		key, err := entry.resolveKey(filepath.Dir(f.path))
		if err != nil {
			return fmt.Errorf("directory %s: plugin %d (%s): %w", f.path, i, entry.Name, err)
		}
		keys[crypto.NewAddress(key).String()] = key
	}
	f.store.replace(keys)

	logrus.WithFields(logrus.Fields{
		"function": "Reload",
		"path":     f.path,
		"plugins":  len(keys),
	}).Info("Loaded plugin directory")
	return nil
}

// Watch reloads the document whenever it changes until ctx is done. The
// parent directory is watched so that atomic replace-by-rename is seen.
func (f *File) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create directory watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watch %s: %w", f.path, err)
	}

	target := filepath.Clean(f.path)
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.After(reloadDelay)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logrus.WithFields(logrus.Fields{
				"function": "Watch",
				"path":     f.path,
				"error":    err.Error(),
			}).Warn("Directory watcher error")
		case <-pending:
			pending = nil
			if err := f.Reload(); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Watch",
					"path":     f.path,
					"error":    err.Error(),
				}).Error("Failed to reload plugin directory, keeping previous entries")
			}
		}
	}
}

func (e Entry) resolveKey(baseDir string) ([32]byte, error) {
	var key [32]byte

	switch {
	case e.PublicKey != "" && e.PublicKeyFile != "":
		return key, fmt.Errorf("both public_key and public_key_file set")
	case e.PublicKey != "":
		raw, err := hex.DecodeString(e.PublicKey)
		if err != nil {
			return key, fmt.Errorf("public_key is not hex: %w", err)
		}
		if len(raw) != len(key) {
			return key, fmt.Errorf("public_key is %d bytes, want %d", len(raw), len(key))
		}
		copy(key[:], raw)
		return key, nil
	case e.PublicKeyFile != "":
		path := e.PublicKeyFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return key, err
		}
		return crypto.DecodePublicKeyPEM(data)
	default:
		return key, fmt.Errorf("no public key")
	}
}
