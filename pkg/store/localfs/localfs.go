// Package localfs provides local filesystem persistence for doccache.
//
// A database is a directory, a collection a subdirectory of it, and each
// record a JSON file named by the SHA-256 of its key.
package localfs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/doccache/pkg/collection"
	"github.com/codeGROOVE-dev/doccache/pkg/store/compress"
)

const maxKeyLength = 1024 // keys are hashed, this only bounds entry size

// entry is the on-disk form of a record.
type entry struct {
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value"`
	Expires time.Time       `json:"expires"`
}

func validateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name cannot be empty", kind)
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid %s name: contains path separators or traversal sequences", kind)
	}
	if strings.Contains(name, "\x00") {
		return fmt.Errorf("invalid %s name: contains null byte", kind)
	}
	return nil
}

// Database is a directory of collections.
type Database struct {
	Dir        string // Exported for testing - directory path
	name       string
	compressor compress.Compressor
}

// Open creates the database directory under base.
// If base is empty the OS cache directory is used.
// Optional compressor enables compression (default: plain JSON with .j extension).
func Open(base, name string, c ...compress.Compressor) (*Database, error) {
	if err := validateName("database", name); err != nil {
		return nil, err
	}

	comp := compress.None()
	if len(c) > 0 && c[0] != nil {
		comp = c[0]
	}

	if base == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("get user cache dir: %w", err)
		}
		base = dir
	}
	fullDir := filepath.Join(base, name)
	if err := os.MkdirAll(fullDir, 0o750); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	return &Database{Dir: fullDir, name: name, compressor: comp}, nil
}

// Connector returns a collection.Connector opening databases under base.
func Connector(base string, c ...compress.Compressor) collection.Connector {
	return func(_ context.Context, name string) (collection.Database, error) {
		return Open(base, name, c...)
	}
}

// Name returns the database name.
func (d *Database) Name() string { return d.name }

// CreateCollection creates the collection directory and checks it is writable.
func (d *Database) CreateCollection(_ context.Context, name string, opts collection.Options) (collection.Collection, error) {
	if err := validateName("collection", name); err != nil {
		return nil, err
	}
	if opts.Capped {
		slog.Warn("localfs has no capped collections, creating an uncapped collection", "collection", name)
	}

	dir := filepath.Join(d.Dir, name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create collection dir: %w", err)
	}
	testFile := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("collection dir not writable: %w", err)
	}
	_ = os.Remove(testFile) //nolint:errcheck // best-effort cleanup

	ext := d.compressor.Extension()
	if ext == "" {
		ext = ".j"
	}
	return &Collection{
		Dir:         dir,
		name:        name,
		subdirsMade: make(map[string]bool),
		compressor:  d.compressor,
		ext:         ext,
	}, nil
}

// Close is a no-op.
func (*Database) Close() error {
	return nil
}

// Collection stores one file per record.
//
//nolint:govet // fieldalignment - current layout groups related fields logically (mutex with map it protects)
type Collection struct {
	subdirsMu   sync.RWMutex
	Dir         string // Exported for testing - directory path
	name        string
	subdirsMade map[string]bool
	compressor  compress.Compressor
	ext         string
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// keyToFilename converts a key to a filename with squid-style directory layout
// (e.g., key "mykey" -> "a3/a3f2....j" or "a3/a3f2....s" with S2 compression).
func (c *Collection) keyToFilename(key string) string {
	sum := sha256.Sum256([]byte(key))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(h[:2], h+c.ext)
}

// Location returns the full file path where a key is stored.
func (c *Collection) Location(key string) string {
	return filepath.Join(c.Dir, c.keyToFilename(key))
}

// read decodes the record at path. Unreadable files are removed.
func (c *Collection) read(path string) (collection.Record, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return collection.Record{}, false, nil
		}
		return collection.Record{}, false, fmt.Errorf("read file: %w", err)
	}

	jsonData, err := c.compressor.Decode(data)
	if err != nil {
		rmErr := os.Remove(path)
		return collection.Record{}, false, errors.Join(fmt.Errorf("decompress: %w", err), rmErr)
	}

	var e entry
	if err := json.Unmarshal(jsonData, &e); err != nil {
		rmErr := os.Remove(path)
		return collection.Record{}, false, errors.Join(fmt.Errorf("decode file: %w", err), rmErr)
	}
	v, err := collection.DecodeValue(e.Value)
	if err != nil {
		return collection.Record{}, false, err
	}
	return collection.Record{Key: e.Key, Value: v, Expires: e.Expires}, true, nil
}

// walk calls fn for every record file until fn returns false.
func (c *Collection) walk(ctx context.Context, fn func(path string) (bool, error)) error {
	var errs []error
	walkErr := filepath.Walk(c.Dir, func(path string, fi os.FileInfo, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("walk %s: %w", path, err))
			return nil
		}
		if fi.IsDir() || filepath.Ext(fi.Name()) != c.ext {
			return nil
		}
		more, err := fn(path)
		if err != nil {
			errs = append(errs, err)
		}
		if !more {
			return filepath.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		errs = append(errs, fmt.Errorf("walk directory: %w", walkErr))
	}
	return errors.Join(errs...)
}

// FindOne returns one record matching f.
func (c *Collection) FindOne(ctx context.Context, f collection.Filter) (collection.Record, bool, error) {
	if f.Key != "" {
		rec, found, err := c.read(c.Location(f.Key))
		if err != nil || !found || !f.Match(rec) {
			return collection.Record{}, false, err
		}
		return rec, true, nil
	}

	var out collection.Record
	var found bool
	err := c.walk(ctx, func(path string) (bool, error) {
		rec, ok, err := c.read(path)
		if err != nil {
			return true, err
		}
		if ok && f.Match(rec) {
			out, found = rec, true
			return false, nil
		}
		return true, nil
	})
	return out, found, err
}

func (c *Collection) ensureSubdir(dir string) error {
	c.subdirsMu.RLock()
	exists := c.subdirsMade[dir]
	c.subdirsMu.RUnlock()
	if exists {
		return nil
	}

	c.subdirsMu.Lock()
	defer c.subdirsMu.Unlock()
	if !c.subdirsMade[dir] {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create subdirectory: %w", err)
		}
		c.subdirsMade[dir] = true
	}
	return nil
}

// Upsert writes r, replacing any file for the same key.
func (c *Collection) Upsert(_ context.Context, r collection.Record) error {
	if r.Key == "" {
		return errors.New("key cannot be empty")
	}
	if len(r.Key) > maxKeyLength {
		return fmt.Errorf("key too long: %d bytes (max %d)", len(r.Key), maxKeyLength)
	}

	value, err := collection.EncodeValue(r.Value)
	if err != nil {
		return err
	}
	jsonData, err := json.Marshal(entry{Key: r.Key, Value: value, Expires: r.Expires})
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	data, err := c.compressor.Encode(jsonData)
	if err != nil {
		return fmt.Errorf("compress: %w", err)
	}

	fn := c.Location(r.Key)
	if err := c.ensureSubdir(filepath.Dir(fn)); err != nil {
		return err
	}

	// Write to temp file first, then rename for atomicity
	tmp := fn + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, fn); err != nil {
		rmErr := os.Remove(tmp)
		return errors.Join(fmt.Errorf("rename file: %w", err), rmErr)
	}
	return nil
}

func remove(path string) (int, error) {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("remove %s: %w", path, err)
	}
	return 1, nil
}

// Remove deletes every record matching f and returns how many were removed.
// Files are checked and then removed, so a record rewritten between the two
// steps can still be removed by an expiry filter.
func (c *Collection) Remove(ctx context.Context, f collection.Filter) (int, error) {
	if f.Key != "" {
		path := c.Location(f.Key)
		rec, found, err := c.read(path)
		if err != nil || !found || !f.Match(rec) {
			return 0, err
		}
		return remove(path)
	}

	n := 0
	err := c.walk(ctx, func(path string) (bool, error) {
		if f.Pattern != nil || f.HasExpiry() {
			rec, found, err := c.read(path)
			if err != nil || !found || !f.Match(rec) {
				return true, err
			}
		}
		removed, err := remove(path)
		n += removed
		return true, err
	})
	return n, err
}

// Count returns the number of record files.
func (c *Collection) Count(ctx context.Context) (int, error) {
	n := 0
	err := c.walk(ctx, func(string) (bool, error) {
		n++
		return true, nil
	})
	return n, err
}

// CreateIndex is a no-op: records are addressed by key hash.
func (*Collection) CreateIndex(context.Context) error {
	return nil
}
