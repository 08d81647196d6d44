// Package file implements a cache store that keeps one file per key.
//
// A key's file lives at <root>/<h[0:2]>/<h[2:4]>/<h>.cache where h is the hex
// BLAKE2b-256 of the prepared key. Each file holds a JSON record:
//
//	{"value": "<serialized value>", "expires": 1767225600, "created_at": 1767222000}
//
// expires is null for entries without a TTL. Writes go to a temp file in the
// target directory which is then renamed over the final path, so readers see
// the old record, the new record or nothing.
package file

import (
	"context"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"kvcache/internal/cache"
	"kvcache/internal/cache/base"
	"kvcache/internal/cache/compress"
	"kvcache/internal/common/errors"
	"kvcache/internal/common/logging"
)

// Suffix is the extension of uncompressed cache files.
const Suffix = ".cache"

// renameFile is swapped in tests to simulate a crash before the rename.
var renameFile = os.Rename

type record struct {
	Value     string `json:"value"`
	Expires   *int64 `json:"expires"`
	CreatedAt int64  `json:"created_at"`
}

func (r *record) expired(now time.Time) bool {
	return r.Expires != nil && *r.Expires < now.Unix()
}

type disk struct {
	root     string
	filePerm os.FileMode
	dirPerm  os.FileMode
	codec    compress.Compressor
	suffix   string
	now      func() time.Time
	logger   logging.Logger
}

func (d *disk) path(key string) string {
	sum := blake2b.Sum256([]byte(key))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(d.root, h[0:2], h[2:4], h+d.suffix)
}

func (d *disk) Read(_ context.Context, key string) ([]byte, bool, error) {
	rec, found, err := d.load(d.path(key))
	if err != nil || !found {
		return nil, false, err
	}
	return []byte(rec.Value), true, nil
}

func (d *disk) Exists(_ context.Context, key string) (bool, error) {
	_, found, err := d.load(d.path(key))
	return found, err
}

// load reads and decodes fn. Corrupt and expired files are deleted and
// reported as absent; corruption is also returned as an error so the caller
// can log it.
func (d *disk) load(fn string) (*record, bool, error) {
	data, err := os.ReadFile(fn)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cache file: %w", err)
	}

	rec, err := d.decode(data)
	if err != nil {
		d.discard(fn)
		return nil, false, err
	}

	if rec.expired(d.now()) {
		d.discard(fn)
		return nil, false, nil
	}

	return rec, true, nil
}

func (d *disk) decode(data []byte) (*record, error) {
	raw, err := d.codec.Decode(data)
	if err != nil {
		return nil, errors.SerializationError("cache file cannot be decompressed", err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errors.SerializationError("cache file is corrupt", err)
	}
	return &rec, nil
}

func (d *disk) encode(rec record) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.SerializationError("cache record cannot be encoded", err)
	}
	return d.codec.Encode(raw)
}

func (d *disk) Write(_ context.Context, key string, payload []byte, expiresAt time.Time) error {
	rec := record{Value: string(payload), CreatedAt: d.now().Unix()}
	if !expiresAt.IsZero() {
		exp := expiresAt.Unix()
		rec.Expires = &exp
	}

	data, err := d.encode(rec)
	if err != nil {
		return err
	}

	fn := d.path(key)
	dir := filepath.Dir(fn)
	if err := os.MkdirAll(dir, d.dirPerm); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(fn)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := stderrors.Join(werr, cerr); err != nil {
		d.removeTemp(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := renameFile(tmpName, fn); err != nil {
		d.removeTemp(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}

	// The record is in place; a chmod failure leaves it readable with the
	// temp file's 0600 mode.
	if err := os.Chmod(fn, d.filePerm); err != nil {
		d.logger.Warn("Failed to set cache file permissions",
			logging.String("path", fn),
			logging.Err(err),
		)
	}
	return nil
}

func (d *disk) Remove(_ context.Context, key string) (bool, error) {
	err := os.Remove(d.path(key))
	if err == nil {
		return true, nil
	}
	if stderrors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("remove cache file: %w", err)
}

func (d *disk) Flush(context.Context) error {
	if err := os.RemoveAll(d.root); err != nil {
		return fmt.Errorf("remove cache root: %w", err)
	}
	if err := os.MkdirAll(d.root, d.dirPerm); err != nil {
		return fmt.Errorf("recreate cache root: %w", err)
	}
	return nil
}

func (d *disk) discard(fn string) {
	if err := os.Remove(fn); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		d.logger.Debug("Failed to remove stale cache file",
			logging.String("path", fn),
			logging.Err(err),
		)
	}
}

func (d *disk) removeTemp(name string) {
	if err := os.Remove(name); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		d.logger.Debug("Failed to remove temp file",
			logging.String("path", name),
			logging.Err(err),
		)
	}
}

// Driver is the on-disk cache store.
type Driver struct {
	*base.Driver
	disk *disk
}

var (
	_ cache.Store   = (*Driver)(nil)
	_ cache.Cleaner = (*Driver)(nil)
)

// New creates an on-disk store rooted at config.Path. It fails with a driver
// error when the root cannot be created or written to.
func New(config *Config) (*Driver, error) {
	if config == nil {
		return nil, errors.ConfigError("file driver config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	codec, err := compress.ByName(config.Compression)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(config.Path, config.DirectoryPermissions); err != nil {
		return nil, errors.DriverError("file", "cache directory cannot be created", err).
			WithContext("path", config.Path)
	}
	if err := probeWritable(config.Path); err != nil {
		return nil, errors.DriverError("file", "cache directory is not writable", err).
			WithContext("path", config.Path)
	}

	dk := &disk{
		root:     config.Path,
		filePerm: config.FilePermissions,
		dirPerm:  config.DirectoryPermissions,
		codec:    codec,
		suffix:   Suffix + codec.Extension(),
		now:      config.Now,
	}
	d := &Driver{
		Driver: base.New(config.GetType(), dk, config.Options),
		disk:   dk,
	}
	dk.logger = d.Logger()

	return d, nil
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".write_test*")
	if err != nil {
		return err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Remove(name)
}

// Root returns the cache root directory.
func (d *Driver) Root() string {
	return d.disk.root
}

// Location returns the file path that stores key.
func (d *Driver) Location(key string) (string, error) {
	k, err := d.PrepareKey(key)
	if err != nil {
		return "", err
	}
	return d.disk.path(k), nil
}

// CleanExpired walks the cache tree and deletes expired and corrupt entries.
// Files that do not carry the cache suffix, including temp files, are left
// alone.
func (d *Driver) CleanExpired(ctx context.Context) (int, error) {
	removed := 0
	err := filepath.WalkDir(d.disk.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() || !strings.HasSuffix(path, d.disk.suffix) {
			return nil
		}

		_, found, loadErr := d.disk.load(path)
		if found {
			return nil
		}
		_, statErr := os.Lstat(path)
		gone := stderrors.Is(statErr, fs.ErrNotExist)
		switch {
		case loadErr != nil && gone:
			d.Logger().Debug("Reclaimed corrupt cache file",
				logging.String("path", path),
				logging.Err(loadErr),
			)
		case loadErr != nil:
			d.Logger().Warn("Failed to read cache file",
				logging.String("path", path),
				logging.Err(loadErr),
			)
		}
		if gone {
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("walk cache directory: %w", err)
	}

	if removed > 0 {
		d.Logger().Info("Cleaned expired cache files", logging.Int("removed", removed))
	}
	return removed, nil
}
