package file

import (
	"fmt"
	"os"
	"path/filepath"

	"kvcache/internal/cache/base"
	"kvcache/internal/cache/compress"
	"kvcache/internal/common/errors"
)

// Default permissions for cache files and directories.
const (
	DefaultFilePermissions      os.FileMode = 0o644
	DefaultDirectoryPermissions os.FileMode = 0o755
)

// Config holds the on-disk driver configuration.
type Config struct {
	base.Options

	// Path is the cache root directory.
	Path string `json:"path"`
	// FilePermissions is applied to every cache file after it is renamed into place.
	FilePermissions os.FileMode `json:"file_permissions"`
	// DirectoryPermissions is used for the root and the two-level fan-out directories.
	DirectoryPermissions os.FileMode `json:"directory_permissions"`
	// Compression is one of none, s2 or zstd.
	Compression string `json:"compression"`
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if err := c.Options.Validate(); err != nil {
		return err
	}

	if c.Path == "" {
		c.Path = DefaultPath()
	}
	if c.FilePermissions == 0 {
		c.FilePermissions = DefaultFilePermissions
	}
	if c.DirectoryPermissions == 0 {
		c.DirectoryPermissions = DefaultDirectoryPermissions
	}

	if c.FilePermissions&^os.ModePerm != 0 {
		return errors.ConfigError(fmt.Sprintf("invalid file permissions %o", c.FilePermissions))
	}
	if c.DirectoryPermissions&^os.ModePerm != 0 {
		return errors.ConfigError(fmt.Sprintf("invalid directory permissions %o", c.DirectoryPermissions))
	}
	if c.DirectoryPermissions&0o300 != 0o300 {
		return errors.ConfigError(fmt.Sprintf("directory permissions %o must let the owner write and traverse", c.DirectoryPermissions))
	}
	if !compress.Valid(c.Compression) {
		return errors.ConfigError(fmt.Sprintf("unknown compression %q", c.Compression))
	}

	return nil
}

// GetType returns the driver type
func (c *Config) GetType() string {
	return "file"
}

// DefaultPath returns the per-user cache directory, falling back to the
// system temp directory.
func DefaultPath() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "kvcache")
	}
	return filepath.Join(os.TempDir(), "kvcache")
}
