// Package confkit is the config-loading plumbing shared by the stockbot
// binaries: .env preloading, repository-root path resolution, and hydration
// of config sections that live in their own files, such as the exchange
// registry.
package confkit

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeromicro/go-zero/core/conf"
)

// ResolvePath expands environment variables in file and, when the result is
// still relative, anchors it at base. An absolute path ignores base.
func ResolvePath(base, file string) string {
	file = os.ExpandEnv(file)
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(base, file)
}

// BaseDir is the directory sibling config files resolve against: the
// directory holding the main config file.
func BaseDir(mainPath string) string {
	return filepath.Dir(mainPath)
}

// LoadFile parses path into a fresh T through go-zero conf, so field
// defaults and optional markers apply. With useEnv set, ${VAR} references
// in the file are filled from the environment.
func LoadFile[T any](path string, useEnv bool) (*T, error) {
	var opts []conf.Option
	if useEnv {
		opts = append(opts, conf.UseEnv())
	}
	var cfg T
	if err := conf.Load(path, &cfg, opts...); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return &cfg, nil
}

// Section is a config subtree kept in its own file next to the main config.
// An empty File leaves Value nil; callers treat that as the section being
// switched off.
type Section[T any] struct {
	File  string `json:",optional"`
	Value *T     `json:"-"`
}

// Hydrate resolves File against base, parses it with load, and keeps both
// the resolved path and the parsed value. A section without a file is a
// no-op.
func (s *Section[T]) Hydrate(base string, load func(string) (*T, error)) error {
	if s.File == "" {
		return nil
	}
	path := ResolvePath(base, s.File)
	value, err := load(path)
	if err != nil {
		return err
	}
	s.File = path
	s.Value = value
	return nil
}
