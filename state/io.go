package state

import (
	"os"
	"path/filepath"

	"github.com/juju/errors"
)

// FullReader resolves and reads config sources by name.
type FullReader interface {
	Normalize(key string) string
	// nil,nil = not found
	ReadAll(key string) ([]byte, error)
}

// OsFullReader resolves relative include names against base directory.
type OsFullReader struct {
	base string
}

func NewOsFullReader(basePath string) *OsFullReader {
	r := &OsFullReader{base: basePath}
	r.SetBase(basePath)
	return r
}

// SetBase moves include resolution to path, usually directory of main config file.
func (self *OsFullReader) SetBase(path string) {
	if path == "" {
		return
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	self.base = path
}

func (self *OsFullReader) Normalize(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(self.base, path))
}

func (*OsFullReader) ReadAll(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return b, errors.Annotatef(err, "config read path=%s", path)
}

// MockFullReader serves config sources from memory, for tests.
type MockFullReader struct {
	Map map[string]string
}

func NewMockFullReader(sources map[string]string) *MockFullReader {
	return &MockFullReader{Map: sources}
}

func (self *MockFullReader) Normalize(name string) string {
	return filepath.Clean(name)
}

func (self *MockFullReader) ReadAll(name string) ([]byte, error) {
	if s, ok := self.Map[name]; ok {
		return []byte(s), nil
	}
	return nil, nil
}
