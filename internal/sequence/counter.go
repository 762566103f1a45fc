// Package sequence persists the high-water mark used to assign archive IDs.
package sequence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// NoValue is returned by Load when nothing usable has been persisted.
const NoValue = -1

// Counter stores the highest ID ever assigned as the sole content of a file.
type Counter struct {
	path string
}

// New returns a Counter backed by path.
func New(path string) (*Counter, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("counter path is required")
	}
	return &Counter{path: path}, nil
}

// Path returns the backing file location.
func (c *Counter) Path() string {
	return c.path
}

// Load returns the persisted value, or NoValue when the file is missing or
// does not hold an integer.
func (c *Counter) Load() int {
	n, err := c.read()
	if err != nil {
		return NoValue
	}
	return n
}

// Inspect is Load with the reason for a NoValue result. A missing file is not
// an error.
func (c *Counter) Inspect() (int, error) {
	n, err := c.read()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return NoValue, err
	}
	if err != nil {
		return NoValue, nil
	}
	return n, nil
}

// NextRangeStart returns the first ID of the next run.
func (c *Counter) NextRangeStart() int {
	return c.Load() + 1
}

// Commit overwrites the persisted value with highest.
func (c *Counter) Commit(highest int) error {
	if highest < 0 {
		return fmt.Errorf("counter value must be >= 0, got %d", highest)
	}
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create counter dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".last_id-*")
	if err != nil {
		return fmt.Errorf("create counter temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.WriteString(strconv.Itoa(highest)); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write counter: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync counter: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close counter temp file: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		cleanup()
		return fmt.Errorf("replace counter file: %w", err)
	}
	return nil
}

func (c *Counter) read() (int, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return NoValue, fmt.Errorf("read counter %s: %w", c.path, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return NoValue, fmt.Errorf("parse counter %s: %w", c.path, err)
	}
	return n, nil
}
