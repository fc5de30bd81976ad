package docsource

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type localConfig struct {
	Dir string `json:"dir"`
}

// LocalSource reads *.xml files from one directory, not recursively.
type LocalSource struct {
	dir string
}

func init() {
	Register("local", func(args interface{}) (Source, error) {
		cfg := &localConfig{}
		if err := decodeConfig(args, cfg); err != nil {
			return nil, err
		}
		return NewLocal(cfg.Dir)
	})
}

func NewLocal(dir string) (*LocalSource, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("local document dir is required")
	}
	return &LocalSource{dir: dir}, nil
}

func (s *LocalSource) Type() string {
	return "local"
}

func (s *LocalSource) Dir() string {
	return s.dir
}

func (s *LocalSource) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !isXML(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *LocalSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if name != filepath.Base(name) || strings.Contains(name, "\\") {
		return nil, fmt.Errorf("invalid document name %q", name)
	}
	return os.Open(filepath.Join(s.dir, name))
}
