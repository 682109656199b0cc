package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sengac/mindstrike-sub006/internal/domain"
)

// Source implements domain.ModelSource over a flat models directory. Every
// *.gguf file is a model; files matching a built-in entry inherit its layer
// count and context metadata.
type Source struct {
	dir string
}

// NewSource creates a model source rooted at dir. The directory is created
// if missing.
func NewSource(dir string) (*Source, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create models dir: %w", err)
	}
	return &Source{dir: dir}, nil
}

// Dir returns the models directory.
func (s *Source) Dir() string { return s.dir }

// LocalModels implements domain.ModelSource: one descriptor per *.gguf
// file, sorted by id for stable listings.
func (s *Source) LocalModels() ([]domain.ModelDescriptor, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("scan models dir: %w", err)
	}

	var models []domain.ModelDescriptor
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".gguf") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // removed between readdir and stat
		}
		models = append(models, s.describe(e.Name(), info.Size()))
	}

	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// Resolve implements domain.ModelSource. Matches by id, friendly name or
// tag, or exact filename.
func (s *Source) Resolve(idOrName string) (*domain.ModelDescriptor, error) {
	if idOrName == "" {
		return nil, fmt.Errorf("%w: empty identifier", domain.ErrModelNotFound)
	}

	models, err := s.LocalModels()
	if err != nil {
		return nil, err
	}

	// Tags resolve through the built-in table first so "llama3" finds the
	// right file even when several models are present.
	var wantFile string
	if entry := Lookup(idOrName); entry != nil {
		wantFile = entry.HFFile
	}

	for i := range models {
		m := &models[i]
		if m.ID == idOrName || m.Name == idOrName || m.Filename == idOrName || m.Filename == wantFile {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrModelNotFound, idOrName)
}

// describe builds a descriptor for one on-disk file. The model id is the
// filename without extension; it survives renames of the friendly name.
func (s *Source) describe(filename string, size int64) domain.ModelDescriptor {
	desc := domain.ModelDescriptor{
		ID:        strings.TrimSuffix(filename, ".gguf"),
		Name:      strings.TrimSuffix(filename, ".gguf"),
		Filename:  filename,
		Path:      filepath.Join(s.dir, filename),
		SizeBytes: size,
	}

	if entry := byFile(filename); entry != nil {
		desc.Name = entry.Name
		desc.LayerCount = entry.LayerCount
		desc.TrainedContextLength = entry.TrainedContextLength
		desc.MaxContextLength = entry.MaxContextLength
		desc.ParameterCount = entry.Parameters
		desc.Quantization = entry.Quantization
	}
	return desc
}
