// Package catalog serves the read-only guide catalog and seeds it on first boot.
package catalog

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ashureev/calmpath/internal/domain"
	"github.com/ashureev/calmpath/internal/store"
	"gopkg.in/yaml.v3"
)

//go:embed guides.yaml
var defaultGuides []byte

// Service provides guide lookups.
type Service struct {
	repo store.Repository
}

// NewService creates a catalog service backed by repo.
func NewService(repo store.Repository) *Service {
	return &Service{repo: repo}
}

// List returns every guide.
func (s *Service) List(ctx context.Context) ([]*domain.Guide, error) {
	guides, err := s.repo.ListGuides(ctx)
	if err != nil {
		return nil, fmt.Errorf("list guides: %w", err)
	}
	return guides, nil
}

// Get returns a guide or domain.ErrNotFound.
func (s *Service) Get(ctx context.Context, id int64) (*domain.Guide, error) {
	guide, err := s.repo.GetGuide(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get guide %d: %w", id, err)
	}
	if guide == nil {
		return nil, fmt.Errorf("guide %d: %w", id, domain.ErrNotFound)
	}
	return guide, nil
}

// SeedIfEmpty inserts guides only when the catalog has none. Existing content
// is never touched.
func (s *Service) SeedIfEmpty(ctx context.Context, guides []*domain.Guide) (int, error) {
	n, err := s.repo.SeedGuides(ctx, guides)
	if err != nil {
		return 0, fmt.Errorf("seed guides: %w", err)
	}
	if n == 0 {
		slog.Info("Guide catalog already populated, skipping seed")
	} else {
		slog.Info("Guide catalog seeded", "guides", n)
	}
	return n, nil
}

// DefaultSeed returns the embedded guide set.
func DefaultSeed() ([]*domain.Guide, error) {
	return LoadSeed(bytes.NewReader(defaultGuides))
}

// LoadSeedFile reads a YAML guide list from path. An empty path yields the
// embedded default set.
func LoadSeedFile(path string) ([]*domain.Guide, error) {
	if path == "" {
		return DefaultSeed()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Warn("failed to close seed file", "path", path, "error", closeErr)
		}
	}()
	return LoadSeed(f)
}

// LoadSeed decodes and validates a YAML list of guides.
func LoadSeed(r io.Reader) ([]*domain.Guide, error) {
	var guides []*domain.Guide
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&guides); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	for i, g := range guides {
		if g == nil || strings.TrimSpace(g.Title) == "" {
			return nil, fmt.Errorf("seed guide %d: title is required", i)
		}
		if len(g.Steps) == 0 {
			return nil, fmt.Errorf("seed guide %q: at least one step is required", g.Title)
		}
		for j, step := range g.Steps {
			if strings.TrimSpace(step.Title) == "" {
				return nil, fmt.Errorf("seed guide %q step %d: title is required", g.Title, j)
			}
		}
	}
	return guides, nil
}
