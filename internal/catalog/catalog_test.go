package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ashureev/calmpath/internal/domain"
	"github.com/ashureev/calmpath/internal/store"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSeed(t *testing.T) {
	guides, err := DefaultSeed()
	require.NoError(t, err)
	require.Len(t, guides, 3)

	assert.Equal(t, "The Cooling Down Protocol", guides[0].Title)
	assert.Len(t, guides[0].Steps, 4)
	assert.Equal(t, "Request a Pause", guides[0].Steps[1].Title)
	assert.True(t, strings.HasPrefix(guides[0].Steps[1].Content, "Say: "))
	assert.Len(t, guides[2].Steps, 3)
}

func TestLoadSeedRejectsInvalidGuides(t *testing.T) {
	tests := map[string]string{
		"missing title": "- description: x\n  steps:\n    - title: a\n      content: b\n",
		"no steps":      "- title: x\n  description: y\n  steps: []\n",
		"untitled step": "- title: x\n  steps:\n    - content: b\n",
		"unknown field": "- title: x\n  colour: red\n  steps:\n    - title: a\n",
		"not a list":    "title: x\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadSeed(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guides.yaml")
	doc := "- title: Silent Treatment\n  description: When one of you shuts down.\n  imageUrl: /img/silent.png\n  steps:\n    - title: Name it\n      content: Say what you notice.\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	guides, err := LoadSeedFile(path)
	require.NoError(t, err)

	img := "/img/silent.png"
	want := []*domain.Guide{{
		Title:       "Silent Treatment",
		Description: "When one of you shuts down.",
		ImageURL:    &img,
		Steps:       []domain.Step{{Title: "Name it", Content: "Say what you notice."}},
	}}
	if diff := cmp.Diff(want, guides); diff != "" {
		t.Fatalf("seed mismatch (-want +got):\n%s", diff)
	}

	_, err = LoadSeedFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSeedIfEmptyRunsOnce(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewMemory())

	seed, err := DefaultSeed()
	require.NoError(t, err)
	n, err := svc.SeedIfEmpty(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	again, err := DefaultSeed()
	require.NoError(t, err)
	n, err = svc.SeedIfEmpty(ctx, again)
	require.NoError(t, err)
	assert.Zero(t, n)

	guides, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, guides, 3)

	fresh, err := DefaultSeed()
	require.NoError(t, err)
	if diff := cmp.Diff(fresh, guides, cmpopts.IgnoreFields(domain.Guide{}, "ID", "CreatedAt")); diff != "" {
		t.Fatalf("stored guides differ from seed (-want +got):\n%s", diff)
	}
}

func TestGetGuide(t *testing.T) {
	ctx := context.Background()
	svc := NewService(store.NewMemory())
	seed, err := DefaultSeed()
	require.NoError(t, err)
	_, err = svc.SeedIfEmpty(ctx, seed)
	require.NoError(t, err)

	g, err := svc.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Repairing After a Fight", g.Title)

	_, err = svc.Get(ctx, 99)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
