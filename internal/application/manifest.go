// Package application contains the application services.
package application

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jobrunner/cogforge/internal/domain"
)

// ManifestItem is one enlisted source raster.
type ManifestItem struct {
	Path     string
	Category domain.Category
}

// Manifest is the batch input: an activation event name plus source
// files grouped by category. It is consumed once at run start.
type Manifest struct {
	Event string
	Items []ManifestItem
}

// rawManifest mirrors the YAML document shape.
type rawManifest struct {
	Event string              `yaml:"event"`
	Files map[string][]string `yaml:"files"`
}

// categoryOrder fixes item ordering so runs are reproducible regardless
// of YAML map iteration.
var categoryOrder = []domain.Category{
	domain.CategoryRGB,
	domain.CategoryWaterMask,
	domain.CategoryWaterMaskDiff,
}

// LoadManifest reads and validates a batch manifest. A malformed
// manifest is the one error that aborts a run before any item starts.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading manifest %s: %v", domain.ErrConfiguration, path, err)
	}
	return ParseManifest(data)
}

// ParseManifest parses and validates manifest bytes.
func ParseManifest(data []byte) (*Manifest, error) {
	var raw rawManifest
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing manifest: %v", domain.ErrConfiguration, err)
	}

	if raw.Event == "" {
		return nil, fmt.Errorf("%w: manifest is missing the event name", domain.ErrConfiguration)
	}

	for key := range raw.Files {
		if !domain.Category(key).Known() {
			return nil, fmt.Errorf("%w: unknown category %q in manifest", domain.ErrConfiguration, key)
		}
	}

	m := &Manifest{Event: raw.Event}
	for _, cat := range categoryOrder {
		for _, path := range raw.Files[string(cat)] {
			if path == "" {
				return nil, fmt.Errorf("%w: empty file path under category %q", domain.ErrConfiguration, cat)
			}
			m.Items = append(m.Items, ManifestItem{Path: path, Category: cat})
		}
	}

	if len(m.Items) == 0 {
		return nil, fmt.Errorf("%w: manifest lists no files", domain.ErrConfiguration)
	}

	return m, nil
}

// SingleItem builds a one-item manifest for watch-mode ingestion. The
// category is inferred from the filename.
func SingleItem(event, path string) (*Manifest, error) {
	cat, err := domain.CategoryOf(path)
	if err != nil {
		return nil, err
	}
	return &Manifest{
		Event: event,
		Items: []ManifestItem{{Path: path, Category: cat}},
	}, nil
}
