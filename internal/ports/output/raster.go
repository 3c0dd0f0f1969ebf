package output

import (
	"context"

	"github.com/jobrunner/cogforge/internal/domain"
)

// RasterConverter defines the secondary port for the raster codec: probe
// a source header, rewrite to COG layout, and structurally validate the
// result.
type RasterConverter interface {
	// Probe reads header-level metadata without decoding pixel data.
	Probe(ctx context.Context, path string) (domain.RasterInfo, error)

	// Build converts the source raster into a COG at destPath, burning
	// in the given nodata sentinel. Partial output is removed on error.
	Build(ctx context.Context, asset domain.RasterAsset, nodata float64, destPath string) (domain.CogArtifact, error)

	// Validate structurally verifies a built artifact. It never mutates
	// the artifact.
	Validate(ctx context.Context, artifact domain.CogArtifact) (domain.ValidationReport, error)
}
