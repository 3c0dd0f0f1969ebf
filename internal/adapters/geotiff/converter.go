package geotiff

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jobrunner/cogforge/internal/domain"
)

// standardTileSizes are the tile dimensions accepted by validation.
var standardTileSizes = map[int]bool{256: true, 512: true, 1024: true}

// Options holds codec policy knobs.
type Options struct {
	// TileSize is the internal tile dimension for built COGs.
	TileSize int

	// MinOverviewSize is the longest side at which the overview pyramid
	// stops; levels are halved until they fit under it.
	MinOverviewSize int
}

// Converter implements the RasterConverter port on plain GeoTIFF files.
type Converter struct {
	opts Options
}

// NewConverter creates a converter, applying defaults for unset knobs.
func NewConverter(opts Options) (*Converter, error) {
	if opts.TileSize == 0 {
		opts.TileSize = 512
	}
	if opts.MinOverviewSize == 0 {
		opts.MinOverviewSize = 512
	}
	if !standardTileSizes[opts.TileSize] {
		return nil, fmt.Errorf("%w: tile size %d is not one of 256/512/1024", domain.ErrConfiguration, opts.TileSize)
	}
	return &Converter{opts: opts}, nil
}

// Probe reads header-level metadata of a source raster.
func (c *Converter) Probe(_ context.Context, path string) (domain.RasterInfo, error) {
	f, err := os.Open(path) //#nosec G304 -- path comes from the run manifest
	if err != nil {
		return domain.RasterInfo{}, fmt.Errorf("%w: opening %s: %v", domain.ErrSourceRead, path, err)
	}
	defer func() { _ = f.Close() }()

	ifds, err := parseFile(f)
	if err != nil {
		return domain.RasterInfo{}, fmt.Errorf("%w: parsing %s: %v", domain.ErrSourceRead, path, err)
	}

	info, err := ifds[0].info()
	if err != nil {
		if errors.Is(err, domain.ErrConfiguration) {
			return domain.RasterInfo{}, err
		}
		return domain.RasterInfo{}, fmt.Errorf("%w: %s: %v", domain.ErrSourceRead, path, err)
	}
	return info, nil
}

// Build converts a source raster into a COG at destPath with the decided
// nodata sentinel burned in. Partial output is removed on every failure
// path.
func (c *Converter) Build(ctx context.Context, asset domain.RasterAsset, nodata float64, destPath string) (domain.CogArtifact, error) {
	f, err := os.Open(asset.SourcePath) //#nosec G304 -- path comes from the run manifest
	if err != nil {
		return domain.CogArtifact{}, fmt.Errorf("%w: opening %s: %v", domain.ErrSourceRead, asset.SourcePath, err)
	}
	defer func() { _ = f.Close() }()

	ifds, err := parseFile(f)
	if err != nil {
		return domain.CogArtifact{}, fmt.Errorf("%w: parsing %s: %v", domain.ErrSourceRead, asset.SourcePath, err)
	}
	im, err := decode(f, ifds[0])
	if err != nil {
		return domain.CogArtifact{}, fmt.Errorf("%w: decoding %s: %v", domain.ErrSourceRead, asset.SourcePath, err)
	}
	if err := ctx.Err(); err != nil {
		return domain.CogArtifact{}, err
	}

	// Re-tag existing sentinel values so the declared and encoded nodata
	// never disagree.
	if old := asset.Info.Nodata; old != nil && *old != nodata {
		for i, v := range im.Samples {
			if v == *old {
				im.Samples[i] = nodata
			}
		}
	}

	levels := []*Image{im}
	for longestSide(levels[len(levels)-1]) > c.opts.MinOverviewSize {
		levels = append(levels, levels[len(levels)-1].Downsample())
	}
	if err := ctx.Err(); err != nil {
		return domain.CogArtifact{}, err
	}

	out, err := os.Create(destPath) //#nosec G304 -- destPath is inside the item workspace
	if err != nil {
		return domain.CogArtifact{}, fmt.Errorf("%w: creating %s: %v", domain.ErrResource, destPath, err)
	}

	ref := geoRef{Transform: asset.Info.Transform, EPSG: asset.Info.EPSG}
	if err := encodeCOG(out, levels, ref, nodata, c.opts.TileSize); err != nil {
		_ = out.Close()
		_ = os.Remove(destPath)
		return domain.CogArtifact{}, fmt.Errorf("%w: encoding %s: %v", domain.ErrResource, destPath, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(destPath)
		return domain.CogArtifact{}, fmt.Errorf("%w: closing %s: %v", domain.ErrResource, destPath, err)
	}

	st, err := os.Stat(destPath)
	if err != nil {
		_ = os.Remove(destPath)
		return domain.CogArtifact{}, fmt.Errorf("%w: %v", domain.ErrResource, err)
	}

	return domain.CogArtifact{
		Path:      destPath,
		Source:    asset.SourcePath,
		Category:  asset.Category,
		PixelType: im.PixelType,
		Nodata:    nodata,
		Size:      st.Size(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Validate structurally verifies a built artifact: the file parses, is
// tiled on a standard grid, carries an overview pyramid down to the
// configured minimum, and declares the nodata the artifact was built
// with. It never mutates the artifact.
func (c *Converter) Validate(_ context.Context, artifact domain.CogArtifact) (domain.ValidationReport, error) {
	report := domain.ValidationReport{Valid: true}

	f, err := os.Open(artifact.Path) //#nosec G304 -- path is inside the item workspace
	if err != nil {
		report.Violation(fmt.Sprintf("artifact unreadable: %v", err))
		return report, nil
	}
	defer func() { _ = f.Close() }()

	ifds, err := parseFile(f)
	if err != nil {
		report.Violation(fmt.Sprintf("does not parse as a raster: %v", err))
		return report, nil
	}
	main := ifds[0]

	if !main.has(tagTileOffsets) {
		report.Violation("file is not tiled")
	} else {
		tw := int(main.firstUint(tagTileWidth, 0))
		th := int(main.firstUint(tagTileLength, 0))
		report.TileWidth = tw
		report.TileHeight = th
		if tw != th || !standardTileSizes[tw] {
			report.Violation(fmt.Sprintf("non-standard tile size %dx%d", tw, th))
		}
	}

	switch main.firstUint(tagCompression, compNone) {
	case compDeflate, compDeflateOld, compLZW:
	default:
		report.Violation("compression is not deflate or lzw")
	}

	overviews := 0
	smallest := longestDim(main)
	for _, fd := range ifds[1:] {
		if fd.firstUint(tagNewSubfileType, 0)&1 == 1 {
			overviews++
			if d := longestDim(fd); d > 0 && d < smallest {
				smallest = d
			}
		}
	}
	report.Overviews = overviews

	tileSize := int(main.firstUint(tagTileWidth, 0))
	if d := longestDim(main); tileSize > 0 && d > tileSize {
		if overviews == 0 {
			report.Violation("no overview pyramid")
		} else if smallest > c.opts.MinOverviewSize {
			report.Violation(fmt.Sprintf("overview pyramid stops at %d, want <= %d", smallest, c.opts.MinOverviewSize))
		}
	}

	if declared := main.nodataVal(); declared == nil {
		report.Violation("no nodata declared")
	} else if *declared != artifact.Nodata {
		report.Violation(fmt.Sprintf("declared nodata %v does not match %v", *declared, artifact.Nodata))
	}

	if info, err := main.info(); err != nil {
		report.Violation(fmt.Sprintf("unreadable header: %v", err))
	} else if info.PixelType != artifact.PixelType {
		report.Violation(fmt.Sprintf("pixel type %s does not match %s", info.PixelType, artifact.PixelType))
	}

	return report, nil
}

// longestSide returns the longer image dimension.
func longestSide(im *Image) int {
	if im.Width > im.Height {
		return im.Width
	}
	return im.Height
}

// longestDim returns the longer dimension recorded in an IFD.
func longestDim(fd *ifd) int {
	w := int(fd.firstUint(tagImageWidth, 0))
	h := int(fd.firstUint(tagImageLength, 0))
	if w > h {
		return w
	}
	return h
}
