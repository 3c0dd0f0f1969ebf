// Package domain contains the core types of the COG pipeline.
package domain

import "time"

// PixelType identifies the sample encoding of a raster band.
type PixelType string

// Supported pixel types.
const (
	PixelUint8   PixelType = "uint8"
	PixelUint16  PixelType = "uint16"
	PixelInt16   PixelType = "int16"
	PixelInt32   PixelType = "int32"
	PixelFloat32 PixelType = "float32"
	PixelFloat64 PixelType = "float64"
)

// BitsPerSample returns the sample width in bits.
func (p PixelType) BitsPerSample() int {
	switch p {
	case PixelUint8:
		return 8
	case PixelUint16, PixelInt16:
		return 16
	case PixelInt32, PixelFloat32:
		return 32
	case PixelFloat64:
		return 64
	default:
		return 0
	}
}

// IsUnsigned returns true for unsigned integer pixel types.
func (p PixelType) IsUnsigned() bool {
	return p == PixelUint8 || p == PixelUint16
}

// IsFloat returns true for floating point pixel types.
func (p PixelType) IsFloat() bool {
	return p == PixelFloat32 || p == PixelFloat64
}

// Known returns true if the pixel type is one of the supported values.
func (p PixelType) Known() bool {
	return p.BitsPerSample() != 0
}

// Category tags a raster with the product class it belongs to.
type Category string

// Product categories for flood disaster rasters.
const (
	CategoryRGB           Category = "rgb"
	CategoryWaterMask     Category = "wm"
	CategoryWaterMaskDiff Category = "wm_diff"
)

// Known returns true if the category is one of the supported values.
func (c Category) Known() bool {
	switch c {
	case CategoryRGB, CategoryWaterMask, CategoryWaterMaskDiff:
		return true
	}
	return false
}

// Transform is the affine geotransform of a raster: origin X/Y and pixel
// size X/Y. Row rotation terms are not carried; north-up rasters only.
type Transform struct {
	OriginX float64
	OriginY float64
	PixelX  float64
	PixelY  float64
}

// RasterInfo holds the header-level metadata of a source raster, read
// before any pixel data is touched.
type RasterInfo struct {
	Width     int
	Height    int
	Bands     int
	PixelType PixelType
	EPSG      int
	Transform Transform
	Nodata    *float64 // sentinel declared by the source, if any
}

// RasterAsset is one input item of a batch: a source raster on disk plus
// the category it was enlisted under. PixelType is filled in from the
// source header before nodata assignment.
type RasterAsset struct {
	SourcePath string
	Category   Category
	Info       RasterInfo
}

// Name returns the base filename of the source raster.
func (a *RasterAsset) Name() string {
	path := a.SourcePath
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}

// CogArtifact is the converted output for one asset. It owns the file at
// Path until the upload hands it to the store; the batch runner removes
// the workspace on every exit path.
type CogArtifact struct {
	Path      string
	Source    string
	Category  Category
	PixelType PixelType
	Nodata    float64
	Size      int64
	CreatedAt time.Time
}

// ValidationReport is the outcome of structural COG validation. It is
// ephemeral and consumed immediately by the batch runner.
type ValidationReport struct {
	Valid      bool
	TileWidth  int
	TileHeight int
	Overviews  int
	Violations []string
}

// Violation records a failed structural rule.
func (r *ValidationReport) Violation(rule string) {
	r.Valid = false
	r.Violations = append(r.Violations, rule)
}
