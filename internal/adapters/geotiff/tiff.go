// Package geotiff implements the raster codec: decoding source GeoTIFFs,
// encoding Cloud-Optimized GeoTIFFs, and structural COG validation.
package geotiff

import (
	"fmt"

	"github.com/jobrunner/cogforge/internal/domain"
)

// TIFF tag IDs used by the codec.
const (
	tagNewSubfileType  = 254
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339

	// GeoTIFF tags.
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735

	// GDAL's ASCII nodata tag.
	tagGDALNodata = 42113
)

// GeoTIFF key IDs inside the GeoKeyDirectory.
const (
	keyModelType      = 1024
	keyRasterType     = 1025
	keyGeographicType = 2048
	keyProjectedCS    = 3072

	modelTypeProjected  = 1
	modelTypeGeographic = 2
	rasterTypePixelArea = 1
)

// TIFF compression schemes.
const (
	compNone       = 1
	compLZW        = 5
	compDeflate    = 8
	compDeflateOld = 32946
)

// TIFF field types.
const (
	typeByte     = 1
	typeASCII    = 2
	typeShort    = 3
	typeLong     = 4
	typeRational = 5
	typeSByte    = 6
	typeSShort   = 8
	typeSLong    = 9
	typeFloat    = 11
	typeDouble   = 12
)

// TIFF sample formats.
const (
	sfUint  = 1
	sfInt   = 2
	sfFloat = 3
)

// typeSizes maps field types to their byte widths.
var typeSizes = map[uint16]uint32{
	typeByte:     1,
	typeASCII:    1,
	typeShort:    2,
	typeLong:     4,
	typeRational: 8,
	typeSByte:    1,
	typeSShort:   2,
	typeSLong:    4,
	typeFloat:    4,
	typeDouble:   8,
}

// pixelTypeOf maps BitsPerSample + SampleFormat to a domain pixel type.
func pixelTypeOf(bits, format uint16) (domain.PixelType, error) {
	switch {
	case bits == 8 && format == sfUint:
		return domain.PixelUint8, nil
	case bits == 16 && format == sfUint:
		return domain.PixelUint16, nil
	case bits == 16 && format == sfInt:
		return domain.PixelInt16, nil
	case bits == 32 && format == sfInt:
		return domain.PixelInt32, nil
	case bits == 32 && format == sfFloat:
		return domain.PixelFloat32, nil
	case bits == 64 && format == sfFloat:
		return domain.PixelFloat64, nil
	default:
		return "", fmt.Errorf("%w: %d-bit sample format %d", domain.ErrConfiguration, bits, format)
	}
}

// sampleFormatOf is the inverse of pixelTypeOf for encoding.
func sampleFormatOf(p domain.PixelType) uint16 {
	switch {
	case p.IsFloat():
		return sfFloat
	case p.IsUnsigned():
		return sfUint
	default:
		return sfInt
	}
}

// Image holds decoded samples for one resolution level. Samples are
// stored band-interleaved as float64, which represents every supported
// pixel type exactly.
type Image struct {
	Width     int
	Height    int
	Bands     int
	PixelType domain.PixelType
	Samples   []float64
}

// NewImage allocates an image of the given shape.
func NewImage(width, height, bands int, p domain.PixelType) *Image {
	return &Image{
		Width:     width,
		Height:    height,
		Bands:     bands,
		PixelType: p,
		Samples:   make([]float64, width*height*bands),
	}
}

// At returns the sample for band b at (x, y).
func (im *Image) At(x, y, b int) float64 {
	return im.Samples[(y*im.Width+x)*im.Bands+b]
}

// Set stores the sample for band b at (x, y).
func (im *Image) Set(x, y, b int, v float64) {
	im.Samples[(y*im.Width+x)*im.Bands+b] = v
}

// Downsample returns a half-resolution copy using nearest-neighbor
// sampling. Nearest never invents values, so the nodata sentinel
// survives the pyramid exactly.
func (im *Image) Downsample() *Image {
	w := (im.Width + 1) / 2
	h := (im.Height + 1) / 2
	out := NewImage(w, h, im.Bands, im.PixelType)
	for y := 0; y < h; y++ {
		sy := y * 2
		for x := 0; x < w; x++ {
			sx := x * 2
			for b := 0; b < im.Bands; b++ {
				out.Set(x, y, b, im.At(sx, sy, b))
			}
		}
	}
	return out
}
