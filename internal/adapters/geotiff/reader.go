package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/jobrunner/cogforge/internal/domain"
)

const maxIFDs = 64

// entry is one resolved IFD entry with its value bytes.
type entry struct {
	typ   uint16
	count uint32
	data  []byte
}

// ifd is one parsed image file directory.
type ifd struct {
	order   binary.ByteOrder
	entries map[uint16]entry
}

// parseFile reads the TIFF header and all IFDs. Only classic TIFF is
// supported; BigTIFF sources are rejected.
func parseFile(r io.ReaderAt) ([]*ifd, error) {
	hdr := make([]byte, 8)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	var order binary.ByteOrder
	switch {
	case hdr[0] == 'I' && hdr[1] == 'I':
		order = binary.LittleEndian
	case hdr[0] == 'M' && hdr[1] == 'M':
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a TIFF file")
	}

	switch magic := order.Uint16(hdr[2:4]); magic {
	case 42:
	case 43:
		return nil, fmt.Errorf("BigTIFF is not supported")
	default:
		return nil, fmt.Errorf("bad TIFF magic %d", magic)
	}

	var ifds []*ifd
	offset := int64(order.Uint32(hdr[4:8]))
	seen := make(map[int64]bool)

	for offset != 0 {
		if seen[offset] || len(ifds) >= maxIFDs {
			return nil, fmt.Errorf("malformed IFD chain")
		}
		seen[offset] = true

		cntBuf := make([]byte, 2)
		if _, err := r.ReadAt(cntBuf, offset); err != nil {
			return nil, fmt.Errorf("reading IFD at %d: %w", offset, err)
		}
		n := int(order.Uint16(cntBuf))

		body := make([]byte, 12*n+4)
		if _, err := r.ReadAt(body, offset+2); err != nil {
			return nil, fmt.Errorf("reading IFD entries at %d: %w", offset, err)
		}

		fd := &ifd{order: order, entries: make(map[uint16]entry, n)}
		for i := 0; i < n; i++ {
			e := body[i*12 : i*12+12]
			tag := order.Uint16(e[0:2])
			typ := order.Uint16(e[2:4])
			count := order.Uint32(e[4:8])

			sz, ok := typeSizes[typ]
			if !ok {
				continue // unknown field type, skip
			}
			total := sz * count

			var data []byte
			if total <= 4 {
				data = append([]byte(nil), e[8:8+total]...)
			} else {
				data = make([]byte, total)
				if _, err := r.ReadAt(data, int64(order.Uint32(e[8:12]))); err != nil {
					return nil, fmt.Errorf("reading value of tag %d: %w", tag, err)
				}
			}
			fd.entries[tag] = entry{typ: typ, count: count, data: data}
		}
		ifds = append(ifds, fd)
		offset = int64(order.Uint32(body[12*n:]))
	}

	if len(ifds) == 0 {
		return nil, fmt.Errorf("no IFD found")
	}
	return ifds, nil
}

// uintVals returns an integer-typed tag as uint64 values.
func (fd *ifd) uintVals(tag uint16) ([]uint64, bool) {
	e, ok := fd.entries[tag]
	if !ok {
		return nil, false
	}
	out := make([]uint64, 0, e.count)
	for i := uint32(0); i < e.count; i++ {
		switch e.typ {
		case typeByte:
			out = append(out, uint64(e.data[i]))
		case typeShort:
			out = append(out, uint64(fd.order.Uint16(e.data[i*2:])))
		case typeLong:
			out = append(out, uint64(fd.order.Uint32(e.data[i*4:])))
		default:
			return nil, false
		}
	}
	return out, true
}

// firstUint returns the first value of an integer tag or a default.
func (fd *ifd) firstUint(tag uint16, def uint64) uint64 {
	vals, ok := fd.uintVals(tag)
	if !ok || len(vals) == 0 {
		return def
	}
	return vals[0]
}

// asciiVal returns an ASCII tag with the trailing NUL stripped.
func (fd *ifd) asciiVal(tag uint16) (string, bool) {
	e, ok := fd.entries[tag]
	if !ok || e.typ != typeASCII {
		return "", false
	}
	return strings.TrimRight(string(e.data), "\x00"), true
}

// doubleVals returns a DOUBLE tag's values.
func (fd *ifd) doubleVals(tag uint16) ([]float64, bool) {
	e, ok := fd.entries[tag]
	if !ok || e.typ != typeDouble {
		return nil, false
	}
	out := make([]float64, 0, e.count)
	for i := uint32(0); i < e.count; i++ {
		out = append(out, math.Float64frombits(fd.order.Uint64(e.data[i*8:])))
	}
	return out, true
}

// has reports whether the IFD carries the tag.
func (fd *ifd) has(tag uint16) bool {
	_, ok := fd.entries[tag]
	return ok
}

// nodataVal parses the GDAL_NODATA ASCII tag, if present.
func (fd *ifd) nodataVal() *float64 {
	s, ok := fd.asciiVal(tagGDALNodata)
	if !ok {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &v
}

// epsgVal scans the GeoKeyDirectory for the geographic or projected CRS
// code.
func (fd *ifd) epsgVal() int {
	keys, ok := fd.uintVals(tagGeoKeyDirectory)
	if !ok || len(keys) < 4 {
		return 0
	}
	// Header is 4 shorts, then 4 shorts per key: id, location, count, value.
	for i := 4; i+3 < len(keys); i += 4 {
		id, loc, value := keys[i], keys[i+1], keys[i+3]
		if loc != 0 {
			continue
		}
		if id == keyGeographicType || id == keyProjectedCS {
			return int(value)
		}
	}
	return 0
}

// info extracts header-level raster metadata from the main IFD.
func (fd *ifd) info() (domain.RasterInfo, error) {
	width := int(fd.firstUint(tagImageWidth, 0))
	height := int(fd.firstUint(tagImageLength, 0))
	if width <= 0 || height <= 0 {
		return domain.RasterInfo{}, fmt.Errorf("missing image dimensions")
	}

	bands := int(fd.firstUint(tagSamplesPerPixel, 1))
	bits := uint16(fd.firstUint(tagBitsPerSample, 8))
	format := uint16(fd.firstUint(tagSampleFormat, sfUint))

	pixelType, err := pixelTypeOf(bits, format)
	if err != nil {
		return domain.RasterInfo{}, err
	}

	info := domain.RasterInfo{
		Width:     width,
		Height:    height,
		Bands:     bands,
		PixelType: pixelType,
		Nodata:    fd.nodataVal(),
		EPSG:      fd.epsgVal(),
	}

	if scale, ok := fd.doubleVals(tagModelPixelScale); ok && len(scale) >= 2 {
		info.Transform.PixelX = scale[0]
		info.Transform.PixelY = -scale[1]
		if tie, ok := fd.doubleVals(tagModelTiepoint); ok && len(tie) >= 6 {
			// Tiepoint maps raster (i,j) to model (X,Y).
			info.Transform.OriginX = tie[3] - tie[0]*scale[0]
			info.Transform.OriginY = tie[4] + tie[1]*scale[1]
		}
	}

	return info, nil
}

// decode reads the full-resolution pixel data of the main IFD.
func decode(r io.ReaderAt, fd *ifd) (*Image, error) {
	info, err := fd.info()
	if err != nil {
		return nil, err
	}

	if planar := fd.firstUint(tagPlanarConfig, 1); planar != 1 {
		return nil, fmt.Errorf("planar configuration %d is not supported", planar)
	}
	if pred := fd.firstUint(tagPredictor, 1); pred != 1 {
		return nil, fmt.Errorf("predictor %d is not supported", pred)
	}

	comp := fd.firstUint(tagCompression, compNone)
	switch comp {
	case compNone, compDeflate, compDeflateOld:
	default:
		return nil, fmt.Errorf("compression scheme %d is not supported for decoding", comp)
	}

	im := NewImage(info.Width, info.Height, info.Bands, info.PixelType)

	if fd.has(tagTileOffsets) {
		return im, decodeTiles(r, fd, im, comp)
	}
	return im, decodeStrips(r, fd, im, comp)
}

// decodeTiles fills the image from a tiled layout, clipping edge tiles.
func decodeTiles(r io.ReaderAt, fd *ifd, im *Image, comp uint64) error {
	tw := int(fd.firstUint(tagTileWidth, 0))
	th := int(fd.firstUint(tagTileLength, 0))
	if tw <= 0 || th <= 0 {
		return fmt.Errorf("missing tile dimensions")
	}

	offsets, _ := fd.uintVals(tagTileOffsets)
	counts, _ := fd.uintVals(tagTileByteCounts)
	across := (im.Width + tw - 1) / tw
	down := (im.Height + th - 1) / th
	if len(offsets) < across*down || len(counts) < across*down {
		return fmt.Errorf("tile index shorter than grid")
	}

	bytesPer := im.PixelType.BitsPerSample() / 8
	for ty := 0; ty < down; ty++ {
		for tx := 0; tx < across; tx++ {
			idx := ty*across + tx
			raw, err := readChunk(r, int64(offsets[idx]), int64(counts[idx]), comp)
			if err != nil {
				return fmt.Errorf("tile %d: %w", idx, err)
			}
			want := tw * th * im.Bands * bytesPer
			if len(raw) < want {
				return fmt.Errorf("tile %d: short data %d < %d", idx, len(raw), want)
			}

			for row := 0; row < th; row++ {
				y := ty*th + row
				if y >= im.Height {
					break
				}
				for col := 0; col < tw; col++ {
					x := tx*tw + col
					if x >= im.Width {
						continue
					}
					base := (row*tw + col) * im.Bands * bytesPer
					for b := 0; b < im.Bands; b++ {
						v := sampleAt(raw[base+b*bytesPer:], im.PixelType, fd.order)
						im.Set(x, y, b, v)
					}
				}
			}
		}
	}
	return nil
}

// decodeStrips fills the image from a stripped layout.
func decodeStrips(r io.ReaderAt, fd *ifd, im *Image, comp uint64) error {
	offsets, ok := fd.uintVals(tagStripOffsets)
	if !ok {
		return fmt.Errorf("neither tiles nor strips present")
	}
	counts, _ := fd.uintVals(tagStripByteCounts)
	if len(counts) < len(offsets) {
		return fmt.Errorf("strip byte counts shorter than offsets")
	}

	rps := int(fd.firstUint(tagRowsPerStrip, uint64(im.Height)))
	if rps <= 0 {
		rps = im.Height
	}

	bytesPer := im.PixelType.BitsPerSample() / 8
	rowBytes := im.Width * im.Bands * bytesPer

	for s := range offsets {
		raw, err := readChunk(r, int64(offsets[s]), int64(counts[s]), comp)
		if err != nil {
			return fmt.Errorf("strip %d: %w", s, err)
		}
		firstRow := s * rps
		for row := 0; row < rps; row++ {
			y := firstRow + row
			if y >= im.Height {
				break
			}
			if len(raw) < (row+1)*rowBytes {
				return fmt.Errorf("strip %d: short data", s)
			}
			base := row * rowBytes
			for x := 0; x < im.Width; x++ {
				for b := 0; b < im.Bands; b++ {
					v := sampleAt(raw[base+(x*im.Bands+b)*bytesPer:], im.PixelType, fd.order)
					im.Set(x, y, b, v)
				}
			}
		}
	}
	return nil
}

// readChunk reads and decompresses one tile or strip.
func readChunk(r io.ReaderAt, offset, count int64, comp uint64) ([]byte, error) {
	raw := make([]byte, count)
	if _, err := r.ReadAt(raw, offset); err != nil {
		return nil, err
	}
	switch comp {
	case compNone:
		return raw, nil
	case compDeflate, compDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer func() { _ = zr.Close() }()
		return io.ReadAll(zr)
	default:
		return nil, fmt.Errorf("compression scheme %d is not supported", comp)
	}
}

// sampleAt decodes one sample from the head of buf.
func sampleAt(buf []byte, p domain.PixelType, order binary.ByteOrder) float64 {
	switch p {
	case domain.PixelUint8:
		return float64(buf[0])
	case domain.PixelUint16:
		return float64(order.Uint16(buf))
	case domain.PixelInt16:
		return float64(int16(order.Uint16(buf)))
	case domain.PixelInt32:
		return float64(int32(order.Uint32(buf)))
	case domain.PixelFloat32:
		return float64(math.Float32frombits(order.Uint32(buf)))
	case domain.PixelFloat64:
		return math.Float64frombits(order.Uint64(buf))
	default:
		return 0
	}
}
