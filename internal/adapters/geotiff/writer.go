package geotiff

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/jobrunner/cogforge/internal/domain"
)

// geoRef is the georeferencing written to the main IFD.
type geoRef struct {
	Transform domain.Transform
	EPSG      int
}

// tagEntry is one IFD entry being assembled for output.
type tagEntry struct {
	tag    uint16
	typ    uint16
	count  uint32
	data   []byte
	extOff uint32 // assigned during layout when len(data) > 4
}

// encodeCOG writes the levels as a Cloud-Optimized GeoTIFF: all IFDs at
// the front of the file, deflate-compressed tiles after them, full
// resolution first and overviews in decreasing size. Level 0 is the full
// resolution image; the rest must be its successive downsamples.
func encodeCOG(w io.Writer, levels []*Image, ref geoRef, nodata float64, tileSize int) error {
	if len(levels) == 0 {
		return fmt.Errorf("no levels to encode")
	}

	// Compress all tiles first so every offset is known before any IFD
	// is written.
	tiles := make([][][]byte, len(levels))
	for i, im := range levels {
		t, err := compressTiles(im, tileSize, nodata)
		if err != nil {
			return fmt.Errorf("level %d: %w", i, err)
		}
		tiles[i] = t
	}

	ifds := make([][]tagEntry, len(levels))
	for i, im := range levels {
		ifds[i] = buildEntries(im, len(tiles[i]), tileSize, i == 0, ref, nodata)

		counts := make([]uint32, len(tiles[i]))
		for j, t := range tiles[i] {
			counts[j] = uint32(len(t))
		}
		for j := range ifds[i] {
			if ifds[i][j].tag == tagTileByteCounts {
				ifds[i][j].data = encLongs(counts)
			}
		}
	}

	tileLens := make([][]int, len(tiles))
	for i, lt := range tiles {
		tileLens[i] = make([]int, len(lt))
		for j, t := range lt {
			tileLens[i][j] = len(t)
		}
	}
	ifdPos, tileBase, err := planLayout(ifds, tileLens)
	if err != nil {
		return err
	}

	// Patch tile offsets now that the data area is laid out.
	for i := range ifds {
		for j := range ifds[i] {
			if ifds[i][j].tag == tagTileOffsets {
				ifds[i][j].data = encLongs(tileBase[i])
			}
		}
	}

	bw := bufio.NewWriter(w)
	le := binary.LittleEndian

	hdr := make([]byte, 8)
	hdr[0], hdr[1] = 'I', 'I'
	le.PutUint16(hdr[2:4], 42)
	le.PutUint32(hdr[4:8], ifdPos[0])
	if _, err := bw.Write(hdr); err != nil {
		return err
	}

	written := int64(8)
	for i, entries := range ifds {
		buf := make([]byte, 2+12*len(entries)+4)
		le.PutUint16(buf[0:2], uint16(len(entries)))
		for j, e := range entries {
			off := 2 + j*12
			le.PutUint16(buf[off:], e.tag)
			le.PutUint16(buf[off+2:], e.typ)
			le.PutUint32(buf[off+4:], e.count)
			if len(e.data) <= 4 {
				copy(buf[off+8:off+12], e.data)
			} else {
				le.PutUint32(buf[off+8:], e.extOff)
			}
		}
		next := uint32(0)
		if i+1 < len(ifds) {
			next = ifdPos[i+1]
		}
		le.PutUint32(buf[len(buf)-4:], next)
		if _, err := bw.Write(buf); err != nil {
			return err
		}
		written += int64(len(buf))
	}

	pad := func() error {
		if written%2 != 0 {
			written++
			return bw.WriteByte(0)
		}
		return nil
	}

	for i := range ifds {
		for _, e := range ifds[i] {
			if len(e.data) > 4 {
				if _, err := bw.Write(e.data); err != nil {
					return err
				}
				written += int64(len(e.data))
				if err := pad(); err != nil {
					return err
				}
			}
		}
	}
	for _, lt := range tiles {
		for _, t := range lt {
			if _, err := bw.Write(t); err != nil {
				return err
			}
			written += int64(len(t))
			if err := pad(); err != nil {
				return err
			}
		}
	}

	return bw.Flush()
}

// maxClassicSize is the largest file a classic TIFF can address with
// its 32-bit offsets.
const maxClassicSize = int64(math.MaxUint32)

// planLayout places the IFD chain, out-of-line tag values, and tile
// data, assigning extOff on entries whose values do not fit inline.
// Structures start on even offsets. Classic TIFF offsets are 32-bit,
// so an output that would pass 4 GiB is refused rather than laid out
// with wrapped offsets.
func planLayout(ifds [][]tagEntry, tileLens [][]int) ([]uint32, [][]uint32, error) {
	pos := int64(8)
	ifdPos := make([]uint32, len(ifds))
	for i := range ifds {
		ifdPos[i] = uint32(pos)
		pos += 2 + 12*int64(len(ifds[i])) + 4
	}
	for i := range ifds {
		for j := range ifds[i] {
			e := &ifds[i][j]
			if len(e.data) > 4 {
				e.extOff = uint32(pos)
				pos += int64(len(e.data))
				pos += pos % 2
			}
		}
	}
	tileBase := make([][]uint32, len(tileLens))
	for i, lt := range tileLens {
		tileBase[i] = make([]uint32, len(lt))
		for j, n := range lt {
			tileBase[i][j] = uint32(pos)
			pos += int64(n)
			pos += pos % 2
		}
	}
	if pos > maxClassicSize {
		return nil, nil, fmt.Errorf("output size %d exceeds the classic TIFF 4 GiB limit", pos)
	}
	return ifdPos, tileBase, nil
}

// buildEntries assembles the sorted IFD entries for one level.
func buildEntries(im *Image, ntiles, tileSize int, main bool, ref geoRef, nodata float64) []tagEntry {
	subfile := uint32(1)
	if main {
		subfile = 0
	}
	photometric := uint16(1) // BlackIsZero
	if im.Bands == 3 && im.PixelType == domain.PixelUint8 {
		photometric = 2 // RGB
	}

	bits := make([]uint16, im.Bands)
	formats := make([]uint16, im.Bands)
	for b := 0; b < im.Bands; b++ {
		bits[b] = uint16(im.PixelType.BitsPerSample())
		formats[b] = sampleFormatOf(im.PixelType)
	}

	entries := []tagEntry{
		{tag: tagNewSubfileType, typ: typeLong, count: 1, data: encLongs([]uint32{subfile})},
		{tag: tagImageWidth, typ: typeLong, count: 1, data: encLongs([]uint32{uint32(im.Width)})},
		{tag: tagImageLength, typ: typeLong, count: 1, data: encLongs([]uint32{uint32(im.Height)})},
		{tag: tagBitsPerSample, typ: typeShort, count: uint32(im.Bands), data: encShorts(bits)},
		{tag: tagCompression, typ: typeShort, count: 1, data: encShorts([]uint16{compDeflate})},
		{tag: tagPhotometric, typ: typeShort, count: 1, data: encShorts([]uint16{photometric})},
		{tag: tagSamplesPerPixel, typ: typeShort, count: 1, data: encShorts([]uint16{uint16(im.Bands)})},
		{tag: tagPlanarConfig, typ: typeShort, count: 1, data: encShorts([]uint16{1})},
		{tag: tagTileWidth, typ: typeShort, count: 1, data: encShorts([]uint16{uint16(tileSize)})},
		{tag: tagTileLength, typ: typeShort, count: 1, data: encShorts([]uint16{uint16(tileSize)})},
		{tag: tagTileOffsets, typ: typeLong, count: uint32(ntiles), data: encLongs(make([]uint32, ntiles))},
		{tag: tagTileByteCounts, typ: typeLong, count: uint32(ntiles)},
		{tag: tagSampleFormat, typ: typeShort, count: uint32(im.Bands), data: encShorts(formats)},
	}

	if main {
		scale := []float64{ref.Transform.PixelX, math.Abs(ref.Transform.PixelY), 0}
		tie := []float64{0, 0, 0, ref.Transform.OriginX, ref.Transform.OriginY, 0}
		entries = append(entries,
			tagEntry{tag: tagModelPixelScale, typ: typeDouble, count: 3, data: encDoubles(scale)},
			tagEntry{tag: tagModelTiepoint, typ: typeDouble, count: 6, data: encDoubles(tie)},
		)
		if ref.EPSG != 0 {
			keys := geoKeys(ref.EPSG)
			entries = append(entries, tagEntry{
				tag: tagGeoKeyDirectory, typ: typeShort, count: uint32(len(keys)), data: encShorts(keys),
			})
		}
		nd := strconv.FormatFloat(nodata, 'g', -1, 64) + "\x00"
		entries = append(entries, tagEntry{
			tag: tagGDALNodata, typ: typeASCII, count: uint32(len(nd)), data: []byte(nd),
		})
	}

	sort.Slice(entries, func(a, b int) bool { return entries[a].tag < entries[b].tag })
	return entries
}

// geoKeys builds a minimal GeoKeyDirectory for the given EPSG code.
// Codes in the 4000 range are geographic CRSs; everything else is
// treated as projected.
func geoKeys(epsg int) []uint16 {
	modelType := uint16(modelTypeProjected)
	crsKey := uint16(keyProjectedCS)
	if epsg >= 4000 && epsg < 5000 {
		modelType = modelTypeGeographic
		crsKey = keyGeographicType
	}
	return []uint16{
		1, 1, 0, 3,
		keyModelType, 0, 1, modelType,
		keyRasterType, 0, 1, rasterTypePixelArea,
		crsKey, 0, 1, uint16(epsg),
	}
}

// compressTiles packs and deflates every tile of one level in row-major
// order. Edge tiles are padded with the nodata sentinel.
func compressTiles(im *Image, tileSize int, nodata float64) ([][]byte, error) {
	across := (im.Width + tileSize - 1) / tileSize
	down := (im.Height + tileSize - 1) / tileSize

	out := make([][]byte, 0, across*down)
	for ty := 0; ty < down; ty++ {
		for tx := 0; tx < across; tx++ {
			raw := packTile(im, tx, ty, tileSize, nodata)
			var buf bytes.Buffer
			zw := zlib.NewWriter(&buf)
			if _, err := zw.Write(raw); err != nil {
				return nil, err
			}
			if err := zw.Close(); err != nil {
				return nil, err
			}
			out = append(out, buf.Bytes())
		}
	}
	return out, nil
}

// packTile serializes one tile's samples little-endian.
func packTile(im *Image, tx, ty, tileSize int, nodata float64) []byte {
	bytesPer := im.PixelType.BitsPerSample() / 8
	buf := make([]byte, tileSize*tileSize*im.Bands*bytesPer)

	for row := 0; row < tileSize; row++ {
		y := ty*tileSize + row
		for col := 0; col < tileSize; col++ {
			x := tx*tileSize + col
			base := (row*tileSize + col) * im.Bands * bytesPer
			for b := 0; b < im.Bands; b++ {
				v := nodata
				if x < im.Width && y < im.Height {
					v = im.At(x, y, b)
				}
				putSample(buf[base+b*bytesPer:], im.PixelType, v)
			}
		}
	}
	return buf
}

// putSample encodes one sample at the head of buf.
func putSample(buf []byte, p domain.PixelType, v float64) {
	le := binary.LittleEndian
	switch p {
	case domain.PixelUint8:
		buf[0] = uint8(v)
	case domain.PixelUint16:
		le.PutUint16(buf, uint16(v))
	case domain.PixelInt16:
		le.PutUint16(buf, uint16(int16(v)))
	case domain.PixelInt32:
		le.PutUint32(buf, uint32(int32(v)))
	case domain.PixelFloat32:
		le.PutUint32(buf, math.Float32bits(float32(v)))
	case domain.PixelFloat64:
		le.PutUint64(buf, math.Float64bits(v))
	}
}

// encShorts encodes uint16 values little-endian.
func encShorts(vals []uint16) []byte {
	buf := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(buf[i*2:], v)
	}
	return buf
}

// encLongs encodes uint32 values little-endian.
func encLongs(vals []uint32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}

// encDoubles encodes float64 values little-endian.
func encDoubles(vals []float64) []byte {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}
