package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Sensor family names used as destination key segments.
const (
	SensorSentinel1 = "Sentinel-1"
	SensorSentinel2 = "Sentinel-2"
	SensorLandsat   = "Landsat"
	SensorMODIS     = "MODIS"
	SensorVIIRS     = "VIIRS"
	SensorPlanet    = "Planet"
	SensorMaxar     = "Maxar"
	SensorHLS       = "HLS"
	SensorARIA      = "ARIA"
)

var (
	stampRe = regexp.MustCompile(`^\d{8}T\d{6}$`)
	dateRe  = regexp.MustCompile(`^\d{8}$`)
	timeRe  = regexp.MustCompile(`^\d{6}$`)
)

// KeyNamer derives deterministic destination keys of the form
// <root>/<sensor>/<category>/<derived-filename> from source filenames.
// Identical filename and category always produce the identical key, so
// re-running a batch overwrites instead of drifting.
type KeyNamer struct {
	RootPrefix string // e.g. "drcs_activations_new"
	Event      string // activation event, e.g. "202405_Flood_TX"
}

// Key derives the destination key for a source filename and category.
// Filenames that match no known sensor convention fail with a NameError.
func (n *KeyNamer) Key(filename string, category Category) (string, error) {
	if !category.Known() {
		return "", fmt.Errorf("%w: unknown category %q", ErrConfiguration, category)
	}

	base := filename
	if i := strings.LastIndexAny(base, "/\\"); i >= 0 {
		base = base[i+1:]
	}

	sensor, err := SensorOf(base)
	if err != nil {
		return "", err
	}

	stem := strings.TrimSuffix(base, ".tif")
	stem = strings.TrimSuffix(stem, ".tiff")
	tokens := strings.Split(stem, "_")

	stamp, err := acquisitionStamp(base, tokens)
	if err != nil {
		return "", err
	}

	platform := strings.ToUpper(tokens[0])

	derived := fmt.Sprintf("%s_%s_%s.tif", platform, stamp, category)
	if n.Event != "" {
		derived = fmt.Sprintf("%s_%s", n.Event, derived)
	}

	parts := []string{sensor, string(category), derived}
	if n.RootPrefix != "" {
		parts = append([]string{n.RootPrefix}, parts...)
	}
	return strings.Join(parts, "/"), nil
}

// CategoryOf infers the product category from the source filename. Flood
// products carry the category as the final stem token (..._rgb.tif,
// ..._wm.tif, ..._wm_diff.tif).
func CategoryOf(filename string) (Category, error) {
	base := filename
	if i := strings.LastIndexAny(base, "/\\"); i >= 0 {
		base = base[i+1:]
	}
	stem := strings.ToLower(base)
	stem = strings.TrimSuffix(stem, ".tif")
	stem = strings.TrimSuffix(stem, ".tiff")

	switch {
	case strings.HasSuffix(stem, "_wm_diff"):
		return CategoryWaterMaskDiff, nil
	case strings.HasSuffix(stem, "_wm"):
		return CategoryWaterMask, nil
	case strings.HasSuffix(stem, "_rgb"):
		return CategoryRGB, nil
	default:
		return "", &NameError{Filename: filename, Reason: "no category token"}
	}
}

// SensorOf identifies the sensor family from a source filename. The token
// patterns follow the per-sensor naming conventions of the source
// products (S1A_.../S2B_... for Sentinel, LC08_... for Landsat, VNP/VJ1
// granule IDs for VIIRS, and so on).
func SensorOf(filename string) (string, error) {
	lower := strings.ToLower(filename)

	switch {
	case strings.HasPrefix(lower, "s1") || strings.Contains(lower, "sentinel1") || strings.Contains(lower, "sentinel-1"):
		return SensorSentinel1, nil
	case strings.HasPrefix(lower, "s2") || strings.Contains(lower, "sentinel2") || strings.Contains(lower, "sentinel-2") || strings.Contains(lower, "sentinel"):
		return SensorSentinel2, nil
	case strings.Contains(lower, "landsat") || strings.HasPrefix(lower, "lc08") || strings.HasPrefix(lower, "lc09") || strings.HasPrefix(lower, "le07"):
		return SensorLandsat, nil
	case strings.Contains(lower, "modis"):
		return SensorMODIS, nil
	case strings.Contains(lower, "viirs") || strings.HasPrefix(lower, "vnp") || strings.HasPrefix(lower, "vj1"):
		return SensorVIIRS, nil
	case strings.Contains(lower, "planet"):
		return SensorPlanet, nil
	case strings.Contains(lower, "maxar"):
		return SensorMaxar, nil
	case strings.Contains(lower, "hls"):
		return SensorHLS, nil
	case strings.Contains(lower, "aria"):
		return SensorARIA, nil
	default:
		return "", &NameError{Filename: filename, Reason: "no known sensor token"}
	}
}

// acquisitionStamp extracts the acquisition date/time token. Most sensors
// carry a compact YYYYMMDDTHHMMSS token; Planet scenes split it into a
// date token followed by a six-digit time token.
func acquisitionStamp(filename string, tokens []string) (string, error) {
	for i, tok := range tokens {
		if stampRe.MatchString(tok) {
			return tok, nil
		}
		if dateRe.MatchString(tok) {
			if i+1 < len(tokens) && timeRe.MatchString(tokens[i+1]) {
				return tokens[i] + "T" + tokens[i+1], nil
			}
			return tok, nil
		}
	}
	return "", &NameError{Filename: filename, Reason: "no acquisition date token"}
}
