package domain

// Nodata sentinel values. Unsigned types cannot hold a negative
// sentinel, and 0 doubles as the background value for RGB composites;
// everything else uses the conventional out-of-range -9999.
const (
	NodataUnsigned = 0.0
	NodataDefault  = -9999.0
)

// NodataFor maps a pixel type to the sentinel value to burn in as
// "no data". The mapping is total over the supported types; an unknown
// pixel type is a configuration error, never a silent default.
func NodataFor(p PixelType) (float64, error) {
	switch p {
	case PixelUint8, PixelUint16:
		return NodataUnsigned, nil
	case PixelInt16, PixelInt32, PixelFloat32, PixelFloat64:
		return NodataDefault, nil
	default:
		return 0, &PixelTypeError{PixelType: p}
	}
}
