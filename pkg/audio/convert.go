package audio

import (
	"math"
	"unsafe"
)

// Default format values used when a device advertises a wildcard.
const (
	DefaultSampleRate = 48000
	DefaultChannels   = 2
)

// Float32View reinterprets a little-endian float32 PCM byte buffer as a
// []float32 without copying. Trailing bytes that do not form a whole sample
// are ignored. The returned slice aliases b.
func Float32View(b []byte) []float32 {
	n := len(b) / 4
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(unsafe.SliceData(b))), n)
}

// DBToLinear converts a dBFS value to a linear amplitude factor.
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// LinearToDB converts a linear amplitude factor to dBFS. Non-positive input
// yields -Inf.
func LinearToDB(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(v)
}

// PeakAbs returns the largest absolute finite sample value in block. NaN and
// infinite samples are skipped.
func PeakAbs(block []float32) float32 {
	var peak float32
	for _, s := range block {
		if s < 0 {
			s = -s
		}
		if s > peak && s <= math.MaxFloat32 {
			peak = s
		}
	}
	return peak
}

// Negotiate picks a format both devices support natively. Formats are tried
// in the output device's order of preference; when preferredRate is positive,
// candidates at that rate (or accepting any rate) are considered first.
// Wildcard fields are resolved from the other device, then from preferredRate
// and the package defaults.
//
// No resampling or channel mapping is ever implied: ok is false when the two
// devices share no (rate, channels) pair.
func Negotiate(in, out Device, preferredRate int) (f Format, ok bool) {
	inFormats := orWildcard(in.Formats)
	outFormats := orWildcard(out.Formats)

	if preferredRate > 0 {
		if f, ok := negotiate(inFormats, outFormats, preferredRate, true); ok {
			return f, true
		}
	}
	return negotiate(inFormats, outFormats, preferredRate, false)
}

func negotiate(inFormats, outFormats []Format, preferredRate int, strict bool) (Format, bool) {
	for _, of := range outFormats {
		for _, inf := range inFormats {
			rate, ok := mergeField(of.SampleRate, inf.SampleRate)
			if !ok {
				continue
			}
			channels, ok := mergeField(of.Channels, inf.Channels)
			if !ok {
				continue
			}
			if rate == 0 {
				rate = DefaultSampleRate
				if preferredRate > 0 {
					rate = preferredRate
				}
			}
			if channels == 0 {
				channels = DefaultChannels
			}
			if strict && rate != preferredRate {
				continue
			}
			return Format{SampleRate: rate, Channels: channels}, true
		}
	}
	return Format{}, false
}

// mergeField combines two advertised values where 0 means "any".
func mergeField(a, b int) (int, bool) {
	switch {
	case a == 0:
		return b, true
	case b == 0 || a == b:
		return a, true
	default:
		return 0, false
	}
}

func orWildcard(formats []Format) []Format {
	if len(formats) == 0 {
		return []Format{{}}
	}
	return formats
}
