package audio

// Rate conversion between the telephony leg (8 kHz) and the speech endpoint
// leg (24 kHz). Zero-order hold going up, nearest-neighbor decimation going
// down. No anti-aliasing filter: the fidelity loss is an accepted trade for
// latency and simplicity, not a defect to fix.

const (
	// TelephonyRate is the sample rate of the μ-law telephony leg.
	TelephonyRate = 8000
	// SpeechRate is the sample rate the speech endpoint expects.
	SpeechRate = 24000

	rateRatio = SpeechRate / TelephonyRate
)

// Upsample3x repeats each 8 kHz sample three times. Output length is always
// exactly 3x the input length.
func Upsample3x(in []int16) []int16 {
	out := make([]int16, 0, len(in)*rateRatio)
	for _, s := range in {
		out = append(out, s, s, s)
	}
	return out
}

// DownsampleBy3 keeps every third 24 kHz sample (indices 0, 3, 6, ...).
// A trailing remainder that does not fill a whole group is dropped silently;
// output length is floor(len(in)/3).
func DownsampleBy3(in []int16) []int16 {
	n := (len(in) / rateRatio) * rateRatio
	out := make([]int16, 0, n/rateRatio)
	for i := 0; i < n; i += rateRatio {
		out = append(out, in[i])
	}
	return out
}
