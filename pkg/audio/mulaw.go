package audio

// G.711 μ-law codec. Decoding is table-driven: the 256-entry expansion table
// is computed once at init from the standard sign/exponent/mantissa bit
// layout. Neither direction can fail; out-of-range arithmetic is defined via
// two's-complement wraparound.

const (
	muLawBias = 0x84
	muLawClip = 32635
)

var muLawDecodeTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		mu := ^byte(i)
		sign := mu & 0x80
		exponent := (mu >> 4) & 0x07
		mantissa := mu & 0x0F
		magnitude := ((int32(mantissa) << 3) + muLawBias) << exponent
		magnitude -= muLawBias
		if sign != 0 {
			magnitude = -magnitude
		}
		muLawDecodeTable[i] = int16(magnitude)
	}
}

// DecodeMuLaw expands one μ-law byte to a 16-bit linear sample.
func DecodeMuLaw(b byte) int16 {
	return muLawDecodeTable[b]
}

// EncodeMuLaw compresses a 16-bit linear sample to one μ-law byte.
func EncodeMuLaw(sample int16) byte {
	s := int(sample)
	sign := 0
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > muLawClip {
		s = muLawClip
	}
	s += muLawBias

	exponent := 7
	for expMask := 0x4000; exponent > 0 && s&expMask == 0; exponent-- {
		expMask >>= 1
	}
	mantissa := (s >> (exponent + 3)) & 0x0F

	return ^byte(sign | exponent<<4 | mantissa)
}

// DecodeMuLawBuf expands a μ-law buffer element-wise.
func DecodeMuLawBuf(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = muLawDecodeTable[b]
	}
	return out
}

// EncodeMuLawBuf compresses a linear sample buffer element-wise.
func EncodeMuLawBuf(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = EncodeMuLaw(s)
	}
	return out
}
