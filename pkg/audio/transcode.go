package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedAudio reports a binary payload that cannot be divided into
// whole 16-bit samples. Callers drop the offending unit and keep the session
// alive.
var ErrMalformedAudio = errors.New("malformed audio payload")

// Transcoder converts between the two wire formats: μ-law bytes at 8 kHz on
// the telephony leg, 16-bit little-endian PCM at 24 kHz on the speech leg.
// It is stateless; one instance may be shared, though each call session owns
// its own by convention.
type Transcoder struct{}

func NewTranscoder() *Transcoder {
	return &Transcoder{}
}

// ToSpeech converts a μ-law telephony payload into little-endian PCM16 at
// 24 kHz. Base64 framing is the caller's concern.
func (t *Transcoder) ToSpeech(mulaw []byte) []byte {
	pcm := Upsample3x(DecodeMuLawBuf(mulaw))
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// ToTelephony converts little-endian PCM16 at 24 kHz into μ-law bytes at
// 8 kHz. An odd-length payload is rejected with ErrMalformedAudio.
func (t *Transcoder) ToTelephony(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd pcm16 length %d", ErrMalformedAudio, len(pcm))
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return EncodeMuLawBuf(DownsampleBy3(samples)), nil
}
