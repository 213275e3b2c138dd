package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Telephony leg.
	ReasonControlMalformed          ReasonCode = "control_frame_malformed"
	ReasonDeliveryFailed            ReasonCode = "delivery_failed"
	ReasonTransportSend             ReasonCode = "transport_send"
	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"

	// Audio pipeline.
	ReasonAudioMalformed ReasonCode = "audio_malformed"

	// Speech endpoint leg.
	ReasonSpeechConnect         ReasonCode = "speech_connect"
	ReasonSpeechSend            ReasonCode = "speech_send"
	ReasonDownstreamUnavailable ReasonCode = "downstream_unavailable"
)
