package frames

// Metadata keys carried on frames. Values are opaque strings; the bridge
// core reads identifiers for routing and passes everything else through.
const (
	MetaStreamID      = "stream_id"
	MetaCallSID       = "call_sid"
	MetaTraceID       = "trace_id"
	MetaFromNumber    = "from_number"
	MetaSource        = "source"
	MetaEncoding      = "encoding"
	MetaFormat        = "format"
	MetaCallEndReason = "call_end_reason"

	// MetaParamPrefix prefixes caller/business correlation parameters from
	// the telephony start frame (read-through only, never interpreted).
	MetaParamPrefix = "param."
)
