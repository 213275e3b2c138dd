package twilio

// Wire shapes for the Media Streams websocket protocol. Events other than
// start, media and stop are ignored.

type StreamStart struct {
	CallSID          string            `json:"callSid"`
	StreamID         string            `json:"streamSid"`
	From             string            `json:"from"`
	CustomParameters map[string]string `json:"customParameters"`
}

type StreamMedia struct {
	Payload string `json:"payload"`
}

type StreamEvent struct {
	Event string       `json:"event"`
	Start *StreamStart `json:"start,omitempty"`
	Media *StreamMedia `json:"media,omitempty"`
}
