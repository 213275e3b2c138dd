package speech

// Wire shapes for the realtime speech protocol.

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

// sessionConfig is passed through from configuration; the bridge core does
// not interpret any of it.
type sessionConfig struct {
	Modalities        []string           `json:"modalities,omitempty"`
	Voice             string             `json:"voice,omitempty"`
	Instructions      string             `json:"instructions,omitempty"`
	InputAudioFormat  string             `json:"input_audio_format,omitempty"`
	OutputAudioFormat string             `json:"output_audio_format,omitempty"`
	TurnDetection     *turnDetection     `json:"turn_detection,omitempty"`
	Transcription     *transcriptionConf `json:"input_audio_transcription,omitempty"`
}

type turnDetection struct {
	Type string `json:"type"`
}

type transcriptionConf struct {
	Model string `json:"model"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type audioCommit struct {
	Type string `json:"type"`
}

type serverEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
