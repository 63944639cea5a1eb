package sttclient

// Result is the consolidated transcription/translation state produced from
// one or more upstream token messages.
type Result struct {
	Transcription  string
	Translation    string
	IsFinal        bool
	SourceLanguage string
	TargetLanguage string
	Speaker        string
}

// Config configures one upstream streaming session.
type Config struct {
	APIKey                   string
	TargetLanguage           string
	EnableSpeakerDiarization bool
	LanguageHints            []string
	SampleRateHz             int
	NumChannels              int
	PingIntervalSeconds      int
	PingTimeoutSeconds       int
}

// DefaultConfig returns sane defaults for 16kHz mono PCM audio.
func DefaultConfig(apiKey, targetLanguage string) Config {
	return Config{
		APIKey:              apiKey,
		TargetLanguage:      targetLanguage,
		SampleRateHz:        16000,
		NumChannels:         1,
		PingIntervalSeconds: 20,
		PingTimeoutSeconds:  10,
	}
}

// configFrame is the wire shape of the initial JSON configuration message.
type configFrame struct {
	APIKey                       string          `json:"api_key"`
	Model                        string          `json:"model"`
	EnableLanguageIdentification bool            `json:"enable_language_identification"`
	EnableSpeakerDiarization     bool            `json:"enable_speaker_diarization"`
	EnableEndpointDetection      bool            `json:"enable_endpoint_detection"`
	AudioFormat                  string          `json:"audio_format"`
	SampleRate                   int             `json:"sample_rate"`
	NumChannels                  int             `json:"num_channels"`
	Translation                  translationOpts `json:"translation"`
	LanguageHints                []string        `json:"language_hints"`
}

type translationOpts struct {
	Type           string `json:"type"`
	TargetLanguage string `json:"target_language"`
}

// token is one element of a message's "tokens" array.
type token struct {
	Text              string `json:"text"`
	IsFinal           bool   `json:"is_final"`
	Language          string `json:"language,omitempty"`
	Speaker           string `json:"speaker,omitempty"`
	TranslationStatus string `json:"translation_status,omitempty"`
}

// message is one inbound JSON frame from the upstream socket.
type message struct {
	ErrorCode    *int    `json:"error_code,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
	Tokens       []token `json:"tokens,omitempty"`
	Finished     bool    `json:"finished,omitempty"`
}
