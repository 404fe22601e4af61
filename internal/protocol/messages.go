package protocol

import "encoding/json"

// CaptureMode identifies the audio encoding carried on the binary stream
type CaptureMode string

const (
	// CaptureModePCM16 streams raw 16-bit little-endian mono PCM frames
	CaptureModePCM16 CaptureMode = "PCM16"
	// CaptureModeOpus streams Opus-encoded frames
	CaptureModeOpus CaptureMode = "WEBM_OPUS"
	// CaptureModeAuto lets the client pick based on local capabilities
	CaptureModeAuto CaptureMode = "auto"
)

// GeminiModelConfig tunes the translation model on the server side
type GeminiModelConfig struct {
	Model         string   `json:"model"`
	Temperature   *float64 `json:"temperature,omitempty"`
	MaxTokens     *int     `json:"maxTokens,omitempty"`
	TopP          *float64 `json:"topP,omitempty"`
	TopK          *int     `json:"topK,omitempty"`
	StopSequences []string `json:"stopSequences,omitempty"`
}

// DiarizationConfig requests speaker separation on the server side
type DiarizationConfig struct {
	Enable          bool `json:"enableSpeakerDiarization"`
	MinSpeakerCount int  `json:"minSpeakerCount,omitempty"`
	MaxSpeakerCount int  `json:"maxSpeakerCount,omitempty"`
}

// StartMessage is the session handshake sent as a JSON text frame.
// It is sent once when the socket opens and re-sent in place whenever the
// recognition language or translation configuration changes mid-session.
type StartMessage struct {
	Type            string      `json:"type"`
	Mode            CaptureMode `json:"mode"`
	LanguageCode    string      `json:"languageCode"`
	InterimResults  bool        `json:"interimResults"`
	SingleUtterance bool        `json:"singleUtterance"`
	MaxAlternatives int         `json:"maxAlternatives"`

	Model                              string             `json:"model,omitempty"`
	UseEnhanced                        bool               `json:"useEnhanced,omitempty"`
	WordTimeOffsets                    bool               `json:"wordTimeOffsets,omitempty"`
	EnableWordConfidence               bool               `json:"enableWordConfidence,omitempty"`
	ProfanityFilter                    bool               `json:"profanityFilter,omitempty"`
	SpokenPunctuation                  bool               `json:"spokenPunctuation,omitempty"`
	SpokenEmojis                       bool               `json:"spokenEmojis,omitempty"`
	PhraseHints                        []string           `json:"phraseHints,omitempty"`
	Diarization                        *DiarizationConfig `json:"diarization,omitempty"`
	AudioChannelCount                  int                `json:"audioChannelCount,omitempty"`
	EnableSeparateRecognitionPerChannel bool              `json:"enableSeparateRecognitionPerChannel,omitempty"`
	AlternativeLanguageCodes           []string           `json:"alternativeLanguageCodes,omitempty"`
	Metadata                           map[string]any     `json:"metadata,omitempty"`
	Adaptation                         map[string]any     `json:"adaptation,omitempty"`
	TranscriptNormalization            map[string]any     `json:"transcriptNormalization,omitempty"`

	TranslationEnabled bool               `json:"translationEnabled,omitempty"`
	TranslationPrompt  string             `json:"translationPrompt,omitempty"`
	TargetLanguage     string             `json:"targetLanguage,omitempty"`
	SourceLanguage     string             `json:"sourceLanguage,omitempty"`
	GeminiModelConfig  *GeminiModelConfig `json:"geminiModelConfig,omitempty"`

	// PCM16 only; the Opus container carries its own rate
	SampleRateHz int `json:"sampleRateHz,omitempty"`
}

// StopMessage asks the server to finalize and close the stream
type StopMessage struct {
	Type string `json:"type"`
}

// NewStopMessage returns the stop control frame
func NewStopMessage() StopMessage {
	return StopMessage{Type: "stop"}
}

// Word carries word-level timing from the recognizer
type Word struct {
	Word       string  `json:"word"`
	StartTime  float64 `json:"startTime,omitempty"`
	EndTime    float64 `json:"endTime,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// TranscriptMessage is a recognition result pushed by the server.
// An empty Transcript with IsFinal set is malformed; the flag is passed
// through so consumers can discard it without losing accumulated text.
type TranscriptMessage struct {
	Transcript string  `json:"transcript"`
	IsFinal    bool    `json:"isFinal"`
	Confidence float64 `json:"confidence,omitempty"`
	Stability  float64 `json:"stability,omitempty"`
	Words      []Word  `json:"words,omitempty"`
	Segment    int     `json:"segment,omitempty"`
}

// TranslationMessage is a translated utterance pushed by the server.
// Correlation with earlier transcripts is advisory (language pair and
// timestamp), not transactional.
type TranslationMessage struct {
	Original       string `json:"original"`
	Translated     string `json:"translated"`
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage"`
	TranslationID  string `json:"translationId,omitempty"`
	Timestamp      int64  `json:"timestamp,omitempty"`
}

// InfoMessage covers the session-level signals (info, ready, stopped,
// ping, pong) that affect bookkeeping but never tear down the session.
type InfoMessage struct {
	Kind    string
	Message string
	Raw     json.RawMessage
}

// ErrorMessage is a server-reported application fault
type ErrorMessage struct {
	Err string `json:"err"`
}
