package transport

import "github.com/merkylen-ltd/minbarai-core-sub000/internal/protocol"

// ErrorCategory classifies a session error for the consumer
type ErrorCategory string

const (
	// ErrorNetwork is a transport-level failure
	ErrorNetwork ErrorCategory = "network"
	// ErrorAuth means the server rejected the credentials; terminal
	ErrorAuth ErrorCategory = "auth"
	// ErrorInitialization is a local audio/device failure; terminal for the
	// start attempt
	ErrorInitialization ErrorCategory = "initialization"
	// ErrorCommunication is an internal send-path failure
	ErrorCommunication ErrorCategory = "communication"
	// ErrorService is a server-reported application fault
	ErrorService ErrorCategory = "service"
)

// Event is the sealed union of everything a session reports. Consumers
// dispatch with a type switch; there are no hidden event kinds.
type Event interface {
	isEvent()
}

// Started fires once the handshake is sent and audio is flowing
type Started struct{}

// Alternative is one recognition hypothesis
type Alternative struct {
	Transcript string
	Confidence float64
}

// RecognitionResult is one unit of recognized speech. An empty final
// transcript is malformed; it is passed through so the consumer can drop it
// without clearing accumulated text.
type RecognitionResult struct {
	IsFinal      bool
	Stability    float64
	Words        []protocol.Word
	Alternatives []Alternative
}

// Result carries recognition results in a single-result, single-alternative
// list shape so consumers written against a SpeechRecognition-style API need
// no protocol knowledge.
type Result struct {
	ResultIndex int
	Results     []RecognitionResult
}

// Translation is a translated utterance. Correlation with earlier results is
// advisory, by language pair and timestamp.
type Translation struct {
	Original       string
	Translated     string
	SourceLanguage string
	TargetLanguage string
	TranslationID  string
	Timestamp      int64
}

// Info is a session-level signal (info, ready, stopped, ping, pong). The
// server recycles its own upstream connections and announces it here; none
// of these end the client session.
type Info struct {
	Kind    string
	Message string
}

// SessionError carries a categorized failure
type SessionError struct {
	Category ErrorCategory
	Message  string
}

// Ended fires exactly once per teardown
type Ended struct{}

func (Started) isEvent()      {}
func (Result) isEvent()       {}
func (Translation) isEvent()  {}
func (Info) isEvent()         {}
func (SessionError) isEvent() {}
func (Ended) isEvent()        {}

// wrapTranscript converts a wire transcript into the result-list shape
func wrapTranscript(msg *protocol.TranscriptMessage) Result {
	return Result{
		ResultIndex: 0,
		Results: []RecognitionResult{{
			IsFinal:   msg.IsFinal,
			Stability: msg.Stability,
			Words:     msg.Words,
			Alternatives: []Alternative{{
				Transcript: msg.Transcript,
				Confidence: msg.Confidence,
			}},
		}},
	}
}
