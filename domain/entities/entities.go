package entities

import (
	"errors"
	"strings"
	"time"
)

// Canonical PCM parameters accepted by every recognition engine
const (
	CanonicalSampleRate = 16000
	CanonicalChannels   = 1
	CanonicalBitDepth   = 16
)

// Audio encodings understood by the normalizer
const (
	EncodingPCM  = "pcm"
	EncodingWAV  = "wav"
	EncodingWebM = "webm"
	EncodingOgg  = "ogg"
	EncodingMP3  = "mp3"
	EncodingFLAC = "flac"
)

// AudioFormat describes the encoding of an inbound audio payload
type AudioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// CanonicalFormat returns mono 16 kHz 16-bit little-endian PCM
func CanonicalFormat() AudioFormat {
	return AudioFormat{
		Encoding:   EncodingPCM,
		SampleRate: CanonicalSampleRate,
		Channels:   CanonicalChannels,
	}
}

// Normalized fills in defaults: raw PCM without parameters is assumed canonical
func (f AudioFormat) Normalized() AudioFormat {
	f.Encoding = strings.ToLower(strings.TrimSpace(f.Encoding))
	if f.Encoding == "" || f.Encoding == "raw" || f.Encoding == "linear16" || f.Encoding == "s16le" {
		f.Encoding = EncodingPCM
	}
	if f.Encoding == EncodingPCM {
		if f.SampleRate == 0 {
			f.SampleRate = CanonicalSampleRate
		}
		if f.Channels == 0 {
			f.Channels = CanonicalChannels
		}
	}
	return f
}

// IsCanonical reports whether payloads in this format can be fed to an engine as-is
func (f AudioFormat) IsCanonical() bool {
	n := f.Normalized()
	return n.Encoding == EncodingPCM && n.SampleRate == CanonicalSampleRate && n.Channels == CanonicalChannels
}

// Validate rejects parameters no decoder can honor
func (f AudioFormat) Validate() error {
	n := f.Normalized()
	if n.SampleRate < 0 || n.SampleRate > 192000 {
		return errors.New("sample_rate must be between 0 and 192000")
	}
	if n.Channels < 0 || n.Channels > 8 {
		return errors.New("channels must be between 0 and 8")
	}
	for _, r := range n.Encoding {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			return errors.New("encoding contains invalid characters")
		}
	}
	return nil
}

// OutcomeKind tags a DecodeOutcome
type OutcomeKind int

const (
	OutcomeNoSpeech OutcomeKind = iota
	OutcomePartial
	OutcomeFinal
)

// DecodeOutcome is what the engine produced for one accepted chunk
type DecodeOutcome struct {
	Kind OutcomeKind
	Text string
}

// Partial builds an in-progress hypothesis outcome
func Partial(text string) DecodeOutcome {
	return DecodeOutcome{Kind: OutcomePartial, Text: text}
}

// FinalSegment builds a stabilized segment outcome
func FinalSegment(text string) DecodeOutcome {
	return DecodeOutcome{Kind: OutcomeFinal, Text: text}
}

// NoSpeech is returned when the engine has nothing to report
func NoSpeech() DecodeOutcome {
	return DecodeOutcome{Kind: OutcomeNoSpeech}
}

// TranscriptKind records where a final transcript came from
type TranscriptKind string

const (
	TranscriptKindSegment TranscriptKind = "segment"
	TranscriptKindStop    TranscriptKind = "stop"
	TranscriptKindFlush   TranscriptKind = "flush"
)

// Transcript is a final transcript segment kept for history and fan-out
type Transcript struct {
	ID        string         `json:"id" bson:"_id,omitempty"`
	SessionID string         `json:"session_id" bson:"session_id"`
	Text      string         `json:"text" bson:"text"`
	Kind      TranscriptKind `json:"kind" bson:"kind"`
	CreatedAt time.Time      `json:"created_at" bson:"created_at"`
}

// Validate validates the transcript data
func (t *Transcript) Validate() error {
	if t.SessionID == "" {
		return errors.New("session_id is required")
	}
	if strings.TrimSpace(t.Text) == "" {
		return errors.New("text is required")
	}
	return nil
}
