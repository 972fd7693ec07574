package provider

import "errors"

var (
	// ErrNoTranscriber indicates that no adapter can transcribe audio
	ErrNoTranscriber = errors.New("no transcription-capable provider configured")
)
