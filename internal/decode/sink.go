// Package decode implements the record and block decoders (spec.md
// §§4.H/4.I): the stateful walk that turns a catalogue and a byte buffer
// into an output tree, plus the injected diagnostics sink that replaces
// the previous design's process-wide tracer.
package decode

import (
	"log/slog"

	"github.com/flightwatch/asterix/tree"
)

// Sink receives a live notification each time the decoder attaches a
// Message to the tree. It exists alongside the tree's own Messages, not
// instead of them: the tree is the authoritative record of what happened to
// a given buffer, while Sink lets a long-running collector (internal/ingest)
// surface diagnostics as they occur without walking every tree it produces.
// A nil Sink is never passed down; callers that don't care use NopSink.
type Sink interface {
	Report(sev tree.Severity, code, text string, byteOffset, byteLength int)
}

type nopSink struct{}

func (nopSink) Report(tree.Severity, string, string, int, int) {}

// NopSink discards every report. It is the default when no sink is
// supplied to Decode.
var NopSink Sink = nopSink{}

// SlogSink adapts Sink to log/slog, the logging library used throughout
// this repository's service binaries. Severity maps to level: ok is
// skipped entirely (slog.Debug would be noise for every successful field),
// warn maps to slog.Warn, err to slog.Error.
type SlogSink struct {
	Logger *slog.Logger
}

// Report implements Sink.
func (s SlogSink) Report(sev tree.Severity, code, text string, byteOffset, byteLength int) {
	if s.Logger == nil {
		return
	}
	attrs := []any{
		slog.String("code", code),
		slog.Int("byte_offset", byteOffset),
		slog.Int("byte_length", byteLength),
	}
	switch sev {
	case tree.SeverityErr:
		s.Logger.Error(text, attrs...)
	case tree.SeverityWarn:
		s.Logger.Warn(text, attrs...)
	}
}
