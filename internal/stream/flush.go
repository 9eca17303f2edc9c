package stream

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultFlushThreshold = 40
	DefaultFlushTerminals = ".!?\n"
)

// FlushPolicy decides when buffered text is promoted to the display buffer.
// The zero value uses the defaults.
type FlushPolicy struct {
	// Threshold is the buffer length, in runes, that forces a flush.
	Threshold int
	// Terminals is the set of runes that trigger a flush when they end the buffer.
	Terminals string
}

// DefaultFlushPolicy flushes at 40 runes or at sentence-ending punctuation.
func DefaultFlushPolicy() FlushPolicy {
	return FlushPolicy{Threshold: DefaultFlushThreshold, Terminals: DefaultFlushTerminals}
}

func (p FlushPolicy) threshold() int {
	if p.Threshold <= 0 {
		return DefaultFlushThreshold
	}
	return p.Threshold
}

func (p FlushPolicy) terminals() string {
	if p.Terminals == "" {
		return DefaultFlushTerminals
	}
	return p.Terminals
}

// ShouldFlush reports whether raw has reached the threshold or ends with a
// terminal rune.
func (p FlushPolicy) ShouldFlush(raw string) bool {
	if raw == "" {
		return false
	}
	if utf8.RuneCountInString(raw) >= p.threshold() {
		return true
	}
	last, _ := utf8.DecodeLastRuneInString(raw)
	return strings.ContainsRune(p.terminals(), last)
}

// ForceFlush is the end-of-stream decision: anything still buffered goes out.
func (p FlushPolicy) ForceFlush(raw string) bool {
	return raw != ""
}
