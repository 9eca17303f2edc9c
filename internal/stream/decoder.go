package stream

import (
	"bytes"
	"strings"
)

// Wire markers of the event stream.
const (
	DataPrefix  = "data: "
	DoneMarker  = "[DONE]"
	ErrorMarker = "[ERROR]"
)

// EventKind identifies a protocol event.
type EventKind int

const (
	EventToken EventKind = iota
	EventDone
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventToken:
		return "token"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is one decoded protocol event. Err is set only for error events that
// did not come from the wire (transport failures).
type Event struct {
	Kind EventKind
	Data string
	Err  error
}

// Decoder turns raw transport chunks into events. Chunks may split or merge
// lines arbitrarily; incomplete lines are carried over to the next Feed.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	carry      []byte
	terminated bool
}

// NewDecoder returns an empty decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed consumes one chunk and returns every event completed by it.
func (d *Decoder) Feed(chunk []byte) []Event {
	if d.terminated {
		return nil
	}
	d.carry = append(d.carry, chunk...)

	var events []Event
	for !d.terminated {
		i := bytes.IndexByte(d.carry, '\n')
		if i < 0 {
			break
		}
		line := string(d.carry[:i])
		d.carry = d.carry[i+1:]
		if ev, ok := d.parseLine(line); ok {
			events = append(events, ev)
		}
	}
	if d.terminated {
		d.carry = nil
	}
	return events
}

// Close signals transport closure. A carried remainder is parsed as a final
// line, and a done event is synthesized unless a terminator was already seen.
func (d *Decoder) Close() []Event {
	if d.terminated {
		return nil
	}
	var events []Event
	if len(d.carry) > 0 {
		line := string(d.carry)
		d.carry = nil
		if ev, ok := d.parseLine(line); ok {
			events = append(events, ev)
		}
	}
	if !d.terminated {
		d.terminated = true
		events = append(events, Event{Kind: EventDone})
	}
	return events
}

// Terminated reports whether a done or error event has been produced.
func (d *Decoder) Terminated() bool {
	return d.terminated
}

func (d *Decoder) parseLine(line string) (Event, bool) {
	line = strings.TrimSuffix(line, "\r")
	payload, ok := strings.CutPrefix(line, DataPrefix)
	if !ok {
		return Event{}, false
	}
	switch payload {
	case DoneMarker:
		d.terminated = true
		return Event{Kind: EventDone}, true
	case ErrorMarker:
		d.terminated = true
		return Event{Kind: EventError}, true
	}
	return Event{Kind: EventToken, Data: unescape(payload)}, true
}

// EncodeToken renders a token as one wire line. A token that reads exactly
// like a terminator is sent with a leading backslash so it stays a token.
func EncodeToken(text string) string {
	payload := escape(text)
	if payload == DoneMarker || payload == ErrorMarker {
		payload = `\` + payload
	}
	return DataPrefix + payload + "\n"
}

// EncodeDone renders the success terminator line.
func EncodeDone() string {
	return DataPrefix + DoneMarker + "\n"
}

// EncodeError renders the failure terminator line.
func EncodeError() string {
	return DataPrefix + ErrorMarker + "\n"
}

var escaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)

func escape(s string) string {
	return escaper.Replace(s)
}

// unescape reverses escape and the leading backslash of a quoted
// terminator. Unknown backslash sequences are kept as-is so payloads from
// producers that never escape pass through unchanged.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		case '[':
			if i != 0 {
				b.WriteByte(c)
				continue
			}
			b.WriteByte('[')
		default:
			b.WriteByte(c)
			continue
		}
		i++
	}
	return b.String()
}
