// Package control implements the newline-delimited, key=value control
// protocol described in spec.md §4.3: discovery, capability exchange,
// reconfiguration, test begin/done/result, and teardown messages shared by
// both roles over the control channel.
package control

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MaxLineLen bounds a single control line; overflow forces a resync to the
// next newline rather than growing the read buffer unbounded.
const MaxLineLen = 512

var (
	// ErrUnknownVerb is returned when a line's verb is not recognized.
	ErrUnknownVerb = errors.New("control: unknown verb")
	// ErrMalformed is returned for lines that aren't valid control syntax
	// (missing fields, bad value characters, embedded newlines, etc).
	ErrMalformed = errors.New("control: malformed message")
	// ErrLineTooLong is returned when a line exceeds MaxLineLen before a
	// newline is found.
	ErrLineTooLong = errors.New("control: line exceeds max length")
)

// Verb identifies the message kind. Some verbs carry a Subverb (e.g.
// "CONFIG SET", "TEST BEGIN").
type Verb string

const (
	VerbHello     Verb = "HELLO"
	VerbAck       Verb = "ACK"
	VerbCaps      Verb = "CAPS"
	VerbConfig    Verb = "CONFIG"
	VerbTest      Verb = "TEST"
	VerbTerminate Verb = "TERMINATE"
)

var knownVerbs = map[Verb]bool{
	VerbHello: true, VerbAck: true, VerbCaps: true,
	VerbConfig: true, VerbTest: true, VerbTerminate: true,
}

// Subverb string constants for the multi-word verb phrases defined in
// spec.md §4.3.
const (
	SubConfigSet      = "SET"
	SubConfigSetAck   = "SET ACK"
	SubTestBegin      = "BEGIN"
	SubTestBeginAck   = "BEGIN ACK"
	SubTestDone       = "DONE"
	SubTestDoneAck    = "DONE ACK"
	SubTestResult     = "RESULT"
)

// Message is a parsed control line: VERB [SUBVERB] key=value key=value ...
type Message struct {
	Verb    Verb
	Subverb string // e.g. "SET", "BEGIN", "DONE", "RESULT", "" if none
	Fields  map[string]string
}

// valueRune reports whether r is a legal character inside a value token,
// per spec.md §4.3: [A-Za-z0-9_.:,/-].
func valueRune(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '.' || r == ':' || r == ',' || r == '/' || r == '-':
		return true
	}
	return false
}

// Get returns a field value and whether it was present.
func (m Message) Get(key string) (string, bool) {
	v, ok := m.Fields[key]
	return v, ok
}

// Require returns a field value or ErrMalformed wrapped with the key name.
func (m Message) Require(key string) (string, error) {
	v, ok := m.Fields[key]
	if !ok {
		return "", fmt.Errorf("%w: missing key %q", ErrMalformed, key)
	}
	return v, nil
}

// Format renders a Message back into its wire line (without the trailing
// newline). Field order is sorted for determinism, matching no particular
// teacher file but keeping wire output reproducible for tests.
func Format(verb Verb, subverb string, fields map[string]string) (string, error) {
	var b strings.Builder
	b.WriteString(string(verb))
	if subverb != "" {
		b.WriteByte(' ')
		b.WriteString(subverb)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fields[k]
		for _, r := range v {
			if !valueRune(r) {
				return "", fmt.Errorf("%w: value for %q contains illegal character %q", ErrMalformed, k, r)
			}
		}
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}
	return b.String(), nil
}

// Parse decodes one line (without its trailing newline) into a Message.
func Parse(line string) (Message, error) {
	if len(line) > MaxLineLen {
		return Message{}, ErrLineTooLong
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Message{}, fmt.Errorf("%w: empty line", ErrMalformed)
	}
	verb := Verb(fields[0])
	if !knownVerbs[verb] {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownVerb, fields[0])
	}
	rest := fields[1:]
	var subwords []string
	for len(rest) > 0 && !strings.Contains(rest[0], "=") {
		subwords = append(subwords, rest[0])
		rest = rest[1:]
	}
	subverb := strings.Join(subwords, " ")
	m := Message{Verb: verb, Subverb: subverb, Fields: make(map[string]string, len(rest))}
	for _, tok := range rest {
		k, v, ok := strings.Cut(tok, "=")
		if !ok || k == "" {
			return Message{}, fmt.Errorf("%w: bad token %q", ErrMalformed, tok)
		}
		for _, r := range v {
			if !valueRune(r) {
				return Message{}, fmt.Errorf("%w: bad value in %q", ErrMalformed, tok)
			}
		}
		m.Fields[k] = v
	}
	return m, nil
}

// Decoder accumulates raw bytes (fed via Write) and yields parsed control
// lines. Unlike bufio.Scanner, a malformed or oversized line never wedges
// the stream: Decoder keeps scanning for the next newline and resumes
// parsing from there, matching spec.md §4.3's overflow-resync rule. This
// also lets the reader be driven by short, repeatable non-blocking reads
// (e.g. a Port with a read deadline) rather than owning the connection
// itself, so control reading can be paused between polls.
type Decoder struct {
	buf bytes.Buffer
}

// NewDecoder returns an empty control line Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Write feeds newly received bytes into the decoder.
func (d *Decoder) Write(p []byte) {
	d.buf.Write(p)
}

// Next extracts and parses the next complete line from the buffer.
// ok is false when no full line is available yet. When ok is true and err
// is non-nil, a line was present but malformed, unknown, or exceeded
// MaxLineLen; it was discarded and the decoder has already resynced.
func (d *Decoder) Next() (msg Message, err error, ok bool) {
	data := d.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		if len(data) > MaxLineLen {
			// No newline yet and already over budget: drop everything
			// buffered so far and keep waiting for the next '\n'.
			d.buf.Reset()
			return Message{}, ErrLineTooLong, true
		}
		return Message{}, nil, false
	}
	line := data[:idx]
	d.buf.Next(idx + 1)
	if len(line) > MaxLineLen {
		return Message{}, ErrLineTooLong, true
	}
	m, perr := Parse(string(line))
	if perr != nil {
		return Message{}, perr, true
	}
	return m, nil, true
}
