package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// MaxMessageSize bounds the body of a single message
const MaxMessageSize = 64 << 20

// maxLengthDigits is enough digits for MaxMessageSize
const maxLengthDigits = 10

var (
	// ErrFraming is returned when the buffer does not start with a valid frame header
	ErrFraming = errors.New("invalid message framing")
	// ErrMessageTooLarge is returned when a frame announces more than MaxMessageSize bytes
	ErrMessageTooLarge = errors.New("message too large")
	// ErrMalformed is returned when a complete frame does not hold a JSON object
	ErrMalformed = errors.New("malformed message body")
)

// Encode frames a message as the decimal byte length of its JSON body
// followed by the body
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	if len(body) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}

	frame := strconv.AppendInt(make([]byte, 0, len(body)+maxLengthDigits), int64(len(body)), 10)
	return append(frame, body...), nil
}

// TryDecode removes one complete message from the front of buf. It reports
// false with a nil error when buf holds no complete frame yet. Any error
// leaves buf untouched and means the stream cannot be resynchronized.
func TryDecode(buf *[]byte) (Message, bool, error) {
	b := *buf

	digits := 0
	for digits < len(b) && b[digits] >= '0' && b[digits] <= '9' {
		digits++
	}
	if digits > maxLengthDigits {
		return Message{}, false, ErrMessageTooLarge
	}
	if digits == len(b) {
		return Message{}, false, nil
	}
	if digits == 0 || b[digits] != '{' {
		return Message{}, false, ErrFraming
	}

	size, err := strconv.Atoi(string(b[:digits]))
	if err != nil {
		return Message{}, false, fmt.Errorf("%w: %v", ErrFraming, err)
	}
	if size > MaxMessageSize {
		return Message{}, false, ErrMessageTooLarge
	}
	if len(b)-digits < size {
		return Message{}, false, nil
	}

	var m Message
	if err := json.Unmarshal(b[digits:digits+size], &m); err != nil {
		return Message{}, false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	*buf = b[digits+size:]
	return m, true, nil
}

// Decoder accumulates stream bytes and yields complete messages
type Decoder struct {
	buf []byte
}

// Write appends received bytes; it never fails
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes not yet decoded
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next decodes the next complete message, if any
func (d *Decoder) Next() (Message, bool, error) {
	m, ok, err := TryDecode(&d.buf)
	if ok && len(d.buf) == 0 {
		d.buf = nil
	}
	return m, ok, err
}
