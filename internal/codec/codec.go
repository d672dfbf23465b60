// Package codec implements the length-framed-by-terminator wire protocol
// spoken over the host-link Unix socket: each message is a compact JSON
// object followed by a single 0x03 (ASCII ETX) terminator byte. There is
// no length prefix; framing is purely terminator-delimited, matching the
// Klipper/Moonraker host-link wire format.
package codec

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Terminator is the single byte that ends every frame.
const Terminator = 0x03

// ErrCorruptFrame is returned when a frame's bytes are not valid JSON.
// It is terminal: the caller must tear down the connection, since framing
// state cannot be trusted after a corrupt frame.
var ErrCorruptFrame = errors.New("codec: corrupt frame")

// Decoder reads terminator-delimited JSON frames from an underlying reader.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r for frame-at-a-time reading.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// ReadMessage reads the next frame and returns its JSON payload with the
// terminator stripped. io.EOF is returned verbatim when the peer closes
// the connection cleanly between frames. A non-EOF read error, or a frame
// whose bytes fail json.Valid, is wrapped in ErrCorruptFrame.
func (d *Decoder) ReadMessage() (json.RawMessage, error) {
	raw, err := d.r.ReadBytes(Terminator)
	if err != nil {
		if err == io.EOF && len(raw) == 0 {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
	}

	payload := raw[:len(raw)-1]
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: invalid json", ErrCorruptFrame)
	}
	return json.RawMessage(payload), nil
}

// Encoder writes terminator-delimited JSON frames to an underlying writer.
// A single Encoder must not be used concurrently; callers serialize writes
// externally (the host-link's single write-serializer goroutine).
type Encoder struct {
	w io.Writer
}

// NewEncoder wraps w for frame-at-a-time writing.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteMessage marshals v to compact JSON, appends the terminator, and
// writes the result in a single Write call.
func (e *Encoder) WriteMessage(v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("codec: marshal: %w", err)
	}
	body = append(body, Terminator)
	_, err = e.w.Write(body)
	return err
}

// WriteRaw writes an already-encoded JSON payload with the terminator
// appended, used by components that build the payload themselves (e.g.
// the multiplexer forwarding a pre-validated request).
func (e *Encoder) WriteRaw(payload json.RawMessage) error {
	buf := make([]byte, len(payload)+1)
	copy(buf, payload)
	buf[len(payload)] = Terminator
	_, err := e.w.Write(buf)
	return err
}
