package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// DefaultMaxFrameBytes bounds a single inbound line.
const DefaultMaxFrameBytes = 256 << 10

// ErrFrameTooLarge is returned when a line exceeds the decoder's limit.
var ErrFrameTooLarge = errors.New("frame too large")

// Encoder writes newline-delimited JSON frames.
type Encoder struct {
	writer io.Writer
}

// Decoder reads newline-delimited frames. A partial line survives a read
// error such as a deadline, so the caller may retry.
type Decoder struct {
	reader   *bufio.Reader
	maxBytes int
	pending  []byte
}

// NewEncoder creates a new encoder for the given writer.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{writer: w}
}

// NewDecoder creates a decoder; maxBytes <= 0 selects DefaultMaxFrameBytes.
func NewDecoder(r io.Reader, maxBytes int) *Decoder {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	return &Decoder{reader: bufio.NewReader(r), maxBytes: maxBytes}
}

// Marshal encodes v as a single frame without the trailing newline.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Encode writes v followed by a newline in one write.
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = e.writer.Write(append(data, '\n'))
	return err
}

// ReadFrame returns the next non-blank line without its line terminator.
func (d *Decoder) ReadFrame() ([]byte, error) {
	for {
		chunk, err := d.reader.ReadSlice('\n')
		if len(d.pending)+len(chunk) > d.maxBytes {
			d.pending = nil
			return nil, ErrFrameTooLarge
		}
		d.pending = append(d.pending, chunk...)

		switch {
		case err == nil:
			line := bytes.TrimSpace(d.pending)
			d.pending = nil
			if len(line) == 0 {
				continue
			}
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return nil, err
		}
	}
}

// Decode reads the next frame into v.
func (d *Decoder) Decode(v any) error {
	frame, err := d.ReadFrame()
	if err != nil {
		return err
	}
	return json.Unmarshal(frame, v)
}
