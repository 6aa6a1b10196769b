// Package frame implements the HTTP/2 Writer collaborator on top of
// golang.org/x/net/http2: a mutex-guarded Framer for outbound frames and a
// persistent-reader Parser for inbound ones. It knows nothing about stream
// lifecycles or dispatch; it only turns Go calls into wire bytes and back.
package frame

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

// Type represents HTTP/2 frame types for the raw-frame write path.
type Type uint8

// HTTP/2 frame type constants used by WriteFrame callers.
const (
	FrameData         Type = 0x0
	FrameHeaders      Type = 0x1
	FramePriority     Type = 0x2
	FrameRSTStream    Type = 0x3
	FrameSettings     Type = 0x4
	FrameWindowUpdate Type = 0x8
	FrameContinuation Type = 0x9
)

// Flags represents HTTP/2 frame flags for the raw-frame write path.
type Flags uint8

// HTTP/2 frame flag constants.
const (
	FlagEndStream  Flags = 0x1
	FlagEndHeaders Flags = 0x4
	FlagPadded     Flags = 0x8
	FlagPriority   Flags = 0x20
)

// Frame is a generic outbound frame for WriteFrame, used by callers that
// need to emit a frame kind the typed helpers below don't cover.
type Frame struct {
	Type     Type
	Flags    Flags
	StreamID uint32
	Payload  []byte
}

// Parser reads HTTP/2 frames from a persistent reader, preserving
// CONTINUATION expectations across reads.
type Parser struct {
	framer *http2.Framer
	buf    *bytes.Buffer
}

// NewParser creates a Parser with no bound reader; call InitReader before
// ReadNextFrame.
func NewParser() *Parser {
	return &Parser{buf: new(bytes.Buffer)}
}

// InitReader binds the parser to r. The Framer returned by http2.NewFramer
// retains CONTINUATION state across calls to ReadFrame as long as the same
// Framer instance keeps being used, so InitReader should be called once per
// connection, not once per frame.
func (p *Parser) InitReader(r io.Reader) {
	p.framer = http2.NewFramer(p.buf, r)
	p.framer.SetMaxReadFrameSize(1 << 20)
}

// ReadNextFrame reads the next frame from the bound reader.
func (p *Parser) ReadNextFrame() (http2.Frame, error) {
	if p.framer == nil {
		return nil, fmt.Errorf("frame: parser not initialized; call InitReader")
	}
	return p.framer.ReadFrame()
}

// Writer writes HTTP/2 frames to an io.Writer. Safe for concurrent use; all
// writes serialize through a single mutex because http2.Framer is not
// itself concurrency-safe.
type Writer struct {
	framer *http2.Framer
	writer io.Writer
	mu     sync.Mutex
}

// NewWriter creates a frame Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		framer: http2.NewFramer(w, nil),
		writer: w,
	}
}

// Flush flushes the underlying writer if it supports flushing.
func (w *Writer) Flush() error {
	if flusher, ok := w.writer.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// WriteFrame writes a generic raw frame.
func (w *Writer) WriteFrame(f *Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.framer.WriteRawFrame(http2.FrameType(f.Type), http2.Flags(f.Flags), f.StreamID, f.Payload)
}

// WriteSettings writes a SETTINGS frame.
func (w *Writer) WriteSettings(settings ...http2.Setting) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.framer.WriteSettings(settings...)
}

// WriteSettingsAck writes a SETTINGS acknowledgment frame.
func (w *Writer) WriteSettingsAck() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.framer.WriteSettingsAck()
}

// WriteHeaders writes HEADERS (and, if needed, CONTINUATION) frames,
// fragmenting headerBlock by maxFrameSize.
func (w *Writer) WriteHeaders(streamID uint32, endStream bool, headerBlock []byte, maxFrameSize uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if maxFrameSize == 0 {
		maxFrameSize = 16384 // RFC 7540 default
	}

	remaining := headerBlock
	first := true
	for len(remaining) > 0 || first {
		chunkLen := int(maxFrameSize)
		if len(remaining) < chunkLen {
			chunkLen = len(remaining)
		}
		frag := remaining[:chunkLen]
		remaining = remaining[chunkLen:]

		if first {
			var flags http2.Flags
			if endStream {
				flags |= http2.FlagHeadersEndStream
			}
			if len(remaining) == 0 {
				flags |= http2.FlagHeadersEndHeaders
			}
			if err := w.framer.WriteRawFrame(http2.FrameHeaders, flags, streamID, frag); err != nil {
				return err
			}
			first = false
			continue
		}

		var flags http2.Flags
		if len(remaining) == 0 {
			flags |= http2.FlagContinuationEndHeaders
		}
		if err := w.framer.WriteRawFrame(http2.FrameContinuation, flags, streamID, frag); err != nil {
			return err
		}
	}
	return nil
}

// WriteData writes a DATA frame. A zero-length, non-END_STREAM DATA frame
// is dropped rather than written, since it carries no information and some
// peers treat it as a protocol oddity.
func (w *Writer) WriteData(streamID uint32, endStream bool, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(data) == 0 && !endStream {
		return nil
	}
	return w.framer.WriteData(streamID, endStream, data)
}

// WriteWindowUpdate writes a WINDOW_UPDATE frame.
func (w *Writer) WriteWindowUpdate(streamID uint32, increment uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.framer.WriteWindowUpdate(streamID, increment)
}

// WriteRSTStream writes a RST_STREAM frame.
func (w *Writer) WriteRSTStream(streamID uint32, code http2.ErrCode) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.framer.WriteRSTStream(streamID, code)
}

// WriteGoAway writes a GOAWAY frame.
func (w *Writer) WriteGoAway(lastStreamID uint32, code http2.ErrCode, debugData []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.framer.WriteGoAway(lastStreamID, code, debugData)
}

// WritePing writes a PING frame, ack set for a reply to a peer's PING.
func (w *Writer) WritePing(ack bool, data [8]byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.framer.WritePing(ack, data)
}

// HeaderEncoder encodes headers using HPACK. Not safe for concurrent use;
// callers needing concurrent encoding should use one HeaderEncoder per
// writer goroutine.
type HeaderEncoder struct {
	encoder *hpack.Encoder
	buf     *bytes.Buffer
}

// NewHeaderEncoder creates a new header encoder.
func NewHeaderEncoder() *HeaderEncoder {
	buf := new(bytes.Buffer)
	return &HeaderEncoder{
		encoder: hpack.NewEncoder(buf),
		buf:     buf,
	}
}

// Encode encodes headers to HPACK format, returning a copy safe to retain
// past the next Encode call.
func (e *HeaderEncoder) Encode(headers [][2]string) ([]byte, error) {
	e.buf.Reset()
	for _, h := range headers {
		if err := e.encoder.WriteField(hpack.HeaderField{Name: h[0], Value: h[1]}); err != nil {
			return nil, err
		}
	}
	result := make([]byte, e.buf.Len())
	copy(result, e.buf.Bytes())
	return result, nil
}

// HeaderDecoder decodes HPACK-encoded header blocks.
type HeaderDecoder struct {
	decoder *hpack.Decoder
}

// NewHeaderDecoder creates a header decoder with the given dynamic table
// size limit.
func NewHeaderDecoder(maxSize uint32) *HeaderDecoder {
	return &HeaderDecoder{decoder: hpack.NewDecoder(maxSize, nil)}
}

// Decode decodes an HPACK-encoded header block.
func (d *HeaderDecoder) Decode(data []byte) ([][2]string, error) {
	headers := make([][2]string, 0)
	d.decoder.SetEmitFunc(func(hf hpack.HeaderField) {
		headers = append(headers, [2]string{hf.Name, hf.Value})
	})
	if _, err := d.decoder.Write(data); err != nil {
		return nil, fmt.Errorf("frame: hpack decode: %w", err)
	}
	return headers, nil
}
