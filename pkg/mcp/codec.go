package mcp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// MaxLineBytes is the maximum size of a single framed message, per the
// wire codec's line-length limit. Lines exceeding this are rejected with
// a protocol error.
const MaxLineBytes = 16 * 1024 * 1024

// EncodeMessage serializes a JSON-RPC message to its wire format.
// This delegates to the MCP SDK's jsonrpc package.
func EncodeMessage(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// DecodeMessage deserializes JSON-RPC wire format data into a Message.
// It returns either a *jsonrpc.Request or *jsonrpc.Response based on the message content.
// This delegates to the MCP SDK's jsonrpc package.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// WrapMessage decodes raw JSON-RPC bytes and wraps them in a Message struct
// with the specified direction and current timestamp.
//
// If decoding fails, returns an error. For passthrough scenarios where
// the raw bytes should be preserved even on decode failure, callers can
// construct a Message manually.
func WrapMessage(raw []byte, dir Direction) (*Message, error) {
	decoded, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, err
	}

	return &Message{
		Raw:       raw,
		Direction: dir,
		Decoded:   decoded,
		Timestamp: time.Now(),
	}, nil
}

// FrameReader reads newline-delimited JSON-RPC messages from an underlying
// stream. Embedded "\r\n" is normalized to "\n"; empty lines are skipped.
// A line longer than MaxLineBytes is rejected with a protocol error rather
// than silently truncated.
type FrameReader struct {
	scanner *bufio.Scanner
}

// NewFrameReader constructs a FrameReader over r.
func NewFrameReader(r io.Reader) *FrameReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), MaxLineBytes)
	return &FrameReader{scanner: s}
}

// ReadFrame returns the next non-empty line with its trailing "\r" (if any)
// stripped. Returns io.EOF when the underlying stream is exhausted.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	for f.scanner.Scan() {
		line := bytes.TrimSuffix(f.scanner.Bytes(), []byte("\r"))
		if len(line) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := f.scanner.Err(); err != nil {
		if err == bufio.ErrTooLong {
			return nil, fmt.Errorf("mcp: frame exceeds %d bytes: %w", MaxLineBytes, ErrFrameTooLarge)
		}
		return nil, err
	}
	return nil, io.EOF
}

// ErrFrameTooLarge is wrapped by ReadFrame when a line exceeds MaxLineBytes.
var ErrFrameTooLarge = fmt.Errorf("frame too large")

// WriteFrame writes msg followed by a single "\n" to w.
func WriteFrame(w io.Writer, msg []byte) error {
	if _, err := w.Write(msg); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n"))
	return err
}
