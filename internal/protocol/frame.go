// Package protocol implements the binary wire protocol between the sync
// client and the server: length-prefixed, marker-delimited frames plus the
// per-connection reassembly needed to decode them from an unbounded byte
// stream.
package protocol

import (
	"bytes"

	"github.com/codefionn/devsync/internal/consts"
	"github.com/codefionn/devsync/internal/logger"
)

// Frame layout on the wire:
//
//	START(3) | LENGTH(3, big-endian, total frame size) | TYPE(1) | NOTE | BOUNDARY(2) | CONTENT | END(3)
var (
	frameStart    = []byte{0xF1, 0xF2, 0xF3}
	frameEnd      = []byte{0xF4, 0xF5, 0xF6}
	frameBoundary = []byte{0xE0, 0xE1}
)

// frameOverhead is the encoded size of a frame with empty note and content.
const frameOverhead = 3 + 3 + 1 + 2 + 3

// Frame is one complete protocol record. Note carries short metadata (a
// relative path, a count); Content carries the payload.
type Frame struct {
	Type    byte
	Note    []byte
	Content []byte
}

// Encode renders a frame into its wire form. It returns nil if the encoded
// size would exceed the frame cap, or if the note contains the boundary
// marker (the decoder splits on its first occurrence, so such a note cannot
// round-trip); callers must treat nil as "nothing sent".
func Encode(typeCode byte, content, note []byte) []byte {
	if bytes.Contains(note, frameBoundary) {
		logger.Error("protocol: refusing to encode %s frame: note contains the boundary marker",
			TypeName(typeCode))
		return nil
	}

	total := frameOverhead + len(note) + len(content)
	if total > consts.MaxFrameSize {
		logger.Error("protocol: refusing to encode %s frame of %d bytes (cap %d)",
			TypeName(typeCode), total, consts.MaxFrameSize)
		return nil
	}

	buf := make([]byte, 0, total)
	buf = append(buf, frameStart...)
	buf = append(buf, byte(total>>16), byte(total>>8), byte(total))
	buf = append(buf, typeCode)
	buf = append(buf, note...)
	buf = append(buf, frameBoundary...)
	buf = append(buf, content...)
	buf = append(buf, frameEnd...)
	return buf
}

// Decoder reassembles frames from a stream of transport chunks. Each
// connection owns exactly one Decoder; it is not safe for concurrent use.
type Decoder struct {
	// zone holds stream bytes not yet decoded into frames
	zone []byte
}

// NewDecoder returns a Decoder with an empty reassembly buffer.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Pending reports how many bytes of an incomplete frame are buffered.
func (d *Decoder) Pending() int {
	return len(d.zone)
}

// Decode consumes one transport chunk and returns every complete frame it
// yields. Framing is driven by the declared length, so decoding is invariant
// under arbitrary chunk boundaries: a frame split across chunks stays in the
// reassembly buffer until its declared size has arrived, and back-to-back
// frames inside a single chunk are decoded one after another.
func (d *Decoder) Decode(chunk []byte) []Frame {
	if len(chunk) == 0 {
		return nil
	}
	d.zone = append(d.zone, chunk...)

	var frames []Frame
	for len(d.zone) > 0 {
		if len(d.zone) < len(frameStart) {
			break
		}
		if !bytes.HasPrefix(d.zone, frameStart) {
			// Not frame-aligned: the stream carries garbage. There is no
			// marker to resync on, so the buffer only ever shrinks by being
			// dropped once it can no longer hold a valid frame.
			if len(d.zone) > consts.MaxFrameSize {
				logger.Warn("protocol: reassembly buffer exceeded %d bytes without a frame, dropping %d bytes",
					consts.MaxFrameSize, len(d.zone))
				d.zone = nil
			}
			break
		}
		if len(d.zone) < frameOverhead {
			break
		}

		declared := int(d.zone[3])<<16 | int(d.zone[4])<<8 | int(d.zone[5])
		if declared > consts.MaxFrameSize {
			logger.Warn("protocol: dropping frame with declared length %d (cap %d)",
				declared, consts.MaxFrameSize)
			d.zone = nil
			break
		}
		if declared < frameOverhead {
			logger.Warn("protocol: dropping frame with impossible declared length %d", declared)
			d.zone = nil
			break
		}
		if len(d.zone) < declared {
			break
		}

		buf := d.zone[:declared]
		rest := make([]byte, len(d.zone)-declared)
		copy(rest, d.zone[declared:])
		d.zone = rest

		if frame, ok := parse(buf); ok {
			frames = append(frames, frame)
		}
	}
	return frames
}

// parse deconstructs one length-complete buffer into a frame. The start
// marker and length have already been validated.
func parse(buf []byte) (Frame, bool) {
	if !bytes.HasSuffix(buf, frameEnd) {
		logger.Warn("protocol: dropping frame without end marker (%d bytes)", len(buf))
		return Frame{}, false
	}

	typeCode := buf[6]
	body := buf[7 : len(buf)-len(frameEnd)]

	idx := bytes.Index(body, frameBoundary)
	if idx < 0 {
		logger.Warn("protocol: dropping %s frame without note/content boundary", TypeName(typeCode))
		return Frame{}, false
	}

	note := make([]byte, idx)
	copy(note, body[:idx])
	content := make([]byte, len(body)-idx-len(frameBoundary))
	copy(content, body[idx+len(frameBoundary):])

	return Frame{Type: typeCode, Note: note, Content: content}, true
}
