package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/devsync/internal/consts"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		code    byte
		content []byte
		note    []byte
	}{
		{"empty", TypeInit, nil, nil},
		{"content only", TypeFileChange, []byte("hello world"), nil},
		{"note only", TypeFileDelete, nil, []byte("src/app.js")},
		{"note and content", TypeFileSync, []byte("body bytes"), []byte("src/index.js")},
		{"binary content", TypeBuildFileSync, []byte{0x00, 0xFF, 0xF1, 0xF2, 0x7F}, []byte("dist/app.bin")},
		{"large content", TypeFileChange, bytes.Repeat([]byte("x"), consts.BufferSize1MB), []byte("big.txt")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Encode(tt.code, tt.content, tt.note)
			require.NotNil(t, encoded)

			frames := NewDecoder().Decode(encoded)
			require.Len(t, frames, 1)

			frame := frames[0]
			assert.Equal(t, tt.code, frame.Type)
			assert.Equal(t, len(tt.note), len(frame.Note))
			assert.Equal(t, len(tt.content), len(frame.Content))
			if len(tt.note) > 0 {
				assert.Equal(t, tt.note, frame.Note)
			}
			if len(tt.content) > 0 {
				assert.Equal(t, tt.content, frame.Content)
			}
		})
	}
}

func TestDecodeChunkingInvariance(t *testing.T) {
	var stream []byte
	want := []Frame{
		{Type: TypeInit, Note: []byte{}, Content: []byte(`{"client_id":"c"}`)},
		{Type: TypeFileChange, Note: []byte("a.txt"), Content: []byte("hi")},
		{Type: TypeFileCheck, Note: []byte("a.txt"), Content: []byte("49f68a5c8493ec2c0bf489821c21fc3b")},
		{Type: TypeFin, Note: []byte{}, Content: []byte{}},
	}
	for _, f := range want {
		stream = append(stream, Encode(f.Type, f.Content, f.Note)...)
	}

	// Decoding the stream split at every possible chunk size must yield the
	// same frames as decoding it whole
	for _, chunkSize := range []int{1, 2, 3, 5, 7, 16, len(stream)} {
		decoder := NewDecoder()
		var got []Frame
		for off := 0; off < len(stream); off += chunkSize {
			end := off + chunkSize
			if end > len(stream) {
				end = len(stream)
			}
			got = append(got, decoder.Decode(stream[off:end])...)
		}

		require.Len(t, got, len(want), "chunk size %d", chunkSize)
		for i, f := range got {
			assert.Equal(t, want[i].Type, f.Type, "chunk size %d frame %d", chunkSize, i)
			assert.Equal(t, string(want[i].Note), string(f.Note), "chunk size %d frame %d", chunkSize, i)
			assert.Equal(t, string(want[i].Content), string(f.Content), "chunk size %d frame %d", chunkSize, i)
		}
		assert.Zero(t, decoder.Pending(), "chunk size %d", chunkSize)
	}
}

func TestDecodeBackToBackFramesInOneChunk(t *testing.T) {
	chunk := append(Encode(TypeFileChange, []byte("one"), []byte("a.txt")),
		Encode(TypeFileChange, []byte("two"), []byte("b.txt"))...)

	frames := NewDecoder().Decode(chunk)
	require.Len(t, frames, 2)
	assert.Equal(t, "a.txt", string(frames[0].Note))
	assert.Equal(t, "one", string(frames[0].Content))
	assert.Equal(t, "b.txt", string(frames[1].Note))
	assert.Equal(t, "two", string(frames[1].Content))
}

func TestDecodePartialThenComplete(t *testing.T) {
	encoded := Encode(TypeFileSync, []byte("content"), []byte("path"))
	decoder := NewDecoder()

	frames := decoder.Decode(encoded[:10])
	assert.Empty(t, frames)
	assert.Equal(t, 10, decoder.Pending())

	frames = decoder.Decode(encoded[10:])
	require.Len(t, frames, 1)
	assert.Equal(t, "path", string(frames[0].Note))
	assert.Equal(t, "content", string(frames[0].Content))
	assert.Zero(t, decoder.Pending())
}

func TestEncodeOversizeRefused(t *testing.T) {
	content := make([]byte, consts.MaxFrameSize)
	assert.Nil(t, Encode(TypeFileChange, content, []byte("big.txt")))
}

func TestEncodeNoteWithBoundaryRefused(t *testing.T) {
	// The decoder splits note from content at the first boundary marker, so
	// a note carrying those bytes cannot round-trip
	note := []byte{'a', 0xE0, 0xE1, 'b'}
	assert.Nil(t, Encode(TypeFileChange, []byte("data"), note))

	// Content may carry the marker freely
	encoded := Encode(TypeFileChange, []byte{0xE0, 0xE1, 'x'}, []byte("a.txt"))
	require.NotNil(t, encoded)
	frames := NewDecoder().Decode(encoded)
	require.Len(t, frames, 1)
	assert.Equal(t, "a.txt", string(frames[0].Note))
	assert.Equal(t, []byte{0xE0, 0xE1, 'x'}, frames[0].Content)
}

func TestEncodeAtCapAccepted(t *testing.T) {
	content := make([]byte, consts.MaxFrameSize-frameOverhead)
	encoded := Encode(TypeFileChange, content, nil)
	require.NotNil(t, encoded)
	assert.Equal(t, consts.MaxFrameSize, len(encoded))

	frames := NewDecoder().Decode(encoded)
	require.Len(t, frames, 1)
	assert.Equal(t, len(content), len(frames[0].Content))
}

func TestDecodeOversizeDeclaredLengthDropped(t *testing.T) {
	// Hand-build a frame whose declared length exceeds the cap
	declared := consts.MaxFrameSize + 1
	var buf []byte
	buf = append(buf, frameStart...)
	buf = append(buf, byte(declared>>16), byte(declared>>8), byte(declared))
	buf = append(buf, TypeFileChange)
	buf = append(buf, []byte("a.txt")...)
	buf = append(buf, frameBoundary...)
	buf = append(buf, []byte("data")...)
	buf = append(buf, frameEnd...)

	decoder := NewDecoder()
	assert.Empty(t, decoder.Decode(buf))
	assert.Zero(t, decoder.Pending())
}

func TestDecodeMissingBoundaryDropped(t *testing.T) {
	total := frameOverhead - len(frameBoundary) + 4
	var buf []byte
	buf = append(buf, frameStart...)
	buf = append(buf, byte(total>>16), byte(total>>8), byte(total))
	buf = append(buf, TypeFileChange)
	buf = append(buf, []byte("data")...)
	buf = append(buf, frameEnd...)

	decoder := NewDecoder()
	assert.Empty(t, decoder.Decode(buf))
	assert.Zero(t, decoder.Pending())
}

func TestDecodeGarbageBufferDropsPastCap(t *testing.T) {
	decoder := NewDecoder()

	// Garbage with no markers accumulates until the cap, then is dropped
	garbage := bytes.Repeat([]byte{0x42}, consts.MaxFrameSize/2+1)
	assert.Empty(t, decoder.Decode(garbage))
	assert.Empty(t, decoder.Decode(garbage))
	assert.Zero(t, decoder.Pending())
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "init", TypeName(TypeInit))
	assert.Equal(t, "build-file-sync", TypeName(TypeBuildFileSync))
	assert.Equal(t, "fin", TypeName(TypeFin))
	assert.Equal(t, "unknown", TypeName(0x7F))
}
