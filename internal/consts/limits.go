package consts

import "time"

// Buffer sizes for various operations
const (
	// BufferSize1KB is 1 kilobyte
	BufferSize1KB = 1024
	// BufferSize64KB is 64 kilobytes
	BufferSize64KB = 64 * 1024
	// BufferSize1MB is 1 megabyte
	BufferSize1MB = 1024 * 1024
)

// Wire protocol limits
const (
	// MaxFrameSize is the maximum total encoded size of a single frame (5 MiB).
	// Frames larger than this are refused on encode and dropped on decode.
	MaxFrameSize = 5 * 1024 * 1024
)

// Timeouts for various operations
const (
	// Timeout1Second is a 1 second timeout
	Timeout1Second = 1 * time.Second
	// Timeout5Seconds is a 5 second timeout
	Timeout5Seconds = 5 * time.Second
	// Timeout10Seconds is a 10 second timeout
	Timeout10Seconds = 10 * time.Second
	// Timeout30Seconds is a 30 second timeout
	Timeout30Seconds = 30 * time.Second
)

// Dev watcher settings
const (
	// DevWatchDebounce is how long the dev watcher waits after the last
	// filesystem event before triggering a rebuild.
	DevWatchDebounce = 300 * time.Millisecond
)
