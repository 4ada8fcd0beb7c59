package session

import (
	"sync"
)

// AudioBuffer accumulates audio chunks received before the session is ready
// to forward them upstream. Chunk boundaries are preserved: each chunk is a
// complete base64 payload and must be replayed as-is.
//
// When the buffer is full the oldest chunks are evicted. Audio is cheap to
// lose relative to control messages; this is a policy choice, not a
// correctness requirement.
type AudioBuffer struct {
	chunks    []string
	totalSize int
	maxSize   int
	mu        sync.Mutex
}

// NewAudioBuffer creates a buffer with the specified maximum size in bytes
func NewAudioBuffer(maxSize int) *AudioBuffer {
	return &AudioBuffer{maxSize: maxSize}
}

// MaxSize returns the maximum buffer size
func (ab *AudioBuffer) MaxSize() int {
	return ab.maxSize
}

// Append adds an audio chunk, evicting the oldest chunks if needed.
// Chunks larger than the whole buffer are dropped outright.
func (ab *AudioBuffer) Append(chunk string) {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	if len(chunk) > ab.maxSize {
		return
	}

	for ab.totalSize+len(chunk) > ab.maxSize && len(ab.chunks) > 0 {
		ab.totalSize -= len(ab.chunks[0])
		ab.chunks = ab.chunks[1:]
	}

	ab.chunks = append(ab.chunks, chunk)
	ab.totalSize += len(chunk)
}

// Flush returns all buffered chunks in arrival order and clears the buffer
func (ab *AudioBuffer) Flush() []string {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	if len(ab.chunks) == 0 {
		return nil
	}

	chunks := ab.chunks
	ab.chunks = nil
	ab.totalSize = 0
	return chunks
}

// Clear empties the buffer without returning data
func (ab *AudioBuffer) Clear() {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	ab.chunks = nil
	ab.totalSize = 0
}

// Size returns the current total buffered bytes
func (ab *AudioBuffer) Size() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return ab.totalSize
}

// IsEmpty returns true if no chunks are buffered
func (ab *AudioBuffer) IsEmpty() bool {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return len(ab.chunks) == 0
}

// ChunkCount returns the number of chunks in the buffer
func (ab *AudioBuffer) ChunkCount() int {
	ab.mu.Lock()
	defer ab.mu.Unlock()
	return len(ab.chunks)
}
