package audio

import (
	"sync"
)

// RingBuffer is a thread-safe ring buffer for staging captured audio
type RingBuffer struct {
	buffer []byte
	size   int
	read   int
	write  int
	mu     sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the specified size
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
		read:   0,
		write:  0,
	}
}

// Write writes data to the ring buffer
// Returns the number of bytes written (may be less than len(data) if buffer is full)
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := 0
	for written < len(data) {
		// One slot is kept free to distinguish full from empty
		if (rb.write+1)%rb.size == rb.read {
			break // Buffer full
		}

		var chunkEnd int
		if rb.read > rb.write {
			chunkEnd = rb.read - 1
		} else if rb.read == 0 {
			chunkEnd = rb.size - 1
		} else {
			chunkEnd = rb.size
		}

		n := copy(rb.buffer[rb.write:chunkEnd], data[written:])
		if n == 0 {
			break
		}
		rb.write = (rb.write + n) % rb.size
		written += n
	}

	return written
}

// Read reads data from the ring buffer
// Returns the number of bytes read
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	read := 0
	for read < len(data) {
		if rb.read == rb.write {
			break // Buffer empty
		}

		chunkEnd := rb.size
		if rb.write > rb.read {
			chunkEnd = rb.write
		}

		n := copy(data[read:], rb.buffer[rb.read:chunkEnd])
		if n == 0 {
			break
		}
		rb.read = (rb.read + n) % rb.size
		read += n
	}

	return read
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.availableLocked()
}

func (rb *RingBuffer) availableLocked() int {
	if rb.write >= rb.read {
		return rb.write - rb.read
	}
	return rb.size - rb.read + rb.write
}

// Space returns the number of bytes available to write
func (rb *RingBuffer) Space() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	return rb.size - rb.availableLocked() - 1 // -1 to prevent full/empty ambiguity
}

// Clear clears the buffer
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.read = 0
	rb.write = 0
}

// IsEmpty returns true if the buffer is empty
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.read == rb.write
}

// IsFull returns true if the buffer is full
func (rb *RingBuffer) IsFull() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return (rb.write+1)%rb.size == rb.read
}
