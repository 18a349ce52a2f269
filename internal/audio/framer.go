package audio

import "sync"

// Framer re-chunks an arbitrary byte stream into fixed-size frames.
// Ingress clients send whatever frame sizes their capture API produces; the
// transcription session is fed in ChunkSize pieces.
type Framer struct {
	mu        sync.Mutex
	chunkSize int
	pending   []byte
}

// NewFramer creates a framer emitting chunkSize-byte frames. chunkSize is
// rounded down to a whole 16-bit sample.
func NewFramer(chunkSize int) *Framer {
	if chunkSize < 2 {
		chunkSize = 2
	}
	chunkSize -= chunkSize % 2
	return &Framer{
		chunkSize: chunkSize,
		pending:   make([]byte, 0, chunkSize*2),
	}
}

// Write appends data and returns every complete frame now available.
// Returned frames do not alias the framer's internal storage.
func (f *Framer) Write(data []byte) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pending = append(f.pending, data...)

	var frames [][]byte
	for len(f.pending) >= f.chunkSize {
		frame := make([]byte, f.chunkSize)
		copy(frame, f.pending[:f.chunkSize])
		frames = append(frames, frame)
		f.pending = f.pending[f.chunkSize:]
	}

	// Compact so the backing array does not grow without bound
	if len(f.pending) == 0 {
		f.pending = f.pending[:0:cap(f.pending)]
	} else if cap(f.pending) > f.chunkSize*4 {
		f.pending = append(make([]byte, 0, f.chunkSize*2), f.pending...)
	}

	return frames
}

// Flush returns the buffered remainder (possibly shorter than a frame) and clears it
func (f *Framer) Flush() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.pending) == 0 {
		return nil
	}
	rest := make([]byte, len(f.pending))
	copy(rest, f.pending)
	f.pending = f.pending[:0]
	return rest
}

// Buffered returns the number of bytes waiting for a full frame
func (f *Framer) Buffered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// ChunkSize returns the frame size in bytes
func (f *Framer) ChunkSize() int {
	return f.chunkSize
}
