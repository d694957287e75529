package batch

import (
	"time"

	"github.com/sydlexius/massaction/internal/massaction"
)

// ChunkStatus is how a chunk settled.
type ChunkStatus string

// Chunk statuses. They double as metric outcome labels.
const (
	ChunkOK      ChunkStatus = "ok"
	ChunkFailed  ChunkStatus = "failed"
	ChunkAborted ChunkStatus = "aborted"
)

// Chunk is a contiguous slice of the selection submitted as one request.
type Chunk struct {
	Index int   `json:"index"`
	IDs   []int `json:"ids"`
}

// ChunkOutcome describes a settled chunk.
type ChunkOutcome struct {
	Chunk    Chunk
	Status   ChunkStatus
	Attempts int
	Result   massaction.Result
	Err      error
	Duration time.Duration
}

// Partition splits ids into consecutive chunks of at most size IDs. Order
// is preserved and only the last chunk may be shorter.
func Partition(ids []int, size int) []Chunk {
	if size < 1 {
		size = 1
	}
	chunks := make([]Chunk, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		part := make([]int, end-start)
		copy(part, ids[start:end])
		chunks = append(chunks, Chunk{Index: len(chunks), IDs: part})
	}
	return chunks
}
