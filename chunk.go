package readingproc

// Stream names used to tag relayed output and metrics.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Chunk is one unit of output observed on a child's pipes. At most one of
// the two fields is non-empty: every physical read is tagged by the stream
// it came from. A Chunk is owned by the consumer once yielded and is never
// mutated afterwards.
type Chunk struct {
	Stdout []byte
	Stderr []byte
}

// Empty reports whether the chunk carries no payload.
func (c Chunk) Empty() bool {
	return len(c.Stdout) == 0 && len(c.Stderr) == 0
}
