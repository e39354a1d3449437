package readingproc

import (
	"errors"
	"io"
	"os"

	"github.com/Paintersrp/readingproc/internal/metrics"
)

// relayBuffer bounds the relay channel. A full channel blocks the stream
// readers, which in turn lets the OS pipe buffers fill and throttles the
// child: backpressure instead of unbounded memory.
const relayBuffer = 64

// relayEvent is the unit of the producer/consumer handoff between a stream
// reader and the iterator. Exactly one of chunk, eof or err is meaningful.
type relayEvent struct {
	chunk  Chunk
	stream string
	eof    bool
	err    error
}

// pump performs blocking chunked reads on one pipe until end-of-stream and
// forwards every non-empty read to the relay channel. On clean closure it
// posts an end marker; any other read error is posted once as a terminal
// event for this stream. The other stream's pump is unaffected either way.
func (p *Proc) pump(r *os.File, stream string) {
	defer r.Close()

	buf := make([]byte, p.readChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			ev := relayEvent{stream: stream}
			if stream == StreamStdout {
				ev.chunk.Stdout = data
			} else {
				ev.chunk.Stderr = data
			}
			p.relay <- ev
			metrics.AddRelayed(stream, n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				p.relay <- relayEvent{stream: stream, eof: true}
				p.logger.Debug("stream closed", "pid", p.pid, "stream", stream)
			} else {
				p.relay <- relayEvent{stream: stream, err: err}
				p.logger.Warn("stream read failed", "pid", p.pid, "stream", stream, "err", err)
			}
			return
		}
	}
}
