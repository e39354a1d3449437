// Package readingproc reads the standard output and error streams of child
// processes without blocking the caller. Each started Proc owns two
// background readers that perform blocking chunked reads on the child's
// pipes and relay the observed data through a bounded channel; the caller
// consumes that channel through a restartable iterator with two independent
// timeout policies (per-chunk and total wall clock). A ReadingSet multiplexes
// several handles into a single iteration stream.
//
// Graceful and forced shutdown signal the child's whole process group. Full
// group termination is only guaranteed on Linux, where job-control semantics
// deliver the signal to every member of the group. On other platforms the
// package offers best-effort semantics: the direct child is signalled, but
// grandchildren may remain running and must be cleaned up by the caller.
package readingproc
