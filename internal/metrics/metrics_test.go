package metrics

import "testing"

func TestRegistryExposesCounters(t *testing.T) {
	AddRelayed("stdout", 5)
	AddRelayed("stderr", 0) // no-op
	IncTimeouts("chunk")
	IncSignals("terminate")
	IncProcessStarts()

	families, err := Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		"readingproc_relay_bytes_total",
		"readingproc_relay_chunks_total",
		"readingproc_timeouts_total",
		"readingproc_signals_total",
		"readingproc_process_starts_total",
	} {
		if !found[name] {
			t.Fatalf("metric %s missing from registry", name)
		}
	}
}
