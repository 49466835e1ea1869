package authgin

import "testing"

func TestValidCorrelationID(t *testing.T) {
	for _, id := range []string{"req-1", "3f2a0c1e-7d", "trace_01:abc"} {
		if !validCorrelationID(id) {
			t.Fatalf("expected %q to be accepted", id)
		}
	}
	long := make([]byte, maxCorrelationIDSize+1)
	for i := range long {
		long[i] = 'a'
	}
	for _, id := range []string{"", "with space", "tab\tid", "ünïcode", string(long)} {
		if validCorrelationID(id) {
			t.Fatalf("expected %q to be rejected", id)
		}
	}
}
