package instance

import (
	"strings"
	"sync"
	"testing"
)

func TestIDStableAcrossCalls(t *testing.T) {
	first := ID()
	if first == "" {
		t.Fatal("ID() returned empty string")
	}
	if !strings.HasPrefix(first, "cropauth-") {
		t.Errorf("ID() = %q, want cropauth- prefix", first)
	}
	for i := 0; i < 100; i++ {
		if got := ID(); got != first {
			t.Fatalf("ID() changed between calls: %q != %q", got, first)
		}
	}
}

func TestIDConcurrentAccess(t *testing.T) {
	var wg sync.WaitGroup
	results := make([]string, 64)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = ID()
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatalf("concurrent ID() calls disagree: %q != %q", results[i], results[0])
		}
	}
}
