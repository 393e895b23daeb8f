package dedup

import (
	"sync"
	"testing"
	"time"
)

func TestAdmitDropsDuplicates(t *testing.T) {
	g := NewGate(DefaultConfig())

	if got := g.Admit("whatsapp", "wamid.1"); got != Accept {
		t.Fatalf("first admit: got %s", got)
	}
	if got := g.Admit("whatsapp", "wamid.1"); got != Duplicate {
		t.Fatalf("second admit: got %s", got)
	}
	if got := g.Admit("sms", "wamid.1"); got != Accept {
		t.Fatalf("other channel should be independent, got %s", got)
	}
}

func TestAdmitExpiresAfterWindow(t *testing.T) {
	g := NewGate(Config{Window: time.Minute})
	now := time.Now()
	g.now = func() time.Time { return now }

	g.Admit("whatsapp", "m1")
	now = now.Add(2 * time.Minute)

	if got := g.Admit("whatsapp", "m1"); got != Accept {
		t.Fatalf("expired id should be admitted again, got %s", got)
	}
}

func TestAdmitBoundedEntries(t *testing.T) {
	g := NewGate(Config{Window: time.Hour, MaxEntries: 2})
	g.Admit("c", "a")
	g.Admit("c", "b")
	g.Admit("c", "c")

	if g.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", g.Len())
	}
	if got := g.Admit("c", "a"); got != Accept {
		t.Fatalf("oldest entry should have been evicted, got %s", got)
	}
}

func TestForgetAllowsRedelivery(t *testing.T) {
	g := NewGate(DefaultConfig())
	g.Admit("c", "m")
	g.Forget("c", "m")
	if got := g.Admit("c", "m"); got != Accept {
		t.Fatalf("forgotten id should be admitted, got %s", got)
	}
}

func TestAdmitEmptyIDAlwaysAccepted(t *testing.T) {
	g := NewGate(DefaultConfig())
	if g.Admit("c", "") != Accept || g.Admit("c", "") != Accept {
		t.Fatal("empty ids cannot be deduplicated")
	}
}

func TestAdmitConcurrentSingleAccept(t *testing.T) {
	g := NewGate(DefaultConfig())
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Admit("c", "same") == Accept {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if accepted != 1 {
		t.Fatalf("expected exactly one accept, got %d", accepted)
	}
}
