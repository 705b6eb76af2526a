package ids

import (
	"sync"
	"testing"
)

func TestGeneratorUniqueAcrossGoroutines(t *testing.T) {
	g := NewGenerator(7)
	const workers, per = 8, 2000

	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*per)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, per)
			for i := 0; i < per; i++ {
				local = append(local, g.Next())
			}
			mu.Lock()
			for _, id := range local {
				if _, dup := seen[id]; dup {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != workers*per {
		t.Fatalf("got %d ids, want %d", len(seen), workers*per)
	}
}

func TestNodeBits(t *testing.T) {
	for _, node := range []int64{0, 1, 100, 1023} {
		if got := Node(NewGenerator(node).Next()); got != node {
			t.Errorf("Node() = %d, want %d", got, node)
		}
	}
	if got := Node(NewGenerator(5000).Next()); got != 1 {
		t.Errorf("out of range node should fall back to 1, got %d", got)
	}
}
