package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestBasicOperations(t *testing.T) {
	c, err := New[string](10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if value, exists := c.Get("key1"); exists {
		t.Errorf("expected miss, got value: %s", value)
	}

	isNew, err := c.Set("key1", "value1", 0)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !isNew {
		t.Error("expected new entry creation")
	}

	if value, exists := c.Get("key1"); !exists || value != "value1" {
		t.Errorf("Get = %q, %t; want value1, true", value, exists)
	}

	isNew, err = c.Set("key1", "value1_updated", 0)
	if err != nil {
		t.Fatalf("Set update: %v", err)
	}
	if isNew {
		t.Error("expected existing entry update")
	}

	deleted, err := c.Delete("key1")
	if err != nil || !deleted {
		t.Fatalf("Delete = %t, %v", deleted, err)
	}
	if _, exists := c.Get("key1"); exists {
		t.Error("entry survived deletion")
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	c, err := New[string](10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if _, err := c.Set("", "value", 0); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestLRUEviction(t *testing.T) {
	var evicted []string
	c, err := New[int](3, WithEvictionCallback[int](func(key string, _ int) {
		evicted = append(evicted, key)
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	for i := 1; i <= 3; i++ {
		if _, err := c.Set(fmt.Sprintf("k%d", i), i, 0); err != nil {
			t.Fatal(err)
		}
	}

	// Touch k1 so k2 becomes the LRU victim.
	if _, ok := c.Get("k1"); !ok {
		t.Fatal("k1 missing")
	}

	if _, err := c.Set("k4", 4, 0); err != nil {
		t.Fatal(err)
	}

	if len(evicted) != 1 || evicted[0] != "k2" {
		t.Errorf("evicted %v, want [k2]", evicted)
	}
	if _, ok := c.Get("k1"); !ok {
		t.Error("k1 should survive")
	}
	if c.Size() != 3 {
		t.Errorf("Size = %d, want 3", c.Size())
	}
}

func TestTTLExpiry(t *testing.T) {
	c, err := New[string](10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if _, err := c.Set("ephemeral", "v", 30*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("ephemeral"); !ok {
		t.Fatal("entry should be fresh")
	}

	time.Sleep(50 * time.Millisecond)

	if _, ok := c.Get("ephemeral"); ok {
		t.Error("expired entry served")
	}
	if c.Stats().Evictions() != 1 {
		t.Errorf("Evictions = %d, want 1", c.Stats().Evictions())
	}
}

func TestSetRefreshesCreatedAt(t *testing.T) {
	c, err := New[string](10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if _, err := c.Set("k", "v1", time.Minute); err != nil {
		t.Fatal(err)
	}
	first, ok := c.GetEntry("k")
	if !ok {
		t.Fatal("entry missing")
	}

	time.Sleep(5 * time.Millisecond)
	if _, err := c.Set("k", "v2", time.Minute); err != nil {
		t.Fatal(err)
	}

	second, ok := c.GetEntry("k")
	if !ok {
		t.Fatal("entry missing after refresh")
	}
	if !second.CreatedAt.After(first.CreatedAt) {
		t.Error("CreatedAt not refreshed on Set")
	}
	if second.Value != "v2" {
		t.Errorf("Value = %q, want v2", second.Value)
	}
}

func TestHitCountIncrements(t *testing.T) {
	c, err := New[string](10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if _, err := c.Set("k", "v", 0); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if _, ok := c.Get("k"); !ok {
			t.Fatal("unexpected miss")
		}
	}

	entry, ok := c.GetEntry("k")
	if !ok {
		t.Fatal("entry missing")
	}
	// 5 Gets plus the GetEntry itself.
	if entry.HitCount != 6 {
		t.Errorf("HitCount = %d, want 6", entry.HitCount)
	}
}

func TestJanitorSweepsExpired(t *testing.T) {
	c, err := New[string](10, WithCleanupInterval[string](10*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if _, err := c.Set("k", "v", 20*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.Size() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("janitor never swept expired entry")
}

func TestConcurrentAccess(t *testing.T) {
	c, err := New[int](100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%50)
				if i%3 == 0 {
					_, _ = c.Set(key, id*1000+i, time.Second)
				} else {
					_, _ = c.Get(key)
				}
			}
		}(w)
	}
	wg.Wait()

	if c.Size() > 100 {
		t.Errorf("Size = %d exceeds capacity", c.Size())
	}
}

func TestKeysMostRecentFirst(t *testing.T) {
	c, err := New[int](5)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	for i := 1; i <= 3; i++ {
		if _, err := c.Set(fmt.Sprintf("k%d", i), i, 0); err != nil {
			t.Fatal(err)
		}
	}
	c.Get("k1")

	keys := c.Keys()
	if len(keys) != 3 || keys[0] != "k1" {
		t.Errorf("Keys = %v, want k1 first", keys)
	}
}
