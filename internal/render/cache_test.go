package render

import (
	"fmt"
	"sync"
	"testing"
)

func TestCacheMemoizesOutput(t *testing.T) {
	c := newCache(10)
	opts := DefaultOptions().WithStyle("notty")

	first, err := c.render("# Title", opts)
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.render("# Title", opts)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("outputs differ: %q vs %q", first, second)
	}

	outputs, renderers := c.stats()
	if outputs != 1 {
		t.Errorf("outputs = %d, want 1", outputs)
	}
	if renderers != 1 {
		t.Errorf("idle renderers = %d, want 1", renderers)
	}
}

func TestCacheKeysOnOptions(t *testing.T) {
	c := newCache(10)
	base := DefaultOptions().WithStyle("notty")

	for _, opts := range []Options{base, base.WithWidth(40), base.WithWidth(100)} {
		if _, err := c.render("same text", opts); err != nil {
			t.Fatal(err)
		}
	}
	if outputs, renderers := c.stats(); outputs != 3 || renderers != 3 {
		t.Errorf("stats = %d outputs, %d renderers, want 3 and 3", outputs, renderers)
	}
}

func TestCacheEvictsOldest(t *testing.T) {
	c := newCache(2)
	opts := DefaultOptions().WithStyle("ascii")

	for _, s := range []string{"one", "two", "three"} {
		if _, err := c.render(s, opts); err != nil {
			t.Fatal(err)
		}
	}
	if outputs, _ := c.stats(); outputs != 2 {
		t.Fatalf("outputs = %d, want 2", outputs)
	}
	if _, ok := c.out[outputKey{opts: opts, content: "one"}]; ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.out[outputKey{opts: opts, content: "three"}]; !ok {
		t.Error("newest entry missing")
	}
}

func TestCacheDoesNotStoreFailures(t *testing.T) {
	c := newCache(10)
	if _, err := c.render("x", DefaultOptions().WithStyle("nonexistent_style_path")); err == nil {
		t.Fatal("expected error")
	}
	if outputs, renderers := c.stats(); outputs != 0 || renderers != 0 {
		t.Errorf("stats = %d, %d after failure", outputs, renderers)
	}
}

func TestCacheConcurrentRender(t *testing.T) {
	c := newCache(100)
	opts := DefaultOptions().WithStyle("notty")

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := range 40 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := c.render(fmt.Sprintf("**message %d**", i%8), opts); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	if outputs, _ := c.stats(); outputs != 8 {
		t.Errorf("outputs = %d, want 8", outputs)
	}
}

func TestResetCache(t *testing.T) {
	if _, err := Markdown("reset me", DefaultOptions()); err != nil {
		t.Fatal(err)
	}
	ResetCache()
	if outputs, renderers := shared.stats(); outputs != 0 || renderers != 0 {
		t.Errorf("stats after reset = %d, %d", outputs, renderers)
	}
}

func TestWithWidthClamps(t *testing.T) {
	if got := DefaultOptions().WithWidth(5).Width; got != minWidth {
		t.Errorf("Width = %d, want %d", got, minWidth)
	}
	if got := DefaultOptions().WithWidth(120).Width; got != 120 {
		t.Errorf("Width = %d", got)
	}
}
