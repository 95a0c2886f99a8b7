package render

import (
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
)

// The chat view re-renders the whole transcript on every conversation
// event, so finished output is memoized per (options, content) and idle
// renderers are kept per option set. A glamour.TermRenderer must not be
// used by two goroutines at once; acquire hands each caller its own.

const defaultOutputLimit = 512

type outputKey struct {
	opts    Options
	content string
}

type cache struct {
	mu    sync.Mutex
	idle  map[Options][]*glamour.TermRenderer
	out   map[outputKey]string
	order []outputKey
	limit int
}

func newCache(limit int) *cache {
	return &cache{
		idle:  make(map[Options][]*glamour.TermRenderer),
		out:   make(map[outputKey]string),
		limit: limit,
	}
}

var shared = newCache(defaultOutputLimit)

func (c *cache) render(content string, opts Options) (string, error) {
	key := outputKey{opts: opts, content: content}

	c.mu.Lock()
	if s, ok := c.out[key]; ok {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	r, err := c.acquire(opts)
	if err != nil {
		return "", err
	}
	s, err := r.Render(content)
	c.release(opts, r)
	if err != nil {
		return "", err
	}

	c.remember(key, s)
	return s, nil
}

func (c *cache) acquire(opts Options) (*glamour.TermRenderer, error) {
	c.mu.Lock()
	if free := c.idle[opts]; len(free) > 0 {
		r := free[len(free)-1]
		c.idle[opts] = free[:len(free)-1]
		c.mu.Unlock()
		return r, nil
	}
	c.mu.Unlock()
	return newRenderer(opts)
}

func (c *cache) release(opts Options, r *glamour.TermRenderer) {
	c.mu.Lock()
	c.idle[opts] = append(c.idle[opts], r)
	c.mu.Unlock()
}

// remember stores s, evicting the oldest entry once the limit is reached.
func (c *cache) remember(key outputKey, s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.out[key]; ok {
		return
	}
	if c.limit > 0 && len(c.order) >= c.limit {
		delete(c.out, c.order[0])
		c.order = c.order[1:]
	}
	c.out[key] = s
	c.order = append(c.order, key)
}

func (c *cache) reset() {
	c.mu.Lock()
	c.idle = make(map[Options][]*glamour.TermRenderer)
	c.out = make(map[outputKey]string)
	c.order = nil
	c.mu.Unlock()
}

func (c *cache) stats() (outputs, renderers int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, free := range c.idle {
		renderers += len(free)
	}
	return len(c.out), renderers
}

// IsStandardStyle reports whether style names one of glamour's built-in styles.
func IsStandardStyle(style string) bool {
	_, ok := styles.DefaultStyles[style]
	return ok
}

func newRenderer(opts Options) (*glamour.TermRenderer, error) {
	ro := []glamour.TermRendererOption{
		glamour.WithWordWrap(opts.Width),
		glamour.WithTableWrap(opts.TableWrap),
		glamour.WithInlineTableLinks(opts.InlineTableLinks),
	}
	if IsStandardStyle(opts.Style) {
		ro = append(ro, glamour.WithStandardStyle(opts.Style))
	} else {
		ro = append(ro, glamour.WithStylePath(opts.Style))
	}
	if opts.EnableEmoji {
		ro = append(ro, glamour.WithEmoji())
	}
	if opts.PreserveNewLines {
		ro = append(ro, glamour.WithPreservedNewLines())
	}
	return glamour.NewTermRenderer(ro...)
}

// ResetCache drops memoized output and idle renderers.
func ResetCache() {
	shared.reset()
}
