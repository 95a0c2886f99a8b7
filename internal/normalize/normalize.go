// Package normalize extracts canonical chat and image results from upstream
// payloads whose shape is not fully trusted.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	apierrors "github.com/diogo/kiki/internal/errors"
	"github.com/diogo/kiki/internal/models"
)

// Chat content shapes, in priority order.
var chatContentPaths = []string{
	"content",
	"choices.0.message.content",
}

// Image URL shapes, in priority order. First non-empty string wins.
var imageURLPaths = []string{
	"data.0.url",
	"url",
	"imageUrl",
}

// Normalizer turns raw payloads into models.ChatResult and
// models.ImageResult.
type Normalizer struct {
	detector MockDetector
	rewrites []RewriteRule
	now      func() time.Time
}

// Option configures a Normalizer
type Option func(*Normalizer)

// WithMockDetector sets the predicate deciding which image URLs are mocks
func WithMockDetector(d MockDetector) Option {
	return func(n *Normalizer) {
		n.detector = d
	}
}

// WithRewriteRules replaces the CDN rewrite rules
func WithRewriteRules(rules []RewriteRule) Option {
	return func(n *Normalizer) {
		n.rewrites = rules
	}
}

// WithClock sets the time source used for synthesized ids
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

// New creates a Normalizer with the default mock markers and rewrite rules.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		detector: MarkerDetector{Markers: DefaultMockMarkers()},
		rewrites: DefaultRewriteRules(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Chat never fails: missing or malformed fields fall back to a synthesized
// id and a fixed apology.
func (n *Normalizer) Chat(raw []byte) models.ChatResult {
	now := n.now()
	result := models.ChatResult{
		ID:        fmt.Sprintf("assistant-%d", now.UnixMilli()),
		Role:      models.RoleAssistant,
		Content:   models.FallbackContent,
		CreatedAt: now,
	}
	if !gjson.ValidBytes(raw) {
		return result
	}

	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return result
	}

	if id := root.Get("id"); (id.Type == gjson.String && id.Str != "") || id.Type == gjson.Number {
		result.ID = id.String()
	}
	if content, ok := firstString(root, chatContentPaths); ok {
		result.Content = content
	}

	if ts := root.Get("createdAt"); ts.Type == gjson.String {
		if t, err := time.Parse(time.RFC3339, ts.Str); err == nil {
			result.CreatedAt = t
		}
	} else if created := root.Get("created"); created.Type == gjson.Number {
		result.CreatedAt = time.Unix(created.Int(), 0).UTC()
	}

	return result
}

// Image extracts the image URL, substituting mock URLs with a placeholder
// and rewriting unreliable CDN hosts. It returns errors.ErrNoImageURL when no
// known shape carries a URL.
func (n *Normalizer) Image(raw []byte, prompt string) (models.ImageResult, error) {
	if !gjson.ValidBytes(raw) {
		return models.ImageResult{}, apierrors.ErrNoImageURL
	}
	root := gjson.ParseBytes(raw)

	url, ok := firstString(root, imageURLPaths)
	if !ok {
		return models.ImageResult{}, apierrors.ErrNoImageURL
	}

	result := models.ImageResult{URL: url, RevisedPrompt: prompt}
	if rp := root.Get("data.0.revised_prompt"); rp.Type == gjson.String && strings.TrimSpace(rp.Str) != "" {
		result.RevisedPrompt = rp.Str
	}

	if n.detector != nil && n.detector.IsMock(url) {
		result.FallbackURL = url
		result.URL = Placeholder(prompt)
		result.Mock = true
		return result, nil
	}

	for _, rule := range n.rewrites {
		if rewritten, ok := rule.Apply(url); ok {
			result.FallbackURL = url
			result.URL = rewritten
			break
		}
	}
	return result, nil
}

// UploadURL extracts the stored image URL from an upload response.
func (n *Normalizer) UploadURL(raw []byte) (string, error) {
	if !gjson.ValidBytes(raw) {
		return "", apierrors.NewParseError("upload response is not JSON", "")
	}
	if url, ok := firstString(gjson.ParseBytes(raw), []string{"url", "data.0.url"}); ok {
		return url, nil
	}
	return "", apierrors.ErrNoImageURL
}

func firstString(root gjson.Result, paths []string) (string, bool) {
	for _, p := range paths {
		v := root.Get(p)
		if v.Type == gjson.String && v.Str != "" {
			return v.Str, true
		}
	}
	return "", false
}
