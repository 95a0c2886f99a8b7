package normalize

import (
	"encoding/base64"
	"fmt"
	"html"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"
)

// PromptPreviewLen is the number of runes of the prompt shown on a
// placeholder image.
const PromptPreviewLen = 30

// MockDetector decides whether an image URL points at a non-functional demo
// backend.
type MockDetector interface {
	IsMock(url string) bool
}

// MockDetectorFunc adapts a function to MockDetector.
type MockDetectorFunc func(string) bool

func (f MockDetectorFunc) IsMock(u string) bool { return f(u) }

// MarkerDetector flags a URL containing any of Markers unless it also
// contains one of GenuineMarkers. Matching is case-insensitive.
type MarkerDetector struct {
	Markers        []string
	GenuineMarkers []string
}

func (d MarkerDetector) IsMock(u string) bool {
	lower := strings.ToLower(u)
	if !containsAny(lower, d.Markers) {
		return false
	}
	return !containsAny(lower, d.GenuineMarkers)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// DefaultMockMarkers returns the substrings that identify mock image URLs.
func DefaultMockMarkers() []string {
	return []string{"mock-error"}
}

// RewriteRule moves images served from Host to Base, keeping the filename.
type RewriteRule struct {
	Host string `mapstructure:"host"`
	Base string `mapstructure:"base"`
}

// Apply returns the rewritten URL when raw is served from the rule's host.
func (r RewriteRule) Apply(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || !strings.EqualFold(u.Hostname(), r.Host) {
		return "", false
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." || name == "" {
		return "", false
	}
	return strings.TrimRight(r.Base, "/") + "/" + name, true
}

// DefaultRewriteRules returns the known CDN fallback.
func DefaultRewriteRules() []RewriteRule {
	return []RewriteRule{
		{Host: "api.redbuilder.io", Base: "https://multi.redbuilder.io/generations"},
	}
}

// TruncatePrompt shortens prompt to PromptPreviewLen runes plus "...".
func TruncatePrompt(prompt string) string {
	if utf8.RuneCountInString(prompt) <= PromptPreviewLen {
		return prompt
	}
	return string([]rune(prompt)[:PromptPreviewLen]) + "..."
}

const placeholderSVG = `<svg width="512" height="512" xmlns="http://www.w3.org/2000/svg">
  <rect width="100%%" height="100%%" fill="#f0f0f0"/>
  <rect width="90%%" height="90%%" x="5%%" y="5%%" fill="#e0e0e0" stroke="#ccc" stroke-width="2"/>
  <text x="50%%" y="30%%" font-family="Arial" font-size="24" text-anchor="middle" fill="#333">Image Generation</text>
  <text x="50%%" y="40%%" font-family="Arial" font-size="18" text-anchor="middle" fill="#555">Fallback placeholder</text>
  <text x="50%%" y="50%%" font-family="Arial" font-size="16" text-anchor="middle" fill="#777">%s</text>
  <text x="50%%" y="70%%" font-family="Arial" font-size="14" text-anchor="middle" fill="#999">Development mode</text>
</svg>`

// PlaceholderSVG returns the SVG document shown instead of a mock image.
func PlaceholderSVG(prompt string) string {
	return fmt.Sprintf(placeholderSVG, html.EscapeString(TruncatePrompt(prompt)))
}

// Placeholder returns PlaceholderSVG as a base64 data URL.
func Placeholder(prompt string) string {
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(PlaceholderSVG(prompt)))
}
