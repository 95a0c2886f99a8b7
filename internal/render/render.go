package render

import (
	"fmt"
	"regexp"
	"strings"
)

// Markdown renders markdown content for terminal display.
func Markdown(content string, opts Options) (string, error) {
	return shared.render(content, opts)
}

// Image is a markdown image reference found in message content.
type Image struct {
	Alt string
	URL string
}

// Inline reports whether the image is embedded as a data URL.
func (i Image) Inline() bool {
	return strings.HasPrefix(i.URL, "data:")
}

var imageRef = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)\)`)

// Images returns the image references in content, in order.
func Images(content string) []Image {
	var out []Image
	for _, m := range imageRef.FindAllStringSubmatch(content, -1) {
		out = append(out, Image{Alt: m[1], URL: m[2]})
	}
	return out
}

// PrepareContent rewrites image references for a terminal: data URLs become
// a short label and remote images become numbered links.
func PrepareContent(content string) string {
	n := 0
	return imageRef.ReplaceAllStringFunc(content, func(ref string) string {
		m := imageRef.FindStringSubmatch(ref)
		n++
		img := Image{Alt: m[1], URL: m[2]}
		label := img.Alt
		if label == "" {
			label = "image"
		}
		if img.Inline() {
			return fmt.Sprintf("🖼  *[image %d: %s]* (inline, use /export to save)", n, label)
		}
		return fmt.Sprintf("🖼  [image %d: %s](%s)", n, label, img.URL)
	})
}

// Message prepares and renders assistant content, falling back to the raw
// text when rendering fails.
func Message(content string, opts Options) string {
	out, err := Markdown(PrepareContent(content), opts)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n")
}
