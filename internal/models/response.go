package models

import (
	"fmt"
	"strings"
	"time"
)

// ChatResult is the canonical shape extracted from any chat payload.
type ChatResult struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// ImageResult is the canonical shape extracted from any image payload.
// FallbackURL holds the URL as received when URL was substituted or
// rewritten. Mock marks a placeholder substitution.
type ImageResult struct {
	URL           string `json:"url"`
	RevisedPrompt string `json:"revised_prompt"`
	FallbackURL   string `json:"fallback_url,omitempty"`
	Mock          bool   `json:"mock,omitempty"`
}

// Markdown renders the result as an image reference whose alt text is the
// prompt. A rewritten URL keeps the original as a link underneath; a mock
// URL is never shown.
func (r ImageResult) Markdown() string {
	alt := strings.NewReplacer("[", "(", "]", ")", "\n", " ").Replace(r.RevisedPrompt)
	out := fmt.Sprintf("![%s](%s)", alt, r.URL)
	if r.FallbackURL != "" && !r.Mock {
		out += fmt.Sprintf("\n\n[Original image](%s)", r.FallbackURL)
	}
	return out
}
