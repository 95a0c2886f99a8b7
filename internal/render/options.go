// Package render turns assistant markdown into styled terminal output.
package render

import "github.com/diogo/kiki/internal/config"

// minWidth keeps glamour from wrapping every word onto its own line in
// very narrow terminals.
const minWidth = 20

// Options controls how a message is rendered. It is comparable and used
// as a cache key.
type Options struct {
	Width int
	// Style is a glamour standard style name or a path to a JSON style.
	Style string

	EnableEmoji      bool
	PreserveNewLines bool
	TableWrap        bool
	InlineTableLinks bool
}

// DefaultOptions renders 80 columns wide with the dark style.
func DefaultOptions() Options {
	return Options{
		Width:            80,
		Style:            "dark",
		EnableEmoji:      true,
		PreserveNewLines: true,
		TableWrap:        true,
	}
}

// FromConfig maps the markdown config section onto Options. An empty
// style keeps the default.
func FromConfig(md config.MarkdownConfig) Options {
	style := md.Style
	if style == "" {
		style = DefaultOptions().Style
	}
	return Options{
		Width:            DefaultOptions().Width,
		Style:            style,
		EnableEmoji:      md.EnableEmoji,
		PreserveNewLines: md.PreserveNewLines,
		TableWrap:        md.TableWrap,
		InlineTableLinks: md.InlineTableLinks,
	}
}

// WithWidth returns a copy wrapping at width columns, never below minWidth.
func (o Options) WithWidth(width int) Options {
	o.Width = max(width, minWidth)
	return o
}

// WithStyle returns a copy using style.
func (o Options) WithStyle(style string) Options {
	o.Style = style
	return o
}
