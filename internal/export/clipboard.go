package export

import (
	"errors"
	"fmt"

	"github.com/atotto/clipboard"

	"github.com/diogo/kiki/internal/models"
)

// ErrNothingToCopy is returned when the transcript has no visible messages.
var ErrNothingToCopy = errors.New("nothing to copy")

// Clipboard writes text to a clipboard.
type Clipboard interface {
	WriteAll(text string) error
}

// SystemClipboard is the OS clipboard.
type SystemClipboard struct{}

func (SystemClipboard) WriteAll(text string) error {
	if clipboard.Unsupported {
		return errors.New("clipboard not supported on this system")
	}
	return clipboard.WriteAll(text)
}

// CopyTranscript copies the plain-text transcript of msgs.
func CopyTranscript(cb Clipboard, msgs []models.Message) error {
	text := Text(msgs, Options{})
	if text == "" {
		return ErrNothingToCopy
	}
	if err := cb.WriteAll(text); err != nil {
		return fmt.Errorf("failed to copy to clipboard: %w", err)
	}
	return nil
}

// CopyLastReply copies the content of the most recent assistant message.
func CopyLastReply(cb Clipboard, msgs []models.Message) error {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role == models.RoleAssistant && !m.IsGenerating && m.Content != "" {
			if err := cb.WriteAll(m.Content); err != nil {
				return fmt.Errorf("failed to copy to clipboard: %w", err)
			}
			return nil
		}
	}
	return ErrNothingToCopy
}
