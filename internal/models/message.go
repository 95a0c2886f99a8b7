package models

import (
	"fmt"
	"time"
)

// Role identifies the author of a message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry of a conversation.
type Message struct {
	ID           string    `json:"id"`
	Role         Role      `json:"role"`
	Content      string    `json:"content"`
	IsGenerating bool      `json:"isGenerating,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NewMessage builds a message whose id is the role followed by the creation
// time in milliseconds.
func NewMessage(role Role, content string, now time.Time) Message {
	return Message{
		ID:        fmt.Sprintf("%s-%d", role, now.UnixMilli()),
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}
}

// SystemMessage returns the message every conversation starts with.
func SystemMessage(content string) Message {
	if content == "" {
		content = DefaultSystemText
	}
	return Message{ID: DefaultSystemID, Role: RoleSystem, Content: content}
}

// WireMessage is the {role, content} pair sent upstream. Content is either a
// string or a list of content parts for vision turns.
type WireMessage struct {
	Role    Role `json:"role"`
	Content any  `json:"content"`
}

// ContentPart is one element of a multi-part vision message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageRef `json:"image_url,omitempty"`
}

// ImageRef wraps an image URL inside a ContentPart.
type ImageRef struct {
	URL string `json:"url"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []WireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// ImageRequest is the body of POST /api/image/generate and /api/image.
type ImageRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
	Image  string `json:"image,omitempty"`
}

// VisionRequest is the body of POST /api/vision.
type VisionRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []WireMessage `json:"messages"`
}
