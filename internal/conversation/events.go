package conversation

import (
	"github.com/diogo/kiki/internal/events"
	"github.com/diogo/kiki/internal/models"
)

// Topics published on the session bus.
var (
	TopicMessages      = events.NewTopic[[]models.Message]("messages-changed")
	TopicStatus        = events.NewTopic[models.Status]("status-changed")
	TopicModel         = events.NewTopic[string]("model-changed")
	TopicInput         = events.NewTopic[models.OperationType]("input-changed")
	TopicNewChat       = events.NewTopic[struct{}]("new-chat")
	TopicFocusComposer = events.NewTopic[struct{}]("focus-composer")
)
