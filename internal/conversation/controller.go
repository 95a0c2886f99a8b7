// Package conversation owns the message list of a chat session and drives
// requests to the relay.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	apierrors "github.com/diogo/kiki/internal/errors"
	"github.com/diogo/kiki/internal/events"
	"github.com/diogo/kiki/internal/fetch"
	"github.com/diogo/kiki/internal/models"
	"github.com/diogo/kiki/internal/normalize"
	"github.com/diogo/kiki/internal/router"
)

// GeneratingText is the content of an image placeholder before any retry.
const GeneratingText = "Generating image..."

// RelayAPI is the subset of the relay client the controller calls.
type RelayAPI interface {
	Chat(ctx context.Context, req models.ChatRequest) ([]byte, error)
	Vision(ctx context.Context, req models.VisionRequest) ([]byte, error)
	GenerateImage(ctx context.Context, req models.ImageRequest, policy fetch.Policy) ([]byte, error)
}

// ModelResolver picks a backend model for an input.
type ModelResolver interface {
	ResolveInput(ctx context.Context, input string) (models.OperationType, string)
}

// Options tunes controller behavior.
type Options struct {
	SystemPrompt string

	// ImagePolicy carries the retry budget for image generation. Its retry
	// predicates are replaced with 5xx/429 and transport-error retries.
	ImagePolicy fetch.Policy

	// AppendErrorMessages adds an assistant bubble for failed chat turns in
	// addition to the error status.
	AppendErrorMessages bool

	FlashDuration     time.Duration
	RecoveredDuration time.Duration
}

// DefaultOptions returns the standard timings and image retry budget.
func DefaultOptions() Options {
	return Options{
		SystemPrompt:      models.DefaultSystemText,
		ImagePolicy:       fetch.DefaultPolicy(),
		FlashDuration:     400 * time.Millisecond,
		RecoveredDuration: 800 * time.Millisecond,
	}
}

// Deps are the collaborators of a Controller.
type Deps struct {
	API        RelayAPI
	Router     ModelResolver
	Normalizer *normalize.Normalizer
	Bus        *events.Bus
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Controller holds the state of one conversation. All mutation goes through
// its methods; Submit admits a single request at a time.
type Controller struct {
	api    RelayAPI
	router ModelResolver
	norm   *normalize.Normalizer
	bus    *events.Bus
	logger *slog.Logger
	now    func() time.Time
	opts   Options

	mu                sync.Mutex
	messages          []models.Message
	input             string
	image             string
	selectedModel     string
	isLoading         bool
	isGeneratingImage bool
	errFlag           bool
	prevError         bool
	flashUntil        time.Time
	recoveredUntil    time.Time
	lastIDMillis      int64
	session           int
	cancel            context.CancelFunc
}

// New creates a Controller holding a fresh conversation.
func New(deps Deps, opts Options) *Controller {
	def := DefaultOptions()
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = def.SystemPrompt
	}
	if opts.FlashDuration == 0 {
		opts.FlashDuration = def.FlashDuration
	}
	if opts.RecoveredDuration == 0 {
		opts.RecoveredDuration = def.RecoveredDuration
	}
	if opts.ImagePolicy.InitialDelay == 0 && opts.ImagePolicy.MaxRetries == 0 {
		opts.ImagePolicy = def.ImagePolicy
	}

	c := &Controller{
		api:    deps.API,
		router: deps.Router,
		norm:   deps.Normalizer,
		bus:    deps.Bus,
		logger: deps.Logger,
		now:    deps.Clock,
		opts:   opts,
	}
	if c.router == nil {
		c.router = router.New(nil, deps.Logger)
	}
	if c.norm == nil {
		c.norm = normalize.New()
	}
	if c.bus == nil {
		c.bus = events.NewBus()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.messages = []models.Message{models.SystemMessage(opts.SystemPrompt)}
	return c
}

// Bus returns the session bus the controller publishes on.
func (c *Controller) Bus() *events.Bus {
	return c.bus
}

// Messages returns a copy of the message list.
func (c *Controller) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() []models.Message {
	return append([]models.Message(nil), c.messages...)
}

// SetInput replaces the composer buffer.
func (c *Controller) SetInput(s string) {
	c.mu.Lock()
	c.input = s
	c.mu.Unlock()
	events.Publish(c.bus, TopicInput, router.DetectOperationType(s))
}

// Input returns the composer buffer.
func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// AttachImage sets the image sent with the next submission.
func (c *Controller) AttachImage(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.image = url
}

// Attachment returns the attached image URL, if any.
func (c *Controller) Attachment() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.image
}

// ClearAttachment drops the attached image.
func (c *Controller) ClearAttachment() {
	c.AttachImage("")
}

// SelectModel pins a model id. An empty id returns to automatic routing.
func (c *Controller) SelectModel(id string) {
	c.mu.Lock()
	c.selectedModel = id
	c.mu.Unlock()
	events.Publish(c.bus, TopicModel, id)
}

// SelectedModel returns the pinned model id, or "" for automatic routing.
func (c *Controller) SelectedModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedModel
}

// Busy reports whether a request is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isLoading || c.isGeneratingImage
}

// Status derives the status LED from the current flags and clock.
func (c *Controller) Status() models.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked(c.now())
}

func (c *Controller) statusLocked(now time.Time) models.Status {
	switch {
	case c.errFlag:
		return models.StatusError
	case now.Before(c.flashUntil):
		return models.StatusNewMessage
	case c.isGeneratingImage:
		return models.StatusAwaitingImage
	case c.isLoading:
		return models.StatusAwaitingText
	case now.Before(c.recoveredUntil):
		return models.StatusRecovered
	}
	return models.StatusIdle
}

// NewChat resets the conversation to its system message and clears every
// flag. An in-flight request is cancelled and its result discarded.
func (c *Controller) NewChat() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.session++
	c.messages = []models.Message{models.SystemMessage(c.opts.SystemPrompt)}
	c.input = ""
	c.image = ""
	c.isLoading = false
	c.isGeneratingImage = false
	c.errFlag = false
	c.prevError = false
	c.flashUntil = time.Time{}
	c.recoveredUntil = time.Time{}
	c.mu.Unlock()

	events.Publish(c.bus, TopicNewChat, struct{}{})
	c.publishState()
}

// Cancel aborts the in-flight request, if any. The abort is not retried.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

type intent int

const (
	intentChat intent = iota
	intentVision
	intentImage
)

type exchange struct {
	intent  intent
	input   string
	text    string
	prompt  string
	image   string
	session int
	// placeholderID is set for image requests
	placeholderID string
}

// Submit sends the composer content. It returns errors.ErrEmptyInput or
// errors.ErrBusy without side effects, a *errors.ValidationError for an
// image command without prompt, and otherwise the error of the exchange
// after its outcome has been applied to the conversation.
func (c *Controller) Submit(ctx context.Context) error {
	ex, ctx, err := c.begin(ctx)
	if err != nil {
		return err
	}
	c.publishState()
	defer events.Publish(c.bus, TopicFocusComposer, struct{}{})

	switch ex.intent {
	case intentImage:
		return c.generateImage(ctx, ex)
	default:
		return c.sendChat(ctx, ex)
	}
}

func (c *Controller) begin(ctx context.Context) (exchange, context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	input := strings.TrimSpace(c.input)
	ex := exchange{input: input, image: c.image, session: c.session}

	if input == "" && ex.image == "" {
		return ex, ctx, apierrors.ErrEmptyInput
	}
	if c.isLoading || c.isGeneratingImage {
		return ex, ctx, apierrors.ErrBusy
	}

	if prompt, ok := router.ParseImageCommand(input); ok {
		if prompt == "" {
			return ex, ctx, apierrors.NewValidationError("prompt", "please enter a description after the command, e.g. /imagine a red fox")
		}
		ex.intent = intentImage
		ex.prompt = prompt
	} else if ex.image != "" {
		ex.intent = intentVision
		ex.text = input
		if ex.text == "" {
			ex.text = models.DefaultVisionText
		}
	} else {
		ex.intent = intentChat
		ex.text = input
	}

	now := c.now()
	c.errFlag = false
	c.flashUntil = time.Time{}
	c.recoveredUntil = time.Time{}

	switch ex.intent {
	case intentImage:
		c.messages = append(c.messages, c.newMessageLocked(models.RoleUser, input, now))
		placeholder := c.newMessageLocked(models.RoleAssistant, GeneratingText, now)
		placeholder.IsGenerating = true
		ex.placeholderID = placeholder.ID
		c.messages = append(c.messages, placeholder)
		c.isGeneratingImage = true
	case intentVision:
		content := fmt.Sprintf("%s\n\n![attached image](%s)", ex.text, ex.image)
		c.messages = append(c.messages, c.newMessageLocked(models.RoleUser, content, now))
		c.isLoading = true
	default:
		c.messages = append(c.messages, c.newMessageLocked(models.RoleUser, input, now))
		c.isLoading = true
	}
	c.input = ""
	c.image = ""

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	return ex, ctx, nil
}

// newMessageLocked builds a message whose id is unique within the session
// even when two messages are created in the same millisecond.
func (c *Controller) newMessageLocked(role models.Role, content string, now time.Time) models.Message {
	ms := now.UnixMilli()
	if ms <= c.lastIDMillis {
		ms = c.lastIDMillis + 1
	}
	c.lastIDMillis = ms
	msg := models.NewMessage(role, content, now)
	msg.ID = fmt.Sprintf("%s-%d", role, ms)
	return msg
}

// settle clears the in-flight flags of ex. Results of a session that was
// reset meanwhile are dropped.
func (c *Controller) settle(ex exchange) {
	c.mu.Lock()
	if ex.session != c.session {
		c.mu.Unlock()
		return
	}
	c.isLoading = false
	c.isGeneratingImage = false
	for i := range c.messages {
		c.messages[i].IsGenerating = false
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	c.publishState()
}

func (c *Controller) succeedLocked() {
	now := c.now()
	c.errFlag = false
	c.flashUntil = now.Add(c.opts.FlashDuration)
	if c.prevError {
		c.recoveredUntil = c.flashUntil.Add(c.opts.RecoveredDuration)
		c.prevError = false
	}
}

func (c *Controller) failLocked(err error) {
	if apierrors.IsAborted(err) {
		return
	}
	c.errFlag = true
	c.prevError = true
}

func (c *Controller) sendChat(ctx context.Context, ex exchange) (err error) {
	defer c.settle(ex)

	model := c.modelFor(ctx, ex.input)
	history := c.history(ex)

	var raw []byte
	if ex.intent == intentVision {
		raw, err = c.api.Vision(ctx, models.VisionRequest{Model: model, Messages: history})
	} else {
		raw, err = c.api.Chat(ctx, models.ChatRequest{Model: model, Messages: history})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ex.session != c.session {
		return err
	}

	if err != nil {
		c.logger.Error("chat request failed", "model", model, "error", err)
		c.failLocked(err)
		switch {
		case apierrors.IsConfigurationError(err):
			c.messages = append(c.messages, c.newMessageLocked(models.RoleAssistant, models.ServiceUnavailable, c.now()))
		case c.opts.AppendErrorMessages && !apierrors.IsAborted(err):
			c.messages = append(c.messages, c.newMessageLocked(models.RoleAssistant, "Error: "+describe(err), c.now()))
		}
		return err
	}

	result := c.norm.Chat(raw)
	c.messages = append(c.messages, models.Message{
		ID:        result.ID,
		Role:      models.RoleAssistant,
		Content:   result.Content,
		CreatedAt: result.CreatedAt,
	})
	c.succeedLocked()
	return nil
}

func (c *Controller) generateImage(ctx context.Context, ex exchange) (err error) {
	defer c.settle(ex)

	_, model := c.router.ResolveInput(ctx, ex.input)
	if pinned := c.SelectedModel(); pinned != "" {
		model = pinned
	}

	policy := c.opts.ImagePolicy
	policy.ShouldRetryResponse = fetch.RetryOnServerError
	policy.ShouldRetryOnError = fetch.RetryOnTransportError
	policy.OnRetry = func(attempt int, delay time.Duration, rerr error) {
		c.logger.Warn("image generation retry", "attempt", attempt, "max", policy.MaxRetries, "delay", delay, "error", rerr)
		c.updatePlaceholder(ex, fmt.Sprintf("%s (retry %d/%d)", GeneratingText, attempt, policy.MaxRetries))
	}

	raw, err := c.api.GenerateImage(ctx, models.ImageRequest{Prompt: ex.prompt, Model: model}, policy)
	var result models.ImageResult
	if err == nil {
		result, err = c.norm.Image(raw, ex.prompt)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ex.session != c.session {
		return err
	}

	var content string
	if err != nil {
		c.logger.Error("image generation failed", "prompt", ex.prompt, "error", err)
		c.failLocked(err)
		content = fmt.Sprintf("Sorry, I couldn't generate an image for \"%s\": %s", ex.prompt, describe(err))
	} else {
		if result.Mock {
			c.logger.Warn("upstream returned a mock image, showing placeholder", "url", result.FallbackURL)
		}
		content = result.Markdown()
		if result.RevisedPrompt != ex.prompt {
			content += fmt.Sprintf("\n\n_Prompt: %s_", ex.prompt)
		}
		c.succeedLocked()
	}

	for i := range c.messages {
		if c.messages[i].ID == ex.placeholderID {
			c.messages[i].Content = content
			c.messages[i].IsGenerating = false
		}
	}
	return err
}

func (c *Controller) updatePlaceholder(ex exchange, content string) {
	c.mu.Lock()
	if ex.session != c.session {
		c.mu.Unlock()
		return
	}
	for i := range c.messages {
		if c.messages[i].ID == ex.placeholderID {
			c.messages[i].Content = content
		}
	}
	c.mu.Unlock()
	c.publishState()
}

func (c *Controller) modelFor(ctx context.Context, input string) string {
	if pinned := c.SelectedModel(); pinned != "" {
		return pinned
	}
	_, model := c.router.ResolveInput(ctx, input)
	return model
}

// history builds the upstream message list: the system message first, no
// image placeholders, and for vision turns the last user message as
// text plus image parts.
func (c *Controller) history(ex exchange) []models.WireMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := []models.WireMessage{{Role: models.RoleSystem, Content: c.opts.SystemPrompt}}
	for _, m := range c.messages {
		if m.Role == models.RoleSystem || m.IsGenerating {
			continue
		}
		out = append(out, models.WireMessage{Role: m.Role, Content: m.Content})
	}

	if ex.intent == intentVision && len(out) > 1 {
		out[len(out)-1].Content = []models.ContentPart{
			{Type: "text", Text: ex.text},
			{Type: "image_url", ImageURL: &models.ImageRef{URL: ex.image}},
		}
	}
	return out
}

func (c *Controller) publishState() {
	c.mu.Lock()
	msgs := c.snapshotLocked()
	status := c.statusLocked(c.now())
	c.mu.Unlock()

	events.Publish(c.bus, TopicMessages, msgs)
	events.Publish(c.bus, TopicStatus, status)
}

// describe turns an exchange error into text safe to show in a bubble.
func describe(err error) string {
	switch {
	case apierrors.IsConfigurationError(err):
		return models.ServiceUnavailable
	case apierrors.IsAborted(err):
		return "the request was cancelled."
	case apierrors.IsTimeoutError(err):
		return "the request timed out."
	case apierrors.IsTransportError(err):
		return "the service could not be reached."
	case errors.Is(err, apierrors.ErrNoImageURL):
		return "the response did not contain an image."
	}
	if status := apierrors.GetHTTPStatus(err); status > 0 {
		return fmt.Sprintf("the service returned an error (status %d).", status)
	}
	return "an unexpected error occurred."
}
