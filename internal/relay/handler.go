// Package relay is the HTTP server that forwards chat, vision and image
// requests to the upstream inference API, adding auth.
package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/tidwall/gjson"

	apierrors "github.com/diogo/kiki/internal/errors"
	"github.com/diogo/kiki/internal/logger"
	"github.com/diogo/kiki/internal/models"
	"github.com/diogo/kiki/internal/normalize"
)

// MaxUploadSize bounds /api/image/upload files.
const MaxUploadSize = models.MaxImageSize

// Options configures a Handler.
type Options struct {
	// KeyConfigured reports whether an upstream API key is set.
	KeyConfigured bool
	// MockData serves placeholder data instead of failing when no key is set.
	MockData     bool
	DefaultModel string
	ImageModel   string
	// ImageRetries is the upstream retry budget for image generation.
	ImageRetries int
}

// DefaultOptions returns the model defaults and three image retries.
func DefaultOptions() Options {
	return Options{
		DefaultModel: models.ModelTextDefault,
		ImageModel:   models.ModelImageDefault,
		ImageRetries: 3,
	}
}

// Handler serves the relay endpoints.
type Handler struct {
	upstream Upstream
	opts     Options
	norm     *normalize.Normalizer
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler creates a Handler. URLs are extracted without mock substitution
// or CDN rewriting; that is left to the client.
func NewHandler(upstream Upstream, opts Options, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if opts.DefaultModel == "" {
		opts.DefaultModel = models.ModelTextDefault
	}
	if opts.ImageModel == "" {
		opts.ImageModel = models.ModelImageDefault
	}
	return &Handler{
		upstream: upstream,
		opts:     opts,
		norm:     normalize.New(normalize.WithMockDetector(nil), normalize.WithRewriteRules(nil)),
		logger:   log,
		now:      time.Now,
	}
}

func (h *Handler) requireKey() error {
	if !h.opts.KeyConfigured {
		return apierrors.NewConfigurationError(apierrors.ErrAPIKeyMissing.Error())
	}
	return nil
}

func (h *Handler) log(ctx context.Context) *slog.Logger {
	if l := logger.FromContext(ctx); l != slog.Default() {
		return l
	}
	return h.logger
}

type chatBody struct {
	Model    string          `json:"model"`
	Messages json.RawMessage `json:"messages"`
}

type upstreamChat struct {
	Model     string          `json:"model"`
	Messages  json.RawMessage `json:"messages"`
	Stream    bool            `json:"stream"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

func decodeMessages(c *app.RequestContext) (chatBody, bool) {
	var body chatBody
	raw := c.Request.Body()
	if !gjson.ValidBytes(raw) {
		badRequest(c, "Request body must be JSON")
		return body, false
	}
	if !gjson.GetBytes(raw, "messages").IsArray() {
		badRequest(c, "Messages array is required and must be an array")
		return body, false
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		badRequest(c, "Request body must be JSON")
		return body, false
	}
	return body, true
}

// Chat forwards a non-streaming chat completion and answers the simplified
// {id, role, content, createdAt} shape.
func (h *Handler) Chat(ctx context.Context, c *app.RequestContext) {
	body, ok := decodeMessages(c)
	if !ok {
		return
	}
	if err := h.requireKey(); err != nil {
		h.log(ctx).Error("chat rejected", "error", err)
		writeError(c, err)
		return
	}
	if body.Model == "" {
		body.Model = h.opts.DefaultModel
	}

	raw, err := h.upstream.Post(ctx, models.UpstreamChat, upstreamChat{
		Model:    body.Model,
		Messages: body.Messages,
		Stream:   false,
	})
	if err != nil {
		h.log(ctx).Error("chat upstream failed", "model", body.Model, "error", err)
		writeError(c, err)
		return
	}

	c.JSON(consts.StatusOK, h.norm.Chat(raw))
}

// Vision forwards a multimodal chat completion and passes the upstream
// payload through.
func (h *Handler) Vision(ctx context.Context, c *app.RequestContext) {
	body, ok := decodeMessages(c)
	if !ok {
		return
	}
	if err := h.requireKey(); err != nil {
		writeError(c, err)
		return
	}
	if body.Model == "" {
		body.Model = h.opts.DefaultModel
	}

	raw, err := h.upstream.Post(ctx, models.UpstreamVision, upstreamChat{
		Model:     body.Model,
		Messages:  body.Messages,
		MaxTokens: models.VisionMaxTokens,
	})
	if err != nil {
		h.log(ctx).Error("vision upstream failed", "model", body.Model, "error", err)
		writeError(c, err)
		return
	}
	c.Data(consts.StatusOK, consts.MIMEApplicationJSONUTF8, raw)
}

type imageBody struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
	Image  string `json:"image"`
}

type upstreamImage struct {
	Model          string `json:"model,omitempty"`
	Prompt         string `json:"prompt,omitempty"`
	Image          string `json:"image,omitempty"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

// ImageData is one generated image.
type ImageData struct {
	URL           string `json:"url"`
	RevisedPrompt string `json:"revised_prompt"`
}

// ImageResponse is the /api/image/generate answer.
type ImageResponse struct {
	Created int64       `json:"created"`
	Data    []ImageData `json:"data"`
}

func decodeImage(c *app.RequestContext) (imageBody, bool) {
	var body imageBody
	if err := json.Unmarshal(c.Request.Body(), &body); err != nil {
		badRequest(c, "Request body must be JSON")
		return body, false
	}
	return body, true
}

// GenerateImage generates one image for a prompt, retrying the upstream. In
// mock-data mode it answers a placeholder without calling upstream.
func (h *Handler) GenerateImage(ctx context.Context, c *app.RequestContext) {
	body, ok := decodeImage(c)
	if !ok {
		return
	}
	if strings.TrimSpace(body.Prompt) == "" {
		badRequest(c, "Prompt is required")
		return
	}

	respond := func(url string) {
		c.JSON(consts.StatusOK, ImageResponse{
			Created: h.now().UnixMilli(),
			Data:    []ImageData{{URL: url, RevisedPrompt: body.Prompt}},
		})
	}

	if h.opts.MockData && !h.opts.KeyConfigured {
		h.log(ctx).Info("no API key, answering placeholder image")
		respond(normalize.Placeholder(body.Prompt))
		return
	}
	if err := h.requireKey(); err != nil {
		writeError(c, err)
		return
	}

	req := upstreamImage{
		Model:          body.Model,
		Prompt:         body.Prompt,
		N:              models.ImageCount,
		Size:           models.ImageSize,
		ResponseFormat: "url",
	}
	raw, err := h.upstream.Post(ctx, models.UpstreamImageGeneration, req, WithRetries(h.opts.ImageRetries))
	if err != nil {
		h.log(ctx).Error("image generation failed", "error", err)
		writeError(c, err)
		return
	}

	result, err := h.norm.Image(raw, body.Prompt)
	if err != nil {
		h.log(ctx).Error("image response without url", "body", truncate(string(raw), 256))
		writeError(c, apierrors.NewAPIError(consts.StatusBadGateway, models.UpstreamImageGeneration, "No image URL in response"))
		return
	}
	respond(result.URL)
}

// Image generates an image, or a variation of body.Image when given, and
// passes the upstream payload through.
func (h *Handler) Image(ctx context.Context, c *app.RequestContext) {
	body, ok := decodeImage(c)
	if !ok {
		return
	}
	if strings.TrimSpace(body.Prompt) == "" && body.Image == "" {
		badRequest(c, "Prompt or image is required")
		return
	}
	if err := h.requireKey(); err != nil {
		writeError(c, err)
		return
	}

	path := models.UpstreamImageGeneration
	if body.Image != "" {
		path = models.UpstreamImageVariation
	}
	model := body.Model
	if model == "" {
		model = h.opts.ImageModel
	}

	raw, err := h.upstream.Post(ctx, path, upstreamImage{
		Model:          model,
		Prompt:         body.Prompt,
		Image:          body.Image,
		N:              models.ImageCount,
		Size:           models.ImageVariationSize,
		ResponseFormat: "url",
	})
	if err != nil {
		h.log(ctx).Error("image upstream failed", "path", path, "error", err)
		writeError(c, err)
		return
	}
	c.Data(consts.StatusOK, consts.MIMEApplicationJSONUTF8, raw)
}

// ModelEntry is one model in the /api/models list.
type ModelEntry struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Type       string   `json:"type,omitempty"`
	Created    int64    `json:"created"`
	OwnedBy    string   `json:"owned_by"`
	Permission []string `json:"permission"`
	Root       string   `json:"root"`
	Parent     *string  `json:"parent"`
}

// ModelList is the /api/models answer.
type ModelList struct {
	Object     string            `json:"object"`
	Data       []ModelEntry      `json:"data"`
	BestModels map[string]string `json:"bestModels,omitempty"`
}

// Models lists upstream models in the OpenAI list shape. Failures keep an
// empty data array next to the error so clients can fall back.
func (h *Handler) Models(ctx context.Context, c *app.RequestContext) {
	fail := func(err error) {
		status, body := envelope(err)
		c.JSON(status, utils.H{"data": []ModelEntry{}, "error": body.Error})
	}

	if h.opts.MockData && !h.opts.KeyConfigured {
		c.JSON(consts.StatusOK, h.catalogList(models.DefaultCatalog()))
		return
	}
	if err := h.requireKey(); err != nil {
		fail(err)
		return
	}

	raw, err := h.upstream.Get(ctx, models.UpstreamModels)
	if err != nil {
		h.log(ctx).Error("models upstream failed", "error", err)
		fail(err)
		return
	}
	if !gjson.ValidBytes(raw) {
		fail(apierrors.NewAPIError(consts.StatusBadGateway, models.UpstreamModels, "Invalid models response"))
		return
	}
	c.JSON(consts.StatusOK, h.transformModels(gjson.ParseBytes(raw)))
}

func (h *Handler) transformModels(root gjson.Result) ModelList {
	list := root.Get("models")
	if !list.IsArray() {
		list = root.Get("data")
	}

	created := h.now().UnixMilli()
	out := ModelList{Object: "list", Data: []ModelEntry{}}
	list.ForEach(func(_, m gjson.Result) bool {
		id := m.Get("id").String()
		if id == "" {
			return true
		}
		out.Data = append(out.Data, ModelEntry{
			ID:         id,
			Name:       firstNonEmpty(m.Get("name").String(), id),
			Type:       m.Get("type").String(),
			Created:    created,
			OwnedBy:    firstNonEmpty(m.Get("provider").String(), m.Get("owned_by").String(), "redbuilder"),
			Permission: []string{},
			Root:       id,
		})
		return true
	})

	if best := root.Get("bestModels"); best.IsObject() {
		out.BestModels = map[string]string{}
		best.ForEach(func(k, v gjson.Result) bool {
			out.BestModels[k.String()] = v.String()
			return true
		})
	}
	return out
}

func (h *Handler) catalogList(catalog models.ModelCatalog) ModelList {
	created := h.now().UnixMilli()
	out := ModelList{Object: "list", Data: make([]ModelEntry, 0, len(catalog.Models))}
	for _, m := range catalog.Models {
		out.Data = append(out.Data, ModelEntry{
			ID:         m.ID,
			Name:       firstNonEmpty(m.Name, m.ID),
			Type:       string(m.Type),
			Created:    created,
			OwnedBy:    "redbuilder",
			Permission: []string{},
			Root:       m.ID,
		})
	}
	if len(catalog.BestByType) > 0 {
		out.BestModels = map[string]string{}
		for op, id := range catalog.BestByType {
			out.BestModels[string(op)] = id
		}
	}
	return out
}

// UploadResponse is the /api/image/upload answer.
type UploadResponse struct {
	Success bool        `json:"success"`
	URL     string      `json:"url"`
	Data    []ImageData `json:"data"`
}

// Upload turns a multipart image into a data URL.
func (h *Handler) Upload(ctx context.Context, c *app.RequestContext) {
	if !strings.Contains(string(c.ContentType()), "multipart/form-data") {
		badRequest(c, "Request must be multipart/form-data")
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "No file provided")
		return
	}
	mimeType := fh.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		badRequest(c, "File must be an image")
		return
	}
	if fh.Size > MaxUploadSize {
		badRequest(c, fmt.Sprintf("File exceeds %d bytes", MaxUploadSize))
		return
	}

	f, err := fh.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxUploadSize+1))
	if err != nil {
		writeError(c, err)
		return
	}

	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	h.log(ctx).Debug("image uploaded", "file", fh.Filename, "bytes", len(data))
	c.JSON(consts.StatusOK, UploadResponse{
		Success: true,
		URL:     dataURL,
		Data:    []ImageData{{URL: dataURL}},
	})
}

// Health reports liveness and whether the relay can reach upstream with a key.
func (h *Handler) Health(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{
		"status":         "ok",
		"key_configured": h.opts.KeyConfigured,
		"mock_data":      h.opts.MockData && !h.opts.KeyConfigured,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
