// Package router maps user input to an operation type and a backend model.
package router

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/tidwall/gjson"

	apierrors "github.com/diogo/kiki/internal/errors"
	"github.com/diogo/kiki/internal/models"
)

// ImageCommands are the prefixes that turn a message into an image request.
var ImageCommands = []string{"/imagine", "/img"}

var (
	inpaintingHints   = []string{"inpaint", "mask"}
	imageToImageHints = []string{"style", "transform image"}
)

// ParseImageCommand reports whether input starts with an image command and
// returns the trimmed prompt that follows it. The command is matched
// case-insensitively and must be followed by whitespace or end of input, so
// "/imaginary" is not a command.
func ParseImageCommand(input string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	for _, cmd := range ImageCommands {
		if len(trimmed) < len(cmd) || !strings.EqualFold(trimmed[:len(cmd)], cmd) {
			continue
		}
		rest := trimmed[len(cmd):]
		if rest != "" && !unicode.IsSpace(rune(rest[0])) {
			continue
		}
		return strings.TrimSpace(rest), true
	}
	return "", false
}

// DetectOperationType classifies input by plain substring heuristics.
func DetectOperationType(input string) models.OperationType {
	if _, ok := ParseImageCommand(input); ok {
		return models.OpTextToImage
	}
	lower := strings.ToLower(input)
	switch {
	case containsAny(lower, inpaintingHints):
		return models.OpInpainting
	case containsAny(lower, imageToImageHints):
		return models.OpImageToImage
	}
	return models.OpTextToText
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Resolve picks the model for op: the catalog's best model, then the first
// catalog entry of that type, then the built-in default.
func Resolve(op models.OperationType, catalog models.ModelCatalog) string {
	if id := catalog.BestByType[op]; id != "" {
		return id
	}
	for _, m := range catalog.Models {
		if m.Type == op {
			return m.ID
		}
	}
	return models.DefaultModelFor(op)
}

// CatalogSource returns the raw models payload.
type CatalogSource interface {
	Models(ctx context.Context) ([]byte, error)
}

// Router caches the model catalog for a session.
type Router struct {
	source CatalogSource
	logger *slog.Logger

	mu      sync.Mutex
	catalog *models.ModelCatalog
}

// New creates a Router. A nil source always yields the default catalog.
func New(source CatalogSource, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{source: source, logger: logger}
}

// Catalog fetches the catalog on first use and caches it. Any failure falls
// back to models.DefaultCatalog and is only logged.
func (r *Router) Catalog(ctx context.Context) models.ModelCatalog {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.catalog != nil {
		return *r.catalog
	}

	catalog := models.DefaultCatalog()
	if r.source != nil {
		raw, err := r.source.Models(ctx)
		if err == nil {
			catalog, err = ParseCatalog(raw)
		}
		if err != nil {
			r.logger.Warn("model catalog unavailable, using defaults", "error", err)
			catalog = models.DefaultCatalog()
		}
	}
	r.catalog = &catalog
	return catalog
}

// ResolveInput detects the operation type of input and resolves its model.
func (r *Router) ResolveInput(ctx context.Context, input string) (models.OperationType, string) {
	op := DetectOperationType(input)
	return op, Resolve(op, r.Catalog(ctx))
}

// ParseCatalog reads {data|models:[{id,name,type?}], bestModels?}. Entries
// without a type get one inferred from the id; best models missing from the
// payload are filled from the defaults.
func ParseCatalog(raw []byte) (models.ModelCatalog, error) {
	if !gjson.ValidBytes(raw) {
		return models.ModelCatalog{}, apierrors.NewParseError("models payload is not JSON", "")
	}
	root := gjson.ParseBytes(raw)
	if msg := root.Get("error.message"); msg.Exists() && len(root.Get("data").Array()) == 0 {
		return models.ModelCatalog{}, apierrors.NewAPIError(0, models.PathModels, msg.String())
	}

	list := root.Get("data")
	if !list.IsArray() {
		list = root.Get("models")
	}

	var catalog models.ModelCatalog
	list.ForEach(func(_, m gjson.Result) bool {
		id := m.Get("id").String()
		if id == "" {
			return true
		}
		info := models.ModelInfo{
			ID:   id,
			Name: m.Get("name").String(),
			Type: models.OperationType(m.Get("type").String()),
		}
		if info.Name == "" {
			info.Name = models.ShortName(id)
		}
		if info.Type == "" {
			info.Type = InferType(id)
		}
		catalog.Models = append(catalog.Models, info)
		return true
	})

	defaults := models.DefaultCatalog().BestByType
	catalog.BestByType = make(map[models.OperationType]string, len(defaults))
	root.Get("bestModels").ForEach(func(k, v gjson.Result) bool {
		if v.String() != "" {
			catalog.BestByType[models.OperationType(k.String())] = v.String()
		}
		return true
	})

	if len(catalog.Models) == 0 {
		if len(catalog.BestByType) == 0 {
			return models.ModelCatalog{}, apierrors.NewParseError("models payload lists no models", "data")
		}
		for _, op := range models.AllOperationTypes() {
			if id := catalog.BestByType[op]; id != "" {
				catalog.Models = append(catalog.Models, models.ModelInfo{ID: id, Name: models.ShortName(id), Type: op})
			}
		}
	}

	for op, id := range defaults {
		if _, ok := catalog.BestByType[op]; !ok && !hasType(catalog.Models, op) {
			catalog.BestByType[op] = id
		}
	}
	return catalog, nil
}

func hasType(list []models.ModelInfo, op models.OperationType) bool {
	for _, m := range list {
		if m.Type == op {
			return true
		}
	}
	return false
}

// InferType guesses the operation type of a model from its id.
func InferType(id string) models.OperationType {
	lower := strings.ToLower(id)
	switch {
	case strings.Contains(lower, "inpaint"):
		return models.OpInpainting
	case strings.Contains(lower, "img2img"), strings.Contains(lower, "image-to-image"):
		return models.OpImageToImage
	case strings.Contains(lower, "diffusion"), strings.Contains(lower, "dall-e"), strings.Contains(lower, "flux"):
		return models.OpTextToImage
	case strings.Contains(lower, "whisper"), strings.Contains(lower, "embed"), strings.Contains(lower, "tts"):
		return models.OpOther
	}
	return models.OpTextToText
}
