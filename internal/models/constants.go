// Package models contains data types and constants shared by the relay and
// the conversation client.
package models

// Local relay endpoints
const (
	PathChat          = "/api/chat"
	PathImageGenerate = "/api/image/generate"
	PathImage         = "/api/image"
	PathModels        = "/api/models"
	PathVision        = "/api/vision"
	PathImageUpload   = "/api/image/upload"
	PathHealth        = "/health"
)

// Upstream (OpenAI-compatible) paths, relative to the upstream base URL.
const (
	UpstreamChat            = "v1/chat/completions"
	UpstreamImageGeneration = "v1/images/generations"
	UpstreamImageVariation  = "v1/images/variations"
	UpstreamModels          = "v1/models"
	UpstreamVision          = "v1/chat/completions/vision"
)

// Defaults
const (
	DefaultUpstreamURL = "https://api.redbuilder.io"
	DefaultRelayURL    = "http://localhost:3000"
	DefaultSystemID    = "system-0"
	DefaultSystemText  = "You are a helpful AI assistant."
	DefaultVisionText  = "What's in this image?"
	FallbackContent    = "Sorry, I encountered an error processing your request."
	ServiceUnavailable = "The service is currently unavailable. Please try again later."

	// Upstream image request parameters
	ImageSize          = "512x512"
	ImageVariationSize = "1024x1024"
	ImageCount         = 1
	VisionMaxTokens    = 1000

	// MaxImageSize bounds uploaded images on both sides of the relay.
	MaxImageSize = 10 << 20
)

// Default model ids per operation type
const (
	ModelTextDefault  = "@cf/meta/llama-4-scout-17b-16e-instruct"
	ModelImageDefault = "@cf/stabilityai/stable-diffusion-xl-base-1.0"
)

var shortNames = map[string]string{
	"@cf/meta/llama-4-scout-17b-16e-instruct":      "Llama 4",
	"@cf/meta/llama-3-70b-instruct":                "Llama 3.3",
	"@cf/meta/llama-3-8b-instruct":                 "Llama 3.1",
	"@cf/meta/llama-2-70b-chat-fp16":               "Llama 2",
	"@cf/google/gemma-3b-it":                       "Gemma 3",
	"@cf/mistral/mistral-7b-instruct-v0.2":         "Mistral",
	"@cf/qwq/qwen-72b-chat":                        "QwQ",
	"@cf/stabilityai/stable-diffusion-xl-base-1.0": "SD XL",
	"@cf/stabilityai/stable-diffusion-inpainting":  "SD Inpaint",
	"@cf/stabilityai/stable-diffusion-img2img":     "SD Img2Img",
}

// ShortName returns a display name for a model id, or the id itself.
func ShortName(id string) string {
	if name, ok := shortNames[id]; ok {
		return name
	}
	return id
}
