package models

// OperationType classifies what a request asks the backend to do.
type OperationType string

const (
	OpTextToText   OperationType = "text-to-text"
	OpTextToImage  OperationType = "text-to-image"
	OpInpainting   OperationType = "inpainting"
	OpImageToImage OperationType = "image-to-image"
	OpOther        OperationType = "other"
)

// AllOperationTypes lists the operation types in display order.
func AllOperationTypes() []OperationType {
	return []OperationType{OpTextToText, OpTextToImage, OpInpainting, OpImageToImage, OpOther}
}

// ModelInfo describes one backend model.
type ModelInfo struct {
	ID   string        `json:"id"`
	Name string        `json:"name"`
	Type OperationType `json:"type,omitempty"`
}

// ModelCatalog is the session's view of the available models.
type ModelCatalog struct {
	Models     []ModelInfo              `json:"data"`
	BestByType map[OperationType]string `json:"bestModels,omitempty"`
}

// DefaultModelFor returns the built-in model id for an operation type.
func DefaultModelFor(op OperationType) string {
	switch op {
	case OpTextToImage, OpInpainting, OpImageToImage:
		return ModelImageDefault
	default:
		return ModelTextDefault
	}
}

// DefaultCatalog is used whenever the models endpoint cannot be reached.
func DefaultCatalog() ModelCatalog {
	return ModelCatalog{
		Models: []ModelInfo{
			{ID: ModelTextDefault, Name: ShortName(ModelTextDefault), Type: OpTextToText},
			{ID: "@cf/meta/llama-3-70b-instruct", Name: ShortName("@cf/meta/llama-3-70b-instruct"), Type: OpTextToText},
			{ID: "@cf/google/gemma-3b-it", Name: ShortName("@cf/google/gemma-3b-it"), Type: OpTextToText},
			{ID: "@cf/mistral/mistral-7b-instruct-v0.2", Name: ShortName("@cf/mistral/mistral-7b-instruct-v0.2"), Type: OpTextToText},
			{ID: ModelImageDefault, Name: ShortName(ModelImageDefault), Type: OpTextToImage},
			{ID: "@cf/stabilityai/stable-diffusion-inpainting", Name: ShortName("@cf/stabilityai/stable-diffusion-inpainting"), Type: OpInpainting},
			{ID: "@cf/stabilityai/stable-diffusion-img2img", Name: ShortName("@cf/stabilityai/stable-diffusion-img2img"), Type: OpImageToImage},
		},
		BestByType: map[OperationType]string{
			OpTextToText:   ModelTextDefault,
			OpTextToImage:  ModelImageDefault,
			OpInpainting:   ModelImageDefault,
			OpImageToImage: ModelImageDefault,
		},
	}
}

// Find returns the model with the given id.
func (c ModelCatalog) Find(id string) (ModelInfo, bool) {
	for _, m := range c.Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}
