package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/diogo/kiki/internal/models"
)

func TestParseImageCommand(t *testing.T) {
	tests := []struct {
		input      string
		wantPrompt string
		wantOK     bool
	}{
		{"/imagine a red fox", "a red fox", true},
		{"/IMAGINE   a red fox  ", "a red fox", true},
		{"/img cat", "cat", true},
		{"  /Img\tcat", "cat", true},
		{"/imagine", "", true},
		{"/img   ", "", true},
		{"/imaginary friend", "", false},
		{"/images", "", false},
		{"imagine a fox", "", false},
		{"please /imagine a fox", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			prompt, ok := ParseImageCommand(tt.input)
			if ok != tt.wantOK || prompt != tt.wantPrompt {
				t.Errorf("ParseImageCommand(%q) = %q, %v; want %q, %v", tt.input, prompt, ok, tt.wantPrompt, tt.wantOK)
			}
		})
	}
}

func TestDetectOperationType(t *testing.T) {
	tests := []struct {
		input string
		want  models.OperationType
	}{
		{"/imagine a castle", models.OpTextToImage},
		{"/img a castle", models.OpTextToImage},
		{"inpaint the sky", models.OpInpainting},
		{"apply this MASK", models.OpInpainting},
		{"in the style of monet", models.OpImageToImage},
		{"transform image to sketch", models.OpImageToImage},
		{"hello there", models.OpTextToText},
		{"", models.OpTextToText},
	}

	for _, tt := range tests {
		if got := DetectOperationType(tt.input); got != tt.want {
			t.Errorf("DetectOperationType(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	catalog := models.ModelCatalog{
		Models: []models.ModelInfo{
			{ID: "text-a", Type: models.OpTextToText},
			{ID: "img-a", Type: models.OpTextToImage},
			{ID: "img-b", Type: models.OpTextToImage},
		},
		BestByType: map[models.OperationType]string{
			models.OpTextToImage: "img-b",
		},
	}

	tests := []struct {
		name string
		op   models.OperationType
		want string
	}{
		{"best by type", models.OpTextToImage, "img-b"},
		{"first of type", models.OpTextToText, "text-a"},
		{"built-in default", models.OpInpainting, models.ModelImageDefault},
		{"other falls back to text default", models.OpOther, models.ModelTextDefault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.op, catalog); got != tt.want {
				t.Errorf("Resolve(%s) = %s, want %s", tt.op, got, tt.want)
			}
		})
	}

	if got := Resolve(models.OpTextToText, models.ModelCatalog{}); got != models.ModelTextDefault {
		t.Errorf("Resolve() on empty catalog = %s", got)
	}
}

type fakeSource struct {
	raw   []byte
	err   error
	calls int
}

func (f *fakeSource) Models(ctx context.Context) ([]byte, error) {
	f.calls++
	return f.raw, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRouterCachesCatalog(t *testing.T) {
	src := &fakeSource{raw: []byte(`{"object":"list","data":[{"id":"m1","name":"M1","type":"text-to-text"}]}`)}
	r := New(src, quietLogger())

	for i := 0; i < 3; i++ {
		cat := r.Catalog(context.Background())
		if len(cat.Models) != 1 || cat.Models[0].ID != "m1" {
			t.Fatalf("Catalog() = %+v", cat)
		}
	}
	if src.calls != 1 {
		t.Errorf("source called %d times, want 1", src.calls)
	}

	op, model := r.ResolveInput(context.Background(), "tell me a joke")
	if op != models.OpTextToText || model != "m1" {
		t.Errorf("ResolveInput() = %s, %s", op, model)
	}
}

func TestRouterFallsBackSilently(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSource
	}{
		{"transport failure", &fakeSource{err: errors.New("connection refused")}},
		{"malformed payload", &fakeSource{raw: []byte(`<html>`)}},
		{"error envelope", &fakeSource{raw: []byte(`{"data":[],"error":{"message":"API key not configured","type":"configuration_error"}}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.src, quietLogger())
			cat := r.Catalog(context.Background())
			if len(cat.Models) != len(models.DefaultCatalog().Models) {
				t.Errorf("Catalog() = %+v, want defaults", cat)
			}
			_, model := r.ResolveInput(context.Background(), "/imagine a fox")
			if model != models.ModelImageDefault {
				t.Errorf("model = %s, want %s", model, models.ModelImageDefault)
			}
		})
	}
}

func TestRouterNilSource(t *testing.T) {
	r := New(nil, nil)
	if got := r.Catalog(context.Background()); len(got.Models) == 0 {
		t.Error("expected default catalog")
	}
}

func TestParseCatalog(t *testing.T) {
	t.Run("infers types and names", func(t *testing.T) {
		cat, err := ParseCatalog([]byte(`{"data":[
			{"id":"@cf/meta/llama-3-8b-instruct"},
			{"id":"@cf/stabilityai/stable-diffusion-xl-base-1.0","name":"XL"},
			{"id":"@cf/stabilityai/stable-diffusion-inpainting"},
			{"id":""}
		]}`))
		if err != nil {
			t.Fatal(err)
		}
		if len(cat.Models) != 3 {
			t.Fatalf("len(Models) = %d, want 3", len(cat.Models))
		}
		if cat.Models[0].Type != models.OpTextToText || cat.Models[0].Name != "Llama 3.1" {
			t.Errorf("Models[0] = %+v", cat.Models[0])
		}
		if cat.Models[1].Type != models.OpTextToImage || cat.Models[1].Name != "XL" {
			t.Errorf("Models[1] = %+v", cat.Models[1])
		}
		if cat.Models[2].Type != models.OpInpainting {
			t.Errorf("Models[2] = %+v", cat.Models[2])
		}
		if got := Resolve(models.OpTextToText, cat); got != "@cf/meta/llama-3-8b-instruct" {
			t.Errorf("Resolve(text) = %s", got)
		}
	})

	t.Run("best models only", func(t *testing.T) {
		cat, err := ParseCatalog([]byte(`{"data":[],"bestModels":{"text-to-text":"t1","text-to-image":"i1"}}`))
		if err != nil {
			t.Fatal(err)
		}
		if len(cat.Models) != 2 {
			t.Errorf("Models = %+v, want synthesized from bestModels", cat.Models)
		}
		if cat.BestByType[models.OpTextToImage] != "i1" {
			t.Errorf("BestByType = %+v", cat.BestByType)
		}
		if got := Resolve(models.OpInpainting, cat); got != models.ModelImageDefault {
			t.Errorf("Resolve(inpainting) = %s", got)
		}
	})

	t.Run("models key", func(t *testing.T) {
		cat, err := ParseCatalog([]byte(`{"models":[{"id":"x","type":"other"}]}`))
		if err != nil || len(cat.Models) != 1 || cat.Models[0].Type != models.OpOther {
			t.Errorf("ParseCatalog() = %+v, %v", cat, err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if _, err := ParseCatalog([]byte(`{"data":[]}`)); err == nil {
			t.Error("expected error for empty catalog")
		}
	})
}

func TestInferType(t *testing.T) {
	tests := []struct {
		id   string
		want models.OperationType
	}{
		{"@cf/stabilityai/stable-diffusion-img2img", models.OpImageToImage},
		{"@cf/stabilityai/stable-diffusion-inpainting", models.OpInpainting},
		{"dall-e-3", models.OpTextToImage},
		{"@cf/openai/whisper", models.OpOther},
		{"gpt-4o", models.OpTextToText},
	}
	for _, tt := range tests {
		if got := InferType(tt.id); got != tt.want {
			t.Errorf("InferType(%s) = %s, want %s", tt.id, got, tt.want)
		}
	}
}
