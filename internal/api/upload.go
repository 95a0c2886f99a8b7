package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	http "github.com/bogdanfinn/fhttp"

	"github.com/diogo/kiki/internal/fetch"
	"github.com/diogo/kiki/internal/models"
)

// MaxImageSize is the largest image the relay accepts.
const MaxImageSize = models.MaxImageSize

// SupportedImageTypes returns the list of supported MIME types for upload
func SupportedImageTypes() []string {
	return []string{
		"image/jpeg",
		"image/png",
		"image/gif",
		"image/webp",
	}
}

// UploadFile uploads an image file from disk to POST /api/image/upload and
// returns the raw response.
func (c *Client) UploadFile(ctx context.Context, filePath string) ([]byte, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if fileInfo.Size() > MaxImageSize {
		return nil, fmt.Errorf("file size exceeds maximum %d bytes", MaxImageSize)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filePath)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return c.UploadFromReader(ctx, bytes.NewReader(data), filepath.Base(filePath), mimeType)
}

// UploadFromReader uploads image data read from reader.
func (c *Client) UploadFromReader(ctx context.Context, reader io.Reader, fileName, mimeType string) ([]byte, error) {
	if !isSupportedType(mimeType) {
		return nil, fmt.Errorf("unsupported image type: %s", mimeType)
	}

	data, err := io.ReadAll(io.LimitReader(reader, MaxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	if int64(len(data)) > MaxImageSize {
		return nil, fmt.Errorf("data size exceeds maximum %d bytes", MaxImageSize)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(fileName)))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write file data: %w", err)
	}
	_ = writer.Close()

	req := fetch.Request{
		Method: http.MethodPost,
		Header: map[string]string{"Content-Type": writer.FormDataContentType()},
		Body:   body.Bytes(),
	}
	return c.do(ctx, models.PathImageUpload, req, c.policy)
}

func isSupportedType(mimeType string) bool {
	for _, supported := range SupportedImageTypes() {
		if strings.HasPrefix(mimeType, supported) {
			return true
		}
	}
	return false
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
