// Package detector talks to the external landmark service that turns an
// image into face mesh landmarks.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/attendance/internal/facematch"
)

const (
	defaultURL     = "http://localhost:8001"
	defaultTimeout = 30 * time.Second
	landmarksPath  = "/landmarks"
)

// Detector extracts landmarks for every face found in an image.
// It returns facematch.ErrNoFaceDetected when the image contains no face.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]facematch.Landmarks, error)
}

// Client calls the landmark service over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a landmark service client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// landmarksResponse represents the response from the landmark service
type landmarksResponse struct {
	Faces []facematch.Landmarks `json:"faces"`
}

// Detect posts the image as multipart form data and decodes the detected faces.
func (c *Client) Detect(ctx context.Context, image []byte) ([]facematch.Landmarks, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image"`)
	h.Set("Content-Type", http.DetectContentType(image))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+landmarksPath, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("landmark service error (status %d): %s", resp.StatusCode, string(body))
	}

	var out landmarksResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	faces := out.Faces[:0]
	for _, f := range out.Faces {
		if len(f) > 0 {
			faces = append(faces, f)
		}
	}
	if len(faces) == 0 {
		return nil, facematch.ErrNoFaceDetected
	}
	return faces, nil
}
