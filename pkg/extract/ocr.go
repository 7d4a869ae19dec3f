package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPOCREngine calls a remote OCR service that accepts a base64 image and
// returns recognized text plus a confidence score.
type HTTPOCREngine struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPOCREngine constructs an engine for the given service base URL.
func NewHTTPOCREngine(baseURL string) (*HTTPOCREngine, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("ocr base url required")
	}
	return &HTTPOCREngine{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

type ocrRequest struct {
	Image string `json:"image"`
	Lang  string `json:"lang,omitempty"`
}

type ocrResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// Recognize sends the image for recognition and returns the engine output.
func (e *HTTPOCREngine) Recognize(ctx context.Context, image []byte, lang string) (OCRResult, error) {
	if len(image) == 0 {
		return OCRResult{}, fmt.Errorf("empty image")
	}
	body, err := json.Marshal(ocrRequest{
		Image: base64.StdEncoding.EncodeToString(image),
		Lang:  lang,
	})
	if err != nil {
		return OCRResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/ocr", bytes.NewReader(body))
	if err != nil {
		return OCRResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return OCRResult{}, err
	}
	defer resp.Body.Close()
	var out ocrResponse
	if resp.StatusCode >= 400 {
		_ = json.NewDecoder(resp.Body).Decode(&out)
		if out.Error != "" {
			return OCRResult{}, fmt.Errorf("ocr service error: %s", out.Error)
		}
		return OCRResult{}, fmt.Errorf("ocr service error: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return OCRResult{}, err
	}
	return OCRResult{Text: out.Text, Confidence: out.Confidence}, nil
}
