package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Extraction is a history record as the backend sends it. Timestamps are
// left as strings; the backend's format varies by endpoint.
type Extraction struct {
	ID            int64      `json:"id"`
	Filename      string     `json:"filename"`
	ExtractedText string     `json:"extracted_text"`
	Text          string     `json:"text"`
	CreatedAt     FlexString `json:"created_at"`
	UpdatedAt     FlexString `json:"updated_at"`
	IsBookmarked  FlexBool   `json:"is_bookmarked"`
	SourceType    string     `json:"source_type"`
	OCRModel      string     `json:"ocr_model"`
	Language      string     `json:"language"`
	FileType      string     `json:"file_type"`
}

// ListExtractions fetches the signed-in user's history. ignoreCache asks
// intermediaries and the backend for a fresh list.
func (c *Client) ListExtractions(ctx context.Context, ignoreCache bool) ([]Extraction, error) {
	req := Request{Path: "extractions"}
	if ignoreCache {
		req.Header = http.Header{}
		req.Header.Set("Cache-Control", "no-cache, no-store")
		req.Header.Set("Pragma", "no-cache")
	}
	res := c.Do(ctx, req)
	if err := res.AsError(); err != nil {
		return nil, err
	}
	var list []Extraction
	if err := res.Payload(&list); err != nil {
		return nil, fmt.Errorf("decoding extractions: %w", err)
	}
	return list, nil
}

func (c *Client) GetText(ctx context.Context, id int64) (Extraction, error) {
	res := c.Do(ctx, Request{Path: fmt.Sprintf("text/%d", id)})
	if err := res.AsError(); err != nil {
		return Extraction{}, err
	}
	var e Extraction
	if err := res.Payload(&e); err != nil {
		return Extraction{}, fmt.Errorf("decoding extraction: %w", err)
	}
	return e, nil
}

// UpdateText replaces the stored text of an extraction.
func (c *Client) UpdateText(ctx context.Context, id int64, text string) error {
	res := c.Do(ctx, Request{
		Method: http.MethodPut,
		Path:   fmt.Sprintf("text/%d?invalidate_cache=true", id),
		Body:   map[string]string{"text": text},
	})
	return res.AsError()
}

func (c *Client) DeleteExtraction(ctx context.Context, id int64) error {
	res := c.Do(ctx, Request{Method: http.MethodDelete, Path: fmt.Sprintf("extractions/%d", id)})
	return res.AsError()
}

func (c *Client) RenameExtraction(ctx context.Context, id int64, filename string) error {
	res := c.Do(ctx, Request{
		Method: http.MethodPut,
		Path:   fmt.Sprintf("extractions/%d/filename", id),
		Body:   map[string]string{"filename": filename},
	})
	return res.AsError()
}

// ToggleBookmark flips the bookmark server-side and returns the state the
// server settled on.
func (c *Client) ToggleBookmark(ctx context.Context, id int64) (bool, error) {
	res := c.Do(ctx, Request{Method: http.MethodPut, Path: fmt.Sprintf("extractions/bookmark/%d", id)})
	if err := res.AsError(); err != nil {
		return false, err
	}
	var body struct {
		IsBookmarked *FlexBool `json:"is_bookmarked"`
	}
	if err := res.Payload(&body); err != nil || body.IsBookmarked == nil {
		return false, fmt.Errorf("bookmark response carries no state")
	}
	return bool(*body.IsBookmarked), nil
}

// ExtractRequest is a single-file OCR upload.
type ExtractRequest struct {
	Filename         string
	OriginalFilename string
	ContentType      string
	Data             []byte
	Language         string
	Model            string
}

// Extract uploads one image as multipart form data and returns the raw
// response body for normalisation by the caller.
func (c *Client) Extract(ctx context.Context, req ExtractRequest) (json.RawMessage, error) {
	fields := map[string]string{
		"language": req.Language,
		"model":    req.Model,
	}
	if req.OriginalFilename != "" {
		fields["original_filename"] = req.OriginalFilename
	}
	res := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "extract",
		Long:   true,
		Multipart: &Multipart{
			Fields: fields,
			Files: []FilePart{{
				Field:       "file",
				Filename:    req.Filename,
				ContentType: req.ContentType,
				Data:        req.Data,
			}},
		},
	})
	if err := res.AsError(); err != nil {
		return nil, err
	}
	return res.Data, nil
}

// Base64Request is the JSON body of /api/extract/base64.
type Base64Request struct {
	FileData         string `json:"file_data"`
	Filename         string `json:"filename"`
	OriginalFilename string `json:"original_filename,omitempty"`
	Language         string `json:"language"`
	Model            string `json:"model"`
}

// ExtractBase64 uploads one image inline and returns the raw response body.
func (c *Client) ExtractBase64(ctx context.Context, req Base64Request) (json.RawMessage, error) {
	res := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "extract/base64",
		Long:   true,
		Body:   req,
	})
	if err := res.AsError(); err != nil {
		return nil, err
	}
	return res.Data, nil
}

type Health struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	res := c.Do(ctx, Request{Path: "health"})
	if err := res.AsError(); err != nil {
		return Health{}, err
	}
	var h Health
	if err := res.Decode(&h); err != nil {
		return Health{}, err
	}
	return h, nil
}
