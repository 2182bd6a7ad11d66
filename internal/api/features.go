package api

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// Upload is a file sent to one of the analysis endpoints.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

func (u Upload) extension() string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(u.Filename)), ".")
}

func (u Upload) multipart(fields map[string]string) *Multipart {
	if fields == nil {
		fields = map[string]string{}
	}
	if ext := u.extension(); ext != "" {
		fields["file_extension"] = ext
	}
	return &Multipart{
		Fields: fields,
		Files:  []FilePart{{Field: "file", Filename: u.Filename, ContentType: u.ContentType, Data: u.Data}},
	}
}

type ReceiptItem struct {
	Name      string     `json:"name"`
	Quantity  FlexString `json:"quantity"`
	UnitPrice FlexString `json:"unit_price"`
	Price     FlexString `json:"price"`
}

type Receipt struct {
	Store         string        `json:"store"`
	Date          string        `json:"date"`
	Time          string        `json:"time"`
	Items         []ReceiptItem `json:"items"`
	TotalAmount   FlexString    `json:"total_amount"`
	PaymentMethod string        `json:"payment_method"`
	FullText      string        `json:"full_text"`
	OCRModel      string        `json:"ocr_model"`
}

func (c *Client) ParseReceipt(ctx context.Context, u Upload, model string) (Receipt, error) {
	res := c.Do(ctx, Request{
		Method:    http.MethodPost,
		Path:      "parse-receipt",
		Long:      true,
		Multipart: u.multipart(map[string]string{"ocr_model": model}),
	})
	if err := res.AsError(); err != nil {
		return Receipt{}, err
	}
	var r Receipt
	if err := res.Payload(&r); err != nil {
		return Receipt{}, fmt.Errorf("decoding receipt: %w", err)
	}
	return r, nil
}

type BusinessCard struct {
	Name     string      `json:"name"`
	Position string      `json:"position"`
	Company  string      `json:"company"`
	Email    FlexStrings `json:"email"`
	Phone    FlexStrings `json:"phone"`
	Address  string      `json:"address"`
	Website  FlexStrings `json:"website"`
	FullText string      `json:"full_text"`
	OCRModel string      `json:"ocr_model"`
}

func (c *Client) ParseBusinessCard(ctx context.Context, u Upload, model string) (BusinessCard, error) {
	res := c.Do(ctx, Request{
		Method:    http.MethodPost,
		Path:      "parse-business-card",
		Long:      true,
		Multipart: u.multipart(map[string]string{"ocr_model": model}),
	})
	if err := res.AsError(); err != nil {
		return BusinessCard{}, err
	}
	var bc BusinessCard
	if err := res.Payload(&bc); err != nil {
		return BusinessCard{}, fmt.Errorf("decoding business card: %w", err)
	}
	return bc, nil
}

// TableFormat is the output of table extraction.
type TableFormat string

const (
	TableCSV   TableFormat = "csv"
	TableExcel TableFormat = "excel"
)

// Download is a file returned by the backend.
type Download struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExtractTable sends an image or PDF and returns the generated table file.
func (c *Client) ExtractTable(ctx context.Context, u Upload, format TableFormat) (Download, error) {
	res := c.Do(ctx, Request{
		Method:    http.MethodPost,
		Path:      "extract-table",
		Long:      true,
		Raw:       true,
		Multipart: u.multipart(map[string]string{"format": string(format)}),
	})
	if err := res.AsError(); err != nil {
		return Download{}, err
	}
	d := Download{ContentType: res.Header.Get("Content-Type"), Data: res.Body}
	if _, params, err := mime.ParseMediaType(res.Header.Get("Content-Disposition")); err == nil {
		d.Filename = filepath.Base(params["filename"])
	}
	if d.Filename == "" || d.Filename == "." {
		base := strings.TrimSuffix(filepath.Base(u.Filename), filepath.Ext(u.Filename))
		ext := ".csv"
		if format == TableExcel {
			ext = ".xlsx"
		}
		d.Filename = base + "_table" + ext
	}
	return d, nil
}

type SummarizeRequest struct {
	Text      string `json:"text"`
	Engine    string `json:"engine,omitempty"`
	MaxLength int    `json:"maxLength,omitempty"`
	Style     string `json:"style,omitempty"`
}

type Summary struct {
	Summary        string  `json:"summary"`
	OriginalLength int     `json:"original_length"`
	SummaryLength  int     `json:"summary_length"`
	Ratio          float64 `json:"ratio"`
	Engine         string  `json:"engine"`
	Style          string  `json:"style"`
	ModelName      string  `json:"model_name"`
}

func (c *Client) Summarize(ctx context.Context, req SummarizeRequest) (Summary, error) {
	res := c.Do(ctx, Request{Method: http.MethodPost, Path: "summarize", Long: true, Body: req})
	if err := res.AsError(); err != nil {
		return Summary{}, err
	}
	var s Summary
	if err := res.Payload(&s); err != nil {
		return Summary{}, fmt.Errorf("decoding summary: %w", err)
	}
	return s, nil
}

type TranslateRequest struct {
	Text       string `json:"text"`
	TargetLang string `json:"target_lang"`
	SourceLang string `json:"source_lang,omitempty"`
}

type Translation struct {
	OriginalText       string `json:"original_text"`
	TranslatedText     string `json:"translated_text"`
	SourceLanguage     string `json:"source_language"`
	SourceLanguageName string `json:"source_language_name"`
	TargetLanguage     string `json:"target_language"`
	TargetLanguageName string `json:"target_language_name"`
}

func (c *Client) Translate(ctx context.Context, req TranslateRequest) (Translation, error) {
	res := c.Do(ctx, Request{Method: http.MethodPost, Path: "translate", Long: true, Body: req})
	if err := res.AsError(); err != nil {
		return Translation{}, err
	}
	var t Translation
	if err := res.Payload(&t); err != nil {
		return Translation{}, fmt.Errorf("decoding translation: %w", err)
	}
	return t, nil
}

type Language struct {
	Code string `json:"language"`
	Name string `json:"language_name"`
}

func (c *Client) DetectLanguage(ctx context.Context, text string) (Language, error) {
	res := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "detect-language",
		Body:   map[string]string{"text": text},
	})
	if err := res.AsError(); err != nil {
		return Language{}, err
	}
	var l Language
	if err := res.Payload(&l); err != nil {
		return Language{}, fmt.Errorf("decoding language: %w", err)
	}
	return l, nil
}
