package settings

// Settings is the user's persisted preferences. Known keys map onto typed
// fields; anything else is kept verbatim in Extra.
type Settings struct {
	OCR   OCRSettings
	Image ImageSettings
	Extra map[string]string // dotted key → raw value
}

// OCRSettings are the defaults sent with every extraction.
type OCRSettings struct {
	Model    string // e.g. "tesseract", "gemini"
	Language string // e.g. "kor+eng", "auto"
}

// ImageSettings control preview rendering and re-encoding.
type ImageSettings struct {
	Quality int     // JPEG quality 1-100, 0 = unset
	Zoom    float64 // preview zoom, 0 = unset
}
