package config

import (
	"os"
	"sync"
)

var (
	enginesOnce   sync.Once
	enginesConfig *EnginesConfig
)

// defaultPrompt is the instruction payload sent with every primary-backend
// request. It is output-format policy, not OCR logic: plain-text math instead
// of LaTeX, markdown tables, no chat framing.
const defaultPrompt = `Transcribe all text from this image exactly as it appears.

For mathematical formulas and equations:
- CRITICAL: Do NOT use LaTeX formatting. Do NOT use dollar signs ($).
- Write formulas in PLAIN TEXT using standard keyboard characters and Unicode symbols.
- Use standard operators: +, -, *, /, =
- Use Unicode symbols for Greek letters and math symbols.
- Represent fractions using forward slash: (a+b)/2
- Represent superscripts/subscripts using ^ and _: T_i^n or just T(i, n) if clearer.
- Keep it simple and readable.

For text and formatting:
- Do not transcribe long lines of underscores.
- Maintain the layout and structure of the document.

For tables:
- Detect all tabular data and represent it using standard Markdown tables.
- Preserve column headers and structure.

Return the content as a Markdown document.`

// EnginesConfig holds recognition backend credentials and policy. An empty
// credential means the backend is unconfigured and the chain skips it.
type EnginesConfig struct {
	VisionAPIKey   string // primary remote vision backend
	VisionModel    string
	VisionEndpoint string
	WebhookURL     string // secondary webhook backend
	Prompt         string
	TesseractLangs string // local fallback languages, "+"-joined
}

// GetEnginesConfig returns the process-wide engine configuration.
func GetEnginesConfig() *EnginesConfig {
	enginesOnce.Do(func() {
		loadDotEnv()

		cfg := &EnginesConfig{
			VisionAPIKey:   os.Getenv("VISION_API_KEY"),
			VisionModel:    os.Getenv("VISION_MODEL"),
			VisionEndpoint: os.Getenv("VISION_ENDPOINT"),
			WebhookURL:     os.Getenv("OCR_WEBHOOK_URL"),
			Prompt:         os.Getenv("VISION_PROMPT"),
			TesseractLangs: os.Getenv("TESSERACT_LANGS"),
		}
		if cfg.VisionModel == "" {
			cfg.VisionModel = "gemini-2.0-flash"
		}
		if cfg.VisionEndpoint == "" {
			cfg.VisionEndpoint = "https://generativelanguage.googleapis.com/v1beta"
		}
		if cfg.Prompt == "" {
			cfg.Prompt = defaultPrompt
		}
		if cfg.TesseractLangs == "" {
			cfg.TesseractLangs = "eng"
		}

		enginesConfig = cfg
	})
	return enginesConfig
}
