/**
 * Cheque templates
 *
 * A template describes, per bank layout, the label anchors and the target
 * fields with their search patterns and normalized rectangles. Defaults are
 * embedded in the binary; a templates directory can override them.
 */

package locator

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chequeflow/cheque-worker/internal/errors"
)

//go:embed templates/*/*.json
var embeddedTemplates embed.FS

// Anchor is a recognized label line used as a spatial reference
type Anchor struct {
	Name       string    `json:"name"`
	Pattern    string    `json:"pattern"`
	RegionNorm []float64 `json:"region_norm"`
}

// FieldSpec configures locating one field within a template
type FieldSpec struct {
	Name       string    `json:"name"`
	Pattern    string    `json:"pattern,omitempty"`
	RegionNorm []float64 `json:"region_norm,omitempty"`
	ROINorm    []float64 `json:"roi_norm,omitempty"`
	OCREngine  string    `json:"ocr_engine,omitempty"` // "latin" | "arabic"
}

// Template is one bank layout
type Template struct {
	Bank       string      `json:"bank"`
	TemplateID string      `json:"template_id"`
	Anchors    []Anchor    `json:"anchors"`
	Fields     []FieldSpec `json:"fields"`
}

// Loader resolves templates, preferring an override directory when set
type Loader struct {
	overrideDir string
}

// NewLoader creates a template loader. overrideDir may be empty.
func NewLoader(overrideDir string) *Loader {
	return &Loader{overrideDir: overrideDir}
}

// Load returns the template for (bank, templateID). templateID "auto" or ""
// resolves to "default". A missing template returns TEMPLATE_NOT_FOUND.
func (l *Loader) Load(bank, templateID string) (*Template, error) {
	if templateID == "" || templateID == "auto" {
		templateID = "default"
	}

	if l.overrideDir != "" {
		path := filepath.Join(l.overrideDir, bank, templateID+".json")
		if data, err := os.ReadFile(path); err == nil {
			return decodeTemplate(data, bank, templateID)
		}
	}

	data, err := embeddedTemplates.ReadFile(fmt.Sprintf("templates/%s/%s.json", bank, templateID))
	if err != nil {
		return nil, errors.NewTemplateNotFoundError(bank, templateID)
	}
	return decodeTemplate(data, bank, templateID)
}

func decodeTemplate(data []byte, bank, templateID string) (*Template, error) {
	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode template %s/%s: %w", bank, templateID, err)
	}
	if t.Bank == "" {
		t.Bank = bank
	}
	if t.TemplateID == "" {
		t.TemplateID = templateID
	}
	return &t, nil
}
