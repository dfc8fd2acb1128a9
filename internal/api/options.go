package api

import (
	"net/http"
	"strings"

	"github.com/snarg/vidshelf/internal/config"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// LanguageOption is one selectable transcription language.
type LanguageOption struct {
	Code   string `json:"code"`
	Label  string `json:"label"`
	Native string `json:"native,omitempty"`
}

// ModelOption is one selectable transcription model.
type ModelOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type OptionsResponse struct {
	Languages       []LanguageOption `json:"languages"`
	Models          []ModelOption    `json:"models"`
	DefaultLanguage string           `json:"default_language"`
	DefaultModel    string           `json:"default_model"`
	PollIntervalMs  int64            `json:"poll_interval_ms"`
	PollMaxAttempts int              `json:"poll_max_attempts"`
}

// modelLabels names the models the player has always offered.
var modelLabels = map[string]string{
	"base":            "Base",
	"distil-large-v3": "Whisper Large V3",
	"large-v3":        "Large V3",
	"turbo":           "Turbo",
}

// LanguageLabel returns the English and native names of a language code.
func LanguageLabel(code string) (label, native string) {
	if code == config.AutoLanguage {
		return "Auto-detect", ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return code, ""
	}
	label = display.English.Languages().Name(tag)
	if label == "" {
		label = code
	}
	return label, display.Self.Name(tag)
}

// ModelLabel returns a display label for a model id.
func ModelLabel(id string) string {
	if l, ok := modelLabels[id]; ok {
		return l
	}
	return cases.Title(language.Und).String(strings.NewReplacer("-", " ", "_", " ").Replace(id))
}

// BuildOptions lists what a player may choose when submitting a job.
func BuildOptions(tc config.TranscribeConfig, pc config.PollConfig) OptionsResponse {
	resp := OptionsResponse{
		DefaultLanguage: tc.DefaultLanguage,
		DefaultModel:    tc.DefaultModel,
		PollIntervalMs:  pc.Interval.Milliseconds(),
		PollMaxAttempts: pc.MaxAttempts,
	}
	for _, code := range tc.Languages {
		label, native := LanguageLabel(code)
		resp.Languages = append(resp.Languages, LanguageOption{Code: code, Label: label, Native: native})
	}
	for _, id := range tc.Models {
		resp.Models = append(resp.Models, ModelOption{ID: id, Label: ModelLabel(id)})
	}
	return resp
}

type OptionsHandler struct {
	options OptionsResponse
}

func NewOptionsHandler(tc config.TranscribeConfig, pc config.PollConfig) *OptionsHandler {
	return &OptionsHandler{options: BuildOptions(tc, pc)}
}

func (h *OptionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.options)
}
