// Package postprocess rewrites generated answers after generation. The
// default stage detects Latin-script text and translates it into the
// answer language.
package postprocess

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/rangetable"

	"github.com/cestlavie/harvestqa/internal/engine"
	"github.com/cestlavie/harvestqa/internal/lang"
)

// Detector reports whether text needs post-processing.
type Detector interface {
	Detect(text string) bool
}

// Translator rewrites text into the target language.
type Translator interface {
	Translate(ctx context.Context, text string, target language.Tag) (string, error)
}

// asciiLetters covers A-Z and a-z.
var asciiLetters = rangetable.New([]rune("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz")...)

// RuneDetector flags text containing any rune of its table.
type RuneDetector struct {
	Table *unicode.RangeTable
}

// LatinDetector flags text with at least one ASCII letter.
func LatinDetector() RuneDetector {
	return RuneDetector{Table: asciiLetters}
}

// Detect implements Detector.
func (d RuneDetector) Detect(text string) bool {
	return strings.IndexFunc(text, func(r rune) bool { return unicode.Is(d.Table, r) }) >= 0
}

// LLMTranslator translates with a chat model.
type LLMTranslator struct {
	backend engine.ChatBackend
	model   string
}

// NewLLMTranslator creates a translator that prompts model on backend.
func NewLLMTranslator(backend engine.ChatBackend, model string) *LLMTranslator {
	return &LLMTranslator{backend: backend, model: model}
}

// Translate implements Translator.
func (t *LLMTranslator) Translate(ctx context.Context, text string, target language.Tag) (string, error) {
	msgs := []engine.Message{
		{Role: "system", Content: fmt.Sprintf(
			"Translate the user's text into %s. Keep numbers, dates and product names unchanged. Reply with the translation only.",
			lang.Name(target))},
		{Role: "user", Content: text},
	}
	out, err := t.backend.Chat(ctx, t.model, msgs, engine.ChatOptions{Temperature: engine.Temperature(0)})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("empty translation")
	}
	return out, nil
}

// Stage applies a Translator to text the Detector flags.
type Stage struct {
	Detector   Detector
	Translator Translator
	Target     language.Tag
}

// Process returns the processed text and whether it was translated. A
// failed translation returns the original text.
func (s *Stage) Process(ctx context.Context, text string) (string, bool) {
	if s == nil || s.Detector == nil || s.Translator == nil || !s.Detector.Detect(text) {
		return text, false
	}
	target := s.Target
	if target == language.Und {
		target = lang.Default
	}
	out, err := s.Translator.Translate(ctx, text, target)
	if err != nil {
		zap.L().Warn("translation failed, keeping original answer", zap.Error(err))
		return text, false
	}
	zap.L().Debug("answer translated", zap.String("target", target.String()))
	return out, true
}
