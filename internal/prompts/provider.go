package prompts

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"text/template"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Ключи промптов
const (
	KeySystemPersona = "system_persona"
	KeyOutline       = "outline"
	KeyChapter       = "chapter"
	KeyTitles        = "titles"
)

const fallbackLanguage = "en"

var ErrPromptNotFound = errors.New("prompt not found")

//go:embed prompts.yaml
var embeddedPrompts []byte

// OutlineData - данные шаблона "outline".
type OutlineData struct {
	Language      string
	Premise       string
	MinStorylines int
	MaxStorylines int
	MinChapters   int
	MaxChapters   int
}

// ChapterData - данные шаблона "chapter".
type ChapterData struct {
	Language          string
	Premise           string
	Storylines        string
	PreviousSummaries string
	Number            int
	Title             string
	EventsJSON        string
	TargetLength      string
}

// TitlesData - данные шаблона "titles".
type TitlesData struct {
	Language  string
	Summaries string
	Count     int
}

// PersonaData - данные шаблона "system_persona".
type PersonaData struct {
	Language string
}

// Provider хранит разобранные шаблоны: map[language]map[key]template.
type Provider struct {
	mu        sync.RWMutex
	templates map[string]map[string]*template.Template
	logger    *zap.Logger
}

// NewProvider загружает встроенный prompts.yaml.
func NewProvider(logger *zap.Logger) (*Provider, error) {
	return Load(embeddedPrompts, logger)
}

// Load разбирает YAML вида language -> key -> template.
func Load(data []byte, logger *zap.Logger) (*Provider, error) {
	var raw map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("ошибка разбора шаблонов промптов: %w", err)
	}

	p := &Provider{
		templates: make(map[string]map[string]*template.Template, len(raw)),
		logger:    logger.Named("PromptProvider"),
	}
	count := 0
	for lang, entries := range raw {
		p.templates[lang] = make(map[string]*template.Template, len(entries))
		for key, text := range entries {
			tmpl, err := template.New(lang + "/" + key).Option("missingkey=error").Parse(text)
			if err != nil {
				return nil, fmt.Errorf("ошибка компиляции шаблона %s/%s: %w", lang, key, err)
			}
			p.templates[lang][key] = tmpl
			count++
		}
	}
	p.logger.Info("Prompt templates loaded", zap.Int("count", count), zap.Int("languages", len(p.templates)))
	return p, nil
}

// Render подставляет data в шаблон key для языка language, с откатом на "en".
func (p *Provider) Render(key, language string, data any) (string, error) {
	tmpl, usedLang, err := p.lookup(key, language)
	if err != nil {
		return "", err
	}
	if usedLang != language {
		p.logger.Debug("Using fallback language prompt",
			zap.String("key", key),
			zap.String("requested_language", language),
			zap.String("language_used", usedLang))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("ошибка рендера шаблона %s/%s: %w", usedLang, key, err)
	}
	return buf.String(), nil
}

func (p *Provider) lookup(key, language string) (*template.Template, string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if tmpl, ok := p.templates[language][key]; ok {
		return tmpl, language, nil
	}
	if tmpl, ok := p.templates[fallbackLanguage][key]; ok {
		return tmpl, fallbackLanguage, nil
	}
	return nil, "", fmt.Errorf("%w: key=%s language=%s", ErrPromptNotFound, key, language)
}
