package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"storywriter/internal/config"
	"storywriter/internal/extract"
	"storywriter/internal/interfaces"
	"storywriter/internal/models"
	"storywriter/internal/prompts"
	"storywriter/internal/utils"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Границы размера сюжета, которые просим у модели.
const (
	minStorylines = 5
	maxStorylines = 7
	minChapters   = 8
	maxChapters   = 12

	titlesCount         = 10
	fallbackTitle       = "My Generated Book"
	noSummariesSentinel = "None"
)

// GeneratorConfig - параметры генератора, не зависящие от провайдера.
type GeneratorConfig struct {
	Language        string
	MaxAttempts     int
	BaseRetryDelay  time.Duration
	LongPromptWords int
}

// GeneratorConfigFromConfig берет значения из общей конфигурации.
func GeneratorConfigFromConfig(cfg *config.Config) GeneratorConfig {
	return GeneratorConfig{
		Language:        cfg.DefaultLanguage,
		MaxAttempts:     cfg.AIMaxAttempts,
		BaseRetryDelay:  cfg.AIBaseRetryDelay,
		LongPromptWords: cfg.LongPromptWords,
	}
}

// outlineRecord - проверяемая форма ответа генератора сюжета.
type outlineRecord struct {
	Storylines []string             `validate:"min=1,dive,required"`
	Chapters   []models.ChapterPlan `validate:"min=1,dive"`
}

// NarrativeGenerator строит промпты, вызывает модель и проверяет ответы.
type NarrativeGenerator struct {
	ai       interfaces.AIClient
	prompts  *prompts.Provider
	dumps    interfaces.DumpSink
	validate *validator.Validate
	cfg      GeneratorConfig
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewNarrativeGenerator создает генератор. dumps может быть nil.
func NewNarrativeGenerator(ai interfaces.AIClient, promptProvider *prompts.Provider, dumps interfaces.DumpSink, cfg GeneratorConfig, logger *zap.Logger) *NarrativeGenerator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	return &NarrativeGenerator{
		ai:       ai,
		prompts:  promptProvider,
		dumps:    dumps,
		validate: validator.New(),
		cfg:      cfg,
		logger:   logger.Named("NarrativeGenerator"),
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// FormatChapterSummary - строка контекста для одной предыдущей главы.
func FormatChapterSummary(number int, summary string) string {
	return fmt.Sprintf("Chapter %d: %s", number, summary)
}

func (g *NarrativeGenerator) systemPrompt() (string, error) {
	return g.prompts.Render(prompts.KeySystemPersona, g.cfg.Language, prompts.PersonaData{Language: g.cfg.Language})
}

// GenerateOutline просит модель придумать сюжетные линии и главы по premise.
// Ошибка модели возвращается сразу, без повторов.
func (g *NarrativeGenerator) GenerateOutline(ctx context.Context, premise string) ([]string, []models.ChapterPlan, error) {
	system, err := g.systemPrompt()
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка подготовки системного промпта: %w", err)
	}
	prompt, err := g.prompts.Render(prompts.KeyOutline, g.cfg.Language, prompts.OutlineData{
		Language:      g.cfg.Language,
		Premise:       premise,
		MinStorylines: minStorylines,
		MaxStorylines: maxStorylines,
		MinChapters:   minChapters,
		MaxChapters:   maxChapters,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка подготовки промпта сюжета: %w", err)
	}
	g.warnIfLong(prompt, zap.String("kind", string(models.GenerationKindOutline)))

	raw, _, err := g.ai.GenerateText(ctx, system, prompt, interfaces.GenerationParams{})
	if err != nil {
		g.logger.Error("Outline generation call failed", zap.Error(err))
		return nil, nil, fmt.Errorf("ошибка генерации сюжета: %w", err)
	}

	record, err := g.parseOutline(raw)
	if err != nil {
		g.logger.Warn("Outline response rejected", zap.Error(err))
		g.dump(models.GenerationDump{Kind: models.GenerationKindOutline, Prompt: prompt, Response: raw, Error: err.Error()})
		return nil, nil, fmt.Errorf("%w: %w", models.ErrOutlineGenerationFailed, err)
	}

	g.logger.Info("Outline generated",
		zap.Int("storylines", len(record.Storylines)),
		zap.Int("chapters", len(record.Chapters)),
	)
	return record.Storylines, record.Chapters, nil
}

func (g *NarrativeGenerator) parseOutline(raw string) (*outlineRecord, error) {
	rec := extract.RecordWithLogger(g.logger, raw)
	if len(rec) == 0 {
		return nil, errors.New("ответ не содержит JSON-объекта")
	}

	linesRaw, ok := rec["storylines"].([]any)
	if !ok {
		return nil, errors.New("поле storylines отсутствует или не является списком")
	}
	chaptersRaw, ok := rec["chapters"].([]any)
	if !ok {
		return nil, errors.New("поле chapters отсутствует или не является списком")
	}

	out := &outlineRecord{
		Storylines: make([]string, 0, len(linesRaw)),
		Chapters:   make([]models.ChapterPlan, 0, len(chaptersRaw)),
	}
	for _, l := range linesRaw {
		if name := strings.TrimSpace(stringify(l)); name != "" {
			out.Storylines = append(out.Storylines, name)
		}
	}
	for i, c := range chaptersRaw {
		obj, ok := c.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("глава %d не является объектом", i+1)
		}
		out.Chapters = append(out.Chapters, chapterPlanFromRecord(obj, i+1))
	}

	if err := g.validate.Struct(out); err != nil {
		return nil, fmt.Errorf("сюжет не прошел проверку: %w", err)
	}
	return out, nil
}

// chapterPlanFromRecord: номер по умолчанию - позиция, название - "Chapter <n>".
func chapterPlanFromRecord(obj map[string]any, position int) models.ChapterPlan {
	plan := models.ChapterPlan{Number: position, Events: map[string]string{}}
	switch n := obj["chapter"].(type) {
	case float64:
		if n == math.Trunc(n) {
			plan.Number = int(n)
		}
	case string:
		if v, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			plan.Number = v
		}
	}
	plan.Title = strings.TrimSpace(stringify(obj["title"]))
	if plan.Title == "" {
		plan.Title = fmt.Sprintf("Chapter %d", plan.Number)
	}
	if events, ok := obj["events"].(map[string]any); ok {
		for line, desc := range events {
			plan.Events[line] = stringify(desc)
		}
	}
	return plan
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// GenerateChapter пишет текст и краткое содержание главы.
// Ошибка модели повторяется до MaxAttempts раз, ошибка формата ответа - нет.
func (g *NarrativeGenerator) GenerateChapter(ctx context.Context, req models.ChapterRequest) (string, string, error) {
	logFields := []zap.Field{zap.Int("chapter", req.Chapter.Number)}
	if req.BookID != uuid.Nil {
		logFields = append(logFields, zap.String("bookID", req.BookID.String()))
	}

	system, err := g.systemPrompt()
	if err != nil {
		return "", "", fmt.Errorf("ошибка подготовки системного промпта: %w", err)
	}
	prompt, err := g.chapterPrompt(req)
	if err != nil {
		return "", "", err
	}
	g.warnIfLong(prompt, logFields...)

	raw, err := g.callWithRetry(ctx, system, prompt, logFields)
	if err != nil {
		return "", "", fmt.Errorf("ошибка генерации главы %d: %w", req.Chapter.Number, err)
	}

	text, summary, err := parseChapter(extract.RecordWithLogger(g.logger, raw))
	if err != nil {
		g.logger.Warn("Chapter response rejected", append(logFields, zap.Error(err))...)
		number := req.Chapter.Number
		dump := models.GenerationDump{Kind: models.GenerationKindChapter, Chapter: &number, Prompt: prompt, Response: raw, Error: err.Error()}
		if req.BookID != uuid.Nil {
			bookID := req.BookID
			dump.BookID = &bookID
		}
		g.dump(dump)
		return "", "", fmt.Errorf("%w: %w", models.ErrChapterGenerationFailed, err)
	}

	g.logger.Info("Chapter generated", append(logFields,
		zap.Int("text_words", utils.WordCount(text)),
		zap.Int("context_chapters", len(req.PreviousSummaries)),
	)...)
	return text, summary, nil
}

func (g *NarrativeGenerator) chapterPrompt(req models.ChapterRequest) (string, error) {
	events := req.Chapter.Events
	if events == nil {
		events = map[string]string{}
	}
	eventsJSON, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации событий главы: %w", err)
	}

	previous := noSummariesSentinel
	if len(req.PreviousSummaries) > 0 {
		previous = strings.Join(req.PreviousSummaries, "\n")
	}

	prompt, err := g.prompts.Render(prompts.KeyChapter, g.cfg.Language, prompts.ChapterData{
		Language:          g.cfg.Language,
		Premise:           req.Premise,
		Storylines:        strings.Join(req.Storylines, ", "),
		PreviousSummaries: previous,
		Number:            req.Chapter.Number,
		Title:             req.Chapter.Title,
		EventsJSON:        string(eventsJSON),
		TargetLength:      req.TargetLength,
	})
	if err != nil {
		return "", fmt.Errorf("ошибка подготовки промпта главы: %w", err)
	}
	return prompt, nil
}

// callWithRetry возвращает ответ последней попытки или ее ошибку.
func (g *NarrativeGenerator) callWithRetry(ctx context.Context, system, prompt string, logFields []zap.Field) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		resp, _, err := g.ai.GenerateText(ctx, system, prompt, interfaces.GenerationParams{})
		if err == nil {
			if attempt > 1 {
				g.logger.Info("Chapter call succeeded after retry", append(logFields, zap.Int("attempt", attempt))...)
			}
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", err
		}
		if attempt == g.cfg.MaxAttempts {
			break
		}

		wait := backoffDelay(g.cfg.BaseRetryDelay, attempt)
		g.logger.Warn("Chapter call failed, retrying",
			append(logFields,
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", g.cfg.MaxAttempts),
				zap.Duration("wait", wait),
				zap.Error(err),
			)...)
		if err := g.sleep(ctx, wait); err != nil {
			return "", lastErr
		}
	}
	g.logger.Error("Chapter call failed on all attempts", append(logFields, zap.Int("attempts", g.cfg.MaxAttempts), zap.Error(lastErr))...)
	return "", lastErr
}

// backoffDelay - base*2^(attempt-1) с разбросом ±10%, не меньше base.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	jitter := delay * 0.1
	delay += jitter * (rand.Float64()*2 - 1)
	d := time.Duration(delay)
	if d < base {
		d = base
	}
	return d
}

func parseChapter(rec map[string]any) (string, string, error) {
	if len(rec) == 0 {
		return "", "", errors.New("ответ не содержит JSON-объекта")
	}
	text, ok := rec["text"].(string)
	if !ok || strings.TrimSpace(text) == "" {
		return "", "", errors.New("в ответе нет поля text")
	}
	summary, ok := rec["summary"].(string)
	if !ok || strings.TrimSpace(summary) == "" {
		return "", "", errors.New("в ответе нет поля summary")
	}
	return text, strings.TrimSpace(summary), nil
}

// GenerateTitles предлагает названия по кратким содержаниям глав.
// Всегда возвращает непустой список: при любой ошибке - запасные названия.
func (g *NarrativeGenerator) GenerateTitles(ctx context.Context, summaries []string) []string {
	fallback := func() []string {
		titles := make([]string, titlesCount)
		for i := range titles {
			titles[i] = fallbackTitle
		}
		return titles
	}

	system, err := g.systemPrompt()
	if err != nil {
		g.logger.Error("Failed to render system prompt for titles", zap.Error(err))
		return fallback()
	}
	prompt, err := g.prompts.Render(prompts.KeyTitles, g.cfg.Language, prompts.TitlesData{
		Language:  g.cfg.Language,
		Summaries: strings.Join(summaries, "\n"),
		Count:     titlesCount,
	})
	if err != nil {
		g.logger.Error("Failed to render titles prompt", zap.Error(err))
		return fallback()
	}

	raw, _, err := g.ai.GenerateText(ctx, system, prompt, interfaces.GenerationParams{})
	if err != nil {
		g.logger.Warn("Titles generation failed, using fallback", zap.Error(err))
		return fallback()
	}

	items, ok := extract.Array(raw)
	titles := make([]string, 0, titlesCount)
	for _, t := range items {
		if t = strings.TrimSpace(t); t != "" {
			titles = append(titles, t)
		}
		if len(titles) == titlesCount {
			break
		}
	}
	if !ok || len(titles) == 0 {
		g.dump(models.GenerationDump{Kind: models.GenerationKindTitles, Prompt: prompt, Response: raw, Error: "no titles array in response"})
		g.logger.Warn("Titles response has no usable array, using fallback", zap.String("preview", utils.StringShort(raw, extract.PreviewLen)))
		return fallback()
	}
	return titles
}

func (g *NarrativeGenerator) warnIfLong(prompt string, fields ...zap.Field) {
	if g.cfg.LongPromptWords <= 0 {
		return
	}
	if words := utils.WordCount(prompt); words > g.cfg.LongPromptWords {
		g.logger.Warn("Prompt is very long", append(fields, zap.Int("words", words), zap.Int("threshold", g.cfg.LongPromptWords))...)
	}
}

func (g *NarrativeGenerator) dump(d models.GenerationDump) {
	if g.dumps == nil {
		return
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	g.dumps.Record(d)
}
