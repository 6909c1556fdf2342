// Package extract восстанавливает JSON-объект из ответа модели.
//
// Модели возвращают JSON по-разному: голым объектом, в блоке ```json ... ```
// или вперемешку с текстом. Record пробует три стратегии по очереди и никогда
// не возвращает ошибку: при неудаче результат пустой, а проблема пишется в лог.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"storywriter/internal/utils"

	"go.uber.org/zap"
)

// PreviewLen - сколько символов ответа попадает в лог при неудаче.
const PreviewLen = 500

// fencedBlockRegex - первый блок ``` с необязательным тегом языка в любом регистре.
var fencedBlockRegex = regexp.MustCompile("(?is)```[a-z0-9_+-]*[ \\t]*\\r?\\n?\\s*(.*?)\\s*```")

// Strategy - одна стратегия извлечения.
type Strategy func(raw string) (map[string]any, bool)

// Strategies - порядок важен: прямой разбор, блок кода, диапазон фигурных скобок.
var Strategies = []struct {
	Name string
	Fn   Strategy
}{
	{"direct", Direct},
	{"fenced", Fenced},
	{"brace_span", BraceSpan},
}

// Record возвращает объект из raw или пустую карту.
func Record(raw string) map[string]any {
	return RecordWithLogger(zap.L(), raw)
}

// RecordWithLogger - Record с явным логгером.
func RecordWithLogger(logger *zap.Logger, raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	for _, s := range Strategies {
		if rec, ok := s.Fn(raw); ok {
			logger.Debug("Structured record extracted", zap.String("strategy", s.Name), zap.Int("fields", len(rec)))
			return rec
		}
	}
	logger.Warn("Failed to extract structured record from model response",
		zap.Int("length", len(raw)),
		zap.String("preview", utils.StringShort(raw, PreviewLen)),
	)
	return map[string]any{}
}

// Direct разбирает весь текст как JSON-объект.
func Direct(raw string) (map[string]any, bool) {
	return decodeObject(strings.TrimSpace(raw))
}

// Fenced разбирает содержимое первого блока ``` ```.
func Fenced(raw string) (map[string]any, bool) {
	m := fencedBlockRegex.FindStringSubmatch(raw)
	if len(m) < 2 {
		return nil, false
	}
	return decodeObject(m[1])
}

// BraceSpan разбирает отрезок от первой '{' до последней '}'.
func BraceSpan(raw string) (map[string]any, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return nil, false
	}
	return decodeObject(raw[start : end+1])
}

func decodeObject(s string) (map[string]any, bool) {
	if s == "" {
		return nil, false
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return nil, false
	}
	// "null" разбирается без ошибки в nil map
	if rec == nil {
		return nil, false
	}
	return rec, true
}

// Array восстанавливает JSON-массив строк (для списка названий) теми же приемами.
func Array(raw string) ([]string, bool) {
	candidates := []string{strings.TrimSpace(raw)}
	if m := fencedBlockRegex.FindStringSubmatch(raw); len(m) >= 2 {
		candidates = append(candidates, m[1])
	}
	if start, end := strings.Index(raw, "["), strings.LastIndex(raw, "]"); start != -1 && end > start {
		candidates = append(candidates, raw[start:end+1])
	}
	for _, c := range candidates {
		var out []string
		if err := json.Unmarshal([]byte(c), &out); err == nil && len(out) > 0 {
			return out, true
		}
	}
	return nil, false
}
