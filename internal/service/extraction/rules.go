package extraction

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/zhouzirui/briefing/backend/internal/model/briefing"
	"github.com/zhouzirui/briefing/backend/pkg/phone"
)

// RuleExtractor 基于问题类型的确定性解析器，既可单独使用，也是 LLM 抽取的兜底。
type RuleExtractor struct {
	// Now 用于解析“hoje/amanhã”等相对日期，默认 time.Now。
	Now func() time.Time
}

// NewRuleExtractor 创建规则抽取器。
func NewRuleExtractor() *RuleExtractor {
	return &RuleExtractor{Now: time.Now}
}

// Extract 按问题类型分派解析。
func (r *RuleExtractor) Extract(_ context.Context, text string, q briefing.Question) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Invalid("empty message"), nil
	}

	switch q.Type {
	case briefing.TypeEnum:
		return matchOption(text, q.Options), nil
	case briefing.TypePhone:
		return parsePhone(text), nil
	case briefing.TypeDate:
		return parseDate(text, r.now()), nil
	case briefing.TypeNumber:
		return parseNumber(text), nil
	case briefing.TypeText, "":
		return parseText(text, q.MinLength), nil
	default:
		return Result{}, fmt.Errorf("unsupported question type %q", q.Type)
	}
}

func (r *RuleExtractor) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

var nonAnswers = []string{
	"nao sei", "sei la", "nao faco ideia", "nenhuma ideia", "pular", "passo", "?", "??", "...",
}

func parseText(text string, minLength int) Result {
	folded := strings.Trim(fold(text), " .!?")
	for _, na := range nonAnswers {
		if folded == strings.Trim(na, " .!?") {
			return Invalid("non-answer")
		}
	}
	if minLength < 1 {
		minLength = 1
	}
	if utf8.RuneCountInString(text) < minLength {
		return Invalid("answer too short")
	}
	return Result{Valid: true, Value: text, Confidence: 0.6}
}

func matchOption(text string, options []string) Result {
	if len(options) == 0 {
		return Invalid("question has no options")
	}
	folded := fold(text)
	trimmed := strings.Trim(folded, " .!")

	// 序号回答："1", "2)" ...
	if n, err := strconv.Atoi(strings.TrimRight(trimmed, ")-.")); err == nil {
		if n >= 1 && n <= len(options) {
			return Result{Valid: true, Value: options[n-1], Confidence: 0.9}
		}
		return Invalid("option index out of range")
	}

	for _, opt := range options {
		if fold(opt) == trimmed {
			return Result{Valid: true, Value: opt, Confidence: 0.95}
		}
	}

	words := tokenize(folded)
	var matched []string
	for _, opt := range options {
		if containsPhrase(words, tokenize(fold(opt))) {
			matched = append(matched, opt)
		}
	}
	if len(matched) == 1 {
		return Result{Valid: true, Value: matched[0], Confidence: 0.75}
	}
	if len(matched) > 1 {
		return Invalid("ambiguous option")
	}
	return Invalid("no option matched")
}

var phoneCandidate = regexp.MustCompile(`\+?[\d][\d\s().-]{7,}\d`)

func parsePhone(text string) Result {
	for _, candidate := range phoneCandidate.FindAllString(text, -1) {
		if ok, _ := phone.Validate(candidate, true); ok {
			return Result{Valid: true, Value: phone.Normalize(candidate), Confidence: 0.9}
		}
	}
	return Invalid("no valid phone number")
}

var (
	dateDMY   = regexp.MustCompile(`\b(\d{1,2})[/.-](\d{1,2})[/.-](\d{2,4})\b`)
	dateISO   = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	dateDM    = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})\b`)
	yearToken = regexp.MustCompile(`\b(20\d{2})\b`)
)

var monthNames = map[string]time.Month{
	"janeiro": time.January, "fevereiro": time.February, "marco": time.March,
	"abril": time.April, "maio": time.May, "junho": time.June,
	"julho": time.July, "agosto": time.August, "setembro": time.September,
	"outubro": time.October, "novembro": time.November, "dezembro": time.December,
}

func parseDate(text string, now time.Time) Result {
	folded := fold(text)

	if m := dateISO.FindStringSubmatch(folded); m != nil {
		return dateResult(atoi(m[1]), atoi(m[2]), atoi(m[3]), 0.95)
	}
	if m := dateDMY.FindStringSubmatch(folded); m != nil {
		year := atoi(m[3])
		if year < 100 {
			year += 2000
		}
		return dateResult(year, atoi(m[2]), atoi(m[1]), 0.9)
	}
	if m := dateDM.FindStringSubmatch(folded); m != nil {
		day, month := atoi(m[1]), atoi(m[2])
		year := now.Year()
		if time.Month(month) < now.Month() {
			year++
		}
		return dateResult(year, month, day, 0.8)
	}

	words := tokenize(folded)
	for _, w := range words {
		switch w {
		case "hoje":
			return Result{Valid: true, Value: now.Format("2006-01-02"), Confidence: 0.85}
		case "amanha":
			return Result{Valid: true, Value: now.AddDate(0, 0, 1).Format("2006-01-02"), Confidence: 0.85}
		}
	}
	for _, w := range words {
		month, ok := monthNames[w]
		if !ok {
			continue
		}
		year := now.Year()
		if y := yearToken.FindString(folded); y != "" {
			year = atoi(y)
		} else if month < now.Month() {
			year++
		}
		return Result{Valid: true, Value: fmt.Sprintf("%04d-%02d", year, int(month)), Confidence: 0.7}
	}
	return Invalid("no date found")
}

func dateResult(year, month, day int, confidence float64) Result {
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return Invalid("invalid calendar date")
	}
	return Result{Valid: true, Value: t.Format("2006-01-02"), Confidence: confidence}
}

var (
	numberToken   = regexp.MustCompile(`\d[\d.,]*`)
	thousandsOnly = regexp.MustCompile(`^\d{1,3}(\.\d{3})+$`)
)

func parseNumber(text string) Result {
	folded := fold(text)
	loc := numberToken.FindStringIndex(folded)
	if loc == nil {
		return Invalid("no number found")
	}
	raw := strings.TrimRight(folded[loc[0]:loc[1]], ".,")

	switch {
	case strings.Contains(raw, ".") && strings.Contains(raw, ","):
		raw = strings.ReplaceAll(raw, ".", "")
		raw = strings.Replace(raw, ",", ".", 1)
	case strings.Contains(raw, ","):
		raw = strings.Replace(raw, ",", ".", 1)
	case thousandsOnly.MatchString(raw):
		raw = strings.ReplaceAll(raw, ".", "")
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Invalid("unparsable number")
	}

	rest := tokenize(folded[loc[1]:])
	if len(rest) > 0 {
		switch rest[0] {
		case "mil", "k":
			value *= 1_000
		case "milhao", "milhoes", "mi":
			value *= 1_000_000
		}
	}
	return Result{Valid: true, Value: strconv.FormatFloat(value, 'f', -1, 64), Confidence: 0.8}
}

// fold 转小写并去除变音符号（"Março" -> "marco"）。
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsPhrase(words, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(words) {
		return false
	}
	for i := 0; i+len(phrase) <= len(words); i++ {
		match := true
		for j := range phrase {
			if words[i+j] != phrase[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
