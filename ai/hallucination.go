package ai

import (
	"strings"
	"unicode"
)

// FilterConfig пороги детектора повторов.
// Значения подобраны эмпирически, выносим в конфиг а не в константы
type FilterConfig struct {
	// RepeatDominanceRatio - доля одного слова в тексте, после которой
	// текст считается мусорным повтором
	RepeatDominanceRatio float64
	// RepeatMinCount - минимум вхождений доминирующего слова
	RepeatMinCount int
	// ConsecutiveRepeatLimit - столько одинаковых слов подряд = мусор
	ConsecutiveRepeatLimit int
	// MaxCompressionRatio - порог compression_ratio от декодера
	MaxCompressionRatio float64
	// MinAvgLogProb - порог уверенности декодера
	MinAvgLogProb float64
}

func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		RepeatDominanceRatio:   0.4,
		RepeatMinCount:         3,
		ConsecutiveRepeatLimit: 3,
		MaxCompressionRatio:    2.4,
		MinAvgLogProb:          -1.0,
	}
}

// Типовые галлюцинации whisper: обрывки из обучающих данных (ютуб-аутро,
// субтитровый мусор), междометия на тишине, маркеры не-речи
var hallucinationPhrases = []string{
	"thanks for watching",
	"thank you for watching",
	"thank you so much for watching",
	"please subscribe",
	"subscribe to my channel",
	"subscribe to the channel",
	"like and subscribe",
	"see you in the next video",
	"see you next time",
	"isn't it?",
	"thank you",
	"thanks",
	"bye-bye",
	"субтитры делал",
	"субтитры сделал",
	"редактор субтитров",
	"продолжение следует",
	"спасибо за просмотр",
	"подписывайтесь на канал",
	"ставьте лайки",
	"до новых встреч",
	"[music]",
	"[музыка]",
	"[applause]",
	"[аплодисменты]",
	"[laughter]",
	"[смех]",
	"(music)",
	"(музыка)",
	"♪",
}

// Короткие служебные слова не участвуют в проверке на повторы:
// "the the the" в живой речи бывает, "окей окей окей" тоже
var commonWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"is": true, "are": true, "was": true, "were": true, "to": true,
	"of": true, "in": true, "on": true, "at": true, "it": true,
	"i": true, "you": true, "he": true, "she": true, "we": true,
	"и": true, "в": true, "на": true, "не": true, "что": true,
	"я": true, "ты": true, "он": true, "она": true, "мы": true,
	"да": true, "это": true, "а": true, "но": true, "как": true,
}

// HallucinationFilter вычищает галлюцинации ASR из сырого текста.
// Чистая функция без состояния: одинаковый вход - одинаковый выход,
// filter(filter(x)) == filter(x).
type HallucinationFilter struct {
	config FilterConfig
}

func NewHallucinationFilter(config FilterConfig) *HallucinationFilter {
	if config.RepeatDominanceRatio <= 0 {
		config.RepeatDominanceRatio = 0.4
	}
	if config.RepeatMinCount <= 0 {
		config.RepeatMinCount = 3
	}
	if config.ConsecutiveRepeatLimit <= 0 {
		config.ConsecutiveRepeatLimit = 3
	}
	return &HallucinationFilter{config: config}
}

// Filter возвращает очищенный текст или пустую строку если текст
// целиком мусорный
func (f *HallucinationFilter) Filter(raw string) string {
	text := strings.TrimSpace(raw)
	if len([]rune(text)) < 2 {
		return ""
	}

	// Целиком совпадает с известной галлюцинацией (или почти целиком)
	if matchesHallucinationPhrase(text) {
		return ""
	}

	// В длинном тексте вырезаем фразы-галлюцинации, не отбрасывая
	// остальное. До неподвижной точки: вырезание может склеить куски
	// в новое вхождение ("tha" + "please subscribe" + "nks for watching")
	for {
		stripped := stripHallucinationPhrases(text)
		if stripped == text {
			break
		}
		text = stripped
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	// Остаток мог свестись к фразе в другой пунктуации ("thank. you"):
	// повторная проверка держит filter(filter(x)) == filter(x)
	if matchesHallucinationPhrase(text) {
		return ""
	}

	// После вычистки могло остаться только пунктуационное крошево
	if alnumCount(text) < 3 {
		return ""
	}

	if f.isRepetitive(text) {
		return ""
	}

	return text
}

// AcceptMetrics проверяет метрики декодера: слишком сжимаемый текст -
// зацикленный повтор, слишком низкий logprob - модель сама не верит
func (f *HallucinationFilter) AcceptMetrics(avgLogProb, compressionRatio float64) bool {
	if f.config.MaxCompressionRatio > 0 && compressionRatio > f.config.MaxCompressionRatio {
		return false
	}
	if f.config.MinAvgLogProb != 0 && avgLogProb < f.config.MinAvgLogProb {
		return false
	}
	return true
}

// matchesHallucinationPhrase - точное совпадение с фразой из списка,
// либо текст почти полностью состоит из неё
func matchesHallucinationPhrase(text string) bool {
	norm := normalizeForMatch(text)
	if norm == "" {
		return true
	}
	for _, phrase := range hallucinationPhrases {
		p := normalizeForMatch(phrase)
		if p == "" {
			continue
		}
		if norm == p {
			return true
		}
		// "Thanks for watching!" vs "thanks for watching" и т.п.:
		// фраза покрывает почти весь текст
		if strings.Contains(norm, p) && len(norm) <= len(p)+4 {
			return true
		}
	}
	return false
}

// stripHallucinationPhrases вырезает вхождения фраз по границам слов.
// Работаем в рунах: strings.ToLower меняет байтовую длину некоторых рун
// (İ, Ⱥ), байтовые индексы по lower-копии к оригиналу не приложить
func stripHallucinationPhrases(text string) string {
	runes := []rune(text)
	for _, phrase := range hallucinationPhrases {
		p := []rune(phrase)
		for {
			idx := indexPhrase(runes, p)
			if idx < 0 {
				break
			}
			runes = append(runes[:idx], runes[idx+len(p):]...)
		}
	}
	return string(runes)
}

// indexPhrase ищет фразу без учёта регистра, не залезая внутрь слова:
// "thanks" не должно откусить начало "Thanksgiving"
func indexPhrase(runes, phrase []rune) int {
	n := len(phrase)
	if n == 0 {
		return -1
	}
	for i := 0; i+n <= len(runes); i++ {
		match := true
		for j := 0; j < n; j++ {
			if unicode.ToLower(runes[i+j]) != phrase[j] {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		if isWordRune(phrase[0]) && i > 0 && isWordRune(runes[i-1]) {
			continue
		}
		if isWordRune(phrase[n-1]) && i+n < len(runes) && isWordRune(runes[i+n]) {
			continue
		}
		return i
	}
	return -1
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// normalizeForMatch - нижний регистр, без пунктуации по краям и внутри
func normalizeForMatch(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func alnumCount(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

// isRepetitive детектит зацикленный вывод декодера: одно слово
// доминирует в тексте либо повторяется много раз подряд
func (f *HallucinationFilter) isRepetitive(text string) bool {
	words := strings.Fields(strings.ToLower(text))
	if len(words) < f.config.ConsecutiveRepeatLimit {
		return false
	}

	counts := make(map[string]int)
	consecutive := 1
	prev := ""
	for _, w := range words {
		w = trimPunct(w)
		if w == "" {
			continue
		}
		if commonWords[w] {
			prev = ""
			consecutive = 1
			continue
		}
		counts[w]++
		if w == prev {
			consecutive++
			if consecutive >= f.config.ConsecutiveRepeatLimit {
				return true
			}
		} else {
			consecutive = 1
		}
		prev = w
	}

	totalSignificant := 0
	for _, c := range counts {
		totalSignificant += c
	}
	if totalSignificant == 0 {
		return false
	}
	for _, c := range counts {
		if c >= f.config.RepeatMinCount &&
			float64(c)/float64(totalSignificant) >= f.config.RepeatDominanceRatio {
			return true
		}
	}
	return false
}

func trimPunct(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
