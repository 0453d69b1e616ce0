package ai

import (
	"strings"
	"testing"
)

func TestHallucinationFilter(t *testing.T) {
	f := NewHallucinationFilter(DefaultFilterConfig())

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace", "   ", ""},
		{"single char", "a", ""},
		{"youtube outro", "Thanks for watching", ""},
		{"youtube outro punctuated", "Thanks for watching!", ""},
		{"filler question", "isn't it?", ""},
		{"bare thank you", "Thank you.", ""},
		{"music marker", "[MUSIC]", ""},
		{"russian outro", "Спасибо за просмотр", ""},
		{"normal speech", "Hello there, how are you doing today", "Hello there, how are you doing today"},
		{"repetition", "no no no no no", ""},
		{"russian normal", "Давайте обсудим план на следующую неделю", "Давайте обсудим план на следующую неделю"},
		{"punctuation only after strip", "?! ...", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.Filter(tt.in); got != tt.want {
				t.Errorf("Filter(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// filter(filter(x)) == filter(x)
func TestHallucinationFilterIdempotent(t *testing.T) {
	f := NewHallucinationFilter(DefaultFilterConfig())

	inputs := []string{
		"",
		"Thanks for watching",
		"Hello there, how are you doing today",
		"no no no no no",
		"Ну что, начнём встречу? Thank you Все собрались",
		"word word word other things here",
		// После вычистки остаток сводится к фразе в другой пунктуации
		"[music] thank. you",
		"xthanksy thank. you",
		"Thanksgiving dinner plans",
		"ȺȺȺ отчёт готов, thanks for watching",
	}
	for _, in := range inputs {
		once := f.Filter(in)
		twice := f.Filter(once)
		if once != twice {
			t.Errorf("not idempotent for %q: first=%q, second=%q", in, once, twice)
		}
	}
}

func TestHallucinationFilterStripsPhraseFromLongerText(t *testing.T) {
	f := NewHallucinationFilter(DefaultFilterConfig())

	got := f.Filter("Итак, переходим к бюджету. Спасибо за просмотр")
	if got == "" {
		t.Fatal("expected text to survive phrase stripping")
	}
	if strings.Contains(strings.ToLower(got), "спасибо за просмотр") {
		t.Errorf("hallucination phrase not stripped: %q", got)
	}
}

// Руны, меняющие байтовую длину при смене регистра (Ⱥ: 2 байта в
// верхнем, 3 в нижнем), не должны ломать вырезание фраз
func TestHallucinationFilterStripsAfterMultibyteRunes(t *testing.T) {
	f := NewHallucinationFilter(DefaultFilterConfig())

	got := f.Filter("ȺȺȺȺ and then he said thanks for watching")
	if got == "" {
		t.Fatal("expected text to survive phrase stripping")
	}
	if strings.Contains(strings.ToLower(got), "thanks for watching") {
		t.Errorf("hallucination phrase not stripped: %q", got)
	}
	if !strings.Contains(got, "ȺȺȺȺ") {
		t.Errorf("leading runes mangled: %q", got)
	}
}

// Фразы вырезаются только по границам слов: "thanks" не должно
// откусывать начало "Thanksgiving"
func TestHallucinationFilterWordBoundaries(t *testing.T) {
	f := NewHallucinationFilter(DefaultFilterConfig())

	want := "Thanksgiving is next week, we should plan the menu"
	if got := f.Filter(want); got != want {
		t.Errorf("Filter(%q) = %q, want unchanged", want, got)
	}
}

func TestHallucinationFilterRepetition(t *testing.T) {
	f := NewHallucinationFilter(DefaultFilterConfig())

	// Доминирующее слово: 4 из 7 значимых слов
	if got := f.Filter("окей окей поехали окей дальше окей потом"); got != "" {
		t.Errorf("expected dominant-word rejection, got %q", got)
	}

	// Служебные слова подряд - не мусор
	want := "и и и вот тогда мы решили продолжить работу"
	if got := f.Filter(want); got != want {
		t.Errorf("common words must be exempt, got %q", got)
	}

	// Два повтора подряд - нормальная речь
	want = "очень очень важный момент для обсуждения"
	if got := f.Filter(want); got != want {
		t.Errorf("two consecutive repeats must pass, got %q", got)
	}
}

func TestAcceptMetrics(t *testing.T) {
	f := NewHallucinationFilter(DefaultFilterConfig())

	tests := []struct {
		name             string
		avgLogProb       float64
		compressionRatio float64
		want             bool
	}{
		{"confident", -0.2, 1.3, true},
		{"looped output", -0.3, 3.1, false},
		{"low confidence", -1.5, 1.2, false},
		{"borderline", -0.9, 2.3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.AcceptMetrics(tt.avgLogProb, tt.compressionRatio); got != tt.want {
				t.Errorf("AcceptMetrics(%f, %f) = %v, want %v", tt.avgLogProb, tt.compressionRatio, got, tt.want)
			}
		})
	}
}
