// Package langdetect guesses the language of a short query from the scripts it uses.
package langdetect

import (
	"strings"
	"unicode"
)

// Fallback is returned when nothing more specific is recognized.
const Fallback = "en"

// persianLetters are Arabic-script letters used by Persian but not Arabic.
const persianLetters = "پچژگکی"

// vietnameseLetters are Latin letters whose diacritics are specific to Vietnamese.
const vietnameseLetters = "ăâđêôơư" +
	"ạảấầẩẫậắằẳẵặẹẻẽếềểễệỉịọỏốồổỗộớờởỡợụủứừửữựỳỵỷỹ"

// Result is a detected language with the share of letters that supported it.
type Result struct {
	Language   string
	Confidence float64
}

// Detect returns the most likely language code for text, or Fallback.
func Detect(text string) string {
	return DetectWithConfidence(text).Language
}

// DetectWithConfidence counts letters per script and picks the dominant one.
// Kana anywhere means Japanese even when Han characters dominate.
func DetectWithConfidence(text string) Result {
	var letters, han, kana, hangul, cyrillic, arabic, persian, latin, viet int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		lower := unicode.ToLower(r)
		switch {
		case unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
			kana++
		case unicode.Is(unicode.Han, r):
			han++
		case unicode.Is(unicode.Hangul, r):
			hangul++
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++
		case unicode.Is(unicode.Arabic, r):
			arabic++
			if strings.ContainsRune(persianLetters, r) {
				persian++
			}
		case unicode.Is(unicode.Latin, r):
			latin++
			if strings.ContainsRune(vietnameseLetters, lower) {
				viet++
			}
		}
	}
	if letters == 0 {
		return Result{Language: Fallback}
	}

	share := func(n int) float64 { return float64(n) / float64(letters) }

	switch {
	case kana > 0:
		return Result{Language: "ja", Confidence: share(kana + han)}
	case hangul > 0 && hangul >= han:
		return Result{Language: "ko", Confidence: share(hangul)}
	case han > 0 && han >= latin:
		return Result{Language: "zh", Confidence: share(han)}
	case cyrillic > 0 && cyrillic >= latin:
		return Result{Language: "ru", Confidence: share(cyrillic)}
	case arabic > 0 && arabic >= latin:
		if persian > 0 {
			return Result{Language: "fa", Confidence: share(arabic)}
		}
		return Result{Language: "ar", Confidence: share(arabic)}
	case viet > 0:
		return Result{Language: "vi", Confidence: share(latin)}
	case latin > 0:
		return Result{Language: "en", Confidence: share(latin)}
	}
	return Result{Language: Fallback}
}
