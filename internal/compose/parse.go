package compose

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// flowCommands are control words that must never be accepted as field
// values, e.g. a title of "yayınla".
var flowCommands = map[string]struct{}{
	"yayınla": {}, "yayinla": {}, "publish": {}, "sil": {}, "kaldır": {}, "kaldir": {},
	"iptal": {}, "vazgeç": {}, "vazgec": {}, "cancel": {}, "evet": {}, "yes": {},
	"hayır": {}, "hayir": {}, "no": {}, "tamam": {}, "ok": {}, "onayla": {},
}

// IsFlowCommand reports a bare control word.
func IsFlowCommand(text string) bool {
	_, ok := flowCommands[strings.ToLower(strings.TrimSpace(text))]
	return ok
}

var priceRe = regexp.MustCompile(`(?i)([\d][\d.,]*)\s*(k|bin)?\s*(₺|tl|try|\$|usd|lira)?`)

// ParsePrice extracts a price from free text. It understands "250k" and
// "250 bin" as thousands, currency symbols before or after the number, and
// both Turkish (1.250,50) and plain (1250.50) separator styles.
func ParsePrice(text string) (float64, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}
	// strip a leading currency symbol so "₺500" parses
	text = strings.TrimLeft(text, "₺$ ")
	m := priceRe.FindStringSubmatch(text)
	if m == nil || m[1] == "" {
		return 0, false
	}
	num := m[1]
	num = strings.TrimRight(num, ".,")

	var value float64
	var err error
	switch {
	case strings.Contains(num, ",") && strings.Contains(num, "."):
		// turkish style: dot thousands, comma decimal
		num = strings.ReplaceAll(num, ".", "")
		num = strings.Replace(num, ",", ".", 1)
		value, err = strconv.ParseFloat(num, 64)
	case strings.Contains(num, ","):
		// lone comma is a decimal separator
		num = strings.Replace(num, ",", ".", 1)
		value, err = strconv.ParseFloat(num, 64)
	case strings.Count(num, ".") > 1:
		// multiple dots can only be thousands separators
		num = strings.ReplaceAll(num, ".", "")
		value, err = strconv.ParseFloat(num, 64)
	case strings.Contains(num, "."):
		// single dot: thousands separator when exactly 3 digits follow
		parts := strings.SplitN(num, ".", 2)
		if len(parts[1]) == 3 {
			num = parts[0] + parts[1]
		}
		value, err = strconv.ParseFloat(num, 64)
	default:
		value, err = strconv.ParseFloat(num, 64)
	}
	if err != nil || value <= 0 {
		return 0, false
	}
	if strings.EqualFold(m[2], "k") || strings.EqualFold(m[2], "bin") {
		value *= 1000
	}
	return value, true
}

// LooksLikeBarePrice reports a message that is essentially just a price,
// safe to apply to the price slot without an LLM round trip.
func LooksLikeBarePrice(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == '.' || r == ',' || r == ' ' {
			return -1
		}
		return unicode.ToLower(r)
	}, text)
	switch stripped {
	case "", "k", "bin", "₺", "tl", "try", "$", "usd", "lira", "tl₺", "₺tl":
		_, ok := ParsePrice(text)
		return ok
	}
	return false
}

// category synonym table, lowercased keys
var categorySynonyms = map[string]string{
	"telefon": "Elektronik", "bilgisayar": "Elektronik", "laptop": "Elektronik",
	"tablet": "Elektronik", "televizyon": "Elektronik", "elektronik": "Elektronik",
	"mobilya": "Ev & Yaşam", "ev": "Ev & Yaşam", "mutfak": "Ev & Yaşam",
	"beyaz eşya": "Ev & Yaşam", "ev & yaşam": "Ev & Yaşam", "ev ve yaşam": "Ev & Yaşam",
	"giyim": "Moda & Giyim", "kıyafet": "Moda & Giyim", "ayakkabı": "Moda & Giyim",
	"moda": "Moda & Giyim", "moda & giyim": "Moda & Giyim",
	"bebek": "Anne & Bebek", "anne": "Anne & Bebek", "anne & bebek": "Anne & Bebek",
	"spor": "Spor & Outdoor", "outdoor": "Spor & Outdoor", "kamp": "Spor & Outdoor",
	"bisiklet": "Spor & Outdoor", "spor & outdoor": "Spor & Outdoor",
	"kitap": "Kitap & Hobi", "hobi": "Kitap & Hobi", "oyun": "Kitap & Hobi",
	"kitap & hobi": "Kitap & Hobi",
	"araba": "Otomotiv", "oto": "Otomotiv", "araç": "Otomotiv", "otomotiv": "Otomotiv",
	"motosiklet": "Otomotiv",
	"daire": "Emlak", "arsa": "Emlak", "emlak": "Emlak", "konut": "Emlak",
	"diğer": "Diğer", "diger": "Diğer",
}

// NormalizeCategory maps free text onto the allowed category table using
// exact matches first, then the synonym table, then token containment.
func NormalizeCategory(text string, allowed []string) (string, bool) {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return "", false
	}
	for _, cat := range allowed {
		if strings.EqualFold(cat, lowered) {
			return cat, true
		}
	}
	if canonical, ok := categorySynonyms[lowered]; ok {
		if containsCategory(allowed, canonical) {
			return canonical, true
		}
	}
	for syn, canonical := range categorySynonyms {
		if strings.Contains(lowered, syn) && containsCategory(allowed, canonical) {
			return canonical, true
		}
	}
	return "", false
}

func containsCategory(allowed []string, cat string) bool {
	for _, a := range allowed {
		if a == cat {
			return true
		}
	}
	return false
}

// ValidTitle accepts titles of at least 3 characters that are not flow
// commands.
func ValidTitle(text string) bool {
	text = strings.TrimSpace(text)
	return len([]rune(text)) >= 3 && !IsFlowCommand(text)
}

// ValidDescription accepts descriptions of at least 5 characters that are
// not flow commands.
func ValidDescription(text string) bool {
	text = strings.TrimSpace(text)
	return len([]rune(text)) >= 5 && !IsFlowCommand(text)
}

var fieldEditNames = map[string]string{
	"başlık": "title", "baslik": "title", "title": "title",
	"açıklama": "description", "aciklama": "description", "description": "description",
	"fiyat": "price", "price": "price",
	"kategori": "category", "category": "category",
}

// ParseFieldEdit parses explicit field-edit commands like "fiyat: 500" or
// "title: iPhone 13". Returns the canonical field name and raw value.
func ParseFieldEdit(text string) (field, value string, ok bool) {
	parts := strings.SplitN(text, ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	name := strings.ToLower(strings.TrimSpace(parts[0]))
	canonical, known := fieldEditNames[name]
	if !known {
		return "", "", false
	}
	value = strings.TrimSpace(parts[1])
	if value == "" {
		return "", "", false
	}
	return canonical, value, true
}
