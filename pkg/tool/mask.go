package tool

import "strings"

// MaskAadhaar скрывает номер Aadhaar, оставляя видимыми последние 4 цифры
func MaskAadhaar(number string) string {
	number = strings.ReplaceAll(number, " ", "")
	if len(number) <= 4 {
		return number
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}

// TruncateLine обрезает строку до max символов для показа в интерфейсе
func TruncateLine(line string, max int) string {
	runes := []rune(line)
	if max <= 0 || len(runes) <= max {
		return line
	}
	return string(runes[:max]) + "…"
}
