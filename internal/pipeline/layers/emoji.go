package layers

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kyokomi/emoji/v2"
)

var shortcodePattern = regexp.MustCompile(`:[a-zA-Z0-9_+\-]+:`)

// Emojify replaces known :shortcode: sequences with their unicode emoji.
// Unknown shortcodes are left as written.
func Emojify(s string) string {
	if !strings.Contains(s, ":") {
		return s
	}
	codes := emoji.CodeMap()
	return shortcodePattern.ReplaceAllStringFunc(s, func(code string) string {
		if e, ok := codes[code]; ok {
			return e
		}
		return code
	})
}

// EmojiImageURL returns the image for a shortcode using twemoji file
// naming under baseURL. The colons around the shortcode are optional.
func EmojiImageURL(baseURL, shortcode string) (string, bool) {
	code := strings.TrimSpace(shortcode)
	if code == "" {
		return "", false
	}
	if !strings.HasPrefix(code, ":") {
		code = ":" + code + ":"
	}

	e, ok := emoji.CodeMap()[code]
	if !ok {
		return "", false
	}
	return strings.TrimRight(baseURL, "/") + "/" + twemojiName(e) + ".png", true
}

// twemojiName joins the codepoints in lowercase hex. The U+FE0F variation
// selector is dropped unless the sequence contains a zero-width joiner.
func twemojiName(e string) string {
	keepVS := strings.ContainsRune(e, '\u200d')
	parts := make([]string, 0, 4)
	for _, r := range e {
		if r == '\ufe0f' && !keepVS {
			continue
		}
		parts = append(parts, strconv.FormatInt(int64(r), 16))
	}
	return strings.Join(parts, "-")
}
