package apub

import (
	"html"
	"strings"
)

// ExtractText reduces note HTML to its text content: tags are dropped, a
// newline is emitted after each paragraph or <br>, entities are unescaped,
// and control characters are stripped.
func ExtractText(src string) string {
	var b strings.Builder
	inTag := false
	tagStart := 0
	for i, r := range src {
		switch {
		case inTag:
			if r == '>' {
				inTag = false
				if breaksLine(src[tagStart:i]) {
					b.WriteByte('\n')
				}
			}
		case r == '<':
			inTag = true
			tagStart = i + 1
		default:
			b.WriteRune(r)
		}
	}
	return stripControl(html.UnescapeString(b.String()))
}

// breaksLine reports whether a tag ends a line of text: a closing </p> or
// any <br> variant.
func breaksLine(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	closing := strings.HasPrefix(tag, "/")
	tag = strings.Trim(tag, "/ ")
	if name, _, found := strings.Cut(tag, " "); found {
		tag = name
	}
	return (closing && tag == "p") || (!closing && tag == "br")
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
