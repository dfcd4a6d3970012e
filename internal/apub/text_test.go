package apub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractText(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"plain", "hello", "hello"},
		{"paragraphs", "<p>first</p><p>second</p>", "first\nsecond\n"},
		{"inline markup dropped", "<p>a <b>bold</b> move</p>", "a bold move\n"},
		{"br variants", "one<br>two<br/>three<br />four", "one\ntwo\nthree\nfour"},
		{"anchor text kept", `<a href="https://x.example.org">link</a>`, "link"},
		{"control chars stripped", "a\x01b\x7fc", "abc"},
		{"empty", "", ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, ExtractText(c.src))
		})
	}
}

func TestExtractTextUnescapesEntities(t *testing.T) {
	assert.Equal(t, "fish & chips\n", ExtractText("<p>fish &amp; chips</p>"))
	assert.Equal(t, "1 < 2", ExtractText("1 &lt; 2"))
}
