package render

import (
	"strings"
	"testing"
)

func TestFormatForTelegramBoldItalicStrikethrough(t *testing.T) {
	got := FormatForTelegram("**bold** and _italic_ and ~~gone~~")
	want := "<b>bold</b> and <i>italic</i> and <s>gone</s>"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatForTelegramHeadersAndBlockquotes(t *testing.T) {
	got := FormatForTelegram("# Title\n> a quoted line\nplain")
	if strings.Contains(got, "#") || strings.Contains(got, ">") {
		t.Fatalf("expected header/blockquote markers stripped, got %q", got)
	}
	if !strings.Contains(got, "Title") || !strings.Contains(got, "a quoted line") {
		t.Fatalf("expected the underlying text to survive, got %q", got)
	}
}

func TestFormatForTelegramLinks(t *testing.T) {
	got := FormatForTelegram("see [docs](https://example.com/x)")
	want := `see <a href="https://example.com/x">docs</a>`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatForTelegramEscapesHTMLOutsideCode(t *testing.T) {
	got := FormatForTelegram("a < b && b > c")
	if !strings.Contains(got, "&lt;") || !strings.Contains(got, "&gt;") || !strings.Contains(got, "&amp;") {
		t.Fatalf("expected HTML entities to be escaped, got %q", got)
	}
}

func TestFormatForTelegramProtectsCodeFromOtherConversions(t *testing.T) {
	got := FormatForTelegram("before `*not bold* <tag>` after")
	want := "before <code>*not bold* &lt;tag&gt;</code> after"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatForTelegramFencedCodeBlockSurvivesFormattingMarkers(t *testing.T) {
	input := "```\n**not bold** _not italic_\n```"
	got := FormatForTelegram(input)
	if strings.Contains(got, "<b>") || strings.Contains(got, "<i>") {
		t.Fatalf("expected fenced code contents to be immune to bold/italic conversion, got %q", got)
	}
	if !strings.Contains(got, "<pre><code>") || !strings.Contains(got, "</code></pre>") {
		t.Fatalf("expected the fenced block to render as <pre><code>, got %q", got)
	}
	if !strings.Contains(got, "**not bold** _not italic_") {
		t.Fatalf("expected the raw code text preserved verbatim, got %q", got)
	}
}

func TestFormatForTelegramBullets(t *testing.T) {
	got := FormatForTelegram("- one\n- two")
	if !strings.Contains(got, "• one") || !strings.Contains(got, "• two") {
		t.Fatalf("expected bullet markers converted, got %q", got)
	}
}

func TestFormatForTelegramItalicDoesNotFireInsideIdentifiers(t *testing.T) {
	got := FormatForTelegram("the variable some_var_name stays put")
	if strings.Contains(got, "<i>") {
		t.Fatalf("expected underscores inside an identifier to not trigger italics, got %q", got)
	}
}

func TestFormatForTelegramRoundTripsACorpusWithoutPanicking(t *testing.T) {
	corpus := []string{
		"",
		"plain text",
		"**bold**",
		"*also bold via underscore bold not triggered*",
		"`code` and ```\nblock\n```",
		"# H1\n## H2\nbody",
		"> quote\nnormal",
		"[link](http://example.com)",
		"~~strike~~ and _italic_ and **bold**",
		"- a\n- b\n* c",
		"mixed <html> & entities",
		"nested `inline` then **bold** then a [link](url) then a header\n# Header",
	}
	for _, in := range corpus {
		got := FormatForTelegram(in)
		if strings.Contains(got, "\x00") {
			t.Fatalf("leaked an internal placeholder into output for input %q: %q", in, got)
		}
	}
}

func TestFormatForWhatsAppBoldAndCodeFence(t *testing.T) {
	got := FormatForWhatsApp("**bold** and `code`")
	if !strings.Contains(got, "*bold*") {
		t.Fatalf("expected WhatsApp bold conversion, got %q", got)
	}
	if !strings.Contains(got, "`code`") {
		t.Fatalf("expected inline code preserved, got %q", got)
	}
}

func TestFormatForPlainTextStripsAllMarkup(t *testing.T) {
	got := FormatForPlainText("# Title\n**bold** _italic_ `code` [link](url)")
	for _, marker := range []string{"#", "**", "`", "[", "]", "("} {
		if strings.Contains(got, marker) {
			t.Fatalf("expected %q stripped from plain text, got %q", marker, got)
		}
	}
}

func TestFormatForChannelDispatch(t *testing.T) {
	if FormatForChannel("**x**", "telegram") != "<b>x</b>" {
		t.Fatalf("expected telegram dispatch")
	}
	if FormatForChannel("**x**", "whatsapp") != "*x*" {
		t.Fatalf("expected whatsapp dispatch")
	}
	if FormatForChannel("**x**", "unknown-channel") != "**x**" {
		t.Fatalf("expected passthrough for an unrecognized channel")
	}
}
