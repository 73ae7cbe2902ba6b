// Package render converts standard Markdown (the LM's native output
// format) into each channel's own rich-text dialect, and resolves the
// attachment markers a response embeds into outbound media.
package render

import (
	"fmt"
	"regexp"
	"strings"
)

// FormatForChannel dispatches to the formatter appropriate for a given
// channel name, falling back to passthrough for anything unrecognized.
func FormatForChannel(text, channel string) string {
	switch strings.ToLower(strings.TrimSpace(channel)) {
	case "whatsapp":
		return FormatForWhatsApp(text)
	case "telegram":
		return FormatForTelegram(text)
	case "slack":
		return FormatForSlack(text)
	case "teams":
		return text // Teams renders standard Markdown natively.
	case "cli", "plain":
		return FormatForPlainText(text)
	default:
		return text
	}
}

var (
	telegramCodeBlockRe   = regexp.MustCompile("(?s)```[a-zA-Z0-9_]*\n?(.*?)```")
	telegramInlineCodeRe  = regexp.MustCompile("`([^`]+)`")
	telegramHeaderRe      = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	telegramBlockquoteRe  = regexp.MustCompile(`(?m)^>\s*(.*)$`)
	telegramLinkRe        = regexp.MustCompile(`\[([^]]+)\]\(([^)]+)\)`)
	telegramBoldStarRe    = regexp.MustCompile(`(?s)\*\*(.+?)\*\*`)
	telegramBoldUnderRe   = regexp.MustCompile(`(?s)__(.+?)__`)
	telegramItalicRe      = regexp.MustCompile(`\b_([^_]+)_\b`)
	telegramStrikeRe      = regexp.MustCompile(`(?s)~~(.+?)~~`)
	telegramBulletRe      = regexp.MustCompile(`(?m)^[-*]\s+`)
)

func telegramEscapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// FormatForTelegram converts Markdown to Telegram HTML: <b>, <i>,
// <code>, <pre>, <s>, <a>. Header and blockquote markers are stripped,
// keeping the line's text. Code regions are protected
// with sentinel placeholders before any other transformation runs, so
// a '*' or backtick inside a code block or inline code span can never
// be mistaken for formatting syntax; they are restored, HTML-escaped,
// only at the very end. Everything else is HTML-escaped before link/
// bold/italic/strikethrough conversion introduces literal tags of its
// own, so those tags are never re-escaped.
func FormatForTelegram(text string) string {
	type protected struct {
		placeholder string
		html        string
	}
	var blocks []protected
	protect := func(html string) string {
		ph := fmt.Sprintf("\x00CB%d\x00", len(blocks))
		blocks = append(blocks, protected{ph, html})
		return ph
	}

	text = telegramCodeBlockRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := telegramCodeBlockRe.FindStringSubmatch(m)
		return protect("<pre><code>" + telegramEscapeHTML(sub[1]) + "</code></pre>")
	})
	text = telegramInlineCodeRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := telegramInlineCodeRe.FindStringSubmatch(m)
		return protect("<code>" + telegramEscapeHTML(sub[1]) + "</code>")
	})

	text = telegramHeaderRe.ReplaceAllString(text, "$1")
	text = telegramBlockquoteRe.ReplaceAllString(text, "$1")

	text = telegramEscapeHTML(text)

	text = telegramLinkRe.ReplaceAllString(text, `<a href="$2">$1</a>`)
	text = telegramBoldStarRe.ReplaceAllString(text, "<b>$1</b>")
	text = telegramBoldUnderRe.ReplaceAllString(text, "<b>$1</b>")
	text = telegramItalicRe.ReplaceAllString(text, "<i>$1</i>")
	text = telegramStrikeRe.ReplaceAllString(text, "<s>$1</s>")
	text = telegramBulletRe.ReplaceAllString(text, "• ")

	for _, b := range blocks {
		text = strings.Replace(text, b.placeholder, b.html, 1)
	}

	return text
}

// FormatForSlack converts Markdown to Slack's mrkdwn dialect: *bold*,
// ~strike~, <url|label> links.
func FormatForSlack(text string) string {
	for {
		start := strings.Index(text, "**")
		if start == -1 {
			break
		}
		end := strings.Index(text[start+2:], "**")
		if end == -1 {
			break
		}
		end += start + 2
		inner := text[start+2 : end]
		text = text[:start] + "*" + inner + "*" + text[end+2:]
	}

	for {
		start := strings.Index(text, "~~")
		if start == -1 {
			break
		}
		end := strings.Index(text[start+2:], "~~")
		if end == -1 {
			break
		}
		end += start + 2
		inner := text[start+2 : end]
		text = text[:start] + "~" + inner + "~" + text[end+2:]
	}

	for {
		start := strings.Index(text, "[")
		if start == -1 {
			break
		}
		mid := strings.Index(text[start:], "](")
		if mid == -1 {
			break
		}
		mid += start
		end := strings.Index(text[mid:], ")")
		if end == -1 {
			break
		}
		end += mid
		label := text[start+1 : mid]
		url := text[mid+2 : end]
		text = text[:start] + "<" + url + "|" + label + ">" + text[end+1:]
	}

	return text
}

// FormatForWhatsApp converts Markdown to WhatsApp's supported subset:
// *bold*, _italic_, ~strike~, monospace, code fences. Headers collapse
// to bold; links flatten to "text (url)"; images become [Image: alt].
func FormatForWhatsApp(text string) string {
	type placeholderBlock struct {
		placeholder string
		content     string
	}
	var blocks []placeholderBlock
	blockIdx := 0
	nextPH := func() string {
		ph := fmt.Sprintf("<<<NANOCLAW_BLOCK_%d>>>", blockIdx)
		blockIdx++
		return ph
	}

	codeBlockRe := regexp.MustCompile("(?s)```[a-zA-Z0-9]*\\n?(.*?)```")
	text = codeBlockRe.ReplaceAllStringFunc(text, func(m string) string {
		inner := strings.TrimSuffix(strings.TrimPrefix(m, "```"), "```")
		for i := 0; i < len(inner); i++ {
			if inner[i] == '\n' {
				inner = inner[i+1:]
				break
			}
			if (inner[i] >= 'a' && inner[i] <= 'z') || (inner[i] >= 'A' && inner[i] <= 'Z') || (inner[i] >= '0' && inner[i] <= '9') {
				continue
			}
			break
		}
		ph := nextPH()
		blocks = append(blocks, placeholderBlock{ph, "```\n" + strings.TrimSpace(inner) + "\n```"})
		return ph
	})

	inlineCodeRe := regexp.MustCompile("`[^`]+`")
	text = inlineCodeRe.ReplaceAllStringFunc(text, func(m string) string {
		ph := nextPH()
		blocks = append(blocks, placeholderBlock{ph, m})
		return ph
	})

	linkRe := regexp.MustCompile(`\[([^]]*)\]\(([^)]*)\)`)
	text = linkRe.ReplaceAllString(text, "$1 ($2)")

	imgRe := regexp.MustCompile(`!\[([^]]*)\]\([^)]*\)`)
	text = imgRe.ReplaceAllString(text, "[Image: $1]")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			j := 0
			for j < len(trimmed) && trimmed[j] == '#' {
				j++
			}
			for j < len(trimmed) && trimmed[j] == ' ' {
				j++
			}
			heading := trimmed[j:]
			idx := strings.Index(line, trimmed)
			prefix := ""
			if idx > 0 {
				prefix = strings.TrimLeft(line[:idx], " \t")
			}
			lines[i] = prefix + "\x02" + heading + "\x02"
		}
	}
	text = strings.Join(lines, "\n")

	// Bold is marked with \x02 until the single-star italic pass has
	// run, so that pass cannot turn the new *bold* into _bold_.
	text = regexp.MustCompile(`\*\*([^*]+)\*\*`).ReplaceAllString(text, "\x02$1\x02")
	text = regexp.MustCompile(`__([^_]+)__`).ReplaceAllString(text, "\x02$1\x02")

	text = regexp.MustCompile(`(?m)^[-]\s+`).ReplaceAllString(text, "• ")
	text = regexp.MustCompile(`(?m)^\*\s+`).ReplaceAllString(text, "• ")

	italicRe := regexp.MustCompile(`\*([^*\n]+)\*`)
	text = italicRe.ReplaceAllStringFunc(text, func(m string) string {
		inner := m[1 : len(m)-1]
		if strings.ContainsAny(inner, "-_/\\@#.") {
			return m
		}
		return "_" + inner + "_"
	})
	text = strings.ReplaceAll(text, "\x02", "*")

	text = regexp.MustCompile(`~~([^~]+)~~`).ReplaceAllString(text, "~$1~")

	text = regexp.MustCompile(`(?m)^[-]{3,}\s*$`).ReplaceAllString(text, "───────")
	text = regexp.MustCompile(`(?m)^[*]{3,}\s*$`).ReplaceAllString(text, "───────")

	text = collapseMarkdownTables(text)

	for _, b := range blocks {
		text = strings.ReplaceAll(text, b.placeholder, b.content)
	}

	return strings.TrimSpace(text)
}

func collapseMarkdownTables(text string) string {
	lines := strings.Split(text, "\n")
	var result []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.Contains(trimmed, "|") {
			sepOnly := true
			for _, c := range trimmed {
				if c != '|' && c != '-' && c != ':' && c != ' ' {
					sepOnly = false
					break
				}
			}
			if sepOnly && strings.Count(trimmed, "-") > 1 {
				result = append(result, "─────────────────")
				continue
			}
		}
		result = append(result, line)
	}
	return strings.Join(result, "\n")
}

// FormatForPlainText strips all Markdown formatting, used for CLI and
// any channel with no rich-text support.
func FormatForPlainText(text string) string {
	codeBlockRe := regexp.MustCompile("(?s)```[a-zA-Z0-9]*\\n?(.*?)```")
	text = codeBlockRe.ReplaceAllString(text, "$1")

	text = regexp.MustCompile("`([^`]+)`").ReplaceAllString(text, "$1")
	text = regexp.MustCompile(`\[([^]]*)\]\([^)]*\)`).ReplaceAllString(text, "$1")
	text = regexp.MustCompile(`!\[([^]]*)\]\([^)]*\)`).ReplaceAllString(text, "$1")
	text = regexp.MustCompile(`(?m)^#+\s+`).ReplaceAllString(text, "")
	text = regexp.MustCompile(`\*\*([^*]+)\*\*`).ReplaceAllString(text, "$1")
	text = regexp.MustCompile(`__([^_]+)__`).ReplaceAllString(text, "$1")
	text = regexp.MustCompile(`\*([^*]+)\*`).ReplaceAllString(text, "$1")
	text = regexp.MustCompile(`_([^_]+)_`).ReplaceAllString(text, "$1")
	text = regexp.MustCompile(`~~([^~]+)~~`).ReplaceAllString(text, "$1")
	text = regexp.MustCompile(`(?m)^[-*]{3,}\s*$`).ReplaceAllString(text, "")
	text = regexp.MustCompile(`(?m)^>\s*`).ReplaceAllString(text, "")
	text = regexp.MustCompile(`\|`).ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}
