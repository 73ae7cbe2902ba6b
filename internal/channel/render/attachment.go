package render

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	imageTagRe    = regexp.MustCompile(`\[image:\s*([^\]]+)\]`)
	mdImageRe     = regexp.MustCompile(`!\[([^]]*)\]\(([^)]+)\)`)
	generalFileRe = regexp.MustCompile(
		"(?:`([^`]+\\.\\w{1,5})`" +
			`|(/[\w./ -]+\.\w{1,5})` +
			`|((?:screenshots|media|files|documents|output|generated)/[\w./ -]+\.\w{1,5}))`)
)

// ExtractAttachments scans rendered response text for embedded
// attachment markers — literal "[image: PATH]" tags, Markdown image
// syntax, and bare file references under a handful of well-known
// output directories — resolves each against the workspace, and
// returns the cleaned text plus the list of resolved absolute paths.
//
// Resolution order per candidate: literal path, then workspace-
// relative path; the first one that exists on disk wins. Candidates
// that resolve to nothing are left untouched in the returned text.
func ExtractAttachments(text, workspace string) (string, []string) {
	var files []string
	seen := map[string]bool{}
	addFile := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}
	resolve := func(raw string) string {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return ""
		}
		if isFile(raw) {
			return raw
		}
		if workspace != "" {
			joined := filepath.Join(workspace, raw)
			if isFile(joined) {
				return joined
			}
		}
		return ""
	}

	for _, m := range imageTagRe.FindAllStringSubmatch(text, -1) {
		if resolved := resolve(m[1]); resolved != "" {
			addFile(resolved)
			text = strings.Replace(text, m[0], "", 1)
		}
	}

	for _, m := range mdImageRe.FindAllStringSubmatch(text, -1) {
		if resolved := resolve(m[2]); resolved != "" {
			addFile(resolved)
			text = strings.Replace(text, m[0], "", 1)
		}
	}

	for _, m := range generalFileRe.FindAllStringSubmatch(text, -1) {
		raw := firstNonEmpty(m[1], m[2], m[3])
		if resolved := resolve(raw); resolved != "" {
			addFile(resolved)
			text = strings.Replace(text, m[0], "", 1)
		}
	}

	text = regexp.MustCompile(`\n{3,}`).ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text), files
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
