package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolveWithinAllowedDir resolves path against allowedDir (if set)
// and rejects any resolution that escapes it, matching the
// allowed_dir scoping convention every filesystem tool shares.
func resolveWithinAllowedDir(allowedDir, path string) (string, error) {
	abs := path
	if !filepath.IsAbs(abs) {
		base := allowedDir
		if base == "" {
			base, _ = os.Getwd()
		}
		abs = filepath.Join(base, path)
	}
	abs = filepath.Clean(abs)

	if allowedDir == "" {
		return abs, nil
	}
	allowedAbs, err := filepath.Abs(allowedDir)
	if err != nil {
		return "", err
	}
	if abs != allowedAbs && !strings.HasPrefix(abs, allowedAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes allowed directory %q", path, allowedDir)
	}
	return abs, nil
}

// ReadFileTool reads a UTF-8 text file.
type ReadFileTool struct{ AllowedDir string }

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a text file." }
func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"path": map[string]any{"type": "string"}},
		"required":   []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	abs, err := resolveWithinAllowedDir(t.AllowedDir, path)
	if err != nil {
		return &Result{ForLLM: fmt.Sprintf("Error: %v", err), IsError: true}
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return &Result{ForLLM: fmt.Sprintf("Error: reading %s: %v", path, err), IsError: true}
	}
	return &Result{ForLLM: string(data)}
}

// WriteFileTool writes/overwrites a text file.
type WriteFileTool struct{ AllowedDir string }

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write (overwriting) a text file." }
func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string"},
			"content": map[string]any{"type": "string"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	abs, err := resolveWithinAllowedDir(t.AllowedDir, path)
	if err != nil {
		return &Result{ForLLM: fmt.Sprintf("Error: %v", err), IsError: true}
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return &Result{ForLLM: fmt.Sprintf("Error: %v", err), IsError: true}
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return &Result{ForLLM: fmt.Sprintf("Error: writing %s: %v", path, err), IsError: true}
	}
	return &Result{ForLLM: fmt.Sprintf("Wrote %d bytes to %s", len(content), path)}
}

// EditFileTool replaces one occurrence of old_text with new_text.
type EditFileTool struct{ AllowedDir string }

func (t *EditFileTool) Name() string        { return "edit_file" }
func (t *EditFileTool) Description() string { return "Replace one exact occurrence of text within a file." }
func (t *EditFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":     map[string]any{"type": "string"},
			"old_text": map[string]any{"type": "string"},
			"new_text": map[string]any{"type": "string"},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)
	abs, err := resolveWithinAllowedDir(t.AllowedDir, path)
	if err != nil {
		return &Result{ForLLM: fmt.Sprintf("Error: %v", err), IsError: true}
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return &Result{ForLLM: fmt.Sprintf("Error: reading %s: %v", path, err), IsError: true}
	}
	count := strings.Count(string(data), oldText)
	if count != 1 {
		return &Result{ForLLM: fmt.Sprintf("Error: expected exactly one match of old_text in %s, found %d", path, count), IsError: true}
	}
	updated := strings.Replace(string(data), oldText, newText, 1)
	if err := os.WriteFile(abs, []byte(updated), 0o644); err != nil {
		return &Result{ForLLM: fmt.Sprintf("Error: writing %s: %v", path, err), IsError: true}
	}
	return &Result{ForLLM: fmt.Sprintf("Edited %s", path)}
}

// ListDirTool lists directory entries.
type ListDirTool struct{ AllowedDir string }

func (t *ListDirTool) Name() string        { return "list_dir" }
func (t *ListDirTool) Description() string { return "List the entries of a directory." }
func (t *ListDirTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"path": map[string]any{"type": "string"}},
		"required":   []string{"path"},
	}
}

func (t *ListDirTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	abs, err := resolveWithinAllowedDir(t.AllowedDir, path)
	if err != nil {
		return &Result{ForLLM: fmt.Sprintf("Error: %v", err), IsError: true}
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return &Result{ForLLM: fmt.Sprintf("Error: listing %s: %v", path, err), IsError: true}
	}
	var sb strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			sb.WriteString(e.Name() + "/\n")
		} else {
			sb.WriteString(e.Name() + "\n")
		}
	}
	return &Result{ForLLM: sb.String()}
}
