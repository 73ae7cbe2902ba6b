package browser

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
)

func TestExecuteRejectsUnknownActionWithoutTouchingTheBrowser(t *testing.T) {
	tool := &Tool{manager: nil, workspace: t.TempDir()}
	result := tool.Execute(context.Background(), map[string]any{"action": "teleport"})
	if !result.IsError {
		t.Fatalf("expected an unknown action to be rejected before dispatch, got %+v", result)
	}
}

func TestExecuteRejectsMissingAction(t *testing.T) {
	tool := &Tool{manager: nil, workspace: t.TempDir()}
	result := tool.Execute(context.Background(), map[string]any{})
	if !result.IsError {
		t.Fatalf("expected a missing action to be rejected")
	}
}

func TestSaveScreenshotWritesUnderWorkspaceScreenshotsDir(t *testing.T) {
	dir := t.TempDir()
	tool := &Tool{workspace: dir}
	raw := []byte("fake-png-bytes")
	encoded := base64.StdEncoding.EncodeToString(raw)

	path, err := tool.saveScreenshot(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(dir, "screenshots") {
		t.Fatalf("expected the screenshot under {workspace}/screenshots, got %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected the file to exist: %v", err)
	}
	if string(data) != string(raw) {
		t.Fatalf("expected the decoded bytes to be written verbatim")
	}
}

func TestSaveScreenshotFailsWithoutAWorkspace(t *testing.T) {
	tool := &Tool{workspace: ""}
	if _, err := tool.saveScreenshot(base64.StdEncoding.EncodeToString([]byte("x"))); err == nil {
		t.Fatalf("expected an error when no workspace is configured")
	}
}

func TestSaveScreenshotRejectsInvalidBase64(t *testing.T) {
	tool := &Tool{workspace: t.TempDir()}
	if _, err := tool.saveScreenshot("not valid base64!!"); err == nil {
		t.Fatalf("expected invalid base64 to be rejected")
	}
}
