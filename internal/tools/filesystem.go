package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// resolveWorkspacePath resolves path against workspace, rejecting any
// result that escapes it when restrict is true.
func resolveWorkspacePath(workspace, path string, restrict bool) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	resolved, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if restrict {
		rel, err := filepath.Rel(workspace, resolved)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", fmt.Errorf("path %q escapes workspace", path)
		}
	}
	return resolved, nil
}

// ReadFileTool reads a file's contents, workspace-restricted.
type ReadFileTool struct {
	workspace string
	restrict  bool
}

func NewReadFileTool(workspace string, restrict bool) *ReadFileTool {
	return &ReadFileTool{workspace: workspace, restrict: restrict}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file" }
func (t *ReadFileTool) Capabilities() Capabilities {
	return Capabilities{BuiltIn: true, SubagentAccess: SubagentAllowed}
}
func (t *ReadFileTool) CacheTTLSeconds() int { return 5 }
func (t *ReadFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string", "description": "path to the file to read"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("path is required"), nil
	}
	resolved, err := resolveWorkspacePath(t.workspace, path, t.restrict)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("read %s: %v", path, err)), nil
	}
	return SilentResult(string(data)), nil
}

// WriteFileTool writes a file, backing up any existing content first.
type WriteFileTool struct {
	workspace string
	restrict  bool
}

func NewWriteFileTool(workspace string, restrict bool) *WriteFileTool {
	return &WriteFileTool{workspace: workspace, restrict: restrict}
}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a file, backing up any existing version" }
func (t *WriteFileTool) Capabilities() Capabilities {
	return Capabilities{BuiltIn: true, DestructiveAction: true, SubagentAccess: SubagentChildOnly}
}
func (t *WriteFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string"},
			"content": map[string]interface{}{"type": "string"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return ErrorResult("path is required"), nil
	}
	resolved, err := resolveWorkspacePath(t.workspace, path, t.restrict)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}

	if existing, err := os.ReadFile(resolved); err == nil {
		backupPath := resolved + ".bak-" + time.Now().Format("20060102T150405")
		_ = os.WriteFile(backupPath, existing, 0o644)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("create parent dirs: %v", err)), nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("write %s: %v", path, err)), nil
	}
	return NewResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path)), nil
}

// ListFilesTool lists a directory's entries, workspace-restricted.
type ListFilesTool struct {
	workspace string
	restrict  bool
}

func NewListFilesTool(workspace string, restrict bool) *ListFilesTool {
	return &ListFilesTool{workspace: workspace, restrict: restrict}
}

func (t *ListFilesTool) Name() string        { return "list_files" }
func (t *ListFilesTool) Description() string { return "List files in a directory" }
func (t *ListFilesTool) Capabilities() Capabilities {
	return Capabilities{BuiltIn: true, SubagentAccess: SubagentAllowed}
}
func (t *ListFilesTool) CacheTTLSeconds() int { return 5 }
func (t *ListFilesTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string", "description": "directory to list, defaults to workspace root"},
		},
	}
}

func (t *ListFilesTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	resolved, err := resolveWorkspacePath(t.workspace, path, t.restrict)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("list %s: %v", path, err)), nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name()+"/")
		} else {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return SilentResult(strings.Join(names, "\n")), nil
}
