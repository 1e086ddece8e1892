package safety

import "strings"

// PathSanitizer rewrites absolute workspace paths in error messages to
// relative form so tool errors don't leak host directory layout.
type PathSanitizer struct {
	root string
}

// NewPathSanitizer builds a sanitizer relative to workspace root.
func NewPathSanitizer(root string) *PathSanitizer {
	return &PathSanitizer{root: strings.TrimRight(root, "/")}
}

// Sanitize rewrites every occurrence of the workspace root prefix in text
// to "."; other absolute paths (temp dirs included) are left unchanged.
func (s *PathSanitizer) Sanitize(text string) string {
	if s.root == "" {
		return text
	}
	out := strings.ReplaceAll(text, s.root, ".")
	return out
}
