package upload

import "strings"

// SanitizeFileName strips path separators and parent references so the name
// can only address a file directly inside the destination directory.
func SanitizeFileName(name string) string {
	clean := strings.NewReplacer("/", "", "\\", "").Replace(name)
	for strings.Contains(clean, "..") {
		clean = strings.ReplaceAll(clean, "..", "")
	}
	clean = strings.TrimSpace(clean)
	if clean == "." {
		return ""
	}
	return clean
}
