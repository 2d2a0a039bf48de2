package spawn

import (
	"os"
	"strings"
)

// ResolvePath resolves an executable name the way the spawn engine does
// before forking. A path containing a separator or a scheme delimiter is
// used verbatim; a bare name is appended to the directory named by PATH,
// which defaults to "." when unset. Resolution deliberately happens once,
// in the parent, so the child branch performs no string work.
func ResolvePath(path string) string {
	if strings.ContainsAny(path, "/:") {
		return path
	}
	dir := os.Getenv("PATH")
	if dir == "" {
		dir = "."
	}
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	return dir + path
}

// mergeEnv layers overrides onto the parent environment, replacing existing
// keys in place and appending new ones. Keys are unique in the result.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	merged := make([]string, 0, len(base)+len(overrides))
	replaced := make(map[string]bool, len(overrides))
	for _, kv := range base {
		key := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			key = kv[:i]
		}
		if val, ok := overrides[key]; ok && !replaced[key] {
			merged = append(merged, key+"="+val)
			replaced[key] = true
			continue
		}
		if replaced[key] {
			continue
		}
		merged = append(merged, kv)
	}
	for key, val := range overrides {
		if !replaced[key] {
			merged = append(merged, key+"="+val)
		}
	}
	return merged
}
