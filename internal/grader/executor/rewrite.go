package executor

import (
	"path/filepath"
	"regexp"
	"strings"
)

var javaPublicClassPattern = regexp.MustCompile(`public class (.*) \{`)

// RewriteSource adapts learner source to the definition's fixed file layout.
// Java sources are written to a fixed file name, so the learner's public
// class is renamed to match it. Other languages pass through untouched.
func RewriteSource(def Definition, source string) string {
	if !strings.EqualFold(def.Language, "java") {
		return source
	}
	class := strings.TrimSuffix(def.SourceFile, filepath.Ext(def.SourceFile))
	if class == "" {
		return source
	}
	return javaPublicClassPattern.ReplaceAllString(source, "public class "+class+" {")
}
