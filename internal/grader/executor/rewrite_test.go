package executor

import (
	"strings"
	"testing"
)

func javaDefinition(t *testing.T) Definition {
	t.Helper()
	for _, def := range DefaultDefinitions() {
		if def.ID() == Java19 {
			return def
		}
	}
	t.Fatal("java definition missing from catalog")
	return Definition{}
}

func TestRewriteSourceRenamesJavaPublicClass(t *testing.T) {
	source := "import java.util.Scanner;\n\npublic class Solution {\n    public static void main(String[] args) {\n    }\n}\n"
	got := RewriteSource(javaDefinition(t), source)
	if !strings.Contains(got, "public class Main {") {
		t.Fatalf("expected renamed public class, got:\n%s", got)
	}
	if strings.Contains(got, "public class Solution") {
		t.Fatalf("expected original class name gone, got:\n%s", got)
	}
}

func TestRewriteSourceLeavesOtherLanguagesAlone(t *testing.T) {
	def := Definition{Language: "python", SourceFile: "main.py"}
	source := "print('public class Solution {')\n"
	if got := RewriteSource(def, source); got != source {
		t.Fatalf("expected source untouched, got:\n%s", got)
	}
}

func TestRewriteSourceWithoutPublicClass(t *testing.T) {
	source := "class Helper {\n}\n"
	if got := RewriteSource(javaDefinition(t), source); got != source {
		t.Fatalf("expected source untouched, got:\n%s", got)
	}
}
