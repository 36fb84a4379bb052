package executor

// Ids of the built-in catalog entries.
const (
	Python312  = "python-3.12"
	Cpp122     = "cpp-12.2"
	Java19     = "java-19"
	NodeJS1812 = "nodejs-18.12"
)

// DefaultDefinitions returns the built-in executor catalog. Deployments
// extend or override it through configuration.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Language:    "python",
			Version:     "3.12",
			DisplayName: "Python 3.12",
			Image:       "litmustest/code-executor-python:3.12",
			SourceFile:  "main.py",
			RunCmd:      "python3 {source_file}",
		},
		{
			Language:       "cpp",
			Version:        "12.2",
			DisplayName:    "C++ 20 (g++ 12.2)",
			Image:          "litmustest/code-executor-gpp:12.2",
			SourceFile:     "main.cpp",
			ExecutableFile: "program",
			CompileCmd:     "g++ -std=gnu++17 -O2 -o {executable_file} {source_file}",
			RunCmd:         "./{executable_file}",
		},
		{
			Language:       "java",
			Version:        "19",
			DisplayName:    "Java 19 (OpenJDK 19)",
			Image:          "litmustest/code-executor-openjdk:19",
			SourceFile:     "Main.java",
			ExecutableFile: "Main.class",
			CompileCmd:     "javac {source_file}",
			RunCmd:         "java Main",
		},
		{
			Language:    "nodejs",
			Version:     "18.12",
			DisplayName: "Javascript (NodeJS 18.12)",
			Image:       "litmustest/code-executor-node:18.12",
			SourceFile:  "main.js",
			RunCmd:      "node {source_file}",
		},
	}
}

// NewDefaultRegistry builds a registry holding only the built-in catalog.
func NewDefaultRegistry() (*Registry, error) {
	return NewRegistry(DefaultDefinitions()...)
}

// BuildRegistry merges extra definitions over the built-ins. An extra
// carrying a built-in's id replaces that entry in place.
func BuildRegistry(extras []Definition) (*Registry, error) {
	merged := DefaultDefinitions()
	index := make(map[string]int, len(merged))
	for i, def := range merged {
		index[def.ID()] = i
	}
	for _, extra := range extras {
		if i, ok := index[extra.ID()]; ok {
			merged[i] = extra
			continue
		}
		index[extra.ID()] = len(merged)
		merged = append(merged, extra)
	}
	return NewRegistry(merged...)
}
