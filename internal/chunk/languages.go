package chunk

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageRegistry holds the declarative per-language chunking spec
// (spec.md §4.2): which syntax-tree node kinds are chunkable, and which
// form breadcrumb context. One registry is constructed and owned by the
// Chunker; it is not a global singleton (spec.md Design Notes §9).
type LanguageRegistry struct {
	mu          sync.RWMutex
	configs     map[string]*LanguageConfig
	extToLang   map[string]string
	tsLanguages map[string]*sitter.Language
}

// NewLanguageRegistry builds a registry pre-populated with every language
// spec.md §4.2 requires: TypeScript, JavaScript, Python, Go, Java, Rust,
// C, C++, C#.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:     make(map[string]*LanguageConfig),
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}

	r.registerGo()
	r.registerTypeScript()
	r.registerJavaScript()
	r.registerPython()
	r.registerJava()
	r.registerRust()
	r.registerC()
	r.registerCpp()
	r.registerCSharp()

	return r
}

// GetByExtension returns the language configuration registered for ext.
func (r *LanguageRegistry) GetByExtension(ext string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	langName, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}
	config, ok := r.configs[langName]
	return config, ok
}

// GetByName returns the language configuration by its canonical name.
func (r *LanguageRegistry) GetByName(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	config, ok := r.configs[name]
	return config, ok
}

// GetTreeSitterLanguage returns the tree-sitter grammar for name.
func (r *LanguageRegistry) GetTreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.tsLanguages[name]
	return lang, ok
}

// SupportedLanguages returns every registered language name.
func (r *LanguageRegistry) SupportedLanguages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	return names
}

func (r *LanguageRegistry) registerLanguage(config *LanguageConfig, tsLang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[config.Name] = config
	r.tsLanguages[config.Name] = tsLang
	for _, ext := range config.Extensions {
		r.extToLang[ext] = config.Name
	}
}

func (r *LanguageRegistry) registerGo() {
	r.registerLanguage(&LanguageConfig{
		Name:       "go",
		Extensions: []string{".go"},
		ChunkableTypes: []string{
			"function_declaration",
			"method_declaration",
			"type_declaration",
		},
		ContextTypes: []string{}, // Go has no enclosing class/namespace node
		NameField:    "name",
	}, golang.GetLanguage())
}

func (r *LanguageRegistry) registerTypeScript() {
	tsConfig := &LanguageConfig{
		Name:       "typescript",
		Extensions: []string{".ts"},
		ChunkableTypes: []string{
			"function_declaration",
			"method_definition",
			"class_declaration",
			"interface_declaration",
			"type_alias_declaration",
		},
		ContextTypes: []string{
			"class_declaration",
			"module",
			"namespace",
		},
		NameField: "name",
	}
	r.registerLanguage(tsConfig, typescript.GetLanguage())

	tsxConfig := *tsConfig
	tsxConfig.Name = "tsx"
	tsxConfig.Extensions = []string{".tsx"}
	r.registerLanguage(&tsxConfig, tsx.GetLanguage())
}

func (r *LanguageRegistry) registerJavaScript() {
	jsConfig := &LanguageConfig{
		Name:       "javascript",
		Extensions: []string{".js", ".mjs", ".cjs"},
		ChunkableTypes: []string{
			"function_declaration",
			"function",
			"method_definition",
			"class_declaration",
		},
		ContextTypes: []string{
			"class_declaration",
		},
		NameField: "name",
	}
	r.registerLanguage(jsConfig, javascript.GetLanguage())

	jsxConfig := *jsConfig
	jsxConfig.Name = "jsx"
	jsxConfig.Extensions = []string{".jsx"}
	r.registerLanguage(&jsxConfig, javascript.GetLanguage())
}

func (r *LanguageRegistry) registerPython() {
	r.registerLanguage(&LanguageConfig{
		Name:       "python",
		Extensions: []string{".py", ".pyi"},
		ChunkableTypes: []string{
			"function_definition",
			"class_definition",
		},
		ContextTypes: []string{
			"class_definition",
		},
		NameField: "name",
	}, python.GetLanguage())
}

func (r *LanguageRegistry) registerJava() {
	r.registerLanguage(&LanguageConfig{
		Name:       "java",
		Extensions: []string{".java"},
		ChunkableTypes: []string{
			"method_declaration",
			"constructor_declaration",
			"class_declaration",
			"interface_declaration",
			"enum_declaration",
		},
		ContextTypes: []string{
			"class_declaration",
			"interface_declaration",
		},
		NameField: "name",
	}, java.GetLanguage())
}

func (r *LanguageRegistry) registerRust() {
	r.registerLanguage(&LanguageConfig{
		Name:       "rust",
		Extensions: []string{".rs"},
		ChunkableTypes: []string{
			"function_item",
			"struct_item",
			"enum_item",
			"trait_item",
			"impl_item",
			"mod_item",
		},
		ContextTypes: []string{
			"mod_item",
			"impl_item",
		},
		NameField: "name",
	}, rust.GetLanguage())
}

func (r *LanguageRegistry) registerC() {
	r.registerLanguage(&LanguageConfig{
		Name:       "c",
		Extensions: []string{".c", ".h"},
		ChunkableTypes: []string{
			"function_definition",
			"struct_specifier",
			"enum_specifier",
		},
		ContextTypes: []string{},
		NameField:    "declarator",
	}, c.GetLanguage())
}

func (r *LanguageRegistry) registerCpp() {
	r.registerLanguage(&LanguageConfig{
		Name:       "cpp",
		Extensions: []string{".cpp", ".hpp", ".cc", ".cxx", ".hh"},
		ChunkableTypes: []string{
			"function_definition",
			"class_specifier",
			"struct_specifier",
			"enum_specifier",
			"namespace_definition",
		},
		ContextTypes: []string{
			"class_specifier",
			"namespace_definition",
		},
		NameField: "declarator",
	}, cpp.GetLanguage())
}

func (r *LanguageRegistry) registerCSharp() {
	r.registerLanguage(&LanguageConfig{
		Name:       "csharp",
		Extensions: []string{".cs"},
		ChunkableTypes: []string{
			"method_declaration",
			"constructor_declaration",
			"class_declaration",
			"interface_declaration",
			"struct_declaration",
			"enum_declaration",
		},
		ContextTypes: []string{
			"class_declaration",
			"namespace_declaration",
		},
		NameField: "name",
	}, csharp.GetLanguage())
}
