package chunk

import "strings"

// SymbolExtractor walks a parsed Tree and locates the chunkable nodes
// named by a LanguageConfig (spec.md §4.2), together with the breadcrumb
// of enclosing context nodes (classes, namespaces, modules) each one
// sits inside.
type SymbolExtractor struct {
	registry *LanguageRegistry
}

// NewSymbolExtractor creates an extractor bound to registry.
func NewSymbolExtractor(registry *LanguageRegistry) *SymbolExtractor {
	return &SymbolExtractor{registry: registry}
}

// ChunkableNode pairs a chunkable syntax node with its extracted symbol
// and the breadcrumb of enclosing context nodes above it.
type ChunkableNode struct {
	Node       *Node
	Symbol     *Symbol
	Breadcrumb string // e.g. "ClassA > methodB", "" if at top level
}

// FindChunkable walks tree and returns every chunkable node (spec.md
// §4.2's ChunkableTypes) in source order, along with the breadcrumb of
// enclosing ContextTypes ancestors.
func (e *SymbolExtractor) FindChunkable(tree *Tree) []*ChunkableNode {
	if tree == nil || tree.Root == nil {
		return nil
	}

	config, ok := e.registry.GetByName(tree.Language)
	if !ok {
		return nil
	}

	chunkable := make(map[string]bool, len(config.ChunkableTypes))
	for _, t := range config.ChunkableTypes {
		chunkable[t] = true
	}
	context := make(map[string]bool, len(config.ContextTypes))
	for _, t := range config.ContextTypes {
		context[t] = true
	}

	var result []*ChunkableNode
	var walk func(n *Node, breadcrumb []string)
	walk = func(n *Node, breadcrumb []string) {
		nextBreadcrumb := breadcrumb

		if context[n.Type] {
			if name := e.extractName(n, tree.Source, config, tree.Language); name != "" {
				nextBreadcrumb = append(append([]string{}, breadcrumb...), name)
			}
		}

		if chunkable[n.Type] {
			symbol := e.buildSymbol(n, tree.Source, config, tree.Language)
			if symbol != nil {
				result = append(result, &ChunkableNode{
					Node:       n,
					Symbol:     symbol,
					Breadcrumb: strings.Join(breadcrumb, " > "),
				})
			}
		}

		for _, child := range n.Children {
			walk(child, nextBreadcrumb)
		}
	}
	walk(tree.Root, nil)

	return result
}

func (e *SymbolExtractor) buildSymbol(n *Node, source []byte, config *LanguageConfig, language string) *Symbol {
	name := e.extractName(n, source, config, language)
	if name == "" {
		name = n.Type
	}

	return &Symbol{
		Name:       name,
		Type:       symbolTypeForNode(n.Type),
		StartLine:  int(n.StartPoint.Row) + 1,
		EndLine:    int(n.EndPoint.Row) + 1,
		DocComment: extractDocComment(n, source, language),
	}
}

func symbolTypeForNode(nodeType string) SymbolType {
	switch {
	case strings.Contains(nodeType, "interface"):
		return SymbolTypeInterface
	case strings.Contains(nodeType, "enum"):
		return SymbolTypeEnum
	case strings.Contains(nodeType, "struct"):
		return SymbolTypeStruct
	case strings.Contains(nodeType, "class"):
		return SymbolTypeClass
	case strings.Contains(nodeType, "method") || strings.Contains(nodeType, "constructor"):
		return SymbolTypeMethod
	case strings.Contains(nodeType, "mod") || strings.Contains(nodeType, "namespace") || strings.Contains(nodeType, "module"):
		return SymbolTypeModule
	default:
		return SymbolTypeFunction
	}
}

// extractName extracts the identifying name of a node, using per-language
// tree shapes where tree-sitter grammars disagree on which child carries
// the name, and config.NameField as a generic fallback.
func (e *SymbolExtractor) extractName(n *Node, source []byte, config *LanguageConfig, language string) string {
	switch language {
	case "go":
		if name := extractGoName(n, source); name != "" {
			return name
		}
	case "typescript", "tsx", "javascript", "jsx":
		if name := extractJSFamilyName(n, source); name != "" {
			return name
		}
	case "python":
		if name := extractByChildType(n, source, "identifier"); name != "" {
			return name
		}
	case "java", "csharp":
		if name := extractByChildType(n, source, "identifier"); name != "" {
			return name
		}
	case "rust":
		if name := extractByChildType(n, source, "identifier"); name != "" {
			return name
		}
		if name := extractByChildType(n, source, "type_identifier"); name != "" {
			return name
		}
	case "c", "cpp":
		if name := extractCFamilyName(n, source); name != "" {
			return name
		}
	}

	// Generic fallback: try the field/node type declared in config.
	if config.NameField != "" {
		if name := extractByChildType(n, source, config.NameField); name != "" {
			return name
		}
	}
	for _, t := range []string{"identifier", "type_identifier", "field_identifier"} {
		if name := extractByChildType(n, source, t); name != "" {
			return name
		}
	}
	return ""
}

func extractByChildType(n *Node, source []byte, nodeType string) string {
	for _, child := range n.Children {
		if child.Type == nodeType {
			return child.GetContent(source)
		}
	}
	return ""
}

func extractGoName(n *Node, source []byte) string {
	switch n.Type {
	case "function_declaration":
		return extractByChildType(n, source, "identifier")
	case "method_declaration":
		return extractByChildType(n, source, "field_identifier")
	case "type_declaration":
		for _, child := range n.Children {
			if child.Type == "type_spec" {
				if name := extractByChildType(child, source, "type_identifier"); name != "" {
					return name
				}
			}
		}
	}
	return ""
}

func extractJSFamilyName(n *Node, source []byte) string {
	if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
		for _, child := range n.Children {
			if child.Type == "variable_declarator" {
				if name := extractByChildType(child, source, "identifier"); name != "" {
					return name
				}
			}
		}
		return ""
	}
	if name := extractByChildType(n, source, "identifier"); name != "" {
		return name
	}
	if name := extractByChildType(n, source, "property_identifier"); name != "" {
		return name
	}
	return extractByChildType(n, source, "type_identifier")
}

// extractCFamilyName digs through a declarator chain to the innermost
// identifier, since C/C++ function and variable declarators nest
// pointer/array/function declarators around the name.
func extractCFamilyName(n *Node, source []byte) string {
	for _, child := range n.Children {
		switch child.Type {
		case "identifier", "field_identifier", "type_identifier":
			return child.GetContent(source)
		case "function_declarator", "pointer_declarator", "array_declarator":
			if name := extractCFamilyName(child, source); name != "" {
				return name
			}
		}
	}
	return ""
}

// extractDocComment backward-scans single-line comments immediately
// preceding n, in the doc-comment style of language, and returns them
// joined in source order (oldest first).
func extractDocComment(n *Node, source []byte, language string) string {
	var prefix string
	switch language {
	case "go", "typescript", "tsx", "javascript", "jsx", "java", "rust", "c", "cpp", "csharp":
		prefix = "//"
	case "python":
		return "" // Python's doc comment is a docstring inside the body, not a preceding comment.
	default:
		return ""
	}

	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	if lineStart <= 1 {
		return ""
	}

	var lines []string
	pos := lineStart - 1
	for pos > 0 {
		prevLineEnd := pos
		pos--
		for pos > 0 && source[pos] != '\n' {
			pos--
		}
		prevLineStart := pos
		if pos > 0 {
			prevLineStart++
		}

		line := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))
		if !strings.HasPrefix(line, prefix) {
			break
		}
		lines = append([]string{strings.TrimSpace(strings.TrimPrefix(line, prefix))}, lines...)
	}

	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n")
}
