package chunk

import "sync"

// ParserPool is the process-wide, bounded pool of reusable Parsers named
// in spec.md §4.2/§5: parsers are expensive to construct and are not
// safe for concurrent use by more than one goroutine at a time, so the
// pool hands out one per checkout and returns it for reuse.
//
// It is lazily initialized and explicitly shut down (spec.md Design
// Notes §9) — never a package-level singleton; the caller constructs
// one and injects it into the Chunker.
type ParserPool struct {
	mu         sync.Mutex
	registry   *LanguageRegistry
	maxPerLang int
	free       map[string][]*Parser
	closed     bool
}

// NewParserPool creates a pool bounded to maxPerLang idle parsers per
// language. maxPerLang <= 0 defaults to 4.
func NewParserPool(registry *LanguageRegistry, maxPerLang int) *ParserPool {
	if maxPerLang <= 0 {
		maxPerLang = 4
	}
	return &ParserPool{
		registry:   registry,
		maxPerLang: maxPerLang,
		free:       make(map[string][]*Parser),
	}
}

// Checkout returns a Parser for language, reusing an idle one if available.
func (p *ParserPool) Checkout(language string) *Parser {
	p.mu.Lock()
	if !p.closed {
		if idle := p.free[language]; len(idle) > 0 {
			parser := idle[len(idle)-1]
			p.free[language] = idle[:len(idle)-1]
			p.mu.Unlock()
			return parser
		}
	}
	p.mu.Unlock()
	return NewParser(p.registry)
}

// Checkin returns a Parser to the pool for reuse, or closes it if the
// pool is shut down or already holds maxPerLang idle parsers for its
// language.
func (p *ParserPool) Checkin(language string, parser *Parser) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || len(p.free[language]) >= p.maxPerLang {
		parser.Close()
		return
	}
	p.free[language] = append(p.free[language], parser)
}

// Close releases every idle parser. Safe to call once after a scan
// completes; subsequent Checkout calls still work but Checkin no longer
// retains parsers.
func (p *ParserPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	for lang, idle := range p.free {
		for _, parser := range idle {
			parser.Close()
		}
		delete(p.free, lang)
	}
}
