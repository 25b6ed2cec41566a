package postprocessors

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.TextPipeline = (*Pipeline)(nil)

// Pipeline implements TextPipeline.
// It runs text processors over chunk content in Order.
type Pipeline struct {
	mu         sync.RWMutex
	processors []driven.TextProcessor
	sorted     bool
}

// NewPipeline creates a new text pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		processors: make([]driven.TextProcessor, 0),
	}
}

// Add adds a processor to the pipeline.
// Processors are sorted by Order() before processing.
func (p *Pipeline) Add(processor driven.TextProcessor) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processors = append(p.processors, processor)
	p.sorted = false
}

// Process applies all processors in order.
func (p *Pipeline) Process(chunks []*domain.Chunk) []*domain.Chunk {
	for _, proc := range p.ordered() {
		chunks = proc.Process(chunks)
	}
	return chunks
}

func (p *Pipeline) ordered() []driven.TextProcessor {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.sorted {
		sort.SliceStable(p.processors, func(i, j int) bool {
			return p.processors[i].Order() < p.processors[j].Order()
		})
		p.sorted = true
	}
	out := make([]driven.TextProcessor, len(p.processors))
	copy(out, p.processors)
	return out
}

// List returns processor names in order.
func (p *Pipeline) List() []string {
	procs := p.ordered()
	names := make([]string, len(procs))
	for i, proc := range procs {
		names[i] = proc.Name()
	}
	return names
}

// DefaultPipeline creates a pipeline with the default processors.
func DefaultPipeline() *Pipeline {
	p := NewPipeline()
	p.Add(NewWhitespaceNormalizer())
	p.Add(NewMarkupStripper())
	p.Add(NewLanguageTagger())
	return p
}

// WhitespaceNormalizer normalizes line endings, collapses runs of spaces
// inside lines and squeezes blank lines.
type WhitespaceNormalizer struct{}

// Verify interface compliance
var _ driven.TextProcessor = (*WhitespaceNormalizer)(nil)

// NewWhitespaceNormalizer creates a new whitespace normalizer.
func NewWhitespaceNormalizer() *WhitespaceNormalizer {
	return &WhitespaceNormalizer{}
}

// Process normalizes whitespace in chunks.
func (w *WhitespaceNormalizer) Process(chunks []*domain.Chunk) []*domain.Chunk {
	for _, c := range chunks {
		c.Content = NormalizeWhitespace(c.Content)
		c.Title = strings.Join(strings.Fields(c.Title), " ")
	}
	return chunks
}

// Name returns the processor name.
func (w *WhitespaceNormalizer) Name() string {
	return "whitespace-normalizer"
}

// Order returns 0 - whitespace runs first.
func (w *WhitespaceNormalizer) Order() int {
	return 0
}

// NormalizeWhitespace trims lines, collapses inner spaces and keeps at most
// one blank line between paragraphs.
func NormalizeWhitespace(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")

	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

var (
	htmlBreak  = regexp.MustCompile(`(?i)<br\s*/?>`)
	emphasis   = regexp.MustCompile(`\*\*|__`)
	mdLink     = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	headingTag = regexp.MustCompile(`(?m)^#{1,6}\s+`)
)

// MarkupStripper removes markdown emphasis, heading marks and inline
// HTML breaks left over from the source tables.
type MarkupStripper struct{}

// Verify interface compliance
var _ driven.TextProcessor = (*MarkupStripper)(nil)

// NewMarkupStripper creates a new markup stripper.
func NewMarkupStripper() *MarkupStripper {
	return &MarkupStripper{}
}

// Process strips markup from chunk content.
func (m *MarkupStripper) Process(chunks []*domain.Chunk) []*domain.Chunk {
	for _, c := range chunks {
		c.Content = StripMarkup(c.Content)
		c.Title = strings.TrimSpace(StripMarkup(c.Title))
	}
	return chunks
}

// Name returns the processor name.
func (m *MarkupStripper) Name() string {
	return "markup-stripper"
}

// Order returns 5 - after whitespace, before language detection.
func (m *MarkupStripper) Order() int {
	return 5
}

// StripMarkup removes emphasis and heading marks, keeps link text and
// turns <br> into newlines
func StripMarkup(s string) string {
	s = htmlBreak.ReplaceAllString(s, "\n")
	s = mdLink.ReplaceAllString(s, "$1 ($2)")
	s = emphasis.ReplaceAllString(s, "")
	s = headingTag.ReplaceAllString(s, "")
	return NormalizeWhitespace(s)
}

// LanguageTagger sets the chunk language from its script.
type LanguageTagger struct{}

// Verify interface compliance
var _ driven.TextProcessor = (*LanguageTagger)(nil)

// NewLanguageTagger creates a new language tagger.
func NewLanguageTagger() *LanguageTagger {
	return &LanguageTagger{}
}

// Process tags each chunk with he or en.
func (l *LanguageTagger) Process(chunks []*domain.Chunk) []*domain.Chunk {
	for _, c := range chunks {
		c.Language = DetectLanguage(c.Content)
	}
	return chunks
}

// Name returns the processor name.
func (l *LanguageTagger) Name() string {
	return "language-tagger"
}

// Order returns 10 - tagging runs on the final text.
func (l *LanguageTagger) Order() int {
	return 10
}

// DetectLanguage returns Hebrew when Hebrew letters make up at least a
// fifth of the letters, English otherwise
func DetectLanguage(s string) domain.Language {
	var hebrew, letters int
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Hebrew, r) {
			hebrew++
		}
	}
	if letters > 0 && hebrew*5 >= letters {
		return domain.LanguageHebrew
	}
	return domain.LanguageEnglish
}
