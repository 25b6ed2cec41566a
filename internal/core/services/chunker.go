package services

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven"
)

// Chunker turns parsed source documents into context, benefit and contact chunks.
// For a document with H HMO columns it emits 1 + 3H + H chunks.
type Chunker struct {
	pipeline driven.TextPipeline
}

// NewChunker creates a chunker. A nil pipeline leaves chunk text untouched.
func NewChunker(pipeline driven.TextPipeline) *Chunker {
	return &Chunker{pipeline: pipeline}
}

// chunkLabels are the headers written into chunk text
type chunkLabels struct {
	services, category, hmo, tier, benefits, contact string
}

var labelsByLanguage = map[domain.Language]chunkLabels{
	domain.LanguageHebrew: {
		services: "שירותים",
		category: "קטגוריה",
		hmo:      "קופת חולים",
		tier:     "מסלול",
		benefits: "הטבות",
		contact:  "פרטי התקשרות",
	},
	domain.LanguageEnglish: {
		services: "Services",
		category: "Category",
		hmo:      "HMO",
		tier:     "Tier",
		benefits: "Benefits",
		contact:  "Contact details",
	},
}

// Chunk builds the complete chunk set of one document.
// A benefit cell missing for any service, HMO and tier fails the whole document.
func (c *Chunker) Chunk(doc *domain.SourceDocument) ([]*domain.Chunk, error) {
	if err := checkDocument(doc); err != nil {
		return nil, &domain.IngestionError{Document: doc.Path, Category: doc.Category, Stage: domain.StageChunk, Err: err}
	}

	labels := labelsByLanguage[documentLanguage(doc)]
	chunks := make([]*domain.Chunk, 0, 1+4*len(doc.HMOs))
	chunks = append(chunks, c.contextChunk(doc, labels))

	for _, h := range doc.HMOs {
		for _, t := range domain.AllTiers {
			chunk, err := c.benefitChunk(doc, h, t, labels)
			if err != nil {
				return nil, &domain.IngestionError{Document: doc.Path, Category: doc.Category, Stage: domain.StageChunk, Err: err}
			}
			chunks = append(chunks, chunk)
		}
	}

	for _, h := range doc.HMOs {
		lines := doc.Contacts[h]
		if len(lines) == 0 {
			return nil, &domain.IngestionError{
				Document: doc.Path,
				Category: doc.Category,
				Stage:    domain.StageChunk,
				Err:      &domain.DocumentParseError{Document: doc.Path, Reason: "no contact details for " + string(h)},
			}
		}
		chunks = append(chunks, c.contactChunk(doc, h, lines, labels))
	}

	if c.pipeline != nil {
		chunks = c.pipeline.Process(chunks)
	}
	return chunks, nil
}

// ChunkAll chunks every document and rejects colliding chunk IDs.
func (c *Chunker) ChunkAll(docs []*domain.SourceDocument) ([]*domain.Chunk, error) {
	var all []*domain.Chunk
	seen := make(map[string]string)
	for _, doc := range docs {
		chunks, err := c.Chunk(doc)
		if err != nil {
			return nil, err
		}
		for _, ch := range chunks {
			if prev, ok := seen[ch.ID]; ok {
				return nil, &domain.IngestionError{
					Document: doc.Path,
					Category: doc.Category,
					Stage:    domain.StageChunk,
					Err:      fmt.Errorf("chunk %s already produced by %s", domain.ChunkKey(ch.Type, ch.Category, ch.HMO, ch.Tier), prev),
				}
			}
			seen[ch.ID] = doc.Path
		}
		all = append(all, chunks...)
	}
	return all, nil
}

func checkDocument(doc *domain.SourceDocument) error {
	switch {
	case !doc.Category.IsValid():
		return &domain.DocumentParseError{Document: doc.Path, Reason: fmt.Sprintf("unknown category %q", doc.Category)}
	case len(doc.HMOs) == 0:
		return &domain.DocumentParseError{Document: doc.Path, Reason: "no HMO columns"}
	case len(doc.Services) == 0:
		return &domain.DocumentParseError{Document: doc.Path, Reason: "no service rows"}
	}
	for _, h := range doc.HMOs {
		if !h.IsValid() {
			return &domain.DocumentParseError{Document: doc.Path, Reason: fmt.Sprintf("unknown HMO %q", h)}
		}
	}
	return nil
}

// documentLanguage picks the header language from the title and overview
func documentLanguage(doc *domain.SourceDocument) domain.Language {
	for _, r := range doc.Title + doc.Overview {
		if unicode.Is(unicode.Hebrew, r) {
			return domain.LanguageHebrew
		}
	}
	return domain.LanguageEnglish
}

func (c *Chunker) newChunk(doc *domain.SourceDocument, t domain.ChunkType, h domain.HMO, tier domain.Tier) *domain.Chunk {
	ch := domain.NewChunk(t, doc.Category, h, tier)
	ch.Title = doc.Title
	ch.SourcePath = doc.Path
	return ch
}

func (c *Chunker) contextChunk(doc *domain.SourceDocument, l chunkLabels) *domain.Chunk {
	var b strings.Builder
	b.WriteString(doc.Title)
	if doc.Overview != "" {
		b.WriteString("\n\n")
		b.WriteString(doc.Overview)
	}
	fmt.Fprintf(&b, "\n\n%s:", l.services)
	for _, svc := range doc.Services {
		fmt.Fprintf(&b, "\n- %s", svc.Name)
	}

	ch := c.newChunk(doc, domain.ChunkTypeContext, "", "")
	ch.Content = b.String()
	return ch
}

func (c *Chunker) benefitChunk(doc *domain.SourceDocument, h domain.HMO, t domain.Tier, l chunkLabels) (*domain.Chunk, error) {
	var b strings.Builder
	b.WriteString(doc.Title)
	fmt.Fprintf(&b, "\n%s: %s", l.category, doc.Category)
	fmt.Fprintf(&b, "\n%s: %s (%s)", l.hmo, h.HebrewName(), h)
	fmt.Fprintf(&b, "\n%s: %s (%s)", l.tier, t.HebrewName(), t)
	fmt.Fprintf(&b, "\n%s:", l.benefits)

	for _, svc := range doc.Services {
		text, ok := svc.Benefit(h, t)
		if !ok {
			return nil, &domain.MissingBenefitDataError{
				Document: doc.Path,
				Category: doc.Category,
				Service:  svc.Name,
				HMO:      h,
				Tier:     t,
			}
		}
		fmt.Fprintf(&b, "\n- %s: %s", svc.Name, text)
	}

	ch := c.newChunk(doc, domain.ChunkTypeBenefit, h, t)
	ch.Content = b.String()
	return ch, nil
}

func (c *Chunker) contactChunk(doc *domain.SourceDocument, h domain.HMO, lines []string, l chunkLabels) *domain.Chunk {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s (%s)", l.hmo, h.HebrewName(), h)
	fmt.Fprintf(&b, "\n%s: %s (%s)", l.category, doc.Title, doc.Category)
	fmt.Fprintf(&b, "\n%s:", l.contact)
	for _, line := range lines {
		fmt.Fprintf(&b, "\n%s", line)
	}

	ch := c.newChunk(doc, domain.ChunkTypeContact, h, "")
	ch.Content = b.String()
	return ch
}
