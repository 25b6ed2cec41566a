package services

import (
	"fmt"
	"time"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/core/ports/driven"
	"github.com/custodia-labs/hmo-assist/internal/runtime"
)

// newTestServices wires model clients behind a guard with millisecond backoff
func newTestServices(emb driven.EmbeddingService, llm driven.LLMService) *runtime.Services {
	guard := runtime.NewGuard(10, runtime.RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, nil)
	svc := runtime.NewServices(domain.NewRuntimeConfig("memory", "local"), guard)
	if emb != nil {
		svc.SetEmbeddingService(emb)
	}
	if llm != nil {
		svc.SetLLMService(llm)
	}
	return svc
}

// testDocument builds a complete Hebrew source document for a category.
// Benefit text encodes the HMO and tier so tests can tell chunks apart.
func testDocument(category domain.Category, hmos ...domain.HMO) *domain.SourceDocument {
	if len(hmos) == 0 {
		hmos = domain.AllHMOs
	}

	doc := &domain.SourceDocument{
		Path:     fmt.Sprintf("kb/%s.md", category),
		Category: category,
		Title:    "שירותי " + string(category),
		Overview: "מידע על  ההטבות   בקטגוריה.",
		HMOs:     hmos,
		Contacts: make(map[domain.HMO][]string),
	}

	for _, name := range []string{"בדיקה", "טיפול"} {
		row := &domain.ServiceRow{Name: name, Cells: make(map[domain.HMO]map[domain.Tier]string)}
		for _, h := range hmos {
			row.Cells[h] = make(map[domain.Tier]string)
			for i, t := range domain.AllTiers {
				row.Cells[h][t] = fmt.Sprintf("**%d%%** הנחה %s/%s", 80-20*i, h, t)
			}
		}
		doc.Services = append(doc.Services, row)
	}

	for _, h := range hmos {
		doc.Contacts[h] = []string{h.HebrewName() + ": *3555", "אתר: https://example.org/" + string(h)}
	}
	return doc
}

// testCorpus returns one complete document per category
func testCorpus(categories ...domain.Category) []*domain.SourceDocument {
	if len(categories) == 0 {
		categories = domain.AllCategories
	}
	docs := make([]*domain.SourceDocument, 0, len(categories))
	for _, c := range categories {
		docs = append(docs, testDocument(c))
	}
	return docs
}
