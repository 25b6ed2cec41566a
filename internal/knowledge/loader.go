package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
	"github.com/custodia-labs/hmo-assist/internal/logging"
	"github.com/custodia-labs/hmo-assist/internal/normalisers"
)

// Loader reads a knowledge-base directory into source documents.
// Every file is normalised to Markdown before parsing, so exported HTML
// pages can sit next to hand-written Markdown.
type Loader struct {
	registry *normalisers.Registry
	logger   *zap.Logger
}

// NewLoader creates a loader. A nil registry uses the default formats.
func NewLoader(registry *normalisers.Registry, logger *zap.Logger) *Loader {
	if registry == nil {
		registry = normalisers.DefaultRegistry()
	}
	return &Loader{registry: registry, logger: logging.OrNop(logger)}
}

// LoadFile parses one knowledge-base file.
func (l *Loader) LoadFile(path string) (*domain.SourceDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.IngestionError{Document: path, Stage: domain.StageParse, Err: err}
	}

	content, err := l.registry.NormaliseFile(path, string(raw))
	if err != nil {
		return nil, &domain.IngestionError{Document: path, Stage: domain.StageParse, Err: err}
	}

	doc, err := Parse(path, content)
	if err != nil {
		ie := &domain.IngestionError{Document: path, Stage: domain.StageParse, Err: err}
		if c, cerr := InferCategory(path); cerr == nil {
			ie.Category = c
		}
		return nil, ie
	}
	return doc, nil
}

// LoadDir parses every supported file in dir, in name order.
// Two files resolving to the same category is an error.
func (l *Loader) LoadDir(ctx context.Context, dir string) ([]*domain.SourceDocument, error) {
	files, err := l.listFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, &domain.IngestionError{Stage: domain.StageParse, Err: fmt.Errorf("no knowledge-base files in %s", dir)}
	}

	docs := make([]*domain.SourceDocument, 0, len(files))
	byCategory := make(map[domain.Category]string, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		doc, err := l.LoadFile(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := byCategory[doc.Category]; ok {
			return nil, &domain.IngestionError{
				Document: path,
				Category: doc.Category,
				Stage:    domain.StageParse,
				Err:      fmt.Errorf("category %s already loaded from %s", doc.Category, prev),
			}
		}
		byCategory[doc.Category] = path

		l.logger.Debug("loaded knowledge document",
			zap.String("path", path),
			zap.String("category", string(doc.Category)),
			zap.Int("services", len(doc.Services)),
			zap.Int("hmos", len(doc.HMOs)),
		)
		docs = append(docs, doc)
	}

	l.logger.Info("knowledge base loaded", zap.String("dir", dir), zap.Int("documents", len(docs)))
	return docs, nil
}

// listFiles returns the sorted files in dir that have a normaliser.
// Hidden files and READMEs are skipped.
func (l *Loader) listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &domain.IngestionError{Stage: domain.StageParse, Err: fmt.Errorf("read knowledge dir: %w", err)}
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.HasPrefix(strings.ToLower(name), "readme") {
			continue
		}
		if l.registry.Get(normalisers.MIMEType(name)) == nil {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}
