package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/custodia-labs/hmo-assist/internal/normalisers"
)

// ConvertDir converts every HTML page in inDir to a Markdown file of the same
// stem in outDir and returns the written paths.
func (l *Loader) ConvertDir(ctx context.Context, inDir, outDir string) ([]string, error) {
	entries, err := os.ReadDir(inDir)
	if err != nil {
		return nil, fmt.Errorf("read html dir: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var pages []string
	for _, e := range entries {
		if !e.IsDir() && normalisers.MIMEType(e.Name()) == "text/html" {
			pages = append(pages, e.Name())
		}
	}
	sort.Strings(pages)
	if len(pages) == 0 {
		return nil, fmt.Errorf("no html files in %s", inDir)
	}

	written := make([]string, 0, len(pages))
	for _, name := range pages {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		raw, err := os.ReadFile(filepath.Join(inDir, name))
		if err != nil {
			return written, fmt.Errorf("read %s: %w", name, err)
		}
		out, err := l.registry.NormaliseFile(name, string(raw))
		if err != nil {
			return written, fmt.Errorf("convert %s: %w", name, err)
		}

		dst := filepath.Join(outDir, strings.TrimSuffix(name, filepath.Ext(name))+".md")
		if err := os.WriteFile(dst, []byte(out+"\n"), 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", dst, err)
		}
		l.logger.Info("converted html page", zap.String("source", name), zap.String("markdown", dst))
		written = append(written, dst)
	}
	return written, nil
}
