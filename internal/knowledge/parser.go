// Package knowledge reads the health-fund service documents that make up
// the knowledge base and turns them into domain.SourceDocument values.
package knowledge

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/custodia-labs/hmo-assist/internal/core/domain"
)

// categoryKeywords maps file-name keywords to categories.
// Misspellings seen in exported file names are kept on purpose.
var categoryKeywords = []struct {
	category domain.Category
	keywords []string
}{
	{domain.CategoryAlternative, []string{"alternative", "רפואה משלימה", "רפואה_משלימה"}},
	{domain.CategoryDental, []string{"dental", "dentel", "שיניים"}},
	{domain.CategoryOptometry, []string{"optometry", "אופטומטרי"}},
	{domain.CategoryCommunication, []string{"communication", "תקשורת"}},
	{domain.CategoryPregnancy, []string{"pregnancy", "pragrency", "הריון"}},
	{domain.CategoryWorkshops, []string{"workshops", "סדנאות"}},
}

var (
	titleHeading   = regexp.MustCompile(`^##\s+(.+)$`)
	contactHeading = regexp.MustCompile(`(?i)^###.*(טלפון|פרטים|contact|phone)`)
	tierLabel      = regexp.MustCompile(`(?:\*\*)?(זהב|כסף|ארד|[Gg]old|[Ss]ilver|[Bb]ronze)(?:\*\*)?\s*:(?:\*\*)?`)
	separatorRow   = regexp.MustCompile(`^[\s|:\-]+$`)
	listMarker     = regexp.MustCompile(`^[-*]\s*`)
	brTag          = regexp.MustCompile(`(?i)<br\s*/?>`)
	brSuffix       = regexp.MustCompile(`(?i)<br\s*/?>$`)
)

// InferCategory derives the service category from a document file name.
func InferCategory(path string) (domain.Category, error) {
	stem := strings.ToLower(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(stem, strings.ToLower(kw)) {
				return entry.category, nil
			}
		}
	}
	return "", &domain.DocumentParseError{Document: path, Reason: "cannot infer category from file name"}
}

// Parse reads one Markdown service document.
// The document must hold a benefit table whose header names the HMO columns.
func Parse(path, content string) (*domain.SourceDocument, error) {
	category, err := InferCategory(path)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(content, "\n")
	start, end := tableBounds(lines)
	if start < 0 {
		return nil, &domain.DocumentParseError{Document: path, Reason: "no benefit table"}
	}

	doc := &domain.SourceDocument{
		Path:     path,
		Category: category,
		Title:    parseTitle(lines, path),
		Overview: parseOverview(lines[:start]),
		Contacts: parseContacts(lines),
	}

	if err := parseTable(doc, lines[start:end]); err != nil {
		return nil, err
	}
	return doc, nil
}

// tableBounds returns the first contiguous block of pipe-table rows.
func tableBounds(lines []string) (int, int) {
	start := -1
	for i, line := range lines {
		isRow := strings.HasPrefix(strings.TrimSpace(line), "|")
		switch {
		case isRow && start < 0:
			start = i
		case !isRow && start >= 0:
			return start, i
		}
	}
	if start < 0 {
		return -1, -1
	}
	return start, len(lines)
}

func parseTitle(lines []string, path string) string {
	for _, line := range lines {
		if m := titleHeading.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.ReplaceAll(stem, "_", " ")
}

func parseOverview(lines []string) string {
	var out []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// splitRow splits a pipe-table row into trimmed cells.
func splitRow(row string) []string {
	row = strings.TrimSpace(row)
	row = strings.TrimPrefix(row, "|")
	row = strings.TrimSuffix(row, "|")
	cells := strings.Split(row, "|")
	for i := range cells {
		cells[i] = strings.TrimSpace(cells[i])
	}
	return cells
}

// headerHMO maps a table header cell to an HMO.
func headerHMO(cell string) (domain.HMO, bool) {
	if h, ok := domain.ParseHMO(cell); ok {
		return h, true
	}
	lower := strings.ToLower(cell)
	for _, h := range domain.AllHMOs {
		if strings.Contains(lower, string(h)) {
			return h, true
		}
	}
	return "", false
}

func parseTable(doc *domain.SourceDocument, rows []string) error {
	if len(rows) < 2 {
		return &domain.DocumentParseError{Document: doc.Path, Reason: "benefit table has no data rows"}
	}

	header := splitRow(rows[0])
	columns := make(map[int]domain.HMO)
	seen := make(map[domain.HMO]bool)
	for i := 1; i < len(header); i++ {
		h, ok := headerHMO(header[i])
		if !ok {
			continue
		}
		if seen[h] {
			return &domain.DocumentParseError{Document: doc.Path, Reason: "duplicate column for " + string(h)}
		}
		seen[h] = true
		columns[i] = h
		doc.HMOs = append(doc.HMOs, h)
	}
	if len(columns) == 0 {
		return &domain.DocumentParseError{Document: doc.Path, Reason: "benefit table has no HMO columns"}
	}

	for _, row := range rows[1:] {
		if separatorRow.MatchString(row) {
			continue
		}
		cells := splitRow(row)
		if len(cells) == 0 || cells[0] == "" {
			continue
		}

		svc := &domain.ServiceRow{
			Name:  strings.ReplaceAll(cleanSegment(cells[0]), "**", ""),
			Cells: make(map[domain.HMO]map[domain.Tier]string, len(columns)),
		}
		for col, h := range columns {
			var cell string
			if col < len(cells) {
				cell = cells[col]
			}
			tiers, err := ParseTierCell(cell)
			if err != nil {
				return &domain.DocumentParseError{
					Document: doc.Path,
					Reason:   fmt.Sprintf("%s / %s: %v", svc.Name, h, err),
				}
			}
			svc.Cells[h] = tiers
		}
		doc.Services = append(doc.Services, svc)
	}

	if len(doc.Services) == 0 {
		return &domain.DocumentParseError{Document: doc.Path, Reason: "benefit table has no service rows"}
	}
	return nil
}

// ParseTierCell splits a benefit cell such as
// "**זהב:** 70% הנחה<br>**כסף:** 50% הנחה" into per-tier text.
// Text before the first tier label is ignored. When the cell marks labels
// with a line break or bold, unmarked tier words inside the benefit text are
// kept as text. A tier labeled twice is an error.
func ParseTierCell(cell string) (map[domain.Tier]string, error) {
	matches := tierLabel.FindAllStringSubmatchIndex(cell, -1)

	marked := 0
	for _, m := range matches {
		if m[0] > 0 && markedLabel(cell, m) {
			marked++
		}
	}
	if marked > 0 {
		kept := matches[:0]
		for _, m := range matches {
			if markedLabel(cell, m) {
				kept = append(kept, m)
			}
		}
		matches = kept
	}

	out := make(map[domain.Tier]string)
	labeled := make(map[domain.Tier]bool)
	for i, m := range matches {
		tier, ok := domain.ParseTier(cell[m[2]:m[3]])
		if !ok {
			continue
		}
		if labeled[tier] {
			return nil, fmt.Errorf("tier %s labeled twice", tier)
		}
		labeled[tier] = true
		end := len(cell)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		if text := cleanSegment(cell[m[1]:end]); text != "" {
			out[tier] = text
		}
	}
	return out, nil
}

// markedLabel reports whether a label match opens the cell, follows a line
// break or is bold.
func markedLabel(cell string, m []int) bool {
	if strings.HasPrefix(cell[m[0]:], "**") {
		return true
	}
	before := strings.TrimSpace(cell[:m[0]])
	return before == "" || brSuffix.MatchString(before)
}

// cleanSegment trims whitespace and line breaks plus one unbalanced bold marker.
func cleanSegment(s string) string {
	s = strings.TrimSpace(brTag.ReplaceAllString(s, " "))
	if strings.Count(s, "**")%2 == 1 {
		if strings.HasPrefix(s, "**") {
			s = s[2:]
		} else {
			s = strings.TrimSuffix(s, "**")
		}
	}
	return strings.TrimSpace(s)
}

// parseContacts collects lines that mention an HMO from the contact sections.
func parseContacts(lines []string) map[domain.HMO][]string {
	var section []string
	inContacts := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "##") {
			inContacts = contactHeading.MatchString(trimmed)
			continue
		}
		if inContacts && trimmed != "" {
			section = append(section, trimmed)
		}
	}

	contacts := make(map[domain.HMO][]string)
	for _, h := range domain.AllHMOs {
		for _, line := range section {
			if strings.Contains(line, h.HebrewName()) || strings.Contains(strings.ToLower(line), string(h)) {
				contacts[h] = append(contacts[h], listMarker.ReplaceAllString(line, ""))
			}
		}
	}
	return contacts
}
