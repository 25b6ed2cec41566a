package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ChunkType identifies the role of a chunk within a category
type ChunkType string

const (
	ChunkTypeContext ChunkType = "context" // Category overview
	ChunkTypeBenefit ChunkType = "benefit" // Benefits for one HMO and tier
	ChunkTypeContact ChunkType = "contact" // Contact details for one HMO
)

// AllChunkTypes lists chunk types in tie-break order
var AllChunkTypes = []ChunkType{ChunkTypeContext, ChunkTypeBenefit, ChunkTypeContact}

// IsValid returns true if this is a known chunk type
func (t ChunkType) IsValid() bool {
	switch t {
	case ChunkTypeContext, ChunkTypeBenefit, ChunkTypeContact:
		return true
	default:
		return false
	}
}

func (t ChunkType) rank() int {
	switch t {
	case ChunkTypeContext:
		return 0
	case ChunkTypeBenefit:
		return 1
	case ChunkTypeContact:
		return 2
	default:
		return 3
	}
}

// Category is a service category; one source document per category
type Category string

const (
	CategoryAlternative   Category = "alternative"
	CategoryCommunication Category = "communication"
	CategoryDental        Category = "dental"
	CategoryOptometry     Category = "optometry"
	CategoryPregnancy     Category = "pregnancy"
	CategoryWorkshops     Category = "workshops"
)

// AllCategories lists the known categories in lexical order
var AllCategories = []Category{
	CategoryAlternative,
	CategoryCommunication,
	CategoryDental,
	CategoryOptometry,
	CategoryPregnancy,
	CategoryWorkshops,
}

// IsValid returns true if this is a known category
func (c Category) IsValid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

// HMO identifies an Israeli health fund
type HMO string

const (
	HMOClalit   HMO = "clalit"
	HMOMaccabi  HMO = "maccabi"
	HMOMeuhedet HMO = "meuhedet"
)

// AllHMOs lists the supported health funds in lexical order
var AllHMOs = []HMO{HMOClalit, HMOMaccabi, HMOMeuhedet}

// IsValid returns true if this is a known HMO
func (h HMO) IsValid() bool {
	switch h {
	case HMOClalit, HMOMaccabi, HMOMeuhedet:
		return true
	default:
		return false
	}
}

// Tier is a membership level within an HMO
type Tier string

const (
	TierGold   Tier = "gold"
	TierSilver Tier = "silver"
	TierBronze Tier = "bronze"
)

// AllTiers lists membership tiers from highest to lowest
var AllTiers = []Tier{TierGold, TierSilver, TierBronze}

// IsValid returns true if this is a known tier
func (t Tier) IsValid() bool {
	switch t {
	case TierGold, TierSilver, TierBronze:
		return true
	default:
		return false
	}
}

func (t Tier) rank() int {
	switch t {
	case "":
		return -1
	case TierGold:
		return 0
	case TierSilver:
		return 1
	case TierBronze:
		return 2
	default:
		return 3
	}
}

// hebrewHMOs maps the Hebrew names used in source documents and user input
var hebrewHMOs = map[string]HMO{
	"מכבי":   HMOMaccabi,
	"מאוחדת": HMOMeuhedet,
	"כללית":  HMOClalit,
}

// hebrewTiers maps Hebrew tier names
var hebrewTiers = map[string]Tier{
	"זהב": TierGold,
	"כסף": TierSilver,
	"ארד": TierBronze,
}

// ParseHMO normalizes an English or Hebrew HMO name
func ParseHMO(s string) (HMO, bool) {
	s = strings.TrimSpace(s)
	if h := HMO(strings.ToLower(s)); h.IsValid() {
		return h, true
	}
	for name, h := range hebrewHMOs {
		if strings.Contains(s, name) {
			return h, true
		}
	}
	return "", false
}

// ParseTier normalizes an English or Hebrew tier name
func ParseTier(s string) (Tier, bool) {
	s = strings.TrimSpace(s)
	if t := Tier(strings.ToLower(s)); t.IsValid() {
		return t, true
	}
	for name, t := range hebrewTiers {
		if strings.Contains(s, name) {
			return t, true
		}
	}
	return "", false
}

// HebrewName returns the Hebrew display name of the HMO
func (h HMO) HebrewName() string {
	for name, v := range hebrewHMOs {
		if v == h {
			return name
		}
	}
	return string(h)
}

// HebrewName returns the Hebrew display name of the tier
func (t Tier) HebrewName() string {
	for name, v := range hebrewTiers {
		if v == t {
			return name
		}
	}
	return string(t)
}

// chunkNamespace scopes chunk IDs so they never collide with other UUIDv5 users
var chunkNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/custodia-labs/hmo-assist/chunks"))

// ChunkKey returns the canonical identity key type/category/hmo/tier.
// Unset HMO or tier are encoded as empty segments.
func ChunkKey(t ChunkType, c Category, h HMO, tier Tier) string {
	return fmt.Sprintf("%s/%s/%s/%s", t, c, h, tier)
}

// ChunkID derives the deterministic chunk identifier from its identity fields
func ChunkID(t ChunkType, c Category, h HMO, tier Tier) string {
	return uuid.NewSHA1(chunkNamespace, []byte(ChunkKey(t, c, h, tier))).String()
}

// Chunk is the atomic retrieval unit of the knowledge base
type Chunk struct {
	ID         string    `json:"id"`
	Type       ChunkType `json:"type"`
	Category   Category  `json:"category"`
	HMO        HMO       `json:"hmo,omitempty"`  // Unset for context chunks
	Tier       Tier      `json:"tier,omitempty"` // Unset for context and contact chunks
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Language   Language  `json:"language"`
	SourcePath string    `json:"source_path"`
}

// NewChunk builds a chunk with its deterministic ID
func NewChunk(t ChunkType, c Category, h HMO, tier Tier) *Chunk {
	return &Chunk{
		ID:       ChunkID(t, c, h, tier),
		Type:     t,
		Category: c,
		HMO:      h,
		Tier:     tier,
	}
}

// Metadata returns the flat metadata stored next to the vector.
// Keys are stable so re-ingestion produces identical metadata.
func (c *Chunk) Metadata() map[string]string {
	m := map[string]string{
		"type":     string(c.Type),
		"category": string(c.Category),
		"language": string(c.Language),
		"source":   c.SourcePath,
		"title":    c.Title,
	}
	if c.HMO != "" {
		m["hmo"] = string(c.HMO)
	}
	if c.Tier != "" {
		m["tier"] = string(c.Tier)
	}
	return m
}

// ChunkFromMetadata rebuilds a chunk from stored metadata and text
func ChunkFromMetadata(id, content string, meta map[string]string) *Chunk {
	return &Chunk{
		ID:         id,
		Type:       ChunkType(meta["type"]),
		Category:   Category(meta["category"]),
		HMO:        HMO(meta["hmo"]),
		Tier:       Tier(meta["tier"]),
		Title:      meta["title"],
		Content:    content,
		Language:   Language(meta["language"]),
		SourcePath: meta["source"],
	}
}

// CompareChunks orders chunks for deterministic tie-breaking:
// chunk type (context < benefit < contact), category, HMO, tier
// (gold < silver < bronze), then ID.
func CompareChunks(a, b *Chunk) int {
	if d := a.Type.rank() - b.Type.rank(); d != 0 {
		return d
	}
	if c := strings.Compare(string(a.Category), string(b.Category)); c != 0 {
		return c
	}
	if c := strings.Compare(string(a.HMO), string(b.HMO)); c != 0 {
		return c
	}
	if d := a.Tier.rank() - b.Tier.rank(); d != 0 {
		return d
	}
	return strings.Compare(a.ID, b.ID)
}

// ChunkCounts reports chunk totals by type
type ChunkCounts struct {
	Context int `json:"context"`
	Benefit int `json:"benefit"`
	Contact int `json:"contact"`
}

// Total returns the number of chunks across all types
func (c ChunkCounts) Total() int {
	return c.Context + c.Benefit + c.Contact
}

// Add increments the counter for the chunk's type
func (c *ChunkCounts) Add(t ChunkType) {
	switch t {
	case ChunkTypeContext:
		c.Context++
	case ChunkTypeBenefit:
		c.Benefit++
	case ChunkTypeContact:
		c.Contact++
	}
}

// CountChunks tallies chunks by type
func CountChunks(chunks []*Chunk) ChunkCounts {
	var counts ChunkCounts
	for _, c := range chunks {
		counts.Add(c.Type)
	}
	return counts
}
