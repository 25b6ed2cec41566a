package domain

// SourceDocument is one parsed knowledge-base document.
// There is one document per service category.
type SourceDocument struct {
	Path     string           `json:"path"`
	Category Category         `json:"category"`
	Title    string           `json:"title"`
	Overview string           `json:"overview"`
	HMOs     []HMO            `json:"hmos"` // Benefit table columns, in table order
	Services []*ServiceRow    `json:"services"`
	Contacts map[HMO][]string `json:"contacts"`
}

// ServiceRow is one row of the benefit table
type ServiceRow struct {
	Name  string                  `json:"name"`
	Cells map[HMO]map[Tier]string `json:"cells"`
}

// Benefit returns the benefit text for an HMO and tier
func (r *ServiceRow) Benefit(h HMO, t Tier) (string, bool) {
	tiers, ok := r.Cells[h]
	if !ok {
		return "", false
	}
	text, ok := tiers[t]
	if !ok || text == "" {
		return "", false
	}
	return text, true
}

// IngestionReport summarizes an index build
type IngestionReport struct {
	Documents int         `json:"documents"`
	Counts    ChunkCounts `json:"counts"`
	Batches   int         `json:"batches"`
	Model     string      `json:"model"`
	Took      int64       `json:"took_ms"`
}

// EmbeddingRecord is a chunk plus its vector as stored in the index
type EmbeddingRecord struct {
	ChunkID  string            `json:"chunk_id"`
	Vector   []float32         `json:"-"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// NewEmbeddingRecord pairs a chunk with its vector
func NewEmbeddingRecord(c *Chunk, vector []float32) *EmbeddingRecord {
	return &EmbeddingRecord{
		ChunkID:  c.ID,
		Vector:   vector,
		Text:     c.Content,
		Metadata: c.Metadata(),
	}
}

// Chunk rebuilds the chunk described by the record
func (r *EmbeddingRecord) Chunk() *Chunk {
	return ChunkFromMetadata(r.ChunkID, r.Text, r.Metadata)
}

// IndexStats summarizes the index contents
type IndexStats struct {
	Total      int            `json:"total"`
	ByType     map[string]int `json:"by_type"`
	ByHMO      map[string]int `json:"by_hmo"`
	ByTier     map[string]int `json:"by_tier"`
	ByCategory map[string]int `json:"by_category"`
	Backend    string         `json:"backend"`
}

// NewIndexStats returns empty statistics for a backend
func NewIndexStats(backend string) *IndexStats {
	return &IndexStats{
		ByType:     make(map[string]int),
		ByHMO:      make(map[string]int),
		ByTier:     make(map[string]int),
		ByCategory: make(map[string]int),
		Backend:    backend,
	}
}

// Observe adds one record's metadata to the statistics
func (s *IndexStats) Observe(meta map[string]string) {
	s.Total++
	s.ByType[meta["type"]]++
	s.ByCategory[meta["category"]]++
	if h := meta["hmo"]; h != "" {
		s.ByHMO[h]++
	}
	if t := meta["tier"]; t != "" {
		s.ByTier[t]++
	}
}
