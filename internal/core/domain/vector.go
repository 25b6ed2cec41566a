package domain

import "math"

// CosineSimilarity returns the cosine of the angle between a and b.
// Mismatched lengths or a zero vector score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// RankRecords scores the records matching filter against vector and
// returns the best topK in SortScored order.
func RankRecords(records []*EmbeddingRecord, vector []float32, filter ChunkFilter, topK int) []*ScoredChunk {
	scored := make([]*ScoredChunk, 0, len(records))
	for _, r := range records {
		if !filter.Matches(r.Metadata) {
			continue
		}
		scored = append(scored, &ScoredChunk{
			Chunk: r.Chunk(),
			Score: CosineSimilarity(vector, r.Vector),
		})
	}
	SortScored(scored)
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}
