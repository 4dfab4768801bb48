package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"ContentEngine/internal/domain"
)

// Deduplicator removes redundant items in two tiers: exact content-hash
// matches, then near-duplicates by embedding cosine similarity. Both tiers
// keep the first-seen item, so output is deterministic for a fixed input
// ordering.
type Deduplicator struct {
	threshold float64
}

// NewDeduplicator builds a deduplicator with the near-dup similarity
// threshold.
func NewDeduplicator(threshold float64) *Deduplicator {
	return &Deduplicator{threshold: threshold}
}

// NormalizeBody strips markup, lowercases, and collapses whitespace.
func NormalizeBody(s string) string {
	if strings.ContainsRune(s, '<') {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// HashContent returns the exact-dup key for an item: a SHA-256 over the
// normalized body, falling back to the title when the body is empty so
// that body-less items do not all collide.
func HashContent(item domain.ContentItem) string {
	basis := NormalizeBody(item.Body)
	if basis == "" {
		basis = "title:" + NormalizeBody(item.Title)
	}
	sum := sha256.Sum256([]byte(basis))
	return hex.EncodeToString(sum[:])
}

// ExactDedup keeps the first item for each content hash and returns the
// IDs of the dropped duplicates. Items without a precomputed hash are
// hashed here.
func (d *Deduplicator) ExactDedup(items []domain.ContentItem) (kept []domain.ContentItem, duplicateIDs []int64) {
	seen := make(map[string]struct{}, len(items))
	kept = make([]domain.ContentItem, 0, len(items))
	for _, item := range items {
		if item.ContentHash == "" {
			item.ContentHash = HashContent(item)
		}
		if _, ok := seen[item.ContentHash]; ok {
			duplicateIDs = append(duplicateIDs, item.ID)
			continue
		}
		seen[item.ContentHash] = struct{}{}
		kept = append(kept, item)
	}
	return kept, duplicateIDs
}

// NearDedup drops items whose embedding is too similar to an already-kept
// item. The kept set grows sequentially, preserving the first-seen-wins
// tie-break.
func (d *Deduplicator) NearDedup(items []domain.ContentItem) (kept []domain.ContentItem, duplicateIDs []int64) {
	kept = make([]domain.ContentItem, 0, len(items))
	for _, item := range items {
		dup := false
		for _, k := range kept {
			if CosineSimilarity(item.Embedding, k.Embedding) >= d.threshold {
				dup = true
				break
			}
		}
		if dup {
			duplicateIDs = append(duplicateIDs, item.ID)
			continue
		}
		kept = append(kept, item)
	}
	return kept, duplicateIDs
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
