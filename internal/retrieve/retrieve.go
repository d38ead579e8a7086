package retrieve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/h3ma209/Cora/internal/llm"
	"github.com/h3ma209/Cora/internal/store"
	"github.com/h3ma209/Cora/pkg/models"
)

// Defaults for the retrieval knobs. The threshold is design-critical:
// the 1/(1+distance) normalization places "barely relevant" around
// 0.25 and a strong match around 0.5, so 0.3 keeps recall on the
// multilingual corpus without letting noise through.
const (
	DefaultK         = 3
	DefaultThreshold = 0.3
)

// Embedder is the slice of the model client the retriever needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

var _ Embedder = (llm.Client)(nil)

// Retriever turns a natural-language query into ranked, filtered,
// score-normalized hits.
type Retriever struct {
	Embedder Embedder
	Store    store.VectorStore
}

// New creates a Retriever over the given embedder and store.
func New(e Embedder, s store.VectorStore) *Retriever {
	return &Retriever{Embedder: e, Store: s}
}

// Retrieve embeds the query, fetches max(k,3) raw hits under the
// filter, normalizes similarity, drops hits below threshold, and
// returns up to k hits by descending similarity with ascending
// record-id tie-break.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, f store.Filter, threshold float64) ([]models.Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.Hit{}, nil
	}
	if k <= 0 {
		k = DefaultK
	}

	vecs, err := r.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	kRaw := k
	if kRaw < 3 {
		kRaw = 3
	}
	hits, err := r.Store.Query(ctx, vecs[0], kRaw, f)
	if err != nil {
		return nil, err
	}

	kept := hits[:0]
	for _, h := range hits {
		h.Similarity = 1 / (1 + h.Distance)
		if h.Similarity < threshold {
			continue
		}
		kept = append(kept, h)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Similarity != kept[j].Similarity {
			return kept[i].Similarity > kept[j].Similarity
		}
		return kept[i].ID < kept[j].ID
	})

	if len(kept) > k {
		kept = kept[:k]
	}
	return kept, nil
}

// RetrieveAndFormat retrieves and renders the hits as the context
// block consumed by the prompt assembler.
func (r *Retriever) RetrieveAndFormat(ctx context.Context, query string, k int, f store.Filter, threshold float64) (string, []models.Hit, error) {
	hits, err := r.Retrieve(ctx, query, k, f, threshold)
	if err != nil {
		return "", nil, err
	}
	return FormatContext(hits), hits, nil
}

// FormatContext renders hits as numbered source blocks separated by
// blank lines.
func FormatContext(hits []models.Hit) string {
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(fmt.Sprintf("[Source %d] [type=%s]", i+1, h.Metadata.Type))
		if h.Metadata.ArticleID != "" {
			b.WriteString(fmt.Sprintf(" [article_id=%s]", h.Metadata.ArticleID))
		}
		b.WriteString(fmt.Sprintf(" [similarity=%.2f]\n", h.Similarity))
		b.WriteString(h.Text)
	}
	return b.String()
}

// ArticleRecommendations runs the same pipeline and projects the hits
// to unique article ids in ranked order, skipping non-article hits.
func (r *Retriever) ArticleRecommendations(ctx context.Context, query string, k int, f store.Filter) ([]string, error) {
	hits, err := r.Retrieve(ctx, query, k, f, DefaultThreshold)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var ids []string
	for _, h := range hits {
		if h.Metadata.Type != "article" || h.Metadata.ArticleID == "" {
			continue
		}
		if seen[h.Metadata.ArticleID] {
			continue
		}
		seen[h.Metadata.ArticleID] = true
		ids = append(ids, h.Metadata.ArticleID)
	}
	return ids, nil
}
