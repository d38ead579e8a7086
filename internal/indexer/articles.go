package indexer

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/h3ma209/Cora/pkg/models"
)

// articleFile is the shape of one structured source document: either a
// bare list of articles or a wrapper object with an "articles" key.
type articleFile struct {
	Articles []models.Article `json:"articles"`
}

// parseArticles decodes a JSON source document into its article list.
func parseArticles(data []byte) ([]models.Article, error) {
	trimmed := strings.TrimLeftFunc(string(data), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if strings.HasPrefix(trimmed, "[") {
		var list []models.Article
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decoding article list: %w", err)
		}
		return list, nil
	}
	var f articleFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding article file: %w", err)
	}
	return f.Articles, nil
}

// articleRecords emits one record per non-empty language variant. An
// article exists in at least one language; variants whose title and
// body are both empty produce nothing.
func articleRecords(a models.Article) []models.Record {
	var out []models.Record
	for _, lang := range models.SupportedLanguages {
		title := strings.TrimSpace(a.Title(lang))
		body := strings.TrimSpace(a.Body(lang))
		if title == "" && body == "" {
			continue
		}
		text := fmt.Sprintf("[Article %s] [%s] %s\n%s", a.ArticleID, a.AppName, title, body)
		out = append(out, models.Record{
			ID:   RecordID("article", a.ArticleID, lang, 0),
			Text: text,
			Metadata: models.Metadata{
				Type:      "article",
				ArticleID: a.ArticleID,
				AppName:   a.AppName,
				Language:  lang,
				Title:     title,
			},
		})
	}
	return out
}

// RecordID is the deterministic hash of a record's identity tuple.
// The same source re-indexed always produces the same id.
func RecordID(kind, sourceID, language string, ordinal int) string {
	h := sha1.Sum([]byte(kind + "|" + sourceID + "|" + language + "|" + fmt.Sprintf("%d", ordinal)))
	return hex.EncodeToString(h[:])
}
