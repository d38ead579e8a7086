package models

import "time"

// SupportedLanguages is the closed set of language codes the knowledge
// base carries. The Kurdish variants (Sorani ckb, Kurmanji kmr) are
// distinct languages throughout the system.
var SupportedLanguages = []string{"en", "ar", "ckb", "kmr"}

// Article is one structured knowledge-base record as it appears in the
// source JSON. Absent-language fields are empty strings, not missing.
type Article struct {
	ArticleID string   `json:"article_id"`
	TitleEN   string   `json:"title_en"`
	TitleAR   string   `json:"title_ar"`
	TitleCKB  string   `json:"title_ckb"`
	TitleKMR  string   `json:"title_kmr"`
	BodyEN    string   `json:"body_en"`
	BodyAR    string   `json:"body_ar"`
	BodyCKB   string   `json:"body_ckb"`
	BodyKMR   string   `json:"body_kmr"`
	AppName   string   `json:"app_name"`
	Tags      []string `json:"tags,omitempty"`
}

// Title returns the article title for the given language code.
func (a Article) Title(lang string) string {
	switch lang {
	case "en":
		return a.TitleEN
	case "ar":
		return a.TitleAR
	case "ckb":
		return a.TitleCKB
	case "kmr":
		return a.TitleKMR
	}
	return ""
}

// Body returns the article body for the given language code.
func (a Article) Body(lang string) string {
	switch lang {
	case "en":
		return a.BodyEN
	case "ar":
		return a.BodyAR
	case "ckb":
		return a.BodyCKB
	case "kmr":
		return a.BodyKMR
	}
	return ""
}

// Metadata travels with every indexed record and comes back on hits.
type Metadata struct {
	Type         string `json:"type"` // "article" | "pdf"
	ArticleID    string `json:"article_id,omitempty"`
	AppName      string `json:"app_name,omitempty"`
	Language     string `json:"language,omitempty"`
	Title        string `json:"title,omitempty"`
	SourcePath   string `json:"source_path,omitempty"`
	ChunkOrdinal int    `json:"chunk_ordinal,omitempty"`
}

// Record is one embedded document unit bound for the vector collection.
// ID is a deterministic function of the record's identity tuple
// (kind, source id, language, chunk ordinal) so re-indexing the same
// source upserts in place.
type Record struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
	Metadata  Metadata  `json:"metadata"`
}

// Hit is a query result. Distance is engine-native (lower is better);
// Similarity is the normalized score 1/(1+distance) in (0, 1].
type Hit struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	Metadata   Metadata `json:"metadata"`
	Distance   float64  `json:"distance"`
	Similarity float64  `json:"similarity"`
}

// Turn is one message in a session.
type Turn struct {
	Role    string    `json:"role"` // "user" | "assistant"
	Content string    `json:"content"`
	TS      time.Time `json:"ts"`
}

// Source is the projection of a hit attached to an answer.
type Source struct {
	Type       string  `json:"type"`
	ArticleID  string  `json:"article_id,omitempty"`
	Title      string  `json:"title,omitempty"`
	App        string  `json:"app,omitempty"`
	Similarity float64 `json:"similarity"`
}

// AnswerResult is the response body of /ask and the terminal payload
// of /ask/stream.
type AnswerResult struct {
	Answer        string   `json:"answer"`
	Sources       []Source `json:"sources"`
	Confidence    string   `json:"confidence"` // "high" | "medium" | "low"
	RetrievedDocs int      `json:"retrieved_docs"`
	SessionID     string   `json:"session_id"`
}

// ClassificationResult is the response body of /classify. Summaries
// maps each supported language code to a one-line summary. Enum-like
// fields carry whatever the model produced; routing decisions belong
// to the caller.
type ClassificationResult struct {
	DetectedLanguage      string            `json:"detected_language"`
	DetectedDialect       string            `json:"detected_dialect"`
	Category              string            `json:"category"`
	IssueType             string            `json:"issue_type"`
	RoutingDepartment     string            `json:"routing_department"`
	RecommendedArticleIDs []string          `json:"recommended_article_ids"`
	Sentiment             string            `json:"sentiment"`
	Summaries             map[string]string `json:"summaries"`
}
