package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/h3ma209/Cora/internal/llm"
	"github.com/h3ma209/Cora/internal/store"
	"github.com/h3ma209/Cora/pkg/models"
)

// Retriever is the slice of the retrieval service the classifier needs.
type Retriever interface {
	RetrieveAndFormat(ctx context.Context, query string, k int, f store.Filter, threshold float64) (string, []models.Hit, error)
}

// Prompter builds the classification prompt.
type Prompter interface {
	Classification(text, context string) string
}

// Classifier turns a support-ticket text into a routing decision.
type Classifier struct {
	Retriever Retriever
	Prompts   Prompter
	LLM       llm.Client
	Model     string
}

// ValidationError reports model output that is missing required schema
// keys or carries a malformed summaries set.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "classify: " + e.Reason }

// requiredKeys are the top-level keys the model must emit.
var requiredKeys = []string{
	"detected_language",
	"detected_dialect",
	"category",
	"issue_type",
	"routing_department",
	"recommended_article_ids",
	"sentiment",
	"summaries",
}

// Classify retrieves supporting articles, prompts the model in
// strict-JSON mode, validates the schema, and returns the result.
// Unknown enum values pass through unchanged; routing belongs to the
// caller.
func (c *Classifier) Classify(ctx context.Context, text string) (models.ClassificationResult, error) {
	text = strings.TrimSpace(text)

	contextBlock, _, err := c.Retriever.RetrieveAndFormat(
		ctx, text, 3, store.Filter{}, 0.3)
	if err != nil {
		// Degrade to an empty context; classification still runs.
		contextBlock = ""
	}

	promptText := c.Prompts.Classification(text, contextBlock)
	raw, err := c.LLM.GenerateJSON(ctx, promptText, llm.ClassifyOptions(c.Model))
	if err != nil {
		return models.ClassificationResult{}, err
	}

	return validate(raw)
}

// validate enforces the response schema: every required key present,
// summaries keyed by exactly the supported language set, recommended
// ids a (possibly empty) list of strings.
func validate(raw json.RawMessage) (models.ClassificationResult, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return models.ClassificationResult{}, &ValidationError{Reason: "output is not a JSON object"}
	}
	for _, k := range requiredKeys {
		if _, ok := probe[k]; !ok {
			return models.ClassificationResult{}, &ValidationError{Reason: "missing required key " + k}
		}
	}

	var out models.ClassificationResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return models.ClassificationResult{}, &ValidationError{Reason: fmt.Sprintf("schema mismatch: %v", err)}
	}

	if out.RecommendedArticleIDs == nil {
		out.RecommendedArticleIDs = []string{}
	}

	if len(out.Summaries) != len(models.SupportedLanguages) {
		return models.ClassificationResult{}, &ValidationError{
			Reason: fmt.Sprintf("summaries must cover exactly %v", models.SupportedLanguages),
		}
	}
	for _, lang := range models.SupportedLanguages {
		if _, ok := out.Summaries[lang]; !ok {
			return models.ClassificationResult{}, &ValidationError{Reason: "summaries missing language " + lang}
		}
	}

	return out, nil
}
