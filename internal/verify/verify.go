// Package verify checks a claim against the indexed news corpus.
package verify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/vortex/internal/database"
	"github.com/TobiSchelling/vortex/internal/llm"
	"github.com/TobiSchelling/vortex/internal/metrics"
)

// Verdict labels as stored in the history.
const (
	LabelTrue         = "VERDADEIRO"
	LabelFalse        = "FALSO"
	LabelPartial      = "PARCIALMENTE VERDADEIRO"
	LabelInconclusive = "INCONCLUSIVO"
	LabelError        = "ERRO"
)

var knownLabels = map[string]bool{
	LabelTrue:         true,
	LabelFalse:        true,
	LabelPartial:      true,
	LabelInconclusive: true,
}

// DefaultUserID is recorded when the caller does not identify itself.
const DefaultUserID = "default"

const (
	defaultTopK         = 5
	defaultContentChars = 1500
)

// Verdict is the answer to a claim. Verdict strings are bracketed, e.g.
// "[FALSO]".
type Verdict struct {
	Veredito   string   `json:"veredito"`
	Analise    string   `json:"analise"`
	Confianca  int      `json:"confianca"`
	Evidencias []string `json:"evidencias"`
	// EvidenceIDs are the articles shown to the model.
	EvidenceIDs []int64 `json:"evidence_ids,omitempty"`
}

// Label returns the verdict without brackets.
func (v *Verdict) Label() string {
	return strings.Trim(v.Veredito, "[]")
}

// Model embeds claims and produces structured verdicts. *llm.Manager
// satisfies it.
type Model interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GenerateJSON(ctx context.Context, prompt string, opts llm.GenerateOptions) (map[string]any, error)
}

// ArticleSearcher finds the articles nearest to a query vector.
type ArticleSearcher interface {
	SearchSimilar(ctx context.Context, vec []float32, k int) ([]database.ScoredArticle, error)
}

// HistoryStore persists verifications.
type HistoryStore interface {
	InsertVerification(v database.Verification) (int64, error)
	ListVerifications(f database.VerificationFilter) ([]database.Verification, error)
}

// Options tune retrieval.
type Options struct {
	TopK         int
	ContentChars int
}

// Verifier runs the retrieval-augmented verification of claims.
type Verifier struct {
	model    Model
	searcher ArticleSearcher
	history  HistoryStore
	opts     Options
}

// New creates a Verifier.
func New(model Model, searcher ArticleSearcher, history HistoryStore, opts Options) *Verifier {
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.ContentChars <= 0 {
		opts.ContentChars = defaultContentChars
	}
	return &Verifier{model: model, searcher: searcher, history: history, opts: opts}
}

// VerifyClaim never fails: provider and parsing problems produce an ERRO or
// INCONCLUSIVO verdict, and every outcome is written to the history.
func (v *Verifier) VerifyClaim(ctx context.Context, claim, userID string) *Verdict {
	if userID == "" {
		userID = DefaultUserID
	}
	log := zap.L().With(zap.String("user_id", userID))

	verdict := v.verify(ctx, claim, log)

	metrics.Verifications.WithLabelValues(verdict.Label()).Inc()
	_, err := v.history.InsertVerification(database.Verification{
		UserID:     userID,
		Claim:      claim,
		Verdict:    verdict.Label(),
		Confidence: verdict.Confianca,
		Analysis:   verdict.Analise,
		Evidence:   verdict.EvidenceIDs,
		Quotes:     verdict.Evidencias,
	})
	if err != nil {
		log.Error("saving verification history", zap.Error(err))
	}
	return verdict
}

func (v *Verifier) verify(ctx context.Context, claim string, log *zap.Logger) *Verdict {
	vec, err := v.model.Embed(ctx, claim)
	if err != nil {
		log.Error("embedding claim", zap.Error(err))
		return &Verdict{
			Veredito:   "[" + LabelError + "]",
			Analise:    fmt.Sprintf("Erro ao gerar embedding da afirmação: %v", err),
			Evidencias: []string{},
		}
	}

	articles, err := v.searcher.SearchSimilar(ctx, vec, v.opts.TopK)
	if err != nil {
		log.Error("searching evidence", zap.Error(err))
		return &Verdict{
			Veredito:   "[" + LabelError + "]",
			Analise:    fmt.Sprintf("Erro ao buscar evidências: %v", err),
			Evidencias: []string{},
		}
	}
	ids := make([]int64, 0, len(articles))
	for _, a := range articles {
		ids = append(ids, a.ID)
	}
	log.Debug("retrieved evidence", zap.Int64s("article_ids", ids))

	prompt := buildPrompt(claim, formatEvidence(articles, v.opts.ContentChars))
	raw, err := v.model.GenerateJSON(ctx, prompt, llm.GenerateOptions{Temperature: 0.1})
	if err == nil {
		var verdict *Verdict
		if verdict, err = decodeVerdict(raw); err == nil {
			verdict.EvidenceIDs = ids
			return verdict
		}
	}

	if errors.Is(err, llm.ErrAllProvidersExhausted) {
		log.Error("verification failed, no provider left", zap.Error(err))
	} else {
		log.Warn("verification reply unusable", zap.Error(err))
	}
	return &Verdict{
		Veredito:    "[" + LabelInconclusive + "]",
		Analise:     fmt.Sprintf("Erro ao processar resposta da IA: %v", err),
		Evidencias:  []string{},
		EvidenceIDs: ids,
	}
}

// Search lists past verifications matching f, newest first. An empty
// UserID matches every caller. The limit defaults to 20 and a verdict may
// be given with or without brackets.
func (v *Verifier) Search(ctx context.Context, f database.VerificationFilter) ([]database.Verification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Verdict != "" {
		label, ok := ParseLabel(f.Verdict)
		if !ok && label != LabelError {
			return nil, fmt.Errorf("unknown verdict %q", f.Verdict)
		}
		f.Verdict = label
	}
	return v.history.ListVerifications(f)
}

// ParseLabel is the strict form of NormalizeLabel: it reports whether s
// names one of the verdicts a model may return.
func ParseLabel(s string) (string, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.Trim(s, "[] ")
	s = strings.Join(strings.Fields(strings.ReplaceAll(s, "_", " ")), " ")
	return s, knownLabels[s]
}

// NormalizeLabel maps free-form verdict text onto the closed vocabulary.
// Anything unrecognised becomes INCONCLUSIVO.
func NormalizeLabel(s string) string {
	if label, ok := ParseLabel(s); ok {
		return label
	}
	return LabelInconclusive
}

var errSchema = errors.New("response does not match the verdict schema")

func decodeVerdict(raw map[string]any) (*Verdict, error) {
	label, ok := raw["veredito"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing veredito", errSchema)
	}

	v := &Verdict{
		Veredito:   "[" + NormalizeLabel(label) + "]",
		Evidencias: []string{},
	}
	v.Analise, _ = raw["analise"].(string)

	switch c := raw["confianca"].(type) {
	case float64:
		v.Confianca = clampConfidence(c)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(c), "%"), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: confianca %q", errSchema, c)
		}
		v.Confianca = clampConfidence(f)
	case nil:
	default:
		return nil, fmt.Errorf("%w: confianca is %T", errSchema, c)
	}

	if list, ok := raw["evidencias"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				v.Evidencias = append(v.Evidencias, s)
			}
		}
	}
	return v, nil
}

func clampConfidence(c float64) int {
	if math.IsNaN(c) {
		return 0
	}
	return int(math.Round(min(max(c, 0), 100)))
}
