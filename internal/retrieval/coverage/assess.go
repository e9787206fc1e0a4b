package coverage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/kart-io/statute-agent/internal/retrieval/model"
	"github.com/kart-io/statute-agent/pkg/errors"
	logctx "github.com/kart-io/statute-agent/pkg/infra/logger"
	"github.com/kart-io/statute-agent/pkg/utils/json"
)

var tracer = otel.Tracer("statute-agent/coverage")

const assessSystemPrompt = "أنت محلل قانوني متخصص في تقييم الأدلة."

const assessTemplate = `أنت محلل قانوني تقيّم مدى تغطية الأدلة القانونية.

السؤال القانوني الأصلي:
%s

المواد القانونية المسترجعة:
%s

المجالات القانونية المغطاة حالياً:
%s

المجالات الناقصة أو الضعيفة:
%s

هل لدينا أدلة كافية للإجابة على السؤال القانوني بثقة؟

أجب بصيغة JSON:
{
    "sufficient": true/false,
    "confidence": 0.0-1.0,
    "reasoning_ar": "تحليل بالعربية",
    "missing_areas": ["area1", "area2"],
    "suggested_queries_ar": ["استعلام 1", "استعلام 2"]
}`

const (
	summaryArticles = 10
	summaryRunes    = 200
)

// Assess asks the chat model whether the evidence answers question. Any
// failure yields an insufficient verdict with zero confidence, together
// with an ErrSelfAssessment for logging.
func (a *Analyzer) Assess(ctx context.Context, question string, articles []*model.RetrievedArticle, cov model.Coverage) (model.Assessment, error) {
	if a.chat == nil {
		return failed(errors.ErrSelfAssessment.WithMessage("no chat model configured"))
	}

	ctx, span := tracer.Start(ctx, "coverage.assess")
	defer span.End()

	resp, err := a.chat.Generate(ctx, AssessPrompt(question, articles, cov), assessSystemPrompt)
	if err != nil {
		span.RecordError(err)
		return failed(errors.ErrSelfAssessment.WithCause(err))
	}

	verdict, err := ParseAssessment(resp)
	if err != nil {
		span.RecordError(err)
		return failed(errors.ErrSelfAssessment.WithCause(err))
	}

	logctx.FromContext(ctx).Debugw("self-assessment",
		"sufficient", verdict.Sufficient,
		"confidence", verdict.Confidence,
	)
	return verdict, nil
}

func failed(err *errors.Errno) (model.Assessment, error) {
	return model.Assessment{
		Sufficient:         false,
		Confidence:         0,
		ReasoningAR:        "فشل التقييم: " + err.Error(),
		MissingAreas:       []string{},
		SuggestedQueriesAR: []string{},
	}, err
}

// AssessPrompt renders the self-assessment prompt. Articles are expected
// best first; only the leading ten are summarised.
func AssessPrompt(question string, articles []*model.RetrievedArticle, cov model.Coverage) string {
	var arts strings.Builder
	for i, art := range articles {
		if i == summaryArticles {
			break
		}
		fmt.Fprintf(&arts, "- المادة %d: %s... (التشابه: %s)\n",
			art.ArticleID, truncateRunes(art.TextArabic, summaryRunes), percent(art.Similarity))
	}

	ids := make([]string, 0, len(cov))
	for id := range cov {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var areas strings.Builder
	for _, id := range ids {
		st := cov[id]
		fmt.Fprintf(&areas, "- %s: %s (%d مواد، تشابه: %s)\n",
			st.NameAR, st.Status, len(st.ArticleIDs), percent(st.AvgSimilarity))
	}

	var gaps strings.Builder
	for _, g := range Gaps(cov) {
		fmt.Fprintf(&gaps, "- %s: %s\n", g.NameAR, g.Status)
	}
	gapText := strings.TrimRight(gaps.String(), "\n")
	if gapText == "" {
		gapText = "لا يوجد ثغرات"
	}

	return fmt.Sprintf(assessTemplate,
		question,
		strings.TrimRight(arts.String(), "\n"),
		strings.TrimRight(areas.String(), "\n"),
		gapText,
	)
}

// ParseAssessment decodes a verdict, tolerating Markdown code fences and
// text around the JSON object. Confidence is clamped to [0, 1].
func ParseAssessment(resp string) (model.Assessment, error) {
	body := stripFences(resp)
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}

	var v model.Assessment
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return model.Assessment{}, fmt.Errorf("decode assessment: %w", err)
	}
	v.Confidence = min(max(v.Confidence, 0), 1)
	if v.MissingAreas == nil {
		v.MissingAreas = []string{}
	}
	if v.SuggestedQueriesAR == nil {
		v.SuggestedQueriesAR = []string{}
	}
	return v, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}

func percent(f float64) string {
	return fmt.Sprintf("%.0f%%", f*100)
}
