package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/revlane/assistant/internal/domain"
	"github.com/revlane/assistant/internal/llm"
)

// Evidence-sensitive query categories. The patterns are replaceable policy;
// only the category set and the specific-then-general tool fallback are load
// bearing.
type citationCategory string

const (
	categoryNone            citationCategory = ""
	categoryReliability     citationCategory = "reliability"
	categoryPerformanceGain citationCategory = "performance_gain"
	categoryLegal           citationCategory = "legal"
	categoryRecordTime      citationCategory = "record_time"
)

var citationPatterns = []struct {
	category citationCategory
	re       *regexp.Regexp
}{
	{categoryRecordTime, regexp.MustCompile(`(?i)\b(record|fastest)\b.*\b(lap|time|nurburgring|ring)\b|\blap record\b`)},
	{categoryPerformanceGain, regexp.MustCompile(`(?i)\b(how (much|many))\b.*\b(hp|horsepower|power|gain)\b|\bgains?\b.*\b(hp|horsepower|whp)\b`)},
	{categoryLegal, regexp.MustCompile(`(?i)\b(legal|illegal|street legal|emissions?|smog|inspection|noise limit|law)\b`)},
	{categoryReliability, regexp.MustCompile(`(?i)\b(reliab\w*|common (problems|issues|failures)|known issues|break down|lemon)\b`)},
}

// evidenceTool maps a category to the most specific evidence tool. The general
// knowledge search is the fallback for all of them.
var evidenceTool = map[citationCategory]string{
	categoryReliability:     "reliability_reports",
	categoryRecordTime:      "track_times",
	categoryPerformanceGain: "search_knowledge",
	categoryLegal:           "search_knowledge",
}

const fallbackEvidenceTool = "search_knowledge"

func detectCitationCategory(message string) citationCategory {
	for _, p := range citationPatterns {
		if p.re.MatchString(message) {
			return p.category
		}
	}
	return categoryNone
}

// enforceCitations retrieves evidence and re-invokes the model once to revise
// the draft with inline citations. Any failure keeps the draft; the turn never
// fails here.
func (o *Orchestrator) enforceCitations(ctx context.Context, t *turn, category citationCategory, draft string) (string, bool) {
	excerpts, toolName := o.fetchEvidence(ctx, t, category)
	if excerpts == nil {
		o.log.Warn("citation evidence retrieval failed, keeping draft",
			"turn_id", t.id, "category", string(category))
		return draft, false
	}

	revision := &llm.Request{
		System: o.systemPrompt(t.req.VehicleSlug),
		Messages: []llm.Message{
			{Role: "user", Text: t.req.Message},
			{Role: "assistant", Text: draft},
			{Role: "user", Text: fmt.Sprintf(
				"Revise your previous answer to cite the following retrieved evidence inline (by source). "+
					"If the evidence does not support a claim, state that limitation instead of asserting it. "+
					"Return only the revised answer.\n\nEvidence from %s:\n%s",
				toolName, string(excerpts))},
		},
		MaxTokens: o.cfg.MaxTokens,
	}

	resp, err := o.callProvider(ctx, revision, nil)
	if err != nil || resp.Text == "" {
		o.log.Warn("citation revision call failed, keeping draft",
			"turn_id", t.id, "error", err)
		return draft, false
	}
	t.usage.Add(domain.Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	})
	return resp.Text, true
}

// fetchEvidence tries the category's specific tool first and falls back to the
// general knowledge search. Returns nil when both yield nothing usable.
func (o *Orchestrator) fetchEvidence(ctx context.Context, t *turn, category citationCategory) (json.RawMessage, string) {
	subject := t.req.VehicleSlug
	for _, name := range evidenceToolOrder(category) {
		input := evidenceInput(name, subject, t.req.Message)
		results := o.executor.ExecuteAll(ctx, []domain.ToolInvocation{{
			CallID: domain.NewID("cite"),
			Name:   name,
			Input:  input,
		}}, t.req.Plan, t.callContext)

		res := results[0]
		t.usage.ToolCalls++
		t.toolsUsed[res.Name] = true
		t.provenance = append(t.provenance, res.Record(input))
		if res.Err != nil || !hasExcerpts(res.Output) {
			continue
		}
		return res.Output, name
	}
	return nil, ""
}

func evidenceToolOrder(category citationCategory) []string {
	specific := evidenceTool[category]
	if specific == "" || specific == fallbackEvidenceTool {
		return []string{fallbackEvidenceTool}
	}
	return []string{specific, fallbackEvidenceTool}
}

func evidenceInput(toolName, subject, message string) json.RawMessage {
	if toolName == fallbackEvidenceTool {
		q := message
		if subject != "" {
			q = subject + " " + message
		}
		b, _ := json.Marshal(map[string]string{"query": q})
		return b
	}
	b, _ := json.Marshal(map[string]string{"vehicle": subject})
	return b
}

// hasExcerpts reports whether a tool output carries at least one evidence
// excerpt.
func hasExcerpts(output json.RawMessage) bool {
	var probe struct {
		Excerpts []json.RawMessage `json:"excerpts"`
	}
	if err := json.Unmarshal(output, &probe); err != nil {
		return false
	}
	return len(probe.Excerpts) > 0
}
