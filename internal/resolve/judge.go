package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Verdict kinds returned by the judge.
const (
	VerdictDistinct  = "distinct"
	VerdictDuplicate = "duplicate"
	VerdictUpdate    = "update"
)

// JudgeMatch is one shortlisted article shown to the judge.
type JudgeMatch struct {
	ArticleID  int64   `json:"article_id"`
	Slug       string  `json:"slug"`
	Headline   string  `json:"headline"`
	Summary    string  `json:"summary"`
	Similarity float64 `json:"similarity"`
}

// JudgeRequest carries the ambiguous candidate and its closest matches.
type JudgeRequest struct {
	Headline string       `json:"headline"`
	Summary  string       `json:"summary"`
	Report   string       `json:"report,omitempty"`
	Matches  []JudgeMatch `json:"matches"`
}

// JudgeVerdict is the judge's parsed answer. MatchedArticleID is set for
// duplicate and update verdicts and always names one of the request
// matches.
type JudgeVerdict struct {
	Kind             string `json:"verdict"`
	MatchedArticleID int64  `json:"matched_article_id"`
	Rationale        string `json:"rationale"`
}

// Judge decides ambiguous candidates the text stage could not.
type Judge interface {
	Review(ctx context.Context, req JudgeRequest) (*JudgeVerdict, error)
}

const judgeSystemPrompt = `You review cybersecurity news deduplication cases. Given a candidate article and a list of recent corpus articles, decide whether the candidate is (a) a duplicate of one of them reporting the same event, (b) an update adding new developments to one of them, or (c) a distinct story.

Respond with a single JSON object and nothing else:
{"verdict": "duplicate" | "update" | "distinct", "matched_article_id": <id or 0>, "rationale": "<one or two sentences>"}

For "duplicate" and "update" the matched_article_id must be one of the listed article ids. For "distinct" use 0. The rationale must explain the decision in concrete terms.`

// HTTPJudge talks to an OpenAI-compatible chat completions endpoint. A
// failed call is retried with backoff a fixed number of times; retries
// resend the identical request body so the judged evidence never drifts
// between attempts.
type HTTPJudge struct {
	endpoint string
	model    string
	apiKey   string
	attempts int
	backoff  time.Duration
	client   *http.Client
	logger   zerolog.Logger
}

func NewHTTPJudge(endpoint, model, apiKey string, timeout time.Duration, attempts int, backoff time.Duration, logger zerolog.Logger) (*HTTPJudge, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("judge endpoint is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("judge model is required")
	}
	if attempts < 1 {
		attempts = 1
	}
	return &HTTPJudge{
		endpoint: endpoint,
		model:    model,
		apiKey:   apiKey,
		attempts: attempts,
		backoff:  backoff,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (j *HTTPJudge) Review(ctx context.Context, req JudgeRequest) (*JudgeVerdict, error) {
	if j == nil {
		return nil, fmt.Errorf("%w: judge is not configured", ErrJudgeUnavailable)
	}
	if len(req.Matches) == 0 {
		return nil, fmt.Errorf("judge request has no matches")
	}

	body, err := j.buildBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= j.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrJudgeUnavailable, ctx.Err())
			case <-time.After(j.backoff * time.Duration(attempt-1)):
			}
		}

		verdict, err := j.call(ctx, body, req.Matches)
		if err == nil {
			return verdict, nil
		}
		lastErr = err
		j.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("attempts", j.attempts).
			Msg("judge call failed")
	}

	return nil, fmt.Errorf("%w: %v", ErrJudgeUnavailable, lastErr)
}

func (j *HTTPJudge) buildBody(req JudgeRequest) ([]byte, error) {
	caseJSON, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal judge case: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model: j.model,
		Messages: []chatMessage{
			{Role: "system", Content: judgeSystemPrompt},
			{Role: "user", Content: string(caseJSON)},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal judge request: %w", err)
	}
	return body, nil
}

func (j *HTTPJudge) call(ctx context.Context, body []byte, matches []JudgeMatch) (*JudgeVerdict, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build judge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if j.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+j.apiKey)
	}

	resp, err := j.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("judge request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read judge response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("judge returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return nil, fmt.Errorf("decode judge response: %w", err)
	}
	if chat.Error != nil {
		return nil, fmt.Errorf("judge error: %s", chat.Error.Message)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("judge response has no choices")
	}

	return parseVerdict(chat.Choices[0].Message.Content, matches)
}

// parseVerdict decodes the model's JSON answer and rejects anything that
// does not reference the presented matches. A malformed verdict counts as
// a failed attempt rather than a decision.
func parseVerdict(content string, matches []JudgeMatch) (*JudgeVerdict, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var verdict JudgeVerdict
	if err := json.Unmarshal([]byte(content), &verdict); err != nil {
		return nil, fmt.Errorf("decode judge verdict: %w", err)
	}

	switch verdict.Kind {
	case VerdictDistinct:
		verdict.MatchedArticleID = 0
		return &verdict, nil
	case VerdictDuplicate, VerdictUpdate:
	default:
		return nil, fmt.Errorf("unknown judge verdict %q", verdict.Kind)
	}

	for _, match := range matches {
		if match.ArticleID == verdict.MatchedArticleID {
			return &verdict, nil
		}
	}
	return nil, fmt.Errorf("judge verdict references unknown article %d", verdict.MatchedArticleID)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
