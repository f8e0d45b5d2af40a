package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func judgeMatches() []JudgeMatch {
	return []JudgeMatch{
		{ArticleID: 11, Slug: "first-story", Headline: "First story", Similarity: 0.45},
		{ArticleID: 12, Slug: "second-story", Headline: "Second story", Similarity: 0.31},
	}
}

func chatReply(t *testing.T, content string) []byte {
	t.Helper()
	reply := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	raw, err := json.Marshal(reply)
	if err != nil {
		t.Fatalf("marshal reply: %v", err)
	}
	return raw
}

func TestHTTPJudge_ParsesVerdict(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(chatReply(t, `{"verdict":"update","matched_article_id":12,"rationale":"same incident, new patch details"}`))
	}))
	defer server.Close()

	judge, err := NewHTTPJudge(server.URL, "test-model", "test-key", 5*time.Second, 2, time.Millisecond, zerolog.Nop())
	if err != nil {
		t.Fatalf("build judge: %v", err)
	}

	verdict, err := judge.Review(context.Background(), JudgeRequest{Headline: "x", Matches: judgeMatches()})
	if err != nil {
		t.Fatalf("review failed: %v", err)
	}
	if verdict.Kind != VerdictUpdate || verdict.MatchedArticleID != 12 {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
}

func TestHTTPJudge_StripsCodeFences(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(chatReply(t, "```json\n{\"verdict\":\"distinct\",\"matched_article_id\":0,\"rationale\":\"different actors\"}\n```"))
	}))
	defer server.Close()

	judge, err := NewHTTPJudge(server.URL, "test-model", "", 5*time.Second, 1, 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("build judge: %v", err)
	}

	verdict, err := judge.Review(context.Background(), JudgeRequest{Matches: judgeMatches()})
	if err != nil {
		t.Fatalf("review failed: %v", err)
	}
	if verdict.Kind != VerdictDistinct {
		t.Fatalf("unexpected verdict kind: %s", verdict.Kind)
	}
}

func TestHTTPJudge_RetriesThenFails(t *testing.T) {
	t.Parallel()

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	judge, err := NewHTTPJudge(server.URL, "test-model", "", 5*time.Second, 2, time.Millisecond, zerolog.Nop())
	if err != nil {
		t.Fatalf("build judge: %v", err)
	}

	_, err = judge.Review(context.Background(), JudgeRequest{Matches: judgeMatches()})
	if !errors.Is(err, ErrJudgeUnavailable) {
		t.Fatalf("expected ErrJudgeUnavailable, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestHTTPJudge_RejectsUnknownMatch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(chatReply(t, `{"verdict":"duplicate","matched_article_id":999,"rationale":"same story"}`))
	}))
	defer server.Close()

	judge, err := NewHTTPJudge(server.URL, "test-model", "", 5*time.Second, 1, 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("build judge: %v", err)
	}

	_, err = judge.Review(context.Background(), JudgeRequest{Matches: judgeMatches()})
	if !errors.Is(err, ErrJudgeUnavailable) {
		t.Fatalf("expected hallucinated match to exhaust retries, got %v", err)
	}
}

func TestParseVerdict_RejectsUnknownKind(t *testing.T) {
	t.Parallel()

	if _, err := parseVerdict(`{"verdict":"maybe","matched_article_id":11}`, judgeMatches()); err == nil {
		t.Fatalf("expected error for unknown verdict kind")
	}
	if _, err := parseVerdict("not json", judgeMatches()); err == nil {
		t.Fatalf("expected error for malformed verdict")
	}
}
