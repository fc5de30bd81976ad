package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type rerankConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

// teiReranker talks to a text-embeddings-inference server running a
// cross-encoder: POST /rerank {query, texts} -> [{index, score}].
type teiReranker struct {
	baseURL string
	apiKey  string
}

type teiRerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
}

type teiRerankItem struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

func (r *teiReranker) Name() string {
	return "tei"
}

func (r *teiReranker) Score(ctx context.Context, model string, query string, texts []string) ([]float64, error) {
	var items []teiRerankItem
	if err := postJSON(ctx, r.baseURL+"/rerank", r.apiKey, teiRerankRequest{
		Query:     query,
		Texts:     texts,
		RawScores: true,
	}, &items); err != nil {
		return nil, err
	}
	scores := make([]float64, len(texts))
	seen := make([]bool, len(texts))
	for _, item := range items {
		if item.Index < 0 || item.Index >= len(texts) || seen[item.Index] {
			return nil, fmt.Errorf("tei rerank returned invalid index %d", item.Index)
		}
		seen[item.Index] = true
		scores[item.Index] = item.Score
	}
	if len(items) != len(texts) {
		return nil, fmt.Errorf("tei rerank returned %d scores for %d texts", len(items), len(texts))
	}
	return scores, nil
}

// cohereReranker covers the /rerank shape shared by Cohere, Jina and
// Infinity: {model, query, documents} -> {results: [{index, relevance_score}]}.
type cohereReranker struct {
	baseURL string
	apiKey  string
}

type cohereRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type cohereRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

func (r *cohereReranker) Name() string {
	return "cohere"
}

func (r *cohereReranker) Score(ctx context.Context, model string, query string, texts []string) ([]float64, error) {
	var out cohereRerankResponse
	if err := postJSON(ctx, r.baseURL+"/rerank", r.apiKey, cohereRerankRequest{
		Model:     model,
		Query:     query,
		Documents: texts,
		TopN:      len(texts),
	}, &out); err != nil {
		return nil, err
	}
	if len(out.Results) != len(texts) {
		return nil, fmt.Errorf("rerank returned %d scores for %d documents", len(out.Results), len(texts))
	}
	scores := make([]float64, len(texts))
	seen := make([]bool, len(texts))
	for _, item := range out.Results {
		if item.Index < 0 || item.Index >= len(texts) || seen[item.Index] {
			return nil, fmt.Errorf("rerank returned invalid index %d", item.Index)
		}
		seen[item.Index] = true
		scores[item.Index] = item.RelevanceScore
	}
	return scores, nil
}

func postJSON(ctx context.Context, endpoint string, apiKey string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("rerank request failed: %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeRerankConfig(args interface{}) (*rerankConfig, error) {
	cfg := &rerankConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("reranker base_url is required")
	}
	return cfg, nil
}

func init() {
	RegisterScore("tei", func(args interface{}) (IScoreProvider, error) {
		cfg, err := decodeRerankConfig(args)
		if err != nil {
			return nil, err
		}
		return &teiReranker{baseURL: cfg.BaseURL, apiKey: strings.TrimSpace(cfg.APIKey)}, nil
	})
	RegisterScore("cohere", func(args interface{}) (IScoreProvider, error) {
		cfg, err := decodeRerankConfig(args)
		if err != nil {
			return nil, err
		}
		return &cohereReranker{baseURL: cfg.BaseURL, apiKey: strings.TrimSpace(cfg.APIKey)}, nil
	})
}
