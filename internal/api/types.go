package api

import (
	"time"

	"github.com/samcharles93/greedo/internal/inference"
)

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

type SessionResponse struct {
	ID        string        `json:"id"`
	Object    string        `json:"object"`
	CreatedAt int64         `json:"created_at"`
	Status    SessionStatus `json:"status"`
}

type SessionStatus struct {
	State         string `json:"state"`
	HistoryLength int    `json:"history_length"`
	Capacity      int    `json:"capacity"`
	Requests      int    `json:"requests"`
	LastStop      string `json:"last_stop,omitempty"`
}

func statusFrom(st inference.Status) SessionStatus {
	return SessionStatus{
		State:         st.State.String(),
		HistoryLength: st.HistoryLength,
		Capacity:      st.Capacity,
		Requests:      st.Requests,
		LastStop:      string(st.LastStop),
	}
}

type DeleteSessionResp struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Deleted bool   `json:"deleted"`
}

type GenerateRequest struct {
	Input        string `json:"input"`
	Continue     bool   `json:"continue,omitempty"`
	MaxNewTokens int    `json:"max_new_tokens,omitempty"`
	MinSteps     int    `json:"min_steps,omitempty"`
	Stream       bool   `json:"stream,omitempty"`
}

type GenerateResponse struct {
	ID         string         `json:"id"`
	Object     string         `json:"object"`
	SessionID  string         `json:"session_id"`
	CreatedAt  int64          `json:"created_at"`
	Status     string         `json:"status"`
	Text       string         `json:"text"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      *Usage         `json:"usage,omitempty"`
	Error      *ResponseError `json:"error,omitempty"`
}

type Usage struct {
	PromptTokens    int     `json:"prompt_tokens"`
	GeneratedTokens int     `json:"generated_tokens"`
	HistoryLength   int     `json:"history_length"`
	DurationMS      int64   `json:"duration_ms"`
	TokensPerSecond float64 `json:"tokens_per_second"`
	WindowTruncated bool    `json:"window_truncated"`
}

func usageFrom(res *inference.Result, history int) *Usage {
	if res == nil {
		return nil
	}
	return &Usage{
		PromptTokens:    res.PromptTokens,
		GeneratedTokens: res.Steps,
		HistoryLength:   history,
		DurationMS:      res.Stats.Duration.Milliseconds(),
		TokensPerSecond: res.Stats.TPS,
		WindowTruncated: res.Truncated,
	}
}

type TokenizeRequest struct {
	Text string `json:"text"`
}

type TokenizeResponse struct {
	IDs    []int    `json:"ids"`
	Tokens []string `json:"tokens"`
}

type DetokenizeRequest struct {
	IDs []int `json:"ids"`
}

type DetokenizeResponse struct {
	Text string `json:"text"`
}

type VocabResponse struct {
	Size         int            `json:"size"`
	IDSpan       int            `json:"id_span"`
	MaxTokenLen  int            `json:"max_token_len"`
	ByteFallback bool           `json:"byte_fallback"`
	Specials     map[string]int `json:"specials"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
}

func uptime(since, now time.Time) string {
	return now.Sub(since).Truncate(time.Second).String()
}
