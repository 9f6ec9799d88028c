// Package remote scores token windows through an HTTP inference server.
//
// Protocol:
//
//	GET  <base>/v1/info   -> {"max_sequence_length": N, "vocab_size": V}
//	POST <base>/v1/score  {"input_ids": [...], "attention_mask": [...]}
//	                      -> {"logits": [[...], ...]}
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/samcharles93/greedo/internal/version"
)

const maxErrorBody = 512

type Options struct {
	// Timeout bounds each HTTP exchange. Zero leaves it to the caller's context.
	Timeout time.Duration
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

type Info struct {
	MaxSequenceLength int `json:"max_sequence_length"`
	VocabSize         int `json:"vocab_size"`
}

type scoreRequest struct {
	InputIDs      []int `json:"input_ids"`
	AttentionMask []int `json:"attention_mask"`
}

type scoreResponse struct {
	Logits [][]float32 `json:"logits"`
	Error  string      `json:"error,omitempty"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Client talks to one scorer server. It is safe for concurrent use.
type Client struct {
	base string
	http *http.Client
	info Info
}

// Dial fetches the server's info and returns a ready client.
func Dial(ctx context.Context, baseURL string, opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid scorer url %q", baseURL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	c := &Client{base: base, http: hc}

	var info Info
	if err := c.do(ctx, http.MethodGet, "/v1/info", nil, &info); err != nil {
		return nil, fmt.Errorf("scorer info: %w", err)
	}
	if info.MaxSequenceLength <= 0 {
		return nil, fmt.Errorf("scorer info: invalid max_sequence_length %d", info.MaxSequenceLength)
	}
	c.info = info
	return c, nil
}

func (c *Client) Info() Info { return c.info }

func (c *Client) MaxSequenceLength() int { return c.info.MaxSequenceLength }

func (c *Client) VocabSize() int { return c.info.VocabSize }

// Score posts one padded window and returns the per-position logits.
func (c *Client) Score(ctx context.Context, ids, mask []int) ([][]float32, error) {
	if len(ids) != len(mask) {
		return nil, fmt.Errorf("ids and mask length differ: %d vs %d", len(ids), len(mask))
	}
	var out scoreResponse
	if err := c.do(ctx, http.MethodPost, "/v1/score", scoreRequest{InputIDs: ids, AttentionMask: mask}, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, errors.New("remote score: " + out.Error)
	}
	return out.Logits, nil
}

func (c *Client) Close() error {
	if c == nil || c.http == nil {
		return nil
	}
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: strings.TrimPrefix(path, "/v1/"), Status: resp.StatusCode, Body: strings.TrimSpace(string(excerpt))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
