package decision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// ErrNoJSON means the model reply held no parsable object.
var ErrNoJSON = errors.New("decision: no json object in reply")

var jsonBlock = regexp.MustCompile(`(?s)\{.*\}`)

// ChatConfig points at an OpenAI-compatible endpoint.
type ChatConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	AppURL      string
	AppTitle    string
}

// ChatClient asks a chat-completions model for a verdict.
type ChatClient struct {
	cfg  ChatConfig
	http *http.Client
	log  *zap.Logger
}

func NewChatClient(cfg ChatConfig, log *zap.Logger) *ChatClient {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &ChatClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
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
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *ChatClient) Decide(ctx context.Context, s Snapshot) (Verdict, error) {
	if c.cfg.APIKey == "" {
		return WaitVerdict("decision key missing"), nil
	}
	prompt, err := Prompt(s)
	if err != nil {
		return WaitVerdict("decision error"), err
	}
	raw, err := c.complete(ctx, prompt)
	if err != nil {
		c.log.Error("chat completion failed", zap.String("symbol", s.Symbol), zap.Error(err))
		return WaitVerdict("decision error"), err
	}
	v, err := ParseVerdict(raw)
	if err != nil {
		c.log.Error("unparsable verdict", zap.String("symbol", s.Symbol), zap.String("raw", truncate(raw, 200)), zap.Error(err))
		return WaitVerdict("decision error"), err
	}
	c.log.Info("verdict",
		zap.String("symbol", s.Symbol),
		zap.String("decision", string(v.Decision)),
		zap.Float64("confidence", v.Confidence),
		zap.String("mode", v.ExecutionMode),
		zap.String("strategy", v.Strategy))
	return v, nil
}

func (c *ChatClient) complete(ctx context.Context, prompt string) (string, error) {
	body, err := sonic.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", err
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.AppURL != "" {
		req.Header.Set("HTTP-Referer", c.cfg.AppURL)
	}
	if c.cfg.AppTitle != "" {
		req.Header.Set("X-Title", c.cfg.AppTitle)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read completion: %w", err)
	}
	if res.StatusCode >= 300 {
		return "", fmt.Errorf("completion status %d: %s", res.StatusCode, truncate(string(data), 200))
	}

	var out chatResponse
	if err := sonic.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("completion has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// ParseVerdict extracts the outermost JSON object from a model reply. Code
// fences are stripped when no braces match.
func ParseVerdict(raw string) (Verdict, error) {
	text := jsonBlock.FindString(raw)
	if text == "" {
		text = strings.TrimSpace(strings.NewReplacer("```json", "", "```", "").Replace(raw))
	}
	if text == "" {
		return WaitVerdict("empty reply"), ErrNoJSON
	}
	var m map[string]any
	if err := sonic.UnmarshalString(text, &m); err != nil {
		return WaitVerdict("decision error"), fmt.Errorf("%w: %v", ErrNoJSON, err)
	}
	return verdictFromMap(m), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
