// Package aigrader grades a transcript by asking an LLM behind an
// OpenAI-compatible chat completions gateway. It is optional; the rule
// engine never depends on it.
package aigrader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"call-grader-go/internal/grading"
	"call-grader-go/internal/logger"
	"call-grader-go/internal/rubric"
	"call-grader-go/internal/transcript"
)

// ErrNotConfigured is returned when no gateway URL is set.
var ErrNotConfigured = errors.New("aigrader: llm gateway not configured")

type Config struct {
	GatewayURL string
	Model      string
	APIKey     string
	// Timeout bounds one gateway request, MaxRetry all attempts together.
	Timeout  time.Duration
	MaxRetry time.Duration
}

type Grader struct {
	cfg  Config
	http *http.Client
	log  *logrus.Entry
}

// New returns ErrNotConfigured when cfg has no gateway URL.
func New(cfg Config) (*Grader, error) {
	if strings.TrimSpace(cfg.GatewayURL) == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 25 * time.Second
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 45 * time.Second
	}
	return &Grader{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger.New().WithField("component", "aigrader"),
	}, nil
}

func (g *Grader) Model() string { return g.cfg.Model }

// BuildPrompt asks for a JSON object mapping each question id to a code.
func BuildPrompt(transcriptText string, items []rubric.Item) string {
	var qs strings.Builder
	for _, it := range items {
		fmt.Fprintf(&qs, "%s: %s\n", it.ID, it.CanonicalText)
	}
	var example strings.Builder
	example.WriteString("{\n")
	for i, it := range items {
		sep := ","
		if i == len(items)-1 {
			sep = ""
		}
		fmt.Fprintf(&example, "    %q: \"1\"%s\n", it.ID, sep)
	}
	example.WriteString("}")

	return fmt.Sprintf(`You are a 911 call quality assurance analyst. Analyze this transcript and grade it based on the questions below.

TRANSCRIPT:
%s

GRADING QUESTIONS (use codes: 1=Asked Correctly, 2=Not Asked, 4=Not As Scripted, 5=N/A):
%s
Return ONLY a JSON object with this exact format:
%s
`, transcriptText, qs.String(), example.String())
}

// Grade renders segments, asks the gateway and maps its answer onto r.
// Items the model skipped or answered with an unknown code are Not Asked.
func (g *Grader) Grade(ctx context.Context, segments []transcript.Segment, r *rubric.Rubric) (grading.Report, error) {
	items := r.Items()
	prompt := BuildPrompt(transcript.Render(segments), items)
	raw, err := g.complete(ctx, prompt)
	if err != nil {
		return grading.Report{}, err
	}

	report := grading.Report{Items: make([]grading.ItemGrade, 0, len(items))}
	for _, it := range items {
		c, err := grading.ParseCode(raw[it.ID])
		if err != nil {
			c = grading.CodeNotAsked
		}
		report.Items = append(report.Items, grading.ItemGrade{
			ID:     it.ID,
			Code:   c,
			Label:  it.CanonicalText,
			Status: c.Status(),
		})
	}
	return report, nil
}

func (g *Grader) complete(ctx context.Context, prompt string) (map[string]string, error) {
	reqBody := map[string]any{
		"model": g.cfg.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0.0,
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	g.log.WithField("payload_len", len(data)).Debug("llm request")

	var grades map[string]string
	var lastErr error
	op := func() error {
		reqCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, g.cfg.GatewayURL, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if g.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
		}
		resp, err := g.http.Do(req)
		if err != nil {
			lastErr = err
			g.log.WithError(err).Warn("llm request failed")
			return err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		g.log.WithField("http_status", resp.StatusCode).Debug("llm raw:\n" + string(body))

		if resp.StatusCode < 300 {
			if inner := extractContentFromChoices(body); inner != "" {
				if parsed, err := decodeGrades(inner); err == nil {
					grades = parsed
					return nil
				}
			}
			if fallback := extractJSON(string(body)); fallback != "" {
				if parsed, err := decodeGrades(fallback); err == nil {
					grades = parsed
					return nil
				}
			}
		}

		lastErr = fmt.Errorf("no grades found in LLM output (status %d)", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = g.cfg.MaxRetry
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return nil, fmt.Errorf("llm grade failed: %w", lastErr)
	}
	return grades, nil
}

// decodeGrades accepts {"1": "1"} as well as numeric codes {"1": 1}.
func decodeGrades(s string) (map[string]string, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for id, v := range raw {
		switch t := v.(type) {
		case string:
			out[id] = t
		case float64:
			out[id] = fmt.Sprintf("%g", t)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("empty grade object")
	}
	return out, nil
}

// extractContentFromChoices reads choices[0].message.content.
func extractContentFromChoices(body []byte) string {
	var obj struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &obj); err != nil || len(obj.Choices) == 0 {
		return ""
	}
	return extractJSON(obj.Choices[0].Message.Content)
}

// extractJSON finds the first balanced JSON object in s, ignoring markdown
// fences.
func extractJSON(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, r := range []string{"```json", "```", "`"} {
		s = strings.ReplaceAll(s, r, "")
	}
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}
