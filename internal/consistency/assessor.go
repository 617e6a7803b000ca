package consistency

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/fpwarden/api/schemas"
	"github.com/xkilldash9x/fpwarden/internal/network"
)

const (
	// Above this combined serialized size the full profile is swapped
	// for its compacted summary before the first call.
	preemptiveCompactThreshold = 20000
	preemptiveCompactChars     = 3000
	// The single context-overflow retry compacts harder.
	retryCompactChars = 2000

	systemPrompt = "You are a strict JSON-only auditor for fingerprint consistency."
	taskPrompt   = "Task: Return EXACTLY one JSON: {score:int(0-100), verdict:str, issues:list, hints:list, confidence:float(0-1)}."
)

// contextErrorMarkers identify overflow/token-limit complaints inside
// HTTP error text from the model server.
var contextErrorMarkers = []string{"context", "overflow", "token", "trying to keep"}

var (
	scoreRe   = regexp.MustCompile(`"score"\s*:\s*(\d+)`)
	verdictRe = regexp.MustCompile(`"verdict"\s*:\s*"([^"]+)"`)
	issuesRe  = regexp.MustCompile(`(?s)"issues"\s*:\s*\[(.*?)\]`)
)

// AssessorConfig fixes the endpoint contract: address, model identifier
// and budgets are configuration constants, not per-request inputs.
type AssessorConfig struct {
	Endpoint    string
	Model       string
	MaxTokens   int
	Temperature float32
}

// Assessor sends a profile plus its deterministic findings to a local
// chat-completions endpoint and enforces the JSON response contract.
type Assessor struct {
	cfg    AssessorConfig
	client *network.Client
	log    *zap.Logger
}

// NewAssessor wires the assessor with its HTTP client. The client's
// own timeout bounds each call; a transport timeout is a hard failure
// and is not retried here.
func NewAssessor(cfg AssessorConfig, client *network.Client, logger *zap.Logger) *Assessor {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &Assessor{cfg: cfg, client: client, log: logger.Named("assessor")}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float32       `json:"temperature"`
}

// httpStatusError carries the status line and body of a non-2xx reply
// so overflow detection can inspect both.
type httpStatusError struct {
	Status int
	Body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("llm endpoint returned HTTP %d: %s", e.Status, truncate(e.Body, 300))
}

// Assess runs the LLM assessment. The returned result always carries
// the raw model text plus any reasoning/tool_calls metadata the backend
// supplied, whatever the parse outcome. The only errors raised are
// transport failures not categorized as context overflow, non-overflow
// HTTP errors, and JSON decode failures from the overflow-retry branch.
func (a *Assessor) Assess(ctx context.Context, p schemas.Profile, findings *schemas.Findings, opts *schemas.ConsistencyOptions) (schemas.AssessorResult, error) {
	var note string
	if opts != nil && opts.IgnoreGeoCountry != nil && *opts.IgnoreGeoCountry {
		note = "Ignore any mismatch between IP-based country and reverse-geocoded country; do not score this as an issue."
	}

	fpJSON, _ := json.Marshal(p)
	ckJSON, _ := json.Marshal(findings)

	var fingerprint any = p
	if len(fpJSON)+len(ckJSON) > preemptiveCompactThreshold {
		fingerprint = Compact(p, preemptiveCompactChars)
		if note == "" {
			note = "Input was too large; using compact fingerprint summary."
		}
	}

	msg, err := a.call(ctx, fingerprint, findings, note)
	if err != nil {
		statusErr, ok := err.(*httpStatusError)
		if !ok || !isContextError(statusErr) {
			return nil, err
		}

		// Exactly one retry with a harder-compacted profile.
		a.log.Warn("Model server hit its context limit, retrying with compact fingerprint",
			zap.Int("status", statusErr.Status))
		msg, err = a.call(ctx, Compact(p, retryCompactChars), findings,
			"Retry with compact fingerprint due to server context limits.")
		if err != nil {
			return nil, err
		}
		text, _ := msg["content"].(string)
		result := newResultContainer(msg, text)
		parsed, perr := parseStrict(text)
		if perr != nil {
			return nil, perr
		}
		mergeParsed(result, parsed)
		return result, nil
	}

	text, _ := msg["content"].(string)
	result := newResultContainer(msg, text)

	// Ordered parser chain: direct JSON, then brace-substring, then
	// best-effort regex recovery.
	if parsed, err := parseJSONObject(text); err == nil {
		mergeParsed(result, parsed)
		return result, nil
	}
	if sub, ok := extractJSONSubstring(text); ok {
		if parsed, err := parseJSONObject(sub); err == nil {
			mergeParsed(result, parsed)
			return result, nil
		}
	}
	if recoverFields(result, text) {
		return result, nil
	}

	result["parse_error"] = "Could not parse assistant JSON; raw output preserved in 'raw'"
	return result, nil
}

// call performs one POST to the chat-completions endpoint and returns
// the assistant message as a loose map.
func (a *Assessor) call(ctx context.Context, fingerprint any, findings *schemas.Findings, note string) (map[string]any, error) {
	payload := chatRequest{
		Model: a.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserContent(fingerprint, findings, note)},
		},
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode llm request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm endpoint call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read llm response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &httpStatusError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var parsed struct {
		Choices []struct {
			Message map[string]any `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode llm response envelope: %w", err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message == nil {
		return nil, fmt.Errorf("llm response carried no choices")
	}
	return parsed.Choices[0].Message, nil
}

func buildUserContent(fingerprint any, findings *schemas.Findings, note string) string {
	fpJSON, _ := json.MarshalIndent(fingerprint, "", "  ")
	ckJSON, _ := json.MarshalIndent(findings, "", "  ")

	var b strings.Builder
	b.WriteString("Fingerprint:\n")
	b.Write(fpJSON)
	b.WriteString("\nDeterministic checks:\n")
	b.Write(ckJSON)
	if note != "" {
		b.WriteString("\nNote: ")
		b.WriteString(note)
	}
	b.WriteString("\n")
	b.WriteString(taskPrompt)
	return b.String()
}

// newResultContainer seeds the result with everything that must never
// be lost: the raw text and the backend's extra message metadata.
func newResultContainer(msg map[string]any, text string) schemas.AssessorResult {
	result := schemas.AssessorResult{"raw": text}
	result["reasoning"] = msg["reasoning"]
	if tc, ok := msg["tool_calls"]; ok && tc != nil {
		result["tool_calls"] = tc
	} else {
		result["tool_calls"] = []any{}
	}
	return result
}

func mergeParsed(result schemas.AssessorResult, parsed map[string]any) {
	for k, v := range parsed {
		result[k] = v
	}
}

func parseJSONObject(text string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// parseStrict is the retry branch's parser: direct, then substring;
// a failure of both propagates as an error.
func parseStrict(text string) (map[string]any, error) {
	if parsed, err := parseJSONObject(text); err == nil {
		return parsed, nil
	}
	sub, ok := extractJSONSubstring(text)
	if !ok {
		return nil, fmt.Errorf("no JSON object found in model output")
	}
	return parseJSONObject(sub)
}

// extractJSONSubstring cuts the substring between the first '{' and
// the last '}'.
func extractJSONSubstring(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// recoverFields pulls score/verdict/issues out of free-form text.
// Returns false when nothing at all was recovered.
func recoverFields(result schemas.AssessorResult, text string) bool {
	found := false
	if m := scoreRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			result["score"] = n
			found = true
		}
	}
	if m := verdictRe.FindStringSubmatch(text); m != nil {
		result["verdict"] = m[1]
		found = true
	}
	if m := issuesRe.FindStringSubmatch(text); m != nil {
		items := []any{}
		for _, part := range splitTopLevel(m[1]) {
			item := strings.TrimSpace(part)
			item = strings.Trim(item, `"`)
			if item != "" {
				items = append(items, item)
			}
		}
		result["issues"] = items
		found = true
	}
	return found
}

// splitTopLevel splits on commas that sit outside quoted strings.
func splitTopLevel(s string) []string {
	var parts []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' && (i == 0 || s[i-1] != '\\'):
			inQuote = !inQuote
			cur.WriteByte(c)
		case c == ',' && !inQuote:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func isContextError(err *httpStatusError) bool {
	text := strings.ToLower(err.Error() + " " + err.Body)
	for _, marker := range contextErrorMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
