package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/FranksOps/docsweep/internal/llm"
	"github.com/FranksOps/docsweep/pkg/httpclient"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// HTTPBackend posts {text, source_language, target_language} to a translation
// service and reads {translated_text} back.
type HTTPBackend struct {
	endpoint string
	apiKey   string
	client   *httpclient.Client
}

var _ Backend = (*HTTPBackend)(nil)

// NewHTTPBackend creates a backend for endpoint. apiKey, when set, is sent as a bearer token.
func NewHTTPBackend(endpoint, apiKey string, client *httpclient.Client) *HTTPBackend {
	return &HTTPBackend{endpoint: endpoint, apiKey: apiKey, client: client}
}

type httpRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

type httpResponse struct {
	TranslatedText string `json:"translated_text"`
}

func (b *HTTPBackend) Translate(ctx context.Context, text, source, target string) (string, error) {
	body, err := json.Marshal(httpRequest{Text: text, SourceLanguage: source, TargetLanguage: target})
	if err != nil {
		return "", fmt.Errorf("marshal translation request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("translation service %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var out httpResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode translation response: %w", err)
	}
	return out.TranslatedText, nil
}

// LLMBackend asks a chat model for the translation.
type LLMBackend struct {
	completer llm.Completer
}

var _ Backend = (*LLMBackend)(nil)

// NewLLMBackend wraps completer as a translation backend.
func NewLLMBackend(completer llm.Completer) *LLMBackend {
	return &LLMBackend{completer: completer}
}

const translatePrompt = "You translate web search queries. Reply with the translated query only, " +
	"without quotes, explanations or transliteration. Keep technical terms and proper nouns searchable."

func (b *LLMBackend) Translate(ctx context.Context, text, source, target string) (string, error) {
	user := fmt.Sprintf("Translate this search query from %s to %s:\n%s", languageName(source), languageName(target), text)
	out, err := b.completer.Complete(ctx, translatePrompt, user)
	if err != nil {
		return "", err
	}
	return strings.Trim(llm.StripCodeFence(out), "\"'“”「」"), nil
}

func languageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}
