package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"gauge-bot/internal/domain/entity"
	"gauge-bot/internal/domain/port"
)

const chatCompletionsPath = "/v1/chat/completions"

// prompt требует от модели строго JSON-ответ по снимку прибора
const promptTemplate = `Analyze this photograph of an analog industrial gauge.
The gauge scale is expected to read in %q from %g to %g.
Return strictly JSON:
{
    "reading": <number>,
    "unit": "<string>",
    "confidence": <number between 0 and 1>,
    "condition_labels": ["<defect tag such as cracked-glass, corrosion, illegible-scale, bent-needle, condensation>"]
}
Use an empty condition_labels array if the gauge body looks intact.`

// jsonObjectPattern вытаскивает JSON-объект из зашумлённого ответа модели
var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// LlamaVisionProvider клиент совместимого с OpenAI chat-completions API
// с передачей снимка. Основная и резервная модели — два экземпляра этого
// типа с разными идентификаторами модели.
type LlamaVisionProvider struct {
	kind       entity.ModelKind
	model      string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewLlamaVisionProvider(kind entity.ModelKind, model, baseURL, apiKey string) (*LlamaVisionProvider, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("llamavision: base url required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("llamavision: model required")
	}

	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &LlamaVisionProvider{
		kind:       kind,
		model:      model,
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Transport: tr},
	}, nil
}

// NewLlamaVisionProviderWithHTTPClient для тестов: подменяет транспорт,
// чтобы не ходить в сеть
func NewLlamaVisionProviderWithHTTPClient(kind entity.ModelKind, model, baseURL, apiKey string, httpClient *http.Client) (*LlamaVisionProvider, error) {
	p, err := NewLlamaVisionProvider(kind, model, baseURL, apiKey)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		p.httpClient = httpClient
	}
	return p, nil
}

func (p *LlamaVisionProvider) Kind() entity.ModelKind { return p.kind }

// ---------------- Протокол chat completions ----------------

type chatContent struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatCompletionRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content,omitempty"`
		} `json:"message,omitempty"`
	} `json:"choices"`
}

// candidatePayload ожидаемая форма JSON-ответа модели
type candidatePayload struct {
	Reading         *float64 `json:"reading"`
	Unit            string   `json:"unit"`
	Confidence      *float64 `json:"confidence"`
	ConditionLabels []string `json:"condition_labels"`
}

// Extract отправляет снимок модели и разбирает кандидата показания.
// Сетевые отказы и таймауты помечаются как временные, неразборчивый
// ответ — как неисправимый для этой модели.
func (p *LlamaVisionProvider) Extract(ctx context.Context, img entity.GaugeImage, hints port.ScaleHints) (*entity.Candidate, error) {
	if len(img.Data) == 0 {
		return nil, p.failure(port.FailureMalformed, errors.New("empty image payload"))
	}

	reqBody := chatCompletionRequest{
		Model: p.model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContent{
				{Type: "text", Text: fmt.Sprintf(promptTemplate, hints.Units, hints.ScaleMin, hints.ScaleMax)},
				{Type: "image_url", ImageURL: &chatImageURL{
					URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img.Data),
				}},
			},
		}},
		Temperature:    0,
		ResponseFormat: map[string]any{"type": "json_object"},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return nil, p.failure(port.FailureMalformed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+chatCompletionsPath, &buf)
	if err != nil {
		return nil, p.failure(port.FailureMalformed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		// Сюда попадают и таймауты, и обрывы соединения
		return nil, p.failure(port.FailureTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		httpErr := fmt.Errorf("upstream http error: status=%d body=%s", resp.StatusCode, string(raw))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, p.failure(port.FailureTransient, httpErr)
		}
		return nil, p.failure(port.FailureMalformed, httpErr)
	}

	var completion chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return nil, p.failure(port.FailureMalformed, err)
	}

	text := ""
	for _, c := range completion.Choices {
		if strings.TrimSpace(c.Message.Content) != "" {
			text = c.Message.Content
			break
		}
	}
	if strings.TrimSpace(text) == "" {
		return nil, p.failure(port.FailureMalformed, errors.New("empty upstream completion"))
	}

	payload, err := parseCandidatePayload(text)
	if err != nil {
		return nil, p.failure(port.FailureMalformed, err)
	}

	units := strings.TrimSpace(payload.Unit)
	if units == "" {
		units = hints.Units
	}

	return &entity.Candidate{
		Value:           *payload.Reading,
		Units:           units,
		Confidence:      clamp01(*payload.Confidence),
		ConditionLabels: payload.ConditionLabels,
	}, nil
}

// parseCandidatePayload разбирает ответ модели; при мусоре вокруг JSON
// пробует вырезать объект регулярным выражением
func parseCandidatePayload(text string) (*candidatePayload, error) {
	text = sanitizeJSONText(text)

	var payload candidatePayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		match := jsonObjectPattern.FindString(text)
		if match == "" {
			return nil, fmt.Errorf("no json object in completion: %w", err)
		}
		if err := json.Unmarshal([]byte(match), &payload); err != nil {
			return nil, fmt.Errorf("invalid json in completion: %w", err)
		}
	}

	if payload.Reading == nil {
		return nil, errors.New("completion has no reading")
	}
	if payload.Confidence == nil {
		return nil, errors.New("completion has no confidence")
	}
	return &payload, nil
}

// sanitizeJSONText срезает markdown-ограждение вокруг JSON
func sanitizeJSONText(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	firstNL := strings.IndexByte(s, '\n')
	if firstNL == -1 {
		return strings.TrimSpace(strings.Trim(s, "`"))
	}
	s = s[firstNL+1:]
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (p *LlamaVisionProvider) failure(kind port.FailureKind, err error) error {
	return &port.ProviderError{Provider: p.kind, Kind: kind, Err: err}
}

// Проверка реализации интерфейса
var _ port.InferenceProvider = (*LlamaVisionProvider)(nil)
