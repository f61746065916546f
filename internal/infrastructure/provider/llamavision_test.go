package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"gauge-bot/internal/domain/entity"
	"gauge-bot/internal/domain/port"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestProvider(t *testing.T, rt roundTripperFunc) *LlamaVisionProvider {
	t.Helper()
	p, err := NewLlamaVisionProviderWithHTTPClient(
		entity.ModelPrimary,
		"llama-vision",
		"https://api.example.com/openai",
		"test-key",
		&http.Client{Transport: rt},
	)
	require.NoError(t, err)
	return p
}

func completionResponse(status int, content string) *http.Response {
	body := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	raw, _ := json.Marshal(body)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(raw)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func testImage() entity.GaugeImage {
	return entity.GaugeImage{Ref: "photo-1", Data: []byte{0xff, 0xd8, 0xff}}
}

func testHints() port.ScaleHints {
	return port.ScaleHints{Units: "psi", ScaleMin: 0, ScaleMax: 100}
}

func TestExtract_ParsesCleanJSON(t *testing.T) {
	p := newTestProvider(t, func(*http.Request) (*http.Response, error) {
		return completionResponse(http.StatusOK,
			`{"reading": 42.5, "unit": "psi", "confidence": 0.92, "condition_labels": ["corrosion"]}`), nil
	})

	c, err := p.Extract(context.Background(), testImage(), testHints())
	require.NoError(t, err)
	require.Equal(t, 42.5, c.Value)
	require.Equal(t, "psi", c.Units)
	require.Equal(t, 0.92, c.Confidence)
	require.Equal(t, []string{"corrosion"}, c.ConditionLabels)
}

func TestExtract_RequestShape(t *testing.T) {
	var captured *http.Request
	var reqBody []byte
	p := newTestProvider(t, func(req *http.Request) (*http.Response, error) {
		captured = req
		reqBody, _ = io.ReadAll(req.Body)
		return completionResponse(http.StatusOK,
			`{"reading": 1, "unit": "psi", "confidence": 0.5, "condition_labels": []}`), nil
	})

	_, err := p.Extract(context.Background(), testImage(), testHints())
	require.NoError(t, err)

	require.Equal(t, http.MethodPost, captured.Method)
	require.Equal(t, "/openai/v1/chat/completions", captured.URL.Path)
	require.Equal(t, "Bearer test-key", captured.Header.Get("Authorization"))
	require.Equal(t, "application/json", captured.Header.Get("Content-Type"))

	var payload chatCompletionRequest
	require.NoError(t, json.Unmarshal(reqBody, &payload))
	require.Equal(t, "llama-vision", payload.Model)
	require.Len(t, payload.Messages, 1)
	require.Len(t, payload.Messages[0].Content, 2)
	require.Contains(t, payload.Messages[0].Content[0].Text, `"psi"`)
	require.True(t, strings.HasPrefix(payload.Messages[0].Content[1].ImageURL.URL, "data:image/jpeg;base64,"))
	require.Equal(t, map[string]any{"type": "json_object"}, payload.ResponseFormat)
}

func TestExtract_StripsMarkdownFence(t *testing.T) {
	p := newTestProvider(t, func(*http.Request) (*http.Response, error) {
		content := "```json\n{\"reading\": 7.1, \"unit\": \"bar\", \"confidence\": 0.8, \"condition_labels\": []}\n```"
		return completionResponse(http.StatusOK, content), nil
	})

	c, err := p.Extract(context.Background(), testImage(), testHints())
	require.NoError(t, err)
	require.Equal(t, 7.1, c.Value)
	require.Equal(t, "bar", c.Units)
}

func TestExtract_SalvagesJSONFromProse(t *testing.T) {
	p := newTestProvider(t, func(*http.Request) (*http.Response, error) {
		content := `Here is the gauge analysis: {"reading": 63, "unit": "psi", "confidence": 0.75, "condition_labels": []} as requested.`
		return completionResponse(http.StatusOK, content), nil
	})

	c, err := p.Extract(context.Background(), testImage(), testHints())
	require.NoError(t, err)
	require.Equal(t, 63.0, c.Value)
}

func TestExtract_DefaultsUnitsFromHints(t *testing.T) {
	p := newTestProvider(t, func(*http.Request) (*http.Response, error) {
		return completionResponse(http.StatusOK,
			`{"reading": 12, "unit": "", "confidence": 0.9, "condition_labels": []}`), nil
	})

	c, err := p.Extract(context.Background(), testImage(), testHints())
	require.NoError(t, err)
	require.Equal(t, "psi", c.Units)
}

func TestExtract_ClampsConfidence(t *testing.T) {
	p := newTestProvider(t, func(*http.Request) (*http.Response, error) {
		return completionResponse(http.StatusOK,
			`{"reading": 12, "unit": "psi", "confidence": 1.7, "condition_labels": []}`), nil
	})

	c, err := p.Extract(context.Background(), testImage(), testHints())
	require.NoError(t, err)
	require.Equal(t, 1.0, c.Confidence)
}

func TestExtract_TransportErrorIsTransient(t *testing.T) {
	p := newTestProvider(t, func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection reset")
	})

	_, err := p.Extract(context.Background(), testImage(), testHints())
	require.Error(t, err)
	require.True(t, port.IsTransient(err))
}

func TestExtract_ServerErrorIsTransient(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway} {
		t.Run(fmt.Sprintf("status_%d", status), func(t *testing.T) {
			p := newTestProvider(t, func(*http.Request) (*http.Response, error) {
				return &http.Response{
					StatusCode: status,
					Body:       io.NopCloser(strings.NewReader(`{"error": "busy"}`)),
				}, nil
			})

			_, err := p.Extract(context.Background(), testImage(), testHints())
			require.Error(t, err)
			require.True(t, port.IsTransient(err))
		})
	}
}

func TestExtract_ClientErrorIsMalformed(t *testing.T) {
	p := newTestProvider(t, func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusBadRequest,
			Body:       io.NopCloser(strings.NewReader(`{"error": "bad model"}`)),
		}, nil
	})

	_, err := p.Extract(context.Background(), testImage(), testHints())
	require.Error(t, err)
	require.False(t, port.IsTransient(err))

	var perr *port.ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, port.FailureMalformed, perr.Kind)
}

func TestExtract_GarbageCompletionIsMalformed(t *testing.T) {
	p := newTestProvider(t, func(*http.Request) (*http.Response, error) {
		return completionResponse(http.StatusOK, "the needle points somewhere around forty"), nil
	})

	_, err := p.Extract(context.Background(), testImage(), testHints())
	require.Error(t, err)
	require.False(t, port.IsTransient(err))
}

func TestExtract_MissingFieldsAreMalformed(t *testing.T) {
	p := newTestProvider(t, func(*http.Request) (*http.Response, error) {
		return completionResponse(http.StatusOK, `{"unit": "psi", "condition_labels": []}`), nil
	})

	_, err := p.Extract(context.Background(), testImage(), testHints())
	require.Error(t, err)
	require.False(t, port.IsTransient(err))
}

func TestExtract_EmptyImageIsMalformed(t *testing.T) {
	p := newTestProvider(t, func(*http.Request) (*http.Response, error) {
		t.Fatal("no request expected for an empty image")
		return nil, nil
	})

	_, err := p.Extract(context.Background(), entity.GaugeImage{Ref: "photo-1"}, testHints())
	require.Error(t, err)
	require.False(t, port.IsTransient(err))
}
