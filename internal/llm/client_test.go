package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alunalabs/aluna/internal/config"
	"github.com/alunalabs/aluna/internal/domain"
)

func testClient(baseURL string) *Client {
	return NewClient(config.GenerationConfig{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		Model:          "test-model",
		RequestTimeout: 5 * time.Second,
	})
}

func testRequest() Request {
	return Request{
		Messages:  []Message{{Role: "user", Content: "hola"}},
		MaxTokens: 100,
	}
}

func TestGenerateSuccess(t *testing.T) {
	t.Parallel()

	var got chatCompletionRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Hola, te escucho."}}]}`))
	}))
	defer srv.Close()

	result, err := testClient(srv.URL).Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if result.Text != "Hola, te escucho." {
		t.Errorf("Text = %q", result.Text)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if got.Model != "test-model" {
		t.Errorf("model = %q", got.Model)
	}
	if got.MaxTokens != 100 {
		t.Errorf("max_tokens = %d", got.MaxTokens)
	}
}

func TestGenerateStatusClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, domain.ErrNoAuthToken},
		{"throttled", http.StatusTooManyRequests, domain.ErrRateLimited},
		{"server error", http.StatusInternalServerError, domain.ErrUpstreamServer},
		{"bad gateway", http.StatusBadGateway, domain.ErrUpstreamServer},
		{"bad request", http.StatusBadRequest, domain.ErrNetworkFailure},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			_, err := testClient(srv.URL).Generate(context.Background(), testRequest())
			if !errors.Is(err, tc.want) {
				t.Errorf("status %d: err = %v, want %v", tc.status, err, tc.want)
			}
		})
	}
}

func TestGenerateMissingAPIKey(t *testing.T) {
	t.Parallel()

	c := NewClient(config.GenerationConfig{BaseURL: "http://127.0.0.1:1", RequestTimeout: time.Second})
	_, err := c.Generate(context.Background(), testRequest())
	if !errors.Is(err, domain.ErrNoAuthToken) {
		t.Errorf("err = %v, want ErrNoAuthToken before any request is made", err)
	}
}

func TestGenerateMalformedResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Generate(context.Background(), testRequest())
	if !errors.Is(err, domain.ErrNetworkFailure) {
		t.Errorf("err = %v, want ErrNetworkFailure for malformed payload", err)
	}
}

func TestGenerateEmptyChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Generate(context.Background(), testRequest())
	if !errors.Is(err, domain.ErrNetworkFailure) {
		t.Errorf("err = %v, want ErrNetworkFailure for empty choices", err)
	}
}

func TestGenerateTimeoutClassifiedAsUpstream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(config.GenerationConfig{
		BaseURL:        srv.URL,
		APIKey:         "test-key",
		Model:          "test-model",
		RequestTimeout: 20 * time.Millisecond,
	})
	_, err := c.Generate(context.Background(), testRequest())
	if !errors.Is(err, domain.ErrUpstreamServer) {
		t.Errorf("err = %v, want ErrUpstreamServer for a timed-out request", err)
	}
}

func TestGenerateConnectionRefused(t *testing.T) {
	t.Parallel()

	c := testClient("http://127.0.0.1:1")
	_, err := c.Generate(context.Background(), testRequest())
	if !errors.Is(err, domain.ErrNetworkFailure) {
		t.Errorf("err = %v, want ErrNetworkFailure when nothing answers", err)
	}
}

func TestStubGeneratorScriptsResults(t *testing.T) {
	t.Parallel()

	stub := &StubGenerator{Results: []string{"uno", "dos"}}
	ctx := context.Background()

	r1, err := stub.Generate(ctx, testRequest())
	if err != nil || r1.Text != "uno" {
		t.Fatalf("first call = (%v, %v)", r1, err)
	}
	r2, err := stub.Generate(ctx, testRequest())
	if err != nil || r2.Text != "dos" {
		t.Fatalf("second call = (%v, %v)", r2, err)
	}
	if len(stub.Calls) != 2 {
		t.Errorf("recorded %d calls, want 2", len(stub.Calls))
	}
}
