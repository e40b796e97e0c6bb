package gemini

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/spigell/talent-screener/internal/ai"
	"google.golang.org/genai"
)

type fakeChatCreator struct {
	mu    sync.Mutex
	calls []chatCallRecord
	queue []fakeChatResponse
}

type chatCallRecord struct {
	model  string
	config *genai.GenerateContentConfig
	chat   *fakeChat
}

type fakeChatResponse struct {
	resp *genai.GenerateContentResponse
	err  error
}

type fakeChat struct {
	response fakeChatResponse
	messages []string
}

func (f *fakeChat) SendMessage(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	for _, part := range parts {
		f.messages = append(f.messages, part.Text)
	}
	return f.response.resp, f.response.err
}

func (f *fakeChatCreator) enqueue(resp *genai.GenerateContentResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, fakeChatResponse{resp: resp, err: err})
}

func (f *fakeChatCreator) Create(_ context.Context, model string, config *genai.GenerateContentConfig, _ []*genai.Content) (chatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, errors.New("unexpected call")
	}
	res := f.queue[0]
	f.queue = f.queue[1:]
	chat := &fakeChat{response: res}
	f.calls = append(f.calls, chatCallRecord{model: model, config: config, chat: chat})
	return chat, nil
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
	}
}

func TestGeneratorSendsSystemInstruction(t *testing.T) {
	chats := &fakeChatCreator{}
	chats.enqueue(textResponse(`{"score": 80}`), nil)

	g := &Generator{chats: chats, model: "gemini-pro"}

	output, err := g.GenerateContent(context.Background(), "system", "message")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if output != `{"score": 80}` {
		t.Fatalf("unexpected output: %q", output)
	}

	if len(chats.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(chats.calls))
	}
	call := chats.calls[0]
	if call.model != "gemini-pro" {
		t.Fatalf("unexpected model %q", call.model)
	}
	if call.config == nil || call.config.SystemInstruction == nil {
		t.Fatalf("expected system instruction to be set")
	}
	if got := call.config.SystemInstruction.Parts[0].Text; got != "system" {
		t.Fatalf("unexpected system instruction: %q", got)
	}
	if len(call.chat.messages) != 1 || call.chat.messages[0] != "message" {
		t.Fatalf("unexpected chat message: %+v", call.chat.messages)
	}
}

func TestGeneratorClassifiesErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(t *testing.T, err error)
	}{
		{
			name: "quota with hint in message",
			err: genai.APIError{
				Code:    http.StatusTooManyRequests,
				Status:  "RESOURCE_EXHAUSTED",
				Message: "quota exhausted, retry after 60 seconds",
			},
			check: func(t *testing.T, err error) {
				var limited *ai.RateLimitedError
				if !errors.As(err, &limited) {
					t.Fatalf("expected rate limited error, got %v", err)
				}
				if limited.RetryAfter != time.Minute {
					t.Fatalf("expected 1m hint, got %s", limited.RetryAfter)
				}
			},
		},
		{
			name: "quota with retry info detail",
			err: genai.APIError{
				Code:    http.StatusTooManyRequests,
				Details: []map[string]any{{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "13s"}},
			},
			check: func(t *testing.T, err error) {
				var limited *ai.RateLimitedError
				if !errors.As(err, &limited) || limited.RetryAfter != 13*time.Second {
					t.Fatalf("expected 13s hint, got %v", err)
				}
			},
		},
		{
			name: "server error",
			err:  genai.APIError{Code: http.StatusInternalServerError, Status: "INTERNAL"},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ai.ErrTransientTimeout) {
					t.Fatalf("expected transient error, got %v", err)
				}
			},
		},
		{
			name: "bad request",
			err:  genai.APIError{Code: http.StatusBadRequest, Status: "INVALID_ARGUMENT"},
			check: func(t *testing.T, err error) {
				if errors.Is(err, ai.ErrTransientTimeout) || ai.Classify(err).Retry {
					t.Fatalf("expected permanent error, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chats := &fakeChatCreator{}
			chats.enqueue(nil, tt.err)
			g := &Generator{chats: chats, model: "gemini-pro"}

			_, err := g.GenerateContent(context.Background(), "sys", "msg")
			tt.check(t, err)
		})
	}
}

func TestGeneratorEmptyResponse(t *testing.T) {
	chats := &fakeChatCreator{}
	chats.enqueue(textResponse("   "), nil)
	g := &Generator{chats: chats, model: "gemini-pro"}

	_, err := g.GenerateContent(context.Background(), "sys", "msg")
	if !errors.Is(err, ai.ErrInvalidResponse) {
		t.Fatalf("expected invalid response, got %v", err)
	}
}
