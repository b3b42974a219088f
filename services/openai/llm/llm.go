package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/sashabaranov/go-openai"

	"soulagent/core"
)

const (
	GroqBaseURL      = "https://api.groq.com/openai/v1"
	DefaultGroqModel = "llama-3.3-70b-versatile"
)

// Config holds the configuration for any OpenAI-compatible chat endpoint.
type Config struct {
	APIKey      string  `json:"api_key"`
	BaseURL     string  `json:"base_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
	Streaming   bool    `json:"streaming"`
	// VerifyOnInit lists models during Init to fail fast on bad credentials.
	VerifyOnInit bool `json:"verify_on_init"`
}

// DefaultGroqConfig targets Groq's OpenAI-compatible API.
func DefaultGroqConfig() Config {
	return Config{
		BaseURL:     GroqBaseURL,
		Model:       DefaultGroqModel,
		MaxTokens:   256,
		Temperature: 0.7,
		Streaming:   true,
	}
}

// OpenAILLMService implements chat completions against an OpenAI-compatible
// endpoint. Reset cancels whatever completion is in flight.
type OpenAILLMService struct {
	config Config

	mu     sync.RWMutex
	client *openai.Client
	ctx    context.Context
	cancel context.CancelFunc
}

func NewOpenAILLMService(config Config) *OpenAILLMService {
	return &OpenAILLMService{config: config}
}

func (s *OpenAILLMService) Init(ctx context.Context) error {
	if s.config.APIKey == "" {
		return errors.New("openai: API key is required")
	}
	if s.config.Model == "" {
		return errors.New("openai: model is required")
	}

	clientConfig := openai.DefaultConfig(s.config.APIKey)
	if s.config.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(s.config.BaseURL, "/")
	}
	client := openai.NewClientWithConfig(clientConfig)

	if s.config.VerifyOnInit {
		if _, err := client.ListModels(ctx); err != nil {
			return fmt.Errorf("openai: verify credentials: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = client
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return nil
}

func (s *OpenAILLMService) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.client = nil
	return nil
}

// Reset cancels in-flight completions. Later calls get a fresh context.
func (s *OpenAILLMService) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return nil
}

func (s *OpenAILLMService) current() (*openai.Client, context.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, nil, errors.New("openai: service not initialized")
	}
	return s.client, s.ctx, nil
}

// RunCompletion generates a reply for llmContext and writes the text to
// outChan, in deltas when streaming. It blocks until the reply is done or the
// service is reset. Failures are reported on errChan.
func (s *OpenAILLMService) RunCompletion(llmContext core.LLMContext, outChan chan<- string, errChan chan<- error) {
	client, ctx, err := s.current()
	if err != nil {
		reportError(errChan, err)
		return
	}

	req := openai.ChatCompletionRequest{
		Model:       s.config.Model,
		Messages:    convertMessages(llmContext.Messages),
		MaxTokens:   s.config.MaxTokens,
		Temperature: s.config.Temperature,
		Stream:      s.config.Streaming,
	}

	if !s.config.Streaming {
		resp, err := client.CreateChatCompletion(ctx, req)
		if err != nil {
			if ctx.Err() == nil {
				reportError(errChan, fmt.Errorf("openai: completion: %w", err))
			}
			return
		}
		if len(resp.Choices) > 0 && resp.Choices[0].Message.Content != "" {
			select {
			case outChan <- resp.Choices[0].Message.Content:
			case <-ctx.Done():
			}
		}
		return
	}

	stream, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			reportError(errChan, fmt.Errorf("openai: open stream: %w", err))
		}
		return
	}
	defer stream.Close()

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				reportError(errChan, fmt.Errorf("openai: stream: %w", err))
			}
			return
		}
		if len(response.Choices) == 0 || response.Choices[0].Delta.Content == "" {
			continue
		}
		select {
		case outChan <- response.Choices[0].Delta.Content:
		case <-ctx.Done():
			return
		}
	}
}

// GenerateJsonOutput runs a non-streaming completion in JSON mode and decodes
// the reply into a map.
func (s *OpenAILLMService) GenerateJsonOutput(ctx context.Context, llmContext core.LLMContext) (map[string]any, error) {
	client, _, err := s.current()
	if err != nil {
		return nil, err
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.config.Model,
		Messages:    convertMessages(llmContext.Messages),
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: json completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: json completion returned no choices")
	}

	out := map[string]any{}
	if err := sonic.UnmarshalString(resp.Choices[0].Message.Content, &out); err != nil {
		return nil, fmt.Errorf("openai: decode json reply: %w", err)
	}
	return out, nil
}

func reportError(errChan chan<- error, err error) {
	if errChan == nil {
		return
	}
	select {
	case errChan <- err:
	default:
	}
}

func convertMessages(messages []core.LLMMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    convertRole(msg.Role),
			Content: msg.Message,
		})
	}
	return out
}

func convertRole(role core.LLMMessageRole) string {
	switch role {
	case core.LLMMessageRoleAssistant:
		return openai.ChatMessageRoleAssistant
	case core.LLMMessageRoleSystem:
		return openai.ChatMessageRoleSystem
	case core.LLMMessageRoleTool:
		return openai.ChatMessageRoleTool
	default:
		return openai.ChatMessageRoleUser
	}
}
