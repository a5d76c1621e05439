package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"autogenius.dev/car-diagnostics/internal/config"
)

const (
	groqBaseURL = "https://api.groq.com/openai/v1"

	defaultGroqModel   = "gemma2-9b-it"
	defaultOpenAIModel = "gpt-4o-mini"
	defaultGeminiModel = "gemini-1.5-flash-latest"
)

// ChatMessage is one role-tagged turn sent to the completion API.
type ChatMessage struct {
	Role    string
	Content string
}

// Sampling holds the fixed generation limits of a completion request.
type Sampling struct {
	Temperature float32
	TopP        float32
	MaxTokens   int
}

// CompletionClient turns a message list into a single text completion.
type CompletionClient interface {
	Complete(ctx context.Context, messages []ChatMessage, sampling Sampling) (string, error)
	Close() error
}

var errNoAPIKey = errors.New("no API key configured")

// NewCompletionClient builds the client for the configured provider.
func NewCompletionClient(cfg config.Config) (CompletionClient, error) {
	apiKey := cfg.LLMAPIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %w", cfg.LLMProvider, errNoAPIKey)
	}

	switch cfg.LLMProvider {
	case config.ProviderGemini:
		client, err := newGeminiClient(context.Background(), apiKey, modelOrDefault(cfg.LLMModel, defaultGeminiModel))
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.ProviderOpenAI:
		clientConfig := openai.DefaultConfig(apiKey)
		if cfg.OpenAIBaseURL != "" {
			clientConfig.BaseURL = cfg.OpenAIBaseURL
		}
		return newOpenAIClient(clientConfig, modelOrDefault(cfg.LLMModel, defaultOpenAIModel)), nil
	default:
		clientConfig := openai.DefaultConfig(apiKey)
		clientConfig.BaseURL = groqBaseURL
		return newOpenAIClient(clientConfig, modelOrDefault(cfg.LLMModel, defaultGroqModel)), nil
	}
}

func modelOrDefault(model, fallback string) string {
	if model == "" {
		return fallback
	}
	return model
}

// openAIClient talks to any OpenAI-compatible chat completion endpoint (OpenAI, Groq).
type openAIClient struct {
	client *openai.Client
	model  string
}

func newOpenAIClient(cfg openai.ClientConfig, model string) *openAIClient {
	return &openAIClient{client: openai.NewClientWithConfig(cfg), model: model}
}

func (c *openAIClient) Complete(ctx context.Context, messages []ChatMessage, sampling Sampling) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		Temperature: sampling.Temperature,
		TopP:        sampling.TopP,
		MaxTokens:   sampling.MaxTokens,
	}
	// A zero temperature is dropped by omitempty and the server default applies.
	if req.Temperature == 0 {
		req.Temperature = math.SmallestNonzeroFloat32
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *openAIClient) Close() error { return nil }

type geminiClient struct {
	client *genai.Client
	model  string
}

func newGeminiClient(ctx context.Context, apiKey, model string) (*geminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &geminiClient{client: client, model: model}, nil
}

func (c *geminiClient) Close() error {
	if err := c.client.Close(); err != nil {
		return err
	}
	log.Println("GenAI client closed.")
	return nil
}

// Complete folds system messages into the system instruction and replays the rest as chat history.
func (c *geminiClient) Complete(ctx context.Context, messages []ChatMessage, sampling Sampling) (string, error) {
	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(sampling.Temperature)
	model.SetTopP(sampling.TopP)
	model.SetMaxOutputTokens(int32(sampling.MaxTokens))

	system, history, err := toGeminiContents(messages)
	if err != nil {
		return "", err
	}
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{Parts: system}
	}

	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]
	resp, err := chatSession.SendMessage(ctx, history[len(history)-1].Parts...)
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini response had no candidates")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		}
	}
	if responseText.Len() == 0 {
		return "", errors.New("gemini response had no text")
	}
	return responseText.String(), nil
}

// toGeminiContents splits messages into system instruction parts and user/model turns.
// The last turn must come from the user.
func toGeminiContents(messages []ChatMessage) ([]genai.Part, []*genai.Content, error) {
	var system []genai.Part
	var history []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, genai.Text(m.Content))
		case "assistant":
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}
	if len(history) == 0 || history[len(history)-1].Role != "user" {
		return nil, nil, errors.New("last message in history is not from 'user'")
	}
	return system, history, nil
}
