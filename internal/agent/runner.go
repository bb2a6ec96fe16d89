// ABOUTME: OpenAI-compatible chat completion runner for flight and hotel searches
// ABOUTME: Runs a bounded tool-calling loop and classifies failures into the agent error taxonomy

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/2389/flyme/internal/intent"
)

// DefaultModel is used when no model is configured.
const DefaultModel = openai.GPT4o

// ChatClient is the subset of the OpenAI client the runner needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Tool is a function the model may call during a run.
type Tool struct {
	Name        string
	Description string
	// Parameters is the JSON schema of the arguments object.
	Parameters any
	// Handler receives the raw JSON arguments and returns the tool output.
	Handler func(ctx context.Context, arguments string) (string, error)
}

// Usage is the token consumption of a single run.
type Usage struct {
	RequestID        string
	SessionID        string
	Intent           intent.Intent
	Turns            int
	PromptTokens     int
	CompletionTokens int
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Model        string
	Instructions string
	Tools        []Tool

	// OnUsage, if set, is called after every run that reached the API.
	OnUsage func(Usage)
}

// Runner executes searches against a chat completion API.
type Runner struct {
	client       ChatClient
	model        string
	instructions string
	tools        map[string]Tool
	toolDefs     []openai.Tool
	onUsage      func(Usage)
	logger       *slog.Logger
}

// NewRunner creates a runner around an existing chat client. A nil client
// yields a runner that answers every request with ErrUnavailable.
func NewRunner(client ChatClient, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	r := &Runner{
		client:       client,
		model:        model,
		instructions: cfg.Instructions,
		tools:        make(map[string]Tool, len(cfg.Tools)),
		onUsage:      cfg.OnUsage,
		logger:       logger.With("component", "agent"),
	}
	for _, t := range cfg.Tools {
		r.tools[t.Name] = t
		r.toolDefs = append(r.toolDefs, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return r
}

// NewOpenAIRunner creates a runner backed by the OpenAI API. baseURL may
// point at any OpenAI-compatible endpoint; empty keeps the default.
func NewOpenAIRunner(apiKey, baseURL string, cfg RunnerConfig, logger *slog.Logger) *Runner {
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	return NewRunner(openai.NewClientWithConfig(clientCfg), cfg, logger)
}

// Available reports whether the runner has a client to call.
func (r *Runner) Available() bool {
	return r != nil && r.client != nil
}

// RunFlightSearch runs a flight search for the prompt.
func (r *Runner) RunFlightSearch(ctx context.Context, prompt, sessionID string, maxTurns int) (string, error) {
	return r.run(ctx, intent.FlightSearch, prompt, sessionID, maxTurns)
}

// RunHotelSearch runs a hotel search for the prompt.
func (r *Runner) RunHotelSearch(ctx context.Context, prompt, sessionID string, maxTurns int) (string, error) {
	return r.run(ctx, intent.HotelSearch, prompt, sessionID, maxTurns)
}

func (r *Runner) run(ctx context.Context, in intent.Intent, prompt, sessionID string, maxTurns int) (string, error) {
	if r == nil || r.client == nil {
		return "", &Error{Kind: ErrUnavailable}
	}
	if maxTurns < 1 {
		maxTurns = 1
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: r.systemPrompt(in)},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}

	usage := Usage{RequestID: RequestIDFromContext(ctx), SessionID: sessionID, Intent: in}
	defer func() {
		if r.onUsage != nil && usage.Turns > 0 {
			r.onUsage(usage)
		}
	}()

	for usage.Turns < maxTurns {
		usage.Turns++

		resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    r.model,
			Messages: messages,
			Tools:    r.toolDefs,
			User:     sessionID,
		})
		if err != nil {
			r.logger.Error("chat completion failed",
				"intent", in.String(),
				"session", sessionID,
				"turn", usage.Turns,
				"error", err,
			)
			return "", Classify(err)
		}
		usage.PromptTokens += resp.Usage.PromptTokens
		usage.CompletionTokens += resp.Usage.CompletionTokens

		if len(resp.Choices) == 0 {
			return "", &Error{Kind: ErrUnknown, Err: errors.New("empty completion")}
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			r.logger.Debug("agent replied",
				"intent", in.String(),
				"session", sessionID,
				"turns", usage.Turns,
				"length", len(msg.Content),
			)
			return msg.Content, nil
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    r.callTool(ctx, call),
				ToolCallID: call.ID,
			})
		}
	}

	return "", &Error{Kind: ErrUnknown, Err: fmt.Errorf("%w after %d turns", ErrMaxTurns, maxTurns)}
}

// callTool executes one tool call. Failures are reported back to the model
// as the tool output so it can recover.
func (r *Runner) callTool(ctx context.Context, call openai.ToolCall) string {
	tool, ok := r.tools[call.Function.Name]
	if !ok {
		r.logger.Warn("model requested unknown tool", "tool", call.Function.Name)
		return fmt.Sprintf("error: unknown tool %q", call.Function.Name)
	}

	out, err := tool.Handler(ctx, call.Function.Arguments)
	if err != nil {
		r.logger.Warn("tool call failed", "tool", call.Function.Name, "error", err)
		return fmt.Sprintf("error: %v", err)
	}
	return out
}

func (r *Runner) systemPrompt(in intent.Intent) string {
	return fmt.Sprintf("Focus: the user wants to search for %s.\n\n%s", in.Noun(), r.instructions)
}
