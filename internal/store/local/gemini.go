package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/conversekit/chat-gateway/internal/logger"
	"github.com/conversekit/chat-gateway/internal/store"
)

const (
	defaultChatModel = "gemini-1.5-flash-latest"

	// maxToolRounds bounds the function-calling loop so a misbehaving model
	// cannot spin forever.
	maxToolRounds = 8
)

// GeminiCompleter executes streaming turns against the Gemini API in local
// mode. It pairs with SQLiteStore, which it consults to resolve named bots
// into their backstory and model.
type GeminiCompleter struct {
	client *genai.Client
	bots   *SQLiteStore
	log    *logger.Logger
}

func NewGeminiCompleter(ctx context.Context, apiKey string, bots *SQLiteStore, log *logger.Logger) (*GeminiCompleter, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiCompleter{client: client, bots: bots, log: log}, nil
}

func (c *GeminiCompleter) Close() error {
	return c.client.Close()
}

// StreamComplete runs one turn. Tokens stream to the sink as they arrive;
// function calls requested by the model run gateway-side and are fed back
// in, with the call/result pair recorded as extra messages in the final
// set. The returned slice always starts with the request messages so the
// caller's boundary arithmetic holds.
func (c *GeminiCompleter) StreamComplete(ctx context.Context, req store.CompleteRequest, sink store.EventSink) ([]store.Message, error) {
	final := append([]store.Message(nil), req.Messages...)

	backstory, modelName, err := c.resolvePersona(ctx, req)
	if err != nil {
		return final, err
	}

	model := c.client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(backstory)},
	}
	if tools := toTools(req.Functions); tools != nil {
		model.Tools = tools
	}

	history, lastUser, err := toGeminiHistory(req.Messages)
	if err != nil {
		return final, err
	}

	chatSession := model.StartChat()
	chatSession.History = history

	parts := []genai.Part{genai.Text(lastUser)}

	for round := 0; round < maxToolRounds; round++ {
		text, calls, err := c.streamOnce(ctx, chatSession, parts, sink)
		if err != nil {
			// Keep whatever partial output the stream delivered so the
			// aborted turn can still be persisted.
			if text != "" {
				final = appendBotMessage(final, text, sink)
			}
			return final, err
		}

		if len(calls) == 0 {
			return appendBotMessage(final, text, sink), nil
		}

		// Any text emitted alongside the calls is part of the transcript.
		if text != "" {
			final = appendBotMessage(final, text, sink)
		}

		responses := make([]genai.Part, 0, len(calls))
		for _, call := range calls {
			callMsg, resultMsg, response, err := c.invokeFunction(ctx, req.Functions, call)
			if err != nil {
				return final, err
			}
			final = appendMessage(final, callMsg, sink)
			final = appendMessage(final, resultMsg, sink)
			responses = append(responses, response)
		}
		parts = responses
	}

	return final, errors.New("function-calling rounds exhausted without a final answer")
}

// streamOnce sends one message (or function responses) and drains the
// token stream, returning the accumulated text and any function calls the
// model requested.
func (c *GeminiCompleter) streamOnce(ctx context.Context, cs *genai.ChatSession, parts []genai.Part, sink store.EventSink) (string, []genai.FunctionCall, error) {
	var text strings.Builder
	var calls []genai.FunctionCall

	iter := cs.SendMessageStream(ctx, parts...)
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return text.String(), nil, fmt.Errorf("gemini stream failed: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			switch p := part.(type) {
			case genai.Text:
				text.WriteString(string(p))
				if err := sink(store.Event{Type: "token", Data: store.TokenData{Text: string(p)}}); err != nil {
					return text.String(), nil, err
				}
			case genai.FunctionCall:
				calls = append(calls, p)
			default:
				c.log.Debug("ignoring non-text response part", "part_type", fmt.Sprintf("%T", part))
			}
		}
	}
	return text.String(), calls, nil
}

// invokeFunction runs a model-requested function gateway-side and packages
// the round trip both as transcript messages and as the response part fed
// back to the model.
func (c *GeminiCompleter) invokeFunction(ctx context.Context, functions []store.Function, call genai.FunctionCall) (store.Message, store.Message, genai.Part, error) {
	var fn *store.Function
	for i := range functions {
		if functions[i].Name == call.Name {
			fn = &functions[i]
			break
		}
	}
	if fn == nil {
		return store.Message{}, store.Message{}, nil, fmt.Errorf("model requested unknown function %q", call.Name)
	}

	args, err := json.Marshal(call.Args)
	if err != nil {
		return store.Message{}, store.Message{}, nil, fmt.Errorf("failed to encode function args: %w", err)
	}

	result, err := fn.Handler(ctx, args)
	if err != nil {
		return store.Message{}, store.Message{}, nil, fmt.Errorf("function %q failed: %w", call.Name, err)
	}

	callText, _ := json.Marshal(map[string]any{"name": call.Name, "args": call.Args})
	resultText, _ := json.Marshal(result)

	callMsg := store.Message{Type: store.MessageTypeCall, Text: string(callText)}
	resultMsg := store.Message{Type: store.MessageTypeResult, Text: string(resultText)}

	response := genai.FunctionResponse{
		Name:     call.Name,
		Response: toResponseMap(result),
	}
	return callMsg, resultMsg, response, nil
}

func appendBotMessage(final []store.Message, text string, sink store.EventSink) []store.Message {
	return appendMessage(final, store.Message{Type: store.MessageTypeBot, Text: text}, sink)
}

func appendMessage(final []store.Message, msg store.Message, sink store.EventSink) []store.Message {
	// Sink errors are deliberately ignored here: the message already exists
	// and must stay in the final set even if the client went away.
	_ = sink(store.Event{Type: "message", Data: msg})
	return append(final, msg)
}

// resolvePersona maps the request onto a backstory and Gemini model. Named
// bots come from the bots table; inline personas use the request fields.
// Model ids from other providers fall back to the default Gemini model.
func (c *GeminiCompleter) resolvePersona(ctx context.Context, req store.CompleteRequest) (string, string, error) {
	backstory := req.Backstory
	modelName := req.Model

	if req.BotID != "" {
		bot, err := c.bots.GetBot(ctx, req.BotID)
		if err != nil {
			return "", "", fmt.Errorf("failed to resolve bot %q: %w", req.BotID, err)
		}
		backstory = bot.Backstory
		if backstory == "" {
			backstory = bot.Description
		}
		modelName = bot.Model
	}

	if backstory == "" {
		backstory = "You are a helpful AI assistant."
	}
	if !strings.HasPrefix(modelName, "gemini") {
		modelName = defaultChatModel
	}
	return backstory, modelName, nil
}

func toGeminiHistory(messages []store.Message) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", errors.New("message history is empty")
	}

	last := messages[len(messages)-1]
	if last.Type != store.MessageTypeUser {
		return nil, "", errors.New("last message in history is not from the user")
	}

	var history []*genai.Content
	for _, msg := range messages[:len(messages)-1] {
		var role string
		switch msg.Type {
		case store.MessageTypeUser:
			role = "user"
		case store.MessageTypeBot:
			role = "model"
		default:
			// Call/result/context entries are not replayable as chat turns.
			continue
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Text)},
		})
	}
	return history, last.Text, nil
}

func toTools(functions []store.Function) []*genai.Tool {
	if len(functions) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(functions))
	for _, fn := range functions {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        fn.Name,
			Description: fn.Description,
			Parameters:  toSchema(fn.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// toSchema converts the loosely typed parameter description into a Gemini
// schema. Only the object/string/number/boolean subset the gateway's
// functions use is covered.
func toSchema(params map[string]any) *genai.Schema {
	schema := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
	props, _ := params["properties"].(map[string]any)
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		child := &genai.Schema{Type: genai.TypeString}
		switch prop["type"] {
		case "number", "integer":
			child.Type = genai.TypeNumber
		case "boolean":
			child.Type = genai.TypeBoolean
		case "object":
			child.Type = genai.TypeObject
		}
		if desc, ok := prop["description"].(string); ok {
			child.Description = desc
		}
		schema.Properties[name] = child
	}
	return schema
}

func toResponseMap(result any) map[string]any {
	raw, err := json.Marshal(result)
	if err != nil {
		return map[string]any{"result": fmt.Sprintf("%v", result)}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"result": string(raw)}
	}
	return m
}
