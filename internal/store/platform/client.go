package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/conversekit/chat-gateway/internal/logger"
	"github.com/conversekit/chat-gateway/internal/store"
)

// Client is the HTTP binding against the hosted conversation platform. It
// implements both the store and completer boundary interfaces.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
	log     *logger.Logger
}

func NewClient(baseURL, secret string, log *logger.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		http: &http.Client{
			// Completion streams are long-lived; per-call deadlines come
			// from the request context instead.
			Timeout: 0,
		},
		log: log,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// doJSON executes a request and decodes the JSON response into out (when
// non-nil). Non-2xx responses become RemoteError.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("platform request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return remoteError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode platform response: %w", err)
	}
	return nil
}

func remoteError(resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return store.ErrNotFound
	}
	var payload struct {
		Message string `json:"message"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Message == "" {
		payload.Message = string(raw)
	}
	return &store.RemoteError{Status: resp.StatusCode, Message: payload.Message}
}

func (c *Client) EnsureContact(ctx context.Context, params store.EnsureContactParams) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/contact/ensure", params, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) ListBots(ctx context.Context) ([]store.Bot, error) {
	var out struct {
		Items []store.Bot `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/bot/list", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) CreateConversation(ctx context.Context, params store.CreateConversationParams) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/conversation/create", params, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) UpdateConversation(ctx context.Context, conversationID string, params store.UpdateConversationParams) error {
	path := "/conversation/" + url.PathEscape(conversationID) + "/update"
	return c.doJSON(ctx, http.MethodPost, path, params, nil)
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	path := "/conversation/" + url.PathEscape(conversationID) + "/delete"
	return c.doJSON(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) ListConversations(ctx context.Context, contactID string, params store.ListConversationsParams) ([]store.Conversation, error) {
	path := "/contact/" + url.PathEscape(contactID) + "/conversation/list" +
		"?order=" + url.QueryEscape(params.Order) + "&take=" + strconv.Itoa(params.Take)

	var out struct {
		Items []store.Conversation `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	path := "/conversation/" + url.PathEscape(conversationID) + "/message/list"

	var out struct {
		Items []store.Message `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) CreateMessage(ctx context.Context, conversationID string, params store.CreateMessageParams) (string, error) {
	path := "/conversation/" + url.PathEscape(conversationID) + "/message/create"

	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, path, params, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

var _ store.Store = (*Client)(nil)
var _ store.Completer = (*Client)(nil)

// completePayload is the wire form of a completion request. Function
// handlers stay gateway-side; only the schemas travel.
type completePayload struct {
	BotID     string            `json:"botId,omitempty"`
	Backstory string            `json:"backstory,omitempty"`
	Model     string            `json:"model,omitempty"`
	ContactID string            `json:"contactId,omitempty"`
	Messages  []store.Message   `json:"messages"`
	Functions []functionPayload `json:"functions,omitempty"`
}

type functionPayload struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type functionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

const maxToolRounds = 8

// StreamComplete streams a turn from the platform. The platform emits
// token and message events; when the model requests a function the stream
// ends with a call event, the gateway runs the handler and re-issues the
// request with the call/result pair appended. The returned slice always
// starts with the request messages.
func (c *Client) StreamComplete(ctx context.Context, req store.CompleteRequest, sink store.EventSink) ([]store.Message, error) {
	payload := completePayload{
		BotID:     req.BotID,
		Backstory: req.Backstory,
		Model:     req.Model,
		ContactID: req.ContactID,
		Messages:  append([]store.Message(nil), req.Messages...),
	}
	for _, fn := range req.Functions {
		payload.Functions = append(payload.Functions, functionPayload{
			Name:        fn.Name,
			Description: fn.Description,
			Parameters:  fn.Parameters,
		})
	}

	final := append([]store.Message(nil), req.Messages...)

	for round := 0; round < maxToolRounds; round++ {
		appended, call, err := c.streamOnce(ctx, payload, sink)
		final = append(final, appended...)
		payload.Messages = append(payload.Messages, appended...)
		if err != nil {
			return final, err
		}
		if call == nil {
			return final, nil
		}

		callMsg, resultMsg, err := invokeFunction(ctx, req.Functions, *call)
		if err != nil {
			return final, err
		}
		for _, msg := range []store.Message{callMsg, resultMsg} {
			final = append(final, msg)
			payload.Messages = append(payload.Messages, msg)
			if err := sink(store.Event{Type: "message", Data: msg}); err != nil {
				return final, err
			}
		}
	}

	return final, fmt.Errorf("function-calling rounds exhausted without a final answer")
}

// streamOnce issues one completion request and drains its SSE stream,
// returning the messages it appended and an optional pending function call.
func (c *Client) streamOnce(ctx context.Context, payload completePayload, sink store.EventSink) ([]store.Message, *functionCall, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/conversation/complete", payload)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("platform completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, remoteError(resp)
	}

	var (
		appended []store.Message
		pending  *functionCall
		text     bytes.Buffer
	)

	scanner := newEventScanner(resp.Body)
	for {
		event, data, err := scanner.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// The tokens already forwarded form the partial bot message the
			// caller persists on abort.
			if text.Len() > 0 {
				appended = append(appended, store.Message{Type: store.MessageTypeBot, Text: text.String()})
			}
			return appended, nil, fmt.Errorf("platform stream interrupted: %w", err)
		}

		switch event {
		case "token":
			var token store.TokenData
			if err := json.Unmarshal(data, &token); err != nil {
				continue
			}
			text.WriteString(token.Text)
			if err := sink(store.Event{Type: "token", Data: token}); err != nil {
				return appended, nil, err
			}
		case "message":
			var msg store.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			msg.CreatedAt = time.Time{}
			appended = append(appended, msg)
			text.Reset()
			if err := sink(store.Event{Type: "message", Data: msg}); err != nil {
				return appended, nil, err
			}
		case "call":
			var call functionCall
			if err := json.Unmarshal(data, &call); err != nil {
				return appended, nil, fmt.Errorf("malformed call event: %w", err)
			}
			pending = &call
		default:
			c.log.Debug("ignoring unknown stream event", "event", event)
		}
	}

	// A finalized message event supersedes the token accumulation; only
	// synthesize one when the platform never sent it.
	if pending == nil && len(appended) == 0 && text.Len() > 0 {
		msg := store.Message{Type: store.MessageTypeBot, Text: text.String()}
		appended = append(appended, msg)
		if err := sink(store.Event{Type: "message", Data: msg}); err != nil {
			return appended, nil, err
		}
	}

	return appended, pending, nil
}

func invokeFunction(ctx context.Context, functions []store.Function, call functionCall) (store.Message, store.Message, error) {
	var fn *store.Function
	for i := range functions {
		if functions[i].Name == call.Name {
			fn = &functions[i]
			break
		}
	}
	if fn == nil {
		return store.Message{}, store.Message{}, fmt.Errorf("platform requested unknown function %q", call.Name)
	}

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	result, err := fn.Handler(ctx, args)
	if err != nil {
		return store.Message{}, store.Message{}, fmt.Errorf("function %q failed: %w", call.Name, err)
	}

	callText, _ := json.Marshal(map[string]any{"name": call.Name, "args": args})
	resultText, _ := json.Marshal(result)

	return store.Message{Type: store.MessageTypeCall, Text: string(callText)},
		store.Message{Type: store.MessageTypeResult, Text: string(resultText)},
		nil
}
