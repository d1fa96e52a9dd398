package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/carebridge/messaging/internal/logger"
	"github.com/carebridge/messaging/internal/models"
)

var log = logger.New("rest")

// Config holds what the fallback client needs to reach the API.
type Config struct {
	// BaseURL is the root URL of the REST API, e.g. "https://api.example.com".
	BaseURL string

	// Token is the bearer token sent in the Authorization header of
	// every call. The same token the push handshake uses.
	Token string

	// HTTPClient is used for all requests. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client is the request/response side of the messaging protocol: primary
// transport for all reads, fallback transport for sends and read marks.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a fallback client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("rest: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("rest: invalid BaseURL %q: %w", cfg.BaseURL, err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: httpClient,
	}, nil
}

// SetToken replaces the bearer token, e.g. after the auth layer rotated it.
func (c *Client) SetToken(token string) {
	c.token = token
}

// envelope is the uniform response wrapper every endpoint uses.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

// do issues one request and decodes the envelope's data into out (when
// out is non-nil). Failures are classified per the package taxonomy.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("rest: encoding %s %s body: %w", method, path, err)
		}
		reqBody = bytes.NewReader(raw)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("rest: building %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	var env envelope
	if decErr := json.NewDecoder(resp.Body).Decode(&env); decErr != nil && resp.StatusCode < 400 {
		return &TransportError{Op: method + " " + path, Err: fmt.Errorf("decoding response: %w", decErr)}
	}

	reason := env.Error
	if reason == "" {
		reason = env.Message
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s %s", ErrAuthRequired, method, path)
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s", ErrPermissionDenied, method, path)
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s %s (status %d)", ErrServer, method, path, resp.StatusCode)
	case resp.StatusCode >= 400 || !env.Success:
		log.Debug("%s %s rejected: status=%d reason=%q", method, path, resp.StatusCode, reason)
		return &APIError{Status: resp.StatusCode, Message: reason}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &TransportError{Op: method + " " + path, Err: fmt.Errorf("decoding data: %w", err)}
		}
	}
	return nil
}

func pageQuery(page, pageSize int) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	return q
}

// ListConversations fetches one page of the caller's conversations.
func (c *Client) ListConversations(ctx context.Context, page, pageSize int) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := c.do(ctx, http.MethodGet, "/api/conversations", pageQuery(page, pageSize), nil, &convs)
	if err != nil {
		return nil, err
	}
	return convs, nil
}

// conversationDetail is the data shape of the conversation-with-messages
// endpoint.
type conversationDetail struct {
	Conversation models.Conversation `json:"conversation"`
	Messages     []models.Message    `json:"messages"`
}

// GetConversation fetches a conversation and one page of its messages.
func (c *Client) GetConversation(ctx context.Context, id string, page, pageSize int) (models.Conversation, []models.Message, error) {
	var detail conversationDetail
	err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(id), pageQuery(page, pageSize), nil, &detail)
	if err != nil {
		return models.Conversation{}, nil, err
	}
	return detail.Conversation, detail.Messages, nil
}

// CreateConversationRequest opens a new thread against a facility.
type CreateConversationRequest struct {
	FacilityID string                      `json:"facility_id"`
	Subject    string                      `json:"subject"`
	Message    string                      `json:"message"`
	Category   models.ConversationCategory `json:"category"`
}

type createConversationResponse struct {
	Conversation models.Conversation `json:"conversation"`
	Message      models.Message      `json:"message"`
}

// CreateConversation opens a new conversation with its initial message.
// Always a live call; never cached.
func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (models.Conversation, models.Message, error) {
	var out createConversationResponse
	err := c.do(ctx, http.MethodPost, "/api/conversations", nil, req, &out)
	if err != nil {
		return models.Conversation{}, models.Message{}, err
	}
	return out.Conversation, out.Message, nil
}

// PostMessageRequest is the HTTP shape of a message send, mirroring the
// send_message push command.
type PostMessageRequest struct {
	Body          string             `json:"message"`
	Kind          models.MessageKind `json:"message_type"`
	AttachmentURL string             `json:"attachment_url,omitempty"`
}

// PostMessage appends a message to a conversation over HTTP.
func (c *Client) PostMessage(ctx context.Context, conversationID string, req PostMessageRequest) (models.Message, error) {
	var msg models.Message
	err := c.do(ctx, http.MethodPost, "/api/conversations/"+url.PathEscape(conversationID)+"/messages", nil, req, &msg)
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// MarkRead marks every message in the conversation as read for the
// caller. Idempotent on the server side.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPut, "/api/conversations/"+url.PathEscape(conversationID)+"/read", nil, nil, nil)
}
