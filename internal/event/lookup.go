package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Request/reply subjects answered by the host monitoring server.
const (
	SubjectTextService  = "apm.text.service"
	SubjectTextError    = "apm.text.error"
	SubjectAgentThreads = "apm.agent.threads"
)

type textRequest struct {
	Date string `json:"date"`
	ID   int64  `json:"id"`
}

type textResponse struct {
	Text string `json:"text"`
}

// TextClient resolves service and error text ids via request/reply against
// the host server. It satisfies classify.TextResolver.
type TextClient struct {
	nc *nats.Conn
}

// NewTextClient creates a text lookup client.
func NewTextClient(nc *nats.Conn) *TextClient {
	return &TextClient{nc: nc}
}

// ServiceName resolves a service text id.
func (c *TextClient) ServiceName(ctx context.Context, date string, id int64) (string, error) {
	return c.lookup(ctx, SubjectTextService, date, id)
}

// ErrorText resolves an error text id.
func (c *TextClient) ErrorText(ctx context.Context, date string, id int64) (string, error) {
	return c.lookup(ctx, SubjectTextError, date, id)
}

func (c *TextClient) lookup(ctx context.Context, subject, date string, id int64) (string, error) {
	data, err := json.Marshal(textRequest{Date: date, ID: id})
	if err != nil {
		return "", fmt.Errorf("marshal text request: %w", err)
	}
	msg, err := c.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return "", fmt.Errorf("text lookup: %w", err)
	}
	var resp textResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return "", fmt.Errorf("unmarshal text response: %w", err)
	}
	return resp.Text, nil
}

type threadRequest struct {
	ObjectID int64 `json:"object_id"`
}

type threadResponse struct {
	Count int `json:"count"`
}

// AgentClient queries live agents through the host server.
type AgentClient struct {
	nc *nats.Conn
}

// NewAgentClient creates an agent query client.
func NewAgentClient(nc *nats.Conn) *AgentClient {
	return &AgentClient{nc: nc}
}

// ThreadCount returns the current thread count of an agent.
func (c *AgentClient) ThreadCount(ctx context.Context, objectID int64) (int, error) {
	data, err := json.Marshal(threadRequest{ObjectID: objectID})
	if err != nil {
		return 0, fmt.Errorf("marshal thread request: %w", err)
	}
	msg, err := c.nc.RequestWithContext(ctx, SubjectAgentThreads, data)
	if err != nil {
		return 0, fmt.Errorf("thread count request: %w", err)
	}
	var resp threadResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return 0, fmt.Errorf("unmarshal thread response: %w", err)
	}
	return resp.Count, nil
}
