package event

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/apm-notifier/internal/storage"
)

// SubjectHistory answers queries for recent delivery attempts.
const SubjectHistory = "apm.notifier.history"

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

type historyRequest struct {
	Limit int `json:"limit"`
}

type historyResponse struct {
	Records []*storage.DeliveryRecord `json:"records"`
	Error   string                    `json:"error,omitempty"`
}

// HistoryServer exposes the delivery history over request/reply so
// operators can inspect recent sends without shell access to the database
// file.
type HistoryServer struct {
	logger  *zap.Logger
	nc      *nats.Conn
	history storage.DeliveryHistory
	sub     *nats.Subscription
}

// NewHistoryServer creates a history query responder.
func NewHistoryServer(logger *zap.Logger, nc *nats.Conn, history storage.DeliveryHistory) *HistoryServer {
	return &HistoryServer{
		logger:  logger.Named("history"),
		nc:      nc,
		history: history,
	}
}

// Start subscribes to the history query subject.
func (s *HistoryServer) Start(ctx context.Context) error {
	sub, err := s.nc.Subscribe(SubjectHistory, func(msg *nats.Msg) { s.handle(ctx, msg) })
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

// Stop unsubscribes from the query subject.
func (s *HistoryServer) Stop() {
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
}

func (s *HistoryServer) handle(ctx context.Context, msg *nats.Msg) {
	var req historyRequest
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.logger.Error("Failed to unmarshal history request", zap.Error(err))
			s.respond(msg, historyResponse{Error: "malformed request"})
			return
		}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	records, err := s.history.List(ctx, limit)
	if err != nil {
		s.logger.Error("Failed to list delivery history", zap.Error(err))
		s.respond(msg, historyResponse{Error: "history unavailable"})
		return
	}
	s.respond(msg, historyResponse{Records: records})
}

func (s *HistoryServer) respond(msg *nats.Msg, resp historyResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Failed to marshal history response", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Error("Failed to respond to history request", zap.Error(err))
	}
}
