package service

import (
	"context"

	"dental-lab-admin/chatkit/api"
	"dental-lab-admin/chatkit/conversation/models"
	"dental-lab-admin/chatkit/pkg/logger"
)

// HistoryService fetches the historical messages of a conversation.
type HistoryService struct {
	api *api.Client
	log *logger.Logger
}

// NewHistoryService creates a history loader over the REST client.
func NewHistoryService(client *api.Client, log *logger.Logger) *HistoryService {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &HistoryService{api: client, log: log.WithComponent("history")}
}

// Load issues the single authenticated history read. Any failure degrades to
// "no history" rather than a hard error: the live stream can still deliver
// messages, so the caller proceeds to open it regardless of outcome.
func (s *HistoryService) Load(ctx context.Context, conversationID string) []models.Message {
	records, err := s.api.History(ctx, conversationID)
	if err != nil {
		s.log.Warn("history load failed, proceeding without history",
			"conversation_id", conversationID,
			"error", err.Error(),
		)
		return nil
	}
	return models.FromRecords(records)
}
