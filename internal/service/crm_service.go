package service

import (
	"context"
	"encoding/json"
	"fmt"
)

// CRMUpdatePublisher is the bus side of seller CRM updates.
type CRMUpdatePublisher interface {
	PublishCRMUpdate(ctx context.Context, sellerID, event string, data json.RawMessage) error
}

// CRMService pushes pipeline and lead changes to a seller's CRM dashboard.
type CRMService struct {
	events CRMUpdatePublisher
}

func NewCRMService(events CRMUpdatePublisher) *CRMService {
	return &CRMService{events: events}
}

// PublishUpdate sends event to every crm connection of sellerID.
func (s *CRMService) PublishUpdate(ctx context.Context, sellerID, event string, data any) error {
	if sellerID == "" || event == "" {
		return fmt.Errorf("crm update requires seller and event")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode crm data: %w", err)
	}
	return s.events.PublishCRMUpdate(ctx, sellerID, event, raw)
}
