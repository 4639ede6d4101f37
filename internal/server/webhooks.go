package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	webhookdomain "github.com/smallbiznis/tally/internal/webhook/domain"
	"github.com/smallbiznis/tally/pkg/timeparse"
)

type webhookPayload struct {
	ID         string         `json:"id"`
	EventType  string         `json:"event_type"`
	CreateTime any            `json:"create_time"`
	Resource   map[string]any `json:"resource"`
}

// HandleProviderWebhook ingests one provider delivery. Replays answer 200 so
// the provider stops retrying; a deferred activation answers 202 so it keeps
// retrying until the subscription record lands.
func (s *Server) HandleProviderWebhook(c *gin.Context) {
	var payload webhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		AbortWithError(c, webhookdomain.ErrInvalidEvent)
		return
	}

	outcome, err := s.webhookSvc.Ingest(c.Request.Context(), inboundEventOf(payload))
	if err != nil {
		if errors.Is(err, webhookdomain.ErrDeferred) {
			c.JSON(http.StatusAccepted, gin.H{
				"success": false,
				"error":   "event_deferred",
			})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"outcome": string(outcome),
	})
}

func inboundEventOf(payload webhookPayload) webhookdomain.InboundEvent {
	event := webhookdomain.InboundEvent{
		ID:             strings.TrimSpace(payload.ID),
		EventType:      strings.TrimSpace(payload.EventType),
		SubscriptionID: subscriptionIDOf(payload),
	}
	if payload.CreateTime != nil {
		if t, err := timeparse.Decode(payload.CreateTime); err == nil {
			event.OccurredAt = t
		}
	}
	event.NextBillingAt = nextBillingTimeOf(payload.Resource)
	return event
}

// subscriptionIDOf resolves the subscription the event concerns. Sale events
// carry it as the billing agreement; subscription lifecycle events carry it
// as the resource id itself.
func subscriptionIDOf(payload webhookPayload) string {
	if payload.Resource == nil {
		return ""
	}
	if payload.EventType == webhookdomain.EventSaleCompleted ||
		payload.EventType == webhookdomain.EventDisputeCreated {
		if v, ok := payload.Resource["billing_agreement_id"].(string); ok && v != "" {
			return strings.TrimSpace(v)
		}
	}
	if v, ok := payload.Resource["id"].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func nextBillingTimeOf(resource map[string]any) time.Time {
	if resource == nil {
		return time.Time{}
	}
	if info, ok := resource["billing_info"].(map[string]any); ok {
		if raw, ok := info["next_billing_time"]; ok {
			if t, err := timeparse.Decode(raw); err == nil {
				return t
			}
		}
	}
	if raw, ok := resource["next_billing_time"]; ok {
		if t, err := timeparse.Decode(raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
