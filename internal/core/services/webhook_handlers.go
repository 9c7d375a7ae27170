package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"shop-assist/internal/core/domain"
	"shop-assist/internal/core/ports"
)

// catalogPageSize bounds the single catalog page fetched for a resync.
const catalogPageSize = 1000

// WebhookHandlerConfig gates the optional proactive messages
type WebhookHandlerConfig struct {
	SendOrderConfirmation bool
	SendWelcomeMessage    bool
	ShopID                string
}

// CSVRenderer turns a product list into the knowledge-base document body.
type CSVRenderer func(products []domain.Product) ([]byte, error)

// WebhookHandlers holds the per-domain business logic run by the job queue
type WebhookHandlers struct {
	catalog       ports.Catalog
	renderCSV     CSVRenderer
	knowledge     ports.KnowledgeBase
	users         ports.InboxUserRepository
	conversations *ConversationService
	messages      ports.MessageRepository
	relay         ports.Relay
	cfg           WebhookHandlerConfig
	log           zerolog.Logger
}

// NewWebhookHandlers creates the webhook handler set with dependencies injected
func NewWebhookHandlers(
	catalog ports.Catalog,
	renderCSV CSVRenderer,
	knowledge ports.KnowledgeBase,
	users ports.InboxUserRepository,
	conversations *ConversationService,
	messages ports.MessageRepository,
	relay ports.Relay,
	cfg WebhookHandlerConfig,
	log zerolog.Logger,
) *WebhookHandlers {
	if cfg.ShopID == "" {
		cfg.ShopID = "default"
	}
	return &WebhookHandlers{
		catalog:       catalog,
		renderCSV:     renderCSV,
		knowledge:     knowledge,
		users:         users,
		conversations: conversations,
		messages:      messages,
		relay:         relay,
		cfg:           cfg,
		log:           log.With().Str("component", "webhook-handlers").Logger(),
	}
}

// Register binds each job type to its handler on the queue.
func (h *WebhookHandlers) Register(q *JobQueue) {
	q.RegisterHandler(domain.JobTypeProduct, h.HandleProduct)
	q.RegisterHandler(domain.JobTypeOrder, h.HandleOrder)
	q.RegisterHandler(domain.JobTypeCustomer, h.HandleCustomer)
}

// ============================================================================
// Product events
// ============================================================================

// HandleProduct re-syncs the whole catalog into the knowledge base.
// Errors are returned so the queue retries.
func (h *WebhookHandlers) HandleProduct(ctx context.Context, job *domain.WebhookJob) error {
	product, _ := job.Payload.(domain.ProductPayload)
	log := h.log.With().Str("event", job.Event).Str("product_id", product.ID).Logger()

	switch job.Event {
	case domain.EventProductCreated, domain.EventProductUpdated, domain.EventProductDeleted:
	default:
		log.Warn().Msg("unknown product event")
		return nil
	}

	count, err := h.syncCatalog(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to sync catalog to knowledge base")
		return err
	}

	log.Info().Int("total_products", count).Msg("catalog synced to knowledge base")
	return nil
}

func (h *WebhookHandlers) syncCatalog(ctx context.Context) (int, error) {
	products, err := h.catalog.ListProducts(ctx, catalogPageSize, 1)
	if err != nil {
		return 0, fmt.Errorf("list products: %w", err)
	}
	csv, err := h.renderCSV(products)
	if err != nil {
		return 0, fmt.Errorf("render products csv: %w", err)
	}
	if err := h.knowledge.ReplaceProducts(ctx, h.cfg.ShopID, csv); err != nil {
		return 0, fmt.Errorf("replace knowledge document: %w", err)
	}
	return len(products), nil
}

// ============================================================================
// Order events
// ============================================================================

// HandleOrder sends order confirmations and status updates. Never fails the job.
func (h *WebhookHandlers) HandleOrder(ctx context.Context, job *domain.WebhookJob) error {
	order, _ := job.Payload.(domain.OrderPayload)

	switch job.Event {
	case domain.EventOrderCreated:
		if !h.cfg.SendOrderConfirmation {
			return nil
		}
		h.sendProactive(ctx, job.Event, order.CustomerEmail, OrderConfirmationMessage(order.OrderNumber), domain.SenderOrderSystem)

	case domain.EventOrderUpdated:
		if order.Status == order.PreviousStatus {
			return nil
		}
		h.sendProactive(ctx, job.Event, order.CustomerEmail, OrderStatusMessage(order.OrderNumber, order.Status), domain.SenderOrderSystem)

	default:
		h.log.Warn().Str("event", job.Event).Msg("unknown order event")
	}
	return nil
}

// ============================================================================
// Customer events
// ============================================================================

// HandleCustomer sends the welcome message. Never fails the job.
func (h *WebhookHandlers) HandleCustomer(ctx context.Context, job *domain.WebhookJob) error {
	customer, _ := job.Payload.(domain.CustomerPayload)

	switch job.Event {
	case domain.EventCustomerCreated:
		if !h.cfg.SendWelcomeMessage {
			return nil
		}
		h.sendProactive(ctx, job.Event, customer.Email, WelcomeMessage, domain.SenderWelcomeBot)
	default:
		h.log.Warn().Str("event", job.Event).Msg("unknown customer event")
	}
	return nil
}

// sendProactive persists an assistant message into the customer's conversation
// and relays it live. Failures are logged and swallowed.
func (h *WebhookHandlers) sendProactive(ctx context.Context, event, email, content string, sender domain.Sender) {
	log := h.log.With().Str("event", event).Logger()
	if email == "" {
		log.Warn().Msg("no customer email, skipping proactive message")
		return
	}

	if err := h.deliver(ctx, email, content, sender); err != nil {
		log.Error().Err(err).Msg("failed to send proactive message")
		return
	}
	log.Info().Msg("proactive message sent")
}

func (h *WebhookHandlers) deliver(ctx context.Context, email, content string, sender domain.Sender) error {
	user, err := h.users.Login(ctx, email, h.cfg.ShopID)
	if err != nil {
		return fmt.Errorf("login inbox user: %w", err)
	}

	conv, err := h.conversations.GetOrCreate(ctx, user.ID, h.cfg.ShopID, nil)
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}

	msg := &domain.ChatMessage{
		ConversationID: conv.ConversationID,
		InboxUserID:    user.ID,
		ShopID:         h.cfg.ShopID,
		BotID:          conv.BotOrDefault(),
		Content:        content,
		Sender:         domain.SenderAssistant,
	}
	if err := h.messages.SaveMessage(ctx, msg); err != nil {
		return fmt.Errorf("save message: %w", err)
	}

	h.relay.PublishMessage(conv.ConversationID, domain.RelayMessage{
		ConversationID: conv.ConversationID,
		Content:        content,
		Sender:         sender,
		Timestamp:      time.Now().UTC(),
	})
	return nil
}

// ============================================================================
// Message templates
// ============================================================================

// WelcomeMessage greets a newly registered customer.
const WelcomeMessage = "Welcome to our store! 🎉 We're thrilled to have you here. If you have any questions about our products or need assistance, feel free to ask. We're here to help!"

var orderStatusPhrases = map[string]string{
	"pending":    "Your order is being reviewed.",
	"processing": "We are preparing your order for shipment.",
	"shipped":    "Your order is on the way! 📦",
	"delivered":  "Your order has been delivered. Enjoy! 🎉",
	"cancelled":  "Your order has been cancelled. If you have questions, please contact us.",
	"refunded":   "Your refund has been processed.",
}

// OrderStatusPhrase returns the customer-facing phrase for a status, or "" when unknown.
func OrderStatusPhrase(status string) string {
	return orderStatusPhrases[strings.ToLower(status)]
}

// OrderStatusMessage composes the status-change notification.
func OrderStatusMessage(orderNumber, status string) string {
	return fmt.Sprintf("Hi! Your order #%s status has been updated to: %s. %s", orderNumber, status, OrderStatusPhrase(status))
}

// OrderConfirmationMessage composes the new-order notification.
func OrderConfirmationMessage(orderNumber string) string {
	return fmt.Sprintf("Thank you for your order #%s! We've received your order and will process it shortly. You can track your order status here.", orderNumber)
}
