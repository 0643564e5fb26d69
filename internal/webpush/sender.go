package webpush

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/model"
)

// SubscriptionStore хранит браузерные подписки.
type SubscriptionStore interface {
	Save(ctx context.Context, sub *model.PushSubscription) error
	Delete(ctx context.Context, userID, endpoint string) error
	GetByUserIDs(ctx context.Context, userIDs []string) ([]model.PushSubscription, error)
}

// Sender доставляет Web Push уведомления офлайн-участникам разговора.
type Sender struct {
	store      SubscriptionStore
	keys       *VAPIDKeys
	subscriber string
}

// NewSender создаёт отправителя. subscriber — контакт из VAPID-клейма
// (mailto: или https:).
func NewSender(store SubscriptionStore, keys *VAPIDKeys, subscriber string) *Sender {
	if subscriber == "" {
		subscriber = "mailto:admin@localhost"
	}
	return &Sender{store: store, keys: keys, subscriber: subscriber}
}

// PublicKey отдаёт публичный VAPID-ключ для подписки на клиенте.
func (s *Sender) PublicKey() string {
	return s.keys.PublicKey
}

func (s *Sender) Subscribe(ctx context.Context, sub *model.PushSubscription) error {
	return s.store.Save(ctx, sub)
}

func (s *Sender) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	return s.store.Delete(ctx, userID, endpoint)
}

type notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// NotifyNewMessage шлёт уведомление о новом сообщении в фоне.
// Fire-and-forget: ошибки логируются; мёртвые подписки (404/410 от пуш-шлюза)
// удаляются.
func (s *Sender) NotifyNewMessage(userIDs []string, conv *model.Conversation, msg *model.Message) {
	if len(userIDs) == 0 {
		return
	}
	title := conv.Name
	if title == "" && msg.Sender != nil {
		title = msg.Sender.Username
	}
	if title == "" {
		title = "New message"
	}
	body := msg.Body
	if msg.Kind == model.KindFile || body == "" {
		body = "Attachment"
	}
	if len(body) > 120 {
		body = body[:117] + "..."
	}
	n := notification{
		Title: title,
		Body:  body,
		Data: map[string]string{
			"conversation_id": msg.ConversationID,
			"message_id":      msg.ID,
		},
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		payload, err := json.Marshal(n)
		if err != nil {
			logger.Errorf("webpush marshal: %v", err)
			return
		}
		subs, err := s.store.GetByUserIDs(ctx, userIDs)
		if err != nil {
			logger.Errorf("webpush subscriptions: %v", err)
			return
		}
		for i := range subs {
			s.deliver(ctx, &subs[i], payload)
		}
	}()
}

func (s *Sender) deliver(ctx context.Context, sub *model.PushSubscription, payload []byte) {
	target := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, target, &webpush.Options{
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.keys.PublicKey,
		VAPIDPrivateKey: s.keys.PrivateKey,
		TTL:             60,
	})
	if err != nil {
		logger.Errorf("webpush send user=%s: %v", sub.UserID, err)
		return
	}
	defer resp.Body.Close()
	// Шлюз говорит, что подписка мертва — чистим её.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		if err := s.store.Delete(ctx, sub.UserID, sub.Endpoint); err != nil {
			logger.Errorf("webpush prune user=%s: %v", sub.UserID, err)
		}
	}
}
