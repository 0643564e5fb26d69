package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/teamchat/internal/logger"
)

// Client пишет события аудита во внешний админ-сервис. Если URL пустой —
// методы no-op. Запись fire-and-forget: аудит никогда не валит основную
// операцию и не задерживает ответ.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент. baseURL пустой — аудит отключён.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Entry — тело записи аудита.
type Entry struct {
	Event      string         `json:"event"`
	ActorID    string         `json:"actor_id"`
	Fields     map[string]any `json:"fields,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Record отправляет запись в фоне. Ошибки логируются и глотаются.
func (c *Client) Record(event string, actorID string, fields map[string]any) {
	if c.baseURL == "" {
		return
	}
	entry := Entry{Event: event, ActorID: actorID, Fields: fields, OccurredAt: time.Now().UTC()}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		body, err := json.Marshal(entry)
		if err != nil {
			logger.Errorf("audit marshal %s: %v", event, err)
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/audit", bytes.NewReader(body))
		if err != nil {
			logger.Errorf("audit request %s: %v", event, err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			logger.Errorf("audit send %s: %v", event, err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			logger.Errorf("audit send %s: status %d", event, resp.StatusCode)
		}
	}()
}
