// Package notify доставляет записи журнала во внешний сервис уведомлений.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/subscription-engine/internal/model"
)

// Client инкапсулирует HTTP-взаимодействие с сервисом уведомлений.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Event описывает одно уведомление о зафиксированной операции.
type Event struct {
	EntryID           int64     `json:"entry_id"`
	UserID            int64     `json:"user_id"`
	Kind              string    `json:"kind"`
	Amount            int64     `json:"amount"`
	TransferID        string    `json:"transfer_id,omitempty"`
	ExternalReference string    `json:"external_reference,omitempty"`
	Description       string    `json:"description"`
	CreatedAt         time.Time `json:"created_at"`
}

// EventFromEntry строит уведомление по записи журнала.
func EventFromEntry(e model.LedgerEntry) Event {
	return Event{
		EntryID:           e.ID,
		UserID:            e.UserID,
		Kind:              string(e.Kind),
		Amount:            e.Amount,
		TransferID:        e.TransferID,
		ExternalReference: e.ExternalReference,
		Description:       e.Description,
		CreatedAt:         e.CreatedAt,
	}
}

// NewClient создаёт HTTP-клиент для обращения к сервису уведомлений по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// PostEvents отправляет пачку уведомлений. При ответе 429 возвращает код и
// интервал из заголовка Retry-After без ошибки, решение о повторе принимает вызывающий.
func (c *Client) PostEvents(ctx context.Context, events []Event) (int, time.Duration, error) {
	if c == nil || c.baseURL == "" {
		return 0, 0, fmt.Errorf("notify client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(events)
	if err != nil {
		return 0, 0, fmt.Errorf("encode events: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/events", bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return resp.StatusCode, 0, nil
	case http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return resp.StatusCode, retryAfter, nil
	default:
		return resp.StatusCode, 0, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
}
