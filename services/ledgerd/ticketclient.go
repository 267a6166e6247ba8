package ledgerd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"ticketledger/crypto"
	"ticketledger/native/billing"
)

// TicketClientConfig points the client at the ticket manager's HTTP API.
type TicketClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// TicketClient is a billing.TicketDirectory backed by the ticket manager's
// REST API:
//
//	GET  /v1/events/{event}                           200 or 404
//	GET  /v1/events/{event}/tickets/{ticket}          {"owner","firstPrice","lastPrice"}
//	POST /v1/events/{event}/tickets/{ticket}/refunded 2xx
type TicketClient struct {
	base       *url.URL
	token      string
	httpClient *http.Client
}

var _ billing.TicketDirectory = (*TicketClient)(nil)

type ticketView struct {
	Owner      string `json:"owner"`
	FirstPrice string `json:"firstPrice"`
	LastPrice  string `json:"lastPrice"`
}

// NewTicketClient constructs a client. Requests are traced through otelhttp.
func NewTicketClient(cfg TicketClientConfig) (*TicketClient, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("ticket manager url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("ticket manager url must use http or https")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TicketClient{
		base:  base,
		token: strings.TrimSpace(cfg.Token),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

func (c *TicketClient) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.base.String() + "/v1/" + strings.Join(escaped, "/")
}

func (c *TicketClient) do(ctx context.Context, method, target string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ticket manager %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("ticket manager %s %s: status %d: %s", method, target, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode ticket manager response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *TicketClient) ticket(ctx context.Context, event [20]byte, ticket [32]byte) (*ticketView, error) {
	var view ticketView
	status, err := c.do(ctx, http.MethodGet, c.endpoint("events", eventString(event), "tickets", crypto.FormatTicketID(ticket)), &view)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, billing.ErrUnknownTicket
	}
	return &view, nil
}

func (c *TicketClient) TicketPrices(ctx context.Context, event [20]byte, ticket [32]byte) (*big.Int, *big.Int, error) {
	view, err := c.ticket(ctx, event, ticket)
	if err != nil {
		return nil, nil, err
	}
	first, err := parseAmount(view.FirstPrice)
	if err != nil {
		return nil, nil, fmt.Errorf("ticket manager firstPrice: %w", err)
	}
	last, err := parseAmount(view.LastPrice)
	if err != nil {
		return nil, nil, fmt.Errorf("ticket manager lastPrice: %w", err)
	}
	return first, last, nil
}

func (c *TicketClient) TicketOwner(ctx context.Context, event [20]byte, ticket [32]byte) ([20]byte, error) {
	view, err := c.ticket(ctx, event, ticket)
	if err != nil {
		return [20]byte{}, err
	}
	owner, err := crypto.ParseID(view.Owner)
	if err != nil {
		return [20]byte{}, fmt.Errorf("ticket manager owner: %w", err)
	}
	return owner, nil
}

func (c *TicketClient) IsEventRegistered(ctx context.Context, event [20]byte) (bool, error) {
	status, err := c.do(ctx, http.MethodGet, c.endpoint("events", eventString(event)), nil)
	if err != nil {
		return false, err
	}
	return status != http.StatusNotFound, nil
}

func (c *TicketClient) MarkRefunded(ctx context.Context, event [20]byte, ticket [32]byte) error {
	status, err := c.do(ctx, http.MethodPost, c.endpoint("events", eventString(event), "tickets", crypto.FormatTicketID(ticket), "refunded"), nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return billing.ErrUnknownTicket
	}
	return nil
}

func eventString(event [20]byte) string {
	return crypto.NewAddress(crypto.EventPrefix, event).String()
}

func accountString(account [20]byte) string {
	return crypto.NewAddress(crypto.AccountPrefix, account).String()
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return value, nil
}
