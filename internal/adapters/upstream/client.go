package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nimbuspos/dispatchboard/internal/core/domain"
	"github.com/nimbuspos/dispatchboard/internal/core/ports"
)

// Client talks to the merchant platform's admin REST API. It implements
// ports.SnapshotSource and ports.OrderActions.
type Client struct {
	base    string
	http    *http.Client
	session ports.SessionProvider
}

// New creates an upstream client against base (scheme://host).
func New(base string, timeout time.Duration, session ports.SessionProvider) *Client {
	return &Client{
		base:    strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: timeout},
		session: session,
	}
}

// riderLocationDTO mirrors the rider-locations/live payload.
type riderLocationDTO struct {
	RiderID   string             `json:"riderId"`
	RiderName string             `json:"riderName"`
	Phone     string             `json:"riderPhone"`
	Latitude  *float64           `json:"latitude"`
	Longitude *float64           `json:"longitude"`
	Bearing   float64            `json:"bearing"`
	Speed     float64            `json:"speed"`
	Status    domain.RiderStatus `json:"status"`
	Timestamp time.Time          `json:"timestamp"`
}

// RiderLocations fetches the live rider snapshot.
func (c *Client) RiderLocations(ctx context.Context) ([]domain.Rider, error) {
	var dtos []riderLocationDTO
	if err := c.getJSON(ctx, "/api/client-admin/rider-locations/live", &dtos); err != nil {
		return nil, err
	}

	riders := make([]domain.Rider, 0, len(dtos))
	for _, d := range dtos {
		r := domain.Rider{
			ID:        d.RiderID,
			Name:      d.RiderName,
			Phone:     d.Phone,
			Heading:   d.Bearing,
			Speed:     d.Speed,
			Status:    d.Status,
			UpdatedAt: d.Timestamp,
		}
		if d.Latitude != nil && d.Longitude != nil {
			r.Position = &domain.GeoPoint{Lat: *d.Latitude, Lon: *d.Longitude}
		}
		riders = append(riders, r)
	}
	return riders, nil
}

// PendingOrders fetches the pending order snapshot.
func (c *Client) PendingOrders(ctx context.Context) ([]domain.PendingOrder, error) {
	var envelope struct {
		Data []domain.PendingOrder `json:"data"`
	}
	if err := c.getJSON(ctx, "/api/client-admin/orders/pending", &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// Accept confirms an order upstream. Anything but a 2xx is an error.
func (c *Client) Accept(ctx context.Context, orderID string) error {
	return c.post(ctx, fmt.Sprintf("/api/client-admin/orders/%s/accept", orderID))
}

// Reject declines an order upstream.
func (c *Client) Reject(ctx context.Context, orderID string) error {
	return c.post(ctx, fmt.Sprintf("/api/client-admin/orders/%s/reject", orderID))
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: HTTP %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string) error {
	req, err := c.newRequest(ctx, http.MethodPost, path)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("POST %s: HTTP %d", path, resp.StatusCode)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	ident, err := c.session.Identity()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+ident.Token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}
