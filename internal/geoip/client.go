// Package geoip — best-effort геолокация клиентских IP через публичный
// lookup-сервис. Никогда не блокирует основной путь обработки событий:
// вызывается как отложенное обогащение после fold.
package geoip

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/psds-microservice/desk-sync/internal/model"
)

const defaultBaseURL = "https://ipapi.co"

// Client запрашивает ipapi-совместимый сервис. Пустой baseURL оставляет
// дефолтный; Lookup при любых ошибках возвращает nil (обогащение просто не
// происходит).
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type lookupResponse struct {
	IP          string  `json:"ip"`
	City        string  `json:"city"`
	Region      string  `json:"region"`
	CountryName string  `json:"country_name"`
	CountryCode string  `json:"country_code"`
	Org         string  `json:"org"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// Lookup возвращает CustomerInfo для ip. Пустой ip — геолокация вызывающей
// стороны (customer-flow init). Ошибки только логируются.
func (c *Client) Lookup(ctx context.Context, ip string) *model.CustomerInfo {
	path := "/json/"
	if ip != "" {
		path = "/" + url.PathEscape(ip) + "/json/"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		log.Printf("geoip: new request: %v", err)
		return nil
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("geoip: request: %v", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("geoip: status %d for %q", resp.StatusCode, ip)
		return nil
	}
	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Printf("geoip: decode: %v", err)
		return nil
	}
	return &model.CustomerInfo{
		IP:          body.IP,
		City:        body.City,
		Region:      body.Region,
		Country:     body.CountryName,
		CountryCode: body.CountryCode,
		ISP:         body.Org,
		Lat:         body.Latitude,
		Long:        body.Longitude,
	}
}
