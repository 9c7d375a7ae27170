package gateway

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"shop-assist/internal/adapters/dto"
	"shop-assist/internal/core/domain"
	"shop-assist/internal/core/ports"
)

var _ ports.Catalog = (*EverShopClient)(nil)

// ErrEverShopAuth indicates the admin login was rejected
var ErrEverShopAuth = errors.New("evershop authentication failed")

// EverShopClient reads the storefront catalog through the admin REST API
type EverShopClient struct {
	http     *resty.Client
	baseURL  string
	email    string
	password string
	log      zerolog.Logger

	mu    sync.Mutex
	token string
}

// NewEverShopClient creates a catalog client authenticating as an admin user
func NewEverShopClient(baseURL, email, password string, log zerolog.Logger) *EverShopClient {
	return &EverShopClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Content-Type", "application/json").
			SetTimeout(30 * time.Second),
		baseURL:  baseURL,
		email:    email,
		password: password,
		log:      log.With().Str("component", "evershop").Logger(),
	}
}

// authenticate returns the cached admin token, logging in when there is none.
func (c *EverShopClient) authenticate(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	var out dto.EverShopLoginResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(dto.EverShopLoginRequest{Email: c.email, Password: c.password}).
		SetResult(&out).
		Post("/api/admin/user/login")
	if err != nil {
		return "", fmt.Errorf("evershop login: %w", err)
	}
	if resp.IsError() || out.Data.Token == "" {
		c.log.Error().Int("status", resp.StatusCode()).Msg("evershop login rejected")
		return "", fmt.Errorf("evershop login: status %d: %w", resp.StatusCode(), ErrEverShopAuth)
	}

	c.token = out.Data.Token
	c.log.Info().Msg("evershop authentication successful")
	return c.token, nil
}

func (c *EverShopClient) invalidate(token string) {
	c.mu.Lock()
	if c.token == token {
		c.token = ""
	}
	c.mu.Unlock()
}

// ListProducts fetches one page of the catalog. An expired token triggers a
// single re-login and retry.
func (c *EverShopClient) ListProducts(ctx context.Context, limit, page int) ([]domain.Product, error) {
	for attempt := 1; ; attempt++ {
		token, err := c.authenticate(ctx)
		if err != nil {
			return nil, err
		}

		var out dto.EverShopProductsResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetQueryParams(map[string]string{
				"limit": strconv.Itoa(limit),
				"page":  strconv.Itoa(page),
			}).
			SetResult(&out).
			Get("/api/products")
		if err != nil {
			return nil, fmt.Errorf("list products: %w", err)
		}

		if resp.StatusCode() == http.StatusUnauthorized && attempt == 1 {
			c.log.Info().Msg("evershop token expired, re-authenticating")
			c.invalidate(token)
			continue
		}
		if resp.IsError() {
			return nil, fmt.Errorf("list products: status %d: %s", resp.StatusCode(), resp.String())
		}

		products := make([]domain.Product, 0, len(out.Data.Items))
		for _, item := range out.Data.Items {
			products = append(products, item.ToDomain(c.baseURL))
		}
		c.log.Info().Int("count", len(products)).Int("total", out.Data.Total).Msg("evershop products fetched")
		return products, nil
	}
}

// productCSVHeader is the column layout of the knowledge-base document
var productCSVHeader = []string{"Product ID", "Name", "Description", "Price", "SKU", "Quantity", "URL"}

// ProductsToCSV renders products as the knowledge-base document body.
func ProductsToCSV(products []domain.Product) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(productCSVHeader); err != nil {
		return nil, err
	}
	for _, p := range products {
		row := []string{
			p.ProductID,
			p.Name,
			p.Description,
			strconv.FormatFloat(p.Price, 'f', -1, 64),
			p.SKU,
			strconv.Itoa(p.Quantity),
			p.URL,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("render product csv: %w", err)
	}
	return buf.Bytes(), nil
}
