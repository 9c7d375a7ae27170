package dto

import (
	"encoding/json"
	"strconv"
	"strings"

	"shop-assist/internal/core/domain"
)

// EverShopLoginRequest is the body of POST /api/admin/user/login
type EverShopLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// EverShopLoginResponse carries the admin bearer token
type EverShopLoginResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

// EverShopProductsResponse is the body of GET /api/products
type EverShopProductsResponse struct {
	Data struct {
		Items []EverShopProduct `json:"items"`
		Total int               `json:"total"`
	} `json:"data"`
}

// EverShopProduct is a catalog item as the storefront API returns it.
// Field names vary between EverShop versions; both spellings are accepted.
type EverShopProduct struct {
	ProductID          json.RawMessage `json:"product_id"`
	ProductIDAlt       json.RawMessage `json:"productId"`
	Name               string          `json:"name"`
	ProductName        string          `json:"product_name"`
	Description        string          `json:"description"`
	ProductDescription string          `json:"product_description"`
	Price              json.RawMessage `json:"price"`
	SKU                string          `json:"sku"`
	Qty                json.RawMessage `json:"qty"`
	URL                string          `json:"url"`
	URLKey             string          `json:"url_key"`
}

// ToDomain normalizes the product. baseURL builds a storefront link when the
// API does not return one.
func (p EverShopProduct) ToDomain(baseURL string) domain.Product {
	id := rawString(p.ProductID)
	if id == "" {
		id = rawString(p.ProductIDAlt)
	}
	name := p.Name
	if name == "" {
		name = p.ProductName
	}
	desc := p.Description
	if desc == "" {
		desc = p.ProductDescription
	}
	price, _ := strconv.ParseFloat(rawString(p.Price), 64)
	qty, _ := strconv.Atoi(rawString(p.Qty))

	url := p.URL
	if url == "" {
		slug := p.URLKey
		if slug == "" {
			slug = id
		}
		url = strings.TrimRight(baseURL, "/") + "/product/" + slug
	}

	return domain.Product{
		ProductID:   id,
		Name:        name,
		Description: desc,
		Price:       price,
		SKU:         p.SKU,
		Quantity:    qty,
		URL:         url,
	}
}

// rawString unwraps a JSON string or returns a bare number/literal as text.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
