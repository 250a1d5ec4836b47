package pricesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	pricedomain "github.com/smallbiznis/entitlements/internal/price/domain"
)

type stripePrice struct {
	ID string `json:"id"`
}

type stripeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// StripeNotifier creates the new price through the Stripe REST API and moves
// the line's lookup key onto it.
type StripeNotifier struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewStripeNotifier(apiKey, baseURL string, timeout time.Duration) *StripeNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &StripeNotifier{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (n *StripeNotifier) Name() string { return "stripe" }

func (n *StripeNotifier) PriceVersioned(ctx context.Context, event PriceVersioned) (string, error) {
	values := url.Values{}
	values.Set("currency", event.Price.PriceCurrency)
	switch event.Price.AmountType {
	case pricedomain.AmountFree:
		values.Set("unit_amount", "0")
	default:
		if event.Price.PriceAmount == nil {
			return "", errors.New("stripe: fixed price without amount")
		}
		values.Set("unit_amount", strconv.FormatInt(*event.Price.PriceAmount, 10))
	}
	values.Set("recurring[interval]", string(event.Interval))
	values.Set("recurring[interval_count]", strconv.Itoa(event.Count))
	values.Set("product_data[name]", event.ProductName)
	if event.LookupKey != "" {
		values.Set("lookup_key", event.LookupKey)
		values.Set("transfer_lookup_key", "true")
	}
	values.Set("metadata[org_id]", event.OrgID.String())
	values.Set("metadata[product_id]", event.ProductID.String())
	values.Set("metadata[price_id]", event.Price.ID.String())
	values.Set("metadata[previous_price_id]", event.OldPriceID.String())
	if event.OldExternalID != nil {
		values.Set("metadata[previous_external_id]", *event.OldExternalID)
	}

	var out stripePrice
	if err := n.do(ctx, "/v1/prices", values, "price:"+event.Price.ID.String(), &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("stripe: response without price id")
	}
	return out.ID, nil
}

func (n *StripeNotifier) do(ctx context.Context, path string, values url.Values, idempotencyKey string, out any) error {
	if n.apiKey == "" {
		return errors.New("stripe: api key not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+path, strings.NewReader(values.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+n.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr stripeErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil || strings.TrimSpace(stripeErr.Error.Message) == "" {
			return fmt.Errorf("stripe: request failed with status %d", resp.StatusCode)
		}
		return fmt.Errorf("stripe: %s", stripeErr.Error.Message)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
