package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	polargo "github.com/polarsource/polar-go"
	"github.com/polarsource/polar-go/models/apierrors"
	"github.com/polarsource/polar-go/models/components"
	"github.com/polarsource/polar-go/models/operations"

	"github.com/dukerupert/vanir/internal/telemetry"
)

// Polar API environments. The sandbox issues test-mode products and checkouts
// that never charge a card.
const (
	ServerProduction = "production"
	ServerSandbox    = "sandbox"
)

// Client wraps the official Polar SDK behind the billable surface the
// application exposes: checkout creation, customer portal sessions, and the
// product catalog. SDK component types stay inside this file; callers see the
// flat view structs below.
type Client struct {
	sdk     *polargo.Polar
	metrics *telemetry.BusinessMetrics
}

// NewClient creates a Polar client for the given environment
// (ServerProduction or ServerSandbox). metrics may be nil.
func NewClient(accessToken, server string, metrics *telemetry.BusinessMetrics) (*Client, error) {
	if accessToken == "" {
		return nil, ErrInvalidAccessToken
	}
	if server == "" {
		server = ServerSandbox
	}

	sdk := polargo.New(
		polargo.WithSecurity(accessToken),
		polargo.WithServer(server),
	)

	return &Client{sdk: sdk, metrics: metrics}, nil
}

// CheckoutSession is a hosted checkout created for a single product.
type CheckoutSession struct {
	ID  string
	URL string
}

// CustomerPortalSession grants a customer temporary access to the hosted
// billing portal.
type CustomerPortalSession struct {
	CustomerPortalURL string
}

// PolarProduct is a catalog entry flattened from the SDK's product component.
type PolarProduct struct {
	ID          string
	Name        string
	Description string
	IsRecurring bool
	IsArchived  bool
	Prices      []PolarPrice
}

// PolarPrice is one price attached to a product.
type PolarPrice struct {
	ID            string
	AmountType    string
	PriceAmount   int64
	PriceCurrency string
}

// CreateCheckoutSession creates a hosted checkout for the given Polar product
// and redirects the buyer to successURL once payment completes.
func (c *Client) CreateCheckoutSession(ctx context.Context, productID, successURL string) (*CheckoutSession, error) {
	defer c.observe("checkout.create", time.Now())

	res, err := c.sdk.Checkouts.Create(ctx, components.CheckoutCreate{
		Products:   []string{productID},
		SuccessURL: polargo.String(successURL),
	})
	if err != nil {
		return nil, wrapSDKError("create checkout session", err)
	}
	if res.Checkout == nil {
		return nil, fmt.Errorf("create checkout session: %w", &PolarError{Message: "empty checkout response"})
	}

	return &CheckoutSession{
		ID:  res.Checkout.ID,
		URL: res.Checkout.URL,
	}, nil
}

// CreateCustomerPortalSession issues a short-lived portal link for a customer
// to manage their subscriptions and payment methods.
func (c *Client) CreateCustomerPortalSession(ctx context.Context, customerID string) (*CustomerPortalSession, error) {
	defer c.observe("customer_session.create", time.Now())

	res, err := c.sdk.CustomerSessions.Create(ctx,
		operations.CreateCustomerSessionsCreateCustomerSessionCreateCustomerSessionCustomerIDCreate(
			components.CustomerSessionCustomerIDCreate{
				CustomerID: customerID,
			},
		),
	)
	if err != nil {
		return nil, wrapSDKError("create customer portal session", err)
	}
	if res.CustomerSession == nil {
		return nil, fmt.Errorf("create customer portal session: %w", &PolarError{Message: "empty customer session response"})
	}

	return &CustomerPortalSession{
		CustomerPortalURL: res.CustomerSession.CustomerPortalURL,
	}, nil
}

// ListProducts returns all non-archived products in the catalog.
func (c *Client) ListProducts(ctx context.Context) ([]PolarProduct, error) {
	defer c.observe("products.list", time.Now())

	res, err := c.sdk.Products.List(ctx, operations.ProductsListRequest{
		IsArchived: polargo.Bool(false),
	})
	if err != nil {
		return nil, wrapSDKError("list products", err)
	}
	if res.ListResourceProduct == nil {
		return nil, nil
	}

	products := make([]PolarProduct, len(res.ListResourceProduct.Items))
	for i, item := range res.ListResourceProduct.Items {
		products[i] = flattenProduct(item)
	}
	return products, nil
}

func (c *Client) observe(operation string, start time.Time) {
	if c.metrics != nil {
		c.metrics.PolarAPILatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

func flattenProduct(p components.Product) PolarProduct {
	product := PolarProduct{
		ID:          p.ID,
		Name:        p.Name,
		IsRecurring: p.IsRecurring,
		IsArchived:  p.IsArchived,
	}
	if p.Description != nil {
		product.Description = *p.Description
	}
	for _, price := range p.Prices {
		var pp components.ProductPrice
		if price.ProductPrice != nil {
			pp = *price.ProductPrice
		}
		product.Prices = append(product.Prices, flattenPrice(pp))
	}
	return product
}

// flattenPrice collapses the SDK's price union into the view struct. Unknown
// union members come back zero-valued and render as pay-what-you-want.
func flattenPrice(price components.ProductPrice) PolarPrice {
	switch {
	case price.ProductPriceFixed != nil:
		return PolarPrice{
			ID:            price.ProductPriceFixed.ID,
			AmountType:    "fixed",
			PriceAmount:   price.ProductPriceFixed.PriceAmount,
			PriceCurrency: price.ProductPriceFixed.PriceCurrency,
		}
	case price.ProductPriceFree != nil:
		return PolarPrice{
			ID:         price.ProductPriceFree.ID,
			AmountType: "free",
		}
	case price.ProductPriceCustom != nil:
		return PolarPrice{
			ID:         price.ProductPriceCustom.ID,
			AmountType: "custom",
		}
	}
	return PolarPrice{}
}

// wrapSDKError converts SDK failures into PolarError so callers and logs see
// one error shape regardless of transport.
func wrapSDKError(op string, err error) error {
	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		perr := &PolarError{
			Message:       apiErr.Message,
			StatusCode:    apiErr.StatusCode,
			OriginalError: err,
		}
		if apiErr.RawResponse != nil {
			perr.RequestID = apiErr.RawResponse.Header.Get("X-Request-Id")
		}
		return fmt.Errorf("%s: %w", op, perr)
	}
	return fmt.Errorf("%s: %w", op, &PolarError{Message: "request failed", OriginalError: err})
}

// FormatCurrency renders a cent amount for display. Zero is shown as Free.
func FormatCurrency(cents int64) string {
	if cents == 0 {
		return "Free"
	}
	return fmt.Sprintf("$%.2f", float64(cents)/100)
}

// FormatPrice renders a product price for display, accounting for the price
// model.
func FormatPrice(p PolarPrice) string {
	switch p.AmountType {
	case "fixed":
		return FormatCurrency(p.PriceAmount)
	case "free":
		return "Free"
	default:
		return "Pay what you want"
	}
}
