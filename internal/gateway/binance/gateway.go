// Package binance implements the exchange gateway against Binance USD-M
// futures via the go-binance SDK.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"scalpd/internal/gateway/exchange"
)

type Config struct {
	APIKey      string
	APISecret   string
	RESTBaseURL string
	ProxyURL    string
	HTTPTimeout time.Duration
}

// Gateway adapts the futures REST client to exchange.Gateway. Every
// submitted order carries its idempotency key as newClientOrderId, so a
// resubmission after a lost response resolves to the original order instead
// of opening a duplicate.
type Gateway struct {
	cfg    Config
	client *futures.Client
}

func New(cfg Config) (*Gateway, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("binance: api key and secret are required")
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	client := futures.NewClient(cfg.APIKey, cfg.APISecret)
	if base := strings.TrimSpace(cfg.RESTBaseURL); base != "" {
		client.BaseURL = base
	}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("binance: invalid proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("binance: http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Gateway{cfg: cfg, client: client}, nil
}

func (g *Gateway) Name() string { return "binance" }

func (g *Gateway) SubmitOrder(ctx context.Context, spec exchange.OrderSpec) (exchange.OrderHandle, error) {
	svc := g.client.NewCreateOrderService().
		Symbol(spec.Symbol).
		Side(futures.SideType(spec.Side)).
		Type(orderType(spec.Type)).
		Quantity(formatQty(spec.Quantity)).
		NewClientOrderID(spec.IdempotencyKey)
	if spec.Type != exchange.Market {
		svc = svc.StopPrice(formatQty(spec.TriggerPrice))
	}
	if spec.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		if dup, derr := g.resolveDuplicate(ctx, spec); derr == nil {
			return dup, nil
		}
		return exchange.OrderHandle{}, classify("submit", err)
	}
	return exchange.OrderHandle{
		Symbol:        res.Symbol,
		OrderID:       strconv.FormatInt(res.OrderID, 10),
		ClientOrderID: res.ClientOrderID,
	}, nil
}

// resolveDuplicate looks the order up by client id after a rejected
// resubmission. Binance rejects a reused newClientOrderId, which means the
// first attempt landed.
func (g *Gateway) resolveDuplicate(ctx context.Context, spec exchange.OrderSpec) (exchange.OrderHandle, error) {
	if spec.IdempotencyKey == "" {
		return exchange.OrderHandle{}, errors.New("no idempotency key")
	}
	res, err := g.client.NewGetOrderService().
		Symbol(spec.Symbol).
		OrigClientOrderID(spec.IdempotencyKey).
		Do(ctx)
	if err != nil {
		return exchange.OrderHandle{}, err
	}
	return exchange.OrderHandle{
		Symbol:        res.Symbol,
		OrderID:       strconv.FormatInt(res.OrderID, 10),
		ClientOrderID: res.ClientOrderID,
	}, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, handle exchange.OrderHandle) error {
	orderID, err := strconv.ParseInt(handle.OrderID, 10, 64)
	if err != nil {
		return exchange.Terminal("cancel", fmt.Errorf("bad order id %q: %w", handle.OrderID, err))
	}
	_, err = g.client.NewCancelOrderService().
		Symbol(handle.Symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		// -2011 UNKNOWN_ORDER: already filled or cancelled, nothing to do.
		if errors.As(err, &apiErr) && apiErr.Code == -2011 {
			return nil
		}
		return classify("cancel", err)
	}
	return nil
}

func (g *Gateway) QueryOrder(ctx context.Context, handle exchange.OrderHandle) (exchange.OrderStatus, error) {
	orderID, err := strconv.ParseInt(handle.OrderID, 10, 64)
	if err != nil {
		return exchange.OrderStatus{}, exchange.Terminal("query", fmt.Errorf("bad order id %q: %w", handle.OrderID, err))
	}
	res, err := g.client.NewGetOrderService().
		Symbol(handle.Symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return exchange.OrderStatus{}, classify("query", err)
	}
	return exchange.OrderStatus{
		Handle:       handle,
		State:        exchange.OrderState(res.Status),
		FilledQty:    parseFloat(res.ExecutedQuantity),
		AvgFillPrice: parseFloat(res.AvgPrice),
		UpdatedAt:    time.UnixMilli(res.UpdateTime),
	}, nil
}

func (g *Gateway) QueryPosition(ctx context.Context, symbol string) (exchange.PositionSnapshot, error) {
	positions, err := g.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return exchange.PositionSnapshot{}, classify("position", err)
	}
	for _, p := range positions {
		if p.Symbol != symbol {
			continue
		}
		return exchange.PositionSnapshot{
			Symbol:        p.Symbol,
			Quantity:      parseFloat(p.PositionAmt),
			EntryPrice:    parseFloat(p.EntryPrice),
			MarkPrice:     parseFloat(p.MarkPrice),
			UnrealizedPnL: parseFloat(p.UnRealizedProfit),
			Leverage:      int(parseFloat(p.Leverage)),
		}, nil
	}
	return exchange.PositionSnapshot{Symbol: symbol}, nil
}

func (g *Gateway) GetPrice(ctx context.Context, symbol string) (exchange.Quote, error) {
	prices, err := g.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return exchange.Quote{}, classify("price", err)
	}
	if len(prices) == 0 {
		return exchange.Quote{}, exchange.Terminal("price", fmt.Errorf("no price for %s", symbol))
	}
	return exchange.Quote{
		Symbol:    symbol,
		Price:     parseFloat(prices[0].Price),
		UpdatedAt: time.Now(),
	}, nil
}

func (g *Gateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := g.client.NewChangeLeverageService().
		Symbol(symbol).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return classify("leverage", err)
	}
	return nil
}

func orderType(t exchange.OrderType) futures.OrderType {
	switch t {
	case exchange.StopMarket:
		return futures.OrderTypeStopMarket
	case exchange.TakeProfitMarket:
		return futures.OrderTypeTakeProfitMarket
	default:
		return futures.OrderTypeMarket
	}
}

// classify sorts SDK errors into retryable and terminal. Transport failures
// and rate limits are transient, rejection codes like insufficient margin
// (-2019) or notional below minimum (-4164) mean the request itself is bad.
func classify(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1001, -1003, -1007, -1008, -1016:
			return exchange.Retryable(op, err)
		}
		return exchange.Terminal(op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return exchange.Retryable(op, err)
	}
	return exchange.Terminal(op, err)
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
