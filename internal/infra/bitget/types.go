package bitget

import (
	"encoding/json"
	"fmt"
	"time"

	"quant_go/internal/domain"
	"quant_go/pkg/quant"
)

const (
	defaultRestURL = "https://api.bitget.com"
	defaultWSURL   = "wss://ws.bitget.com/v2/ws/private"

	productType = "USDT-FUTURES"

	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second

	codeOK = "00000"
)

// apiResponse is the common REST envelope.
type apiResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type placeOrderRequest struct {
	Symbol      string `json:"symbol"`
	ProductType string `json:"productType"`
	MarginMode  string `json:"marginMode"`
	MarginCoin  string `json:"marginCoin"`
	Side        string `json:"side"`      // "buy" / "sell"
	OrderType   string `json:"orderType"` // "limit" / "market"
	Price       string `json:"price,omitempty"`
	Size        string `json:"size"`
	ClientOid   string `json:"clientOid"`
}

type placeOrderData struct {
	OrderID   string `json:"orderId"`
	ClientOid string `json:"clientOid"`
}

type cancelOrderRequest struct {
	Symbol      string `json:"symbol"`
	ProductType string `json:"productType"`
	OrderID     string `json:"orderId"`
}

type batchCancelRequest struct {
	Symbol      string `json:"symbol"`
	ProductType string `json:"productType"`
}

type pendingOrderData struct {
	EntrustedList []pendingOrder `json:"entrustedList"`
}

type pendingOrder struct {
	Symbol      string `json:"symbol"`
	OrderID     string `json:"orderId"`
	ClientOid   string `json:"clientOid"`
	Status      string `json:"status"`
	BaseVolume  string `json:"baseVolume"` // cumulative filled size
	Size        string `json:"size"`
	PriceAvg    string `json:"priceAvg"`
	Price       string `json:"price"`
	CreatedTime string `json:"cTime"`
}

type accountData struct {
	MarginCoin      string `json:"marginCoin"`
	Available       string `json:"available"`
	Frozen          string `json:"frozen"`
	UsdtEquity      string `json:"usdtEquity"`
	CrossedMargin   string `json:"crossedMarginLeverage,omitempty"`
	MarginAvailable string `json:"crossedMaxAvailable"`
	Locked          string `json:"locked"`
}

type positionData struct {
	Symbol       string `json:"symbol"`
	HoldSide     string `json:"holdSide"` // "long" / "short"
	Total        string `json:"total"`
	OpenPriceAvg string `json:"openPriceAvg"`
	UnrealizedPL string `json:"unrealizedPL"`
	AchievedPL   string `json:"achievedProfits"`
}

type depthData struct {
	Asks [][]string `json:"asks"` // [price, qty]
	Bids [][]string `json:"bids"`
	Seq  uint64     `json:"seq,string"`
	Ts   string     `json:"ts"`
}

// WebSocket shapes.

type wsRequest struct {
	Op   string  `json:"op"`
	Args []wsArg `json:"args"`
}

type wsArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId,omitempty"`
	Coin     string `json:"coin,omitempty"`
}

type wsLoginArg struct {
	APIKey     string `json:"apiKey"`
	Passphrase string `json:"passphrase"`
	Timestamp  string `json:"timestamp"`
	Sign       string `json:"sign"`
}

type wsLoginRequest struct {
	Op   string       `json:"op"`
	Args []wsLoginArg `json:"args"`
}

type wsMessage struct {
	Event  string          `json:"event,omitempty"`
	Code   json.Number     `json:"code,omitempty"`
	Action string          `json:"action,omitempty"` // "snapshot" / "update"
	Arg    wsArg           `json:"arg"`
	Data   json.RawMessage `json:"data"`
	Ts     int64           `json:"ts"`
}

type wsBookData struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
	Seq  uint64     `json:"seq,string"`
}

type wsOrderData struct {
	InstID        string `json:"instId"`
	OrderID       string `json:"orderId"`
	ClientOid     string `json:"clientOid"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	Size          string `json:"size"`
	AccBaseVolume string `json:"accBaseVolume"` // cumulative filled size
	FillPrice     string `json:"fillPrice"`
	TradeID       string `json:"tradeId"`
	FillTime      string `json:"fillTime"`
	EnterPointSrc string `json:"enterPointSource"`
}

type wsAccountData struct {
	MarginCoin string `json:"marginCoin"`
	Available  string `json:"available"`
	Frozen     string `json:"frozen"`
	Equity     string `json:"equity"`
}

// mapOrderStatus converts a venue status string to the local state machine.
func mapOrderStatus(status string) (domain.OrderState, bool) {
	switch status {
	case "new", "live", "init":
		return domain.StateOpen, true
	case "partially_filled", "partial-fill":
		return domain.StatePartiallyFilled, true
	case "filled", "full-fill":
		return domain.StateFilled, true
	case "cancelled", "canceled":
		return domain.StateCancelled, true
	case "rejected":
		return domain.StateRejected, true
	case "expired":
		return domain.StateExpired, true
	default:
		return "", false
	}
}

// parseFixed converts a wire decimal string to a Fixed value. Empty strings
// are zero (the venue omits fields it considers not applicable).
func parseFixed(s string) (quant.Fixed, error) {
	if s == "" {
		return quant.Fixed{}, nil
	}
	v, err := quant.ParseFixed(s)
	if err != nil {
		return quant.Fixed{}, fmt.Errorf("bad wire decimal %q: %w", s, err)
	}
	return v, nil
}

func sideString(s domain.Side) string {
	if s == domain.SideSell {
		return "sell"
	}
	return "buy"
}

func typeString(t domain.OrderType) string {
	if t == domain.TypeMarket {
		return "market"
	}
	return "limit"
}
