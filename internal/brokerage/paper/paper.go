// Package paper implements the bundled reference dry-run Brokerage Adapter
// (spec.md §4.8 supplement): a paper-trading connection that authenticates
// over a signed bearer token and receives quotes over a websocket, the same
// wire shape a real futures broker's market-data/order-gateway stream would
// use, so the rest of the engine can be exercised end-to-end without a live
// brokerage account.
//
// Grounded on the teacher's internal/binance/user_data_stream.go (gorilla
// websocket read-loop with a callback/channel fan-out) and
// internal/auth/jwt.go (golang-jwt signing), adapted to the simulated
// limit/market order matching a dry-run adapter needs instead of a real
// user-data stream.
package paper

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lseng/topstep-bot-5.0-sub000/internal/brokerage"
	"github.com/lseng/topstep-bot-5.0-sub000/internal/logging"
)

// Config configures the paper adapter's connection to a quote feed.
type Config struct {
	URL       string
	JWTSecret string
	Subject   string // claim identifying this dry-run session to the feed
}

type claims struct {
	jwt.RegisteredClaims
}

type wireMessage struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol,omitempty"`
	Price  float64 `json:"price,omitempty"`
}

type openOrder struct {
	orderID    string
	accountID  string
	symbol     string
	side       string
	orderType  string
	limitPrice float64
	quantity   int
}

// Adapter is the paper-trading brokerage.Adapter implementation.
type Adapter struct {
	cfg Config
	log zerolog.Logger

	conn *websocket.Conn

	mu         sync.Mutex
	lastPrice  map[string]float64
	openOrders map[string]*openOrder
	// positions mirrors the net size per (accountID, contractID) this
	// adapter has simulated fills into, so ListPositions/Flatten have
	// something to report without a real brokerage behind them.
	positions map[string]*simPosition
	subs      map[string]bool

	fills      chan brokerage.Fill
	rejections chan brokerage.Rejection
	quotes     chan brokerage.Quote
	closeOnce  sync.Once
	readDone   chan struct{}
}

type simPosition struct {
	accountID    string
	contractID   string
	size         int
	averagePrice float64
}

// NewAdapter builds a disconnected paper Adapter.
func NewAdapter(cfg Config, log zerolog.Logger) *Adapter {
	return &Adapter{
		cfg:        cfg,
		log:        logging.Component(log, "paper_adapter"),
		lastPrice:  make(map[string]float64),
		openOrders: make(map[string]*openOrder),
		positions:  make(map[string]*simPosition),
		subs:       make(map[string]bool),
		fills:      make(chan brokerage.Fill, 256),
		rejections: make(chan brokerage.Rejection, 64),
		quotes:     make(chan brokerage.Quote, 1024),
		readDone:   make(chan struct{}),
	}
}

// Connect dials the quote feed and authenticates with a signed bearer
// token, then starts the background read loop.
func (a *Adapter) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial quote feed: %w", err)
	}
	a.conn = conn

	token, err := a.signToken()
	if err != nil {
		conn.Close()
		return fmt.Errorf("authenticate: %w", err)
	}
	if err := conn.WriteJSON(map[string]string{"type": "auth", "token": token}); err != nil {
		conn.Close()
		return fmt.Errorf("send auth frame: %w", err)
	}

	go a.readLoop()
	a.log.Info().Str("url", a.cfg.URL).Msg("paper adapter connected")
	return nil
}

// Authenticate mints a fresh bearer token without touching the connection;
// Connect calls signToken directly during the initial handshake, and the
// orchestrator may call Authenticate again later to pre-flight a refreshed
// token (spec.md §4.8 step 1 and §6's authenticate() -> bearer token).
func (a *Adapter) Authenticate(ctx context.Context) error {
	_, err := a.signToken()
	return err
}

// signToken signs a short-lived bearer token identifying this dry-run
// session to the feed, the same shape a real broker's gateway would expect.
func (a *Adapter) signToken() (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.cfg.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			Issuer:    "paper-adapter",
		},
	})
	return token.SignedString([]byte(a.cfg.JWTSecret))
}

func (a *Adapter) readLoop() {
	defer close(a.readDone)
	for {
		_, payload, err := a.conn.ReadMessage()
		if err != nil {
			a.log.Warn().Err(err).Msg("quote feed read loop exiting")
			return
		}
		var msg wireMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			a.log.Warn().Err(err).Msg("malformed quote feed message, dropping")
			continue
		}
		if msg.Type != "quote" {
			continue
		}
		at := time.Now()
		a.mu.Lock()
		a.lastPrice[msg.Symbol] = msg.Price
		triggered := a.matchOpenOrders(msg.Symbol, msg.Price, at)
		a.mu.Unlock()

		a.quotes <- brokerage.Quote{Symbol: msg.Symbol, Price: msg.Price, At: at}
		for _, f := range triggered {
			a.fills <- f
		}
	}
}

// matchOpenOrders must be called with a.mu held. It fills any resting limit
// order whose price has been reached by the latest tick: a buy limit fills
// when price drops to or below it, a sell limit fills when price rises to
// or above it.
func (a *Adapter) matchOpenOrders(symbol string, price float64, at time.Time) []brokerage.Fill {
	var filled []brokerage.Fill
	for id, o := range a.openOrders {
		if o.symbol != symbol || o.orderType != "limit" {
			continue
		}
		crossed := (o.side == "buy" && price <= o.limitPrice) || (o.side == "sell" && price >= o.limitPrice)
		if !crossed {
			continue
		}
		delete(a.openOrders, id)
		a.applyFillLocked(o.accountID, o.symbol, o.side, o.quantity, price)
		filled = append(filled, brokerage.Fill{OrderID: id, Symbol: symbol, Price: price, At: at})
	}
	return filled
}

// applyFillLocked must be called with a.mu held. It updates the simulated
// net position for (accountID, contractID) so ListPositions/Flatten have a
// consistent view to report.
func (a *Adapter) applyFillLocked(accountID, contractID, side string, quantity int, price float64) {
	key := accountID + ":" + contractID
	delta := quantity
	if side == "sell" {
		delta = -quantity
	}
	pos, ok := a.positions[key]
	if !ok {
		a.positions[key] = &simPosition{accountID: accountID, contractID: contractID, size: delta, averagePrice: price}
		return
	}
	pos.size += delta
	pos.averagePrice = price
}

// PlaceOrder simulates submission: a market order fills immediately at the
// latest known quote; a limit order rests until a later tick reaches it.
func (a *Adapter) PlaceOrder(ctx context.Context, req brokerage.OrderRequest) (brokerage.OrderAck, error) {
	orderID := uuid.NewString()

	a.mu.Lock()
	defer a.mu.Unlock()

	if req.OrderType == "market" {
		price, known := a.lastPrice[req.ContractID]
		if !known {
			price, known = a.lastPrice[req.Tag]
		}
		if !known {
			return brokerage.OrderAck{}, fmt.Errorf("no quote yet to fill market order for %s", req.ContractID)
		}
		a.applyFillLocked(req.AccountID, req.ContractID, req.Side, req.Quantity, price)
		go func() {
			a.fills <- brokerage.Fill{OrderID: orderID, Symbol: req.ContractID, Price: price, At: time.Now()}
		}()
		return brokerage.OrderAck{OrderID: orderID}, nil
	}

	limit := 0.0
	if req.LimitPrice != nil {
		limit = *req.LimitPrice
	}
	a.openOrders[orderID] = &openOrder{
		orderID: orderID, accountID: req.AccountID, symbol: req.ContractID,
		side: req.Side, orderType: req.OrderType, limitPrice: limit, quantity: req.Quantity,
	}
	return brokerage.OrderAck{OrderID: orderID}, nil
}

// CancelOrder removes a resting order. Cancelling a market order (already
// filled, or never resting) is a no-op.
func (a *Adapter) CancelOrder(ctx context.Context, accountID, orderID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.openOrders, orderID)
	return nil
}

// ListPositions reports the simulated net position per contract for
// accountID (spec.md §4.9).
func (a *Adapter) ListPositions(ctx context.Context, accountID string) ([]brokerage.OpenPosition, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []brokerage.OpenPosition
	for _, p := range a.positions {
		if p.accountID != accountID || p.size == 0 {
			continue
		}
		out = append(out, brokerage.OpenPosition{ContractID: p.contractID, Size: p.size, AveragePrice: p.averagePrice})
	}
	return out, nil
}

// Flatten cancels every resting order and zeroes every net position for
// accountID at the last known price (spec.md §4.8/§6).
func (a *Adapter) Flatten(ctx context.Context, accountID string) (brokerage.FlattenResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var result brokerage.FlattenResult
	for id, o := range a.openOrders {
		if o.accountID != accountID {
			continue
		}
		delete(a.openOrders, id)
		result.OrdersCancelled++
	}
	for _, p := range a.positions {
		if p.accountID != accountID || p.size == 0 {
			continue
		}
		p.size = 0
		result.PositionsClosed++
	}
	return result, nil
}

// Subscribe marks contractID as a symbol the quote feed should stream; the
// paper feed streams whatever the upstream test harness pushes regardless,
// so this only records intent for Unsubscribe/reconnect bookkeeping.
func (a *Adapter) Subscribe(ctx context.Context, contractID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subs[contractID] = true
	return nil
}

// Unsubscribe clears a prior Subscribe.
func (a *Adapter) Unsubscribe(ctx context.Context, contractID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.subs, contractID)
	return nil
}

func (a *Adapter) Fills() <-chan brokerage.Fill            { return a.fills }
func (a *Adapter) Rejections() <-chan brokerage.Rejection  { return a.rejections }
func (a *Adapter) Quotes() <-chan brokerage.Quote          { return a.quotes }

// Close tears down the websocket connection.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.conn != nil {
			err = a.conn.Close()
		}
	})
	return err
}
