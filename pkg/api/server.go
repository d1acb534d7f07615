package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"perpd/pkg/auth"
	"perpd/pkg/book"
	"perpd/pkg/engine"
	"perpd/pkg/events"
)

// replyTimeout bounds how long a handler waits for the engine. The
// engine replies within one batch under normal operation; hitting this
// means the reply was dropped, which maps to 502.
const replyTimeout = 5 * time.Second

type ctxKey int

const userIDKey ctxKey = iota

// Server handles REST API and WebSocket connections.
type Server struct {
	engine *engine.Engine
	auth   *auth.Service
	tokens *auth.TokenIssuer
	bus    *events.Ring
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger

	allowedOrigins []string
}

// NewServer wires the REST and WebSocket surface on top of a running
// engine. The bus is tailed by a feed goroutine started in Start.
func NewServer(eng *engine.Engine, authSvc *auth.Service, tokens *auth.TokenIssuer, bus *events.Ring, allowedOrigins []string, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		engine:         eng,
		auth:           authSvc,
		tokens:         tokens,
		bus:            bus,
		router:         mux.NewRouter(),
		hub:            NewHub(log),
		log:            log,
		allowedOrigins: allowedOrigins,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Auth endpoints
	api.HandleFunc("/auth/signup", s.handleSignup).Methods("POST")
	api.HandleFunc("/auth/signin", s.handleSignin).Methods("POST")

	// Order endpoints (JWT protected)
	orders := api.NewRoute().Subrouter()
	orders.Use(s.requireAuth)
	orders.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	orders.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	// Market data
	api.HandleFunc("/orderbook", s.handleOrderbook).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the full middleware-wrapped handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start runs the WebSocket hub, the event feed and the HTTP listener.
// Blocks until the listener fails or ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)
	go s.runEventFeed(ctx)

	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Infow("api server starting", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// runEventFeed tails the event bus and broadcasts everything published
// since the last read to the "events" channel. Readers that fall behind
// the ring simply skip the evicted prefix.
func (s *Server) runEventFeed(ctx context.Context) {
	seq := s.bus.Next()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.bus.Notify():
		}
		batch, next := s.bus.ReadFrom(seq)
		seq = next
		for _, ev := range batch {
			s.hub.BroadcastToChannel("events", ev)
		}
	}
}

// ==============================
// Middleware
// ==============================

// requireAuth verifies the Bearer token and stashes the user id in the
// request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respondError(w, http.StatusUnauthorized, "missing bearer token", "")
			return
		}
		userID, err := s.tokens.Verify(token)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid token", "")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func userIDFrom(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(userIDKey).(uuid.UUID)
	return id
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	user, err := s.auth.Register(req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrEmailTaken):
		respondError(w, http.StatusConflict, err.Error(), "")
		return
	case errors.Is(err, auth.ErrMissingFields):
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "signup failed", "")
		return
	}

	respondJSON(w, SignupResponse{UserID: user.ID.String(), Email: user.Email})
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	var req SigninRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	token, err := s.auth.Login(req.Email, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, err.Error(), "")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "signin failed", "")
		return
	}

	respondJSON(w, SigninResponse{Token: token})
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var req PlaceOrderRequest
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	order, err := s.buildOrder(req, userIDFrom(r))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	cmd, reply := engine.PlaceOrder(order, engine.Normal)
	if err := s.engine.Submit(r.Context(), cmd); err != nil {
		respondError(w, http.StatusServiceUnavailable, "engine unavailable", "")
		return
	}

	rep, ok := s.awaitReply(w, r, reply)
	if !ok {
		return
	}
	if rep.Err != nil {
		respondError(w, http.StatusBadRequest, rep.Err.Error(), "")
		return
	}

	res := rep.Place
	respondJSON(w, PlaceOrderResponse{
		OrderID:   res.OrderID.String(),
		Status:    res.Status.String(),
		Filled:    res.Filled.String(),
		Remaining: res.Remaining.String(),
	})
}

// buildOrder validates the wire shape. Limit orders need a positive
// price; market orders must not carry one. Quantity and leverage limits
// are the engine's call, not ours.
func (s *Server) buildOrder(req PlaceOrderRequest, userID uuid.UUID) (*book.Order, error) {
	side, err := book.ParseSide(req.Side)
	if err != nil {
		return nil, err
	}
	typ, err := book.ParseOrderType(req.Type)
	if err != nil {
		return nil, err
	}

	qty, err := parseDecimal(req.Quantity, "quantity")
	if err != nil {
		return nil, err
	}
	lev, err := parseDecimal(req.Leverage, "leverage")
	if err != nil {
		return nil, err
	}

	var price decimal.Decimal
	switch typ {
	case book.Limit:
		if req.Price == "" {
			return nil, errors.New("limit order requires a price")
		}
		price, err = parseDecimal(req.Price, "price")
		if err != nil {
			return nil, err
		}
		if !price.IsPositive() {
			return nil, errors.New("limit price must be greater than zero")
		}
	case book.Market:
		if req.Price != "" {
			return nil, errors.New("market order must not carry a price")
		}
	}

	return &book.Order{
		ID:       uuid.New(),
		UserID:   userID,
		Side:     side,
		Type:     typ,
		Price:    price,
		Quantity: qty,
		Leverage: lev,
	}, nil
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid orderId", err.Error())
		return
	}

	cmd, reply := engine.CancelOrder(orderID, userIDFrom(r))
	if err := s.engine.Submit(r.Context(), cmd); err != nil {
		respondError(w, http.StatusServiceUnavailable, "engine unavailable", "")
		return
	}

	rep, ok := s.awaitReply(w, r, reply)
	if !ok {
		return
	}
	switch {
	case errors.Is(rep.Err, book.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, rep.Err.Error(), "")
		return
	case errors.Is(rep.Err, book.ErrNotOrderOwner):
		respondError(w, http.StatusForbidden, rep.Err.Error(), "")
		return
	case rep.Err != nil:
		respondError(w, http.StatusBadRequest, rep.Err.Error(), "")
		return
	}

	res := rep.Cancel
	respondJSON(w, CancelOrderResponse{
		OrderID: res.OrderID.String(),
		UserID:  res.UserID.String(),
		Status:  res.Status.String(),
	})
}

func (s *Server) handleOrderbook(w http.ResponseWriter, r *http.Request) {
	cmd, reply := engine.SnapshotBook()
	if err := s.engine.Submit(r.Context(), cmd); err != nil {
		respondError(w, http.StatusServiceUnavailable, "engine unavailable", "")
		return
	}

	rep, ok := s.awaitReply(w, r, reply)
	if !ok {
		return
	}

	snap := rep.Snapshot
	respondJSON(w, OrderbookSnapshot{
		Bids:      toPriceLevels(snap.Bids),
		Asks:      toPriceLevels(snap.Asks),
		MarkPrice: snap.MarkPrice.String(),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// awaitReply waits for the engine's one-shot reply. Returns false when
// the client went away or the reply was dropped; in the latter case a
// 502 has already been written.
func (s *Server) awaitReply(w http.ResponseWriter, r *http.Request, reply <-chan engine.Reply) (engine.Reply, bool) {
	select {
	case rep := <-reply:
		return rep, true
	case <-r.Context().Done():
		return engine.Reply{}, false
	case <-time.After(replyTimeout):
		s.log.Warnw("engine reply dropped", "path", r.URL.Path)
		respondError(w, http.StatusBadGateway, "engine reply dropped", "")
		return engine.Reply{}, false
	}
}

func toPriceLevels(levels []book.LevelSummary) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, lvl := range levels {
		out[i] = PriceLevel{Price: lvl.Price.String(), Quantity: lvl.Quantity.String()}
	}
	return out
}

func parseDecimal(n json.Number, field string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Decimal{}, errors.New("invalid " + field)
	}
	return d, nil
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
