// Package server exposes the simulator over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"nepse-simulator/internal/analyzer"
	apperrors "nepse-simulator/internal/errors"
	"nepse-simulator/internal/logging"
	"nepse-simulator/internal/metrics"
	"nepse-simulator/internal/models"
	"nepse-simulator/internal/stream"
)

// Market is the live engine view the API reads from.
type Market interface {
	Snapshot() models.MarketState
	Quote(symbol string) (models.InstrumentState, error)
	State() models.SimulationState
}

// Analytics answers the market analysis endpoints.
type Analytics interface {
	TopGainers(n int) ([]analyzer.Mover, error)
	TopLosers(n int) ([]analyzer.Mover, error)
	VolumeLeaders(n int) ([]analyzer.Mover, error)
	SectorPerformance() ([]analyzer.SectorStats, error)
	MarketBreadth() (analyzer.Breadth, error)
	CorrelationMatrix(symbols []string) (analyzer.Correlation, error)
	Summary() (analyzer.Summary, error)
	Technicals(ctx context.Context, symbol string) (analyzer.Technicals, error)
}

// Portfolios is the ledger surface served by the API.
type Portfolios interface {
	Get(name string) (models.Portfolio, error)
	List() []models.Portfolio
	Value(name string) (models.Valuation, error)
	Transactions(name string) ([]models.Transaction, error)
	Buy(ctx context.Context, name, symbol string, quantity int64) (models.Holding, error)
	Sell(ctx context.Context, name, symbol string, quantity int64) (models.Holding, error)
}

const defaultLimit = 10

// Server wires the HTTP routes.
type Server struct {
	market     Market
	analytics  Analytics
	portfolios Portfolios
	hub        *stream.Hub
	logger     zerolog.Logger
	router     chi.Router
}

// New builds a server. portfolios and hub may be nil; their routes then
// answer 404 and 503 respectively.
func New(market Market, analytics Analytics, portfolios Portfolios, hub *stream.Hub, logger zerolog.Logger) *Server {
	s := &Server{
		market:     market,
		analytics:  analytics,
		portfolios: portfolios,
		hub:        hub,
		logger:     logging.WithComponent(logger, "server"),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(metrics.Middleware)

	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", s.handleWS)

		r.Get("/state", s.getState)
		r.Get("/quote/{symbol}", s.getQuote)

		r.Get("/gainers", s.getGainers)
		r.Get("/losers", s.getLosers)
		r.Get("/volume", s.getVolume)
		r.Get("/sectors", s.getSectors)
		r.Get("/breadth", s.getBreadth)
		r.Get("/correlation", s.getCorrelation)
		r.Get("/summary", s.getSummary)
		r.Get("/indicators/{symbol}", s.getIndicators)

		r.Get("/portfolios", s.listPortfolios)
		r.Get("/portfolios/{name}", s.getPortfolio)
		r.Get("/portfolios/{name}/transactions", s.getTransactions)
		r.Post("/portfolios/{name}/orders", s.placeOrder)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return apperrors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info().Msg("Shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  string(s.market.State()),
	})
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	state := s.market.Snapshot()
	if symbols := symbolsParam(r); len(symbols) > 0 {
		filtered := make(map[string]models.InstrumentState, len(symbols))
		for _, sym := range symbols {
			if inst, ok := state.Instruments[sym]; ok {
				filtered[sym] = inst
			}
		}
		state.Instruments = filtered
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) getQuote(w http.ResponseWriter, r *http.Request) {
	q, err := s.market.Quote(strings.ToUpper(chi.URLParam(r, "symbol")))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) getGainers(w http.ResponseWriter, r *http.Request) {
	s.movers(w, r, s.analytics.TopGainers)
}

func (s *Server) getLosers(w http.ResponseWriter, r *http.Request) {
	s.movers(w, r, s.analytics.TopLosers)
}

func (s *Server) getVolume(w http.ResponseWriter, r *http.Request) {
	s.movers(w, r, s.analytics.VolumeLeaders)
}

func (s *Server) movers(w http.ResponseWriter, r *http.Request, fn func(int) ([]analyzer.Mover, error)) {
	n, err := limitParam(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	out, err := fn(n)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSectors(w http.ResponseWriter, r *http.Request) {
	out, err := s.analytics.SectorPerformance()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getBreadth(w http.ResponseWriter, r *http.Request) {
	out, err := s.analytics.MarketBreadth()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getCorrelation(w http.ResponseWriter, r *http.Request) {
	out, err := s.analytics.CorrelationMatrix(symbolsParam(r))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	out, err := s.analytics.Summary()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getIndicators(w http.ResponseWriter, r *http.Request) {
	out, err := s.analytics.Technicals(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listPortfolios(w http.ResponseWriter, r *http.Request) {
	if s.portfolios == nil {
		writeJSON(w, http.StatusOK, []models.Portfolio{})
		return
	}
	writeJSON(w, http.StatusOK, s.portfolios.List())
}

// PortfolioResponse pairs a portfolio with its current valuation.
type PortfolioResponse struct {
	Portfolio models.Portfolio `json:"portfolio"`
	Valuation models.Valuation `json:"valuation"`
}

func (s *Server) getPortfolio(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.portfolios == nil {
		s.writeErr(w, apperrors.NewNotFoundError(name))
		return
	}
	p, err := s.portfolios.Get(name)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	v, err := s.portfolios.Value(name)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PortfolioResponse{Portfolio: p, Valuation: v})
}

func (s *Server) getTransactions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.portfolios == nil {
		s.writeErr(w, apperrors.NewNotFoundError(name))
		return
	}
	txs, err := s.portfolios.Transactions(name)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// OrderRequest is the body of POST /api/v1/portfolios/{name}/orders.
type OrderRequest struct {
	Symbol   string           `json:"symbol"`
	Side     models.OrderSide `json:"side"`
	Quantity int64            `json:"quantity"`
}

func (s *Server) placeOrder(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.portfolios == nil {
		s.writeErr(w, apperrors.NewNotFoundError(name))
		return
	}

	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var (
		h   models.Holding
		err error
	)
	switch models.OrderSide(strings.ToUpper(string(req.Side))) {
	case models.OrderSideBuy:
		h, err = s.portfolios.Buy(r.Context(), name, req.Symbol, req.Quantity)
	case models.OrderSideSell:
		h, err = s.portfolios.Sell(r.Context(), name, req.Symbol, req.Quantity)
	default:
		err = apperrors.NewConfigError("side", req.Side, "must be BUY or SELL")
	}
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("n")
	if raw == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewConfigError("n", raw, "must be an integer")
	}
	return n, nil
}

func symbolsParam(r *http.Request) []string {
	raw := r.URL.Query().Get("symbols")
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case apperrors.Is(err, apperrors.ErrConfig):
		return http.StatusBadRequest
	case apperrors.Is(err, apperrors.ErrHalted):
		return http.StatusConflict
	case apperrors.Is(err, apperrors.ErrUnknownSymbol),
		apperrors.Is(err, apperrors.ErrPortfolioNotFound):
		return http.StatusNotFound
	case apperrors.Is(err, apperrors.ErrInsufficientFunds),
		apperrors.Is(err, apperrors.ErrInsufficientShares),
		apperrors.Is(err, apperrors.ErrNoData),
		apperrors.Is(err, apperrors.ErrSimulation):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("Request failed")
	}
	writeError(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
