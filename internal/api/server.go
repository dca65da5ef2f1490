// Package api is the HTTP facade over the executor: JSON commands and
// queries per market, bearer-token identities, and a websocket stream of
// impact snapshots and fills.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"cfm-engine/internal/config"
	"cfm-engine/internal/exec"
	"cfm-engine/internal/market"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const idempotencyHeader = "Idempotency-Key"

type Server struct {
	exec   *exec.Executor
	hub    *Hub
	secret []byte
	sim    config.SimulatorConfig
	simRun atomic.Uint64
	log    *zap.Logger
}

func NewServer(executor *exec.Executor, hub *Hub, secret string, sim config.SimulatorConfig, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		exec:   executor,
		hub:    hub,
		secret: []byte(secret),
		sim:    sim,
		log:    log,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json200(w, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		timeout := middleware.Timeout(30 * time.Second)

		r.With(timeout).Get("/api/markets", s.listMarkets)
		r.Route("/api/markets/{market}", func(r chi.Router) {
			// The stream outlives the request timeout.
			r.Get("/stream", s.stream)

			r.Group(func(r chi.Router) {
				r.Use(timeout)
				r.Get("/", s.getMarket)
				r.Get("/history", s.getHistory)
				r.Get("/portfolio", s.getPortfolio)
				r.Get("/quote", s.getQuote)
				r.Get("/projects/{project}/price", s.getPrice)
				r.Get("/projects/{project}/impact", s.getImpact)

				r.Post("/buy", s.buy)
				r.Post("/buy_budget", s.buyBudget)
				r.Post("/sell", s.sell)
				r.Post("/target", s.target)
				r.Post("/mint", s.mint)
				r.Post("/merge", s.merge)

				r.Post("/decide", s.decide)
				r.Post("/resolve", s.resolve)
				r.Post("/reset", s.reset)
				r.Group(func(r chi.Router) {
					r.Use(s.adminOnly)
					r.Post("/redeem", s.redeem)
					r.Post("/simulate", s.simulate)
				})
			})
		})
	})
	return r
}

// IssueToken signs a bearer token for an account id.
func IssueToken(secret, accountID string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret is empty")
	}
	if accountID == "" {
		return "", errors.New("account id is required")
	}
	claims := jwt.RegisteredClaims{
		Subject:  accountID,
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

type ctxKey string

const ctxAccount ctxKey = "account"

func accountFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxAccount).(string)
	return id
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("Authorization")
		if !strings.HasPrefix(raw, "Bearer ") {
			// Browsers cannot set headers on websocket upgrades.
			raw = "Bearer " + r.URL.Query().Get("token")
		}
		tokenStr := strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
		if tokenStr == "" {
			jsonErr(w, http.StatusUnauthorized, "missing token")
			return
		}
		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return s.secret, nil
		})
		if err != nil || !token.Valid || claims.Subject == "" {
			jsonErr(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxAccount, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminOnly checks the caller's admin flag in the addressed market.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, err := s.exec.Registry().Get(chi.URLParam(r, "market"))
		if err != nil {
			writeError(w, err)
			return
		}
		p, err := m.Portfolio(accountFrom(r))
		if err != nil {
			writeError(w, err)
			return
		}
		if !p.Admin {
			writeError(w, market.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) simulateOptions(count int) market.SimulateOptions {
	opts := market.SimulateOptions{
		Count:          count,
		BuyProbability: s.sim.BuyProbability,
		MaxShares:      s.sim.MaxShares,
	}
	if s.sim.Seed != 0 {
		opts.Rand = rand.New(rand.NewPCG(s.sim.Seed, s.simRun.Add(1)))
	}
	return opts
}

func json200(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
