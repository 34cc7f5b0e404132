// Command push runs the Web Push microservice. It owns the VAPID key pair
// and the browser subscriptions; the relay asks it to deliver notifications
// over the internal /internal/notify endpoint.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/chatrelay/internal/auth"
	"github.com/chatrelay/internal/config"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/push"
	"github.com/chatrelay/internal/startup"
	redisstorage "github.com/chatrelay/internal/storage/redis"
)

const (
	redisConnectMaxWait = 2 * time.Minute
	shutdownTimeout     = 10 * time.Second
	maxSubscriptionSize = 8192
	sendTimeout         = 30 // seconds, webpush TTL
)

type server struct {
	store      *redisstorage.Client
	keys       push.VAPIDKeys
	subscriber string
}

func main() {
	genVAPID := flag.Bool("gen-vapid", false, "generate a VAPID key pair, print it and exit")
	flag.Parse()

	logger.SetPrefix("push")

	if *genVAPID {
		priv, pub, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate vapid keys: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", pub, priv)
		return
	}

	cfg := config.Load()
	if cfg.RedisURL == "" {
		logger.Errorf("REDIS_URL is required (subscription storage)")
		os.Exit(1)
	}

	keys, err := push.EnsureVAPIDKeys()
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	store := startup.ConnectRedisWithRetry(cfg.RedisURL, redisConnectMaxWait, "push: ")
	defer store.Close()

	var base auth.Verifier
	switch cfg.Auth.Mode {
	case "service":
		base = auth.NewServiceVerifier(cfg.Auth.ServiceURL, cfg.Auth.VerifyTimeout)
	default:
		base = auth.NewJWTVerifier(cfg.Auth.JWTSecret)
	}
	verifier := auth.NewCachedVerifier(base, store, cfg.Auth.TokenCacheTTL)

	subscriber := os.Getenv("VAPID_SUBSCRIBER")
	if subscriber == "" {
		subscriber = "mailto:admin@localhost"
	}
	s := &server{store: store, keys: keys, subscriber: subscriber}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLog)
	r.Use(middleware.RecoverJSON)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins(),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/api/push/key", s.handleKey)

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(verifier))
		r.Use(middleware.RateLimitAPI)
		r.Post("/api/push/subscribe", s.handleSubscribe)
		r.Post("/api/push/unsubscribe", s.handleUnsubscribe)
	})

	// Reachable from the internal network only; deployment keeps this service
	// off the public ingress except for the /api/push/* routes.
	r.Post("/internal/notify", s.handleNotify)

	addr := os.Getenv("PUSH_SERVER_ADDR")
	if addr == "" {
		addr = ":8081"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	go func() {
		logger.Infof("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("listen: %v", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Infof("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Infof("bye")
}

// handleKey returns the VAPID public key the browser needs to subscribe.
func (s *server) handleKey(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": s.keys.Public})
}

// handleSubscribe stores the caller's browser PushSubscription. The body is
// the subscription JSON exactly as the browser produced it.
func (s *server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSubscriptionSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	var sub webpush.Subscription
	if err := json.Unmarshal(body, &sub); err != nil || sub.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "invalid subscription")
		return
	}
	if err := s.store.AddSubscription(r.Context(), userID, string(body)); err != nil {
		logger.Errorf("subscribe user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to store subscription")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "subscribed"})
}

func (s *server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSubscriptionSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := s.store.RemoveSubscription(r.Context(), userID, string(body)); err != nil {
		logger.Errorf("unsubscribe user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to remove subscription")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unsubscribed"})
}

// handleNotify fans a notification out to every subscription the user has.
// Expired endpoints (404/410 from the push gateway) are pruned as a side
// effect.
func (s *server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req push.NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	subs, err := s.store.ListSubscriptions(r.Context(), req.UserID)
	if err != nil {
		logger.Errorf("list subscriptions user=%s: %v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}

	payload, err := json.Marshal(map[string]any{
		"title":     req.Title,
		"body":      req.Body,
		"actionUrl": req.ActionURL,
		"data":      req.Data,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build payload")
		return
	}

	sent := 0
	for _, raw := range subs {
		var sub webpush.Subscription
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			logger.Errorf("corrupt subscription user=%s, pruning", req.UserID)
			s.prune(r, req.UserID, raw)
			continue
		}
		resp, err := webpush.SendNotification(payload, &sub, &webpush.Options{
			Subscriber:      s.subscriber,
			VAPIDPublicKey:  s.keys.Public,
			VAPIDPrivateKey: s.keys.Private,
			TTL:             sendTimeout,
		})
		if err != nil {
			logger.Errorf("send push user=%s: %v", req.UserID, err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			s.prune(r, req.UserID, raw)
			continue
		}
		sent++
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}

func (s *server) prune(r *http.Request, userID, raw string) {
	if err := s.store.RemoveSubscription(r.Context(), userID, raw); err != nil {
		logger.Errorf("prune subscription user=%s: %v", userID, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
