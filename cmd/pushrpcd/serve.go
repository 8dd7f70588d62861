package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pushrpc/pushrpc"
	"github.com/pushrpc/pushrpc/auth"
	"github.com/pushrpc/pushrpc/broker"
	brokermem "github.com/pushrpc/pushrpc/broker/memory"
	brokerredis "github.com/pushrpc/pushrpc/broker/redis"
	"github.com/pushrpc/pushrpc/httprpc"
	"github.com/pushrpc/pushrpc/schema"
	"github.com/pushrpc/pushrpc/sessions"
	"github.com/pushrpc/pushrpc/wsrpc"
)

func serve(ctx context.Context, cfg Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)})
	log := slog.New(logHandler)

	var br broker.Broker
	if cfg.RedisAddr != "" {
		br = brokerredis.New(brokerredis.Config{Addr: cfg.RedisAddr})
		log.Info("using redis broker", slog.String("addr", cfg.RedisAddr))
	} else {
		br = brokermem.New()
	}
	defer br.Close()

	store := sessions.NewStore(
		sessions.WithIdleTimeout(cfg.SessionIdleTimeout),
		sessions.WithBroker(br),
		sessions.WithLogger(logHandler),
	)
	defer store.Close()

	reg := prometheus.NewRegistry()
	opts := []pushrpc.Option{
		pushrpc.WithIdentity(cfg.Identity),
		pushrpc.WithLogger(logHandler),
		pushrpc.WithMetrics(reg),
	}
	if cfg.VerboseErrors {
		opts = append(opts, pushrpc.WithVerboseErrors())
	}
	server := pushrpc.New(store, opts...)

	if cfg.GrantsFile != "" {
		grants, err := auth.LoadGrantsFile(cfg.GrantsFile,
			auth.WithGrantsLogger(logHandler),
			auth.WithReloadHook(func(g auth.Grants) {
				store.SetDefaultPermissions(g.Defaults)
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to load grants file: %w", err)
		}
		if err := grants.Watch(ctx); err != nil {
			return fmt.Errorf("failed to watch grants file: %w", err)
		}
		if cfg.OIDCIssuer != "" {
			if err := registerLogin(ctx, server, grants, cfg); err != nil {
				return err
			}
		}
	} else if cfg.OIDCIssuer != "" {
		if err := registerLogin(ctx, server, nil, cfg); err != nil {
			return err
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/rpc", httprpc.New(server, httprpc.WithLogger(logHandler)))
	r.Handle("/ws", wsrpc.New(server, wsrpc.WithLogger(logHandler)))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", slog.String("addr", cfg.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// registerLogin wires the auth.login method: clients exchange an OIDC access
// token for a session whose principal and permissions come from the token's
// claims plus the grants table for its subject.
func registerLogin(ctx context.Context, server *pushrpc.Server, grants *auth.GrantsFile, cfg Config) error {
	jwtCfg := auth.DefaultJWTConfig()
	jwtCfg.Issuer = cfg.OIDCIssuer
	jwtCfg.ExpectedAudiences = []string{cfg.OIDCAudience}

	verifier, err := auth.NewJWTVerifierFromDiscovery(ctx, jwtCfg)
	if err != nil {
		return fmt.Errorf("failed to init token verifier: %w", err)
	}

	return server.AddMethod("auth.login",
		func(ctx context.Context, params any, sess *sessions.Session, conn sessions.Connection) (any, error) {
			accessToken, _ := params.(string)
			principal, err := verifier.Verify(ctx, accessToken)
			if err != nil {
				return nil, &pushrpc.HandlerError{Message: "access denied"}
			}

			sess = server.Store().CreateSession()
			sess.SetPrincipal(principal)
			if grants != nil {
				for _, perm := range grants.Grants().For(principal.Subject()) {
					sess.AddPermission(perm)
				}
			}
			if conn != nil {
				server.Store().BindConnection(sess, conn)
			}
			return map[string]any{"token": sess.ID(), "subject": principal.Subject()}, nil
		},
		pushrpc.WithParams(schema.String()),
		pushrpc.Public(),
	)
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
