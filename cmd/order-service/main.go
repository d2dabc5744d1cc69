package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/example/ec-stock-reservation/internal/api"
	"github.com/example/ec-stock-reservation/internal/api/middleware"
	"github.com/example/ec-stock-reservation/internal/app"
	"github.com/example/ec-stock-reservation/internal/auth"
	"github.com/example/ec-stock-reservation/internal/command"
	"github.com/example/ec-stock-reservation/internal/config"
	"github.com/example/ec-stock-reservation/internal/domain/order"
	"github.com/example/ec-stock-reservation/internal/event"
	"github.com/example/ec-stock-reservation/internal/infrastructure/store"
	"github.com/example/ec-stock-reservation/internal/query"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	issueToken := flag.String("issue-token", "", "print an access token for the given customer id and exit")
	printConfig := flag.Bool("print-config", false, "print the resolved configuration and exit")

	cfg := config.MustLoad()
	if *printConfig {
		if err := config.Print(os.Stdout, cfg); err != nil {
			panic(err)
		}
		return
	}

	var jwtService *auth.JWTService
	if cfg.Auth.Enabled {
		jwtService = auth.NewJWTService(cfg.Auth.Secret, cfg.Auth.AccessTokenTTL)
	}
	if *issueToken != "" {
		if jwtService == nil {
			fmt.Fprintln(os.Stderr, "auth is disabled, set AUTH_ENABLED=true and JWT_SECRET")
			os.Exit(1)
		}
		token, _, err := jwtService.GenerateAccessToken(*issueToken)
		if err != nil {
			panic(err)
		}
		fmt.Println(token)
		fmt.Fprintf(os.Stderr, "expires in %s\n", jwtService.GetAccessTokenExpiry())
		return
	}

	ctx, stop := app.SignalContext()
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		panic(err)
	}
	log := a.Log

	orders := store.NewPostgresOrderStore()
	outboxStore := store.NewPostgresOutboxStore()

	orderSvc := order.NewService(a.Store, orders, outboxStore, cfg.Kafka.OrdersTopic)
	cmdHandler := command.NewHandler(log, orderSvc)
	queryHandler := query.NewHandler(a.Store.DB(), orders, outboxStore, event.ProducerOrderService)

	var authMiddleware gin.HandlerFunc
	if jwtService != nil {
		authMiddleware = middleware.AuthMiddleware(jwtService)
		log.Info("JWT auth enabled for order routes")
	}

	if cfg.App.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(log, api.NewHandlers(log, cmdHandler, queryHandler), authMiddleware)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.HTTPServer.Host, strconv.Itoa(int(cfg.HTTPServer.Port))),
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout.Read,
		WriteTimeout: cfg.HTTPServer.Timeout.Write,
		IdleTimeout:  cfg.HTTPServer.Timeout.Idle,
	}

	var wg sync.WaitGroup

	publisher := a.OutboxPublisher("orders", event.ProducerOrderService)
	wg.Add(1)
	go func() {
		defer wg.Done()
		publisher.Run(ctx)
	}()

	go func() {
		log.Info("HTTP server started", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPServer.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}

	wg.Wait()
	if err := a.Close(shutdownCtx); err != nil {
		log.Error("Shutdown finished with errors", zap.Error(err))
	}
}
