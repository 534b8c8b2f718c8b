package cmd

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/luastore/ms-go-checkout/app/controller"
	"github.com/luastore/ms-go-checkout/app/gateway"
	"github.com/luastore/ms-go-checkout/app/notify"
	"github.com/luastore/ms-go-checkout/app/provider"
	"github.com/luastore/ms-go-checkout/app/repository"
	"github.com/luastore/ms-go-checkout/app/service"
	"github.com/luastore/ms-go-checkout/app/types"
	"github.com/luastore/ms-go-checkout/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  "Start the HTTP (Echo) server for checkout, order and webhook endpoints.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, orderService, cleanup := mustCreateOrderService()
	defer cleanup()

	orderController := controller.NewOrderController(orderService)
	e := setupHTTPServer(orderController, cfg.App.APIKey)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}

	logrus.Info("Server stopped")
}

func setupHTTPServer(orderController *controller.OrderController, apiKey string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(echomiddleware.RequestIDWithConfig(echomiddleware.RequestIDConfig{}))

	e.GET("/health", orderController.Health)

	api := e.Group("", requireAPIKey(apiKey))
	api.POST("/checkout", orderController.CreateCheckout)
	api.GET("/orders", orderController.ListOrders)
	api.GET("/orders/:id", orderController.GetOrder)
	api.GET("/orders/:id/events", orderController.ListOrderEvents)
	api.POST("/orders/:id/cancel", orderController.CancelOrder)

	// Provider callbacks authenticate via their own signatures, not the
	// storefront API key.
	webhooks := e.Group("/webhooks/providers")
	webhooks.POST("/:provider", orderController.HandleProviderWebhook)

	return e
}

func requireAPIKey(apiKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if apiKey == "" {
				return next(ctx)
			}
			provided := strings.TrimSpace(ctx.Request().Header.Get("X-API-Key"))
			if provided != apiKey {
				return ctx.JSON(http.StatusUnauthorized, &types.ErrorResponse{Error: "invalid api key"})
			}
			return next(ctx)
		}
	}
}

func mustCreateOrderService() (*config.Config, *service.OrderService, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	orderRepo := repository.NewOrderRepository(db)
	eventRepo := repository.NewOrderEventRepository(db)
	webhookRepo := repository.NewWebhookRepository(db)
	stockRepo := repository.NewStockRepository(db)

	registry, active := mustBuildProviders(cfg)
	paymentGateway := gateway.New(registry, active)

	orderService := service.NewOrderService(
		orderRepo,
		eventRepo,
		webhookRepo,
		stockRepo,
		paymentGateway,
		notify.NewLogMailer(),
		cfg.Payments,
	)

	cleanup := func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return cfg, orderService, cleanup
}

// mustBuildProviders constructs every adapter whose credentials are
// present. Only the active provider is mandatory; the others stay
// registered so their webhooks and reconciliation keep working after a
// provider switch.
func mustBuildProviders(cfg *config.Config) (*provider.Registry, provider.Provider) {
	allowUnsigned := !cfg.IsProduction()
	providers := make([]provider.Provider, 0, 3)

	abacatePay, err := provider.NewAbacatePayProvider(provider.AbacatePayConfig{
		APIKey:                cfg.AbacatePay.APIKey,
		WebhookSecret:         cfg.AbacatePay.WebhookSecret,
		BaseURL:               cfg.AbacatePay.BaseURL,
		AllowUnsignedWebhooks: allowUnsigned,
		HTTPTimeout:           cfg.AbacatePay.HTTPTimeout,
	})
	if err != nil {
		logrus.WithError(err).Warn("AbacatePay adapter not configured")
	} else {
		providers = append(providers, abacatePay)
	}

	itau, err := provider.NewItauProvider(provider.ItauConfig{
		ClientID:              cfg.Itau.ClientID,
		ClientSecret:          cfg.Itau.ClientSecret,
		WebhookSecret:         cfg.Itau.WebhookSecret,
		BaseURL:               cfg.Itau.BaseURL,
		TokenURL:              cfg.Itau.TokenURL,
		PixKey:                cfg.Itau.PixKey,
		MerchantName:          cfg.Payments.MerchantName,
		MerchantCity:          cfg.Payments.MerchantCity,
		AllowUnsignedWebhooks: allowUnsigned,
		HTTPTimeout:           cfg.Itau.HTTPTimeout,
	})
	if err != nil {
		logrus.WithError(err).Warn("Itau adapter not configured")
	} else {
		providers = append(providers, itau)
	}

	rede, err := provider.NewRedeProvider(provider.RedeConfig{
		ClientID:              cfg.Rede.ClientID,
		ClientSecret:          cfg.Rede.ClientSecret,
		WebhookSecret:         cfg.Rede.WebhookSecret,
		BaseURL:               cfg.Rede.BaseURL,
		TokenURL:              cfg.Rede.TokenURL,
		PixKey:                cfg.Payments.PixKey,
		MerchantName:          cfg.Payments.MerchantName,
		MerchantCity:          cfg.Payments.MerchantCity,
		AllowUnsignedWebhooks: allowUnsigned,
		HTTPTimeout:           cfg.Rede.HTTPTimeout,
	})
	if err != nil {
		logrus.WithError(err).Warn("Rede adapter not configured")
	} else {
		providers = append(providers, rede)
	}

	registry := provider.NewRegistry(providers...)

	var active provider.Provider
	for _, p := range providers {
		if p.Slug() == cfg.Payments.Provider {
			active = p
			break
		}
	}
	if active == nil {
		logrus.WithField("provider", cfg.Payments.Provider).Fatal("Active payment provider is not configured")
	}

	return registry, active
}
