package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gridpay/relayctl/internal/core/domain"
	"github.com/gridpay/relayctl/internal/metrics"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	if s.services.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler(s.services.Gatherer)))
	}

	api := e.Group("/api")
	if s.adminToken != "" {
		api.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			Validator: func(key string, c echo.Context) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(s.adminToken)) == 1, nil
			},
		}))
	} else {
		s.logger.Warn("admin_token not set, /api is not authenticated")
	}

	api.POST("/meters", s.CreateMeterHandler)
	api.PATCH("/meters/:number", s.UpdateMeterHandler)
	api.GET("/meters/:number/status", s.MeterStatusHandler)
	api.POST("/meters/:number/command", s.MeterCommandHandler)
	api.POST("/invoices", s.CreateInvoiceHandler)
	api.POST("/invoices/:id/payments", s.RecordPaymentHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	} else if ok {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL ("+response.State+")")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}
