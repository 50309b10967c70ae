package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gridpay/relayctl/internal/config"
	"github.com/gridpay/relayctl/internal/core/domain"
	"github.com/gridpay/relayctl/internal/core/service"
	"github.com/gridpay/relayctl/internal/mqtt"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type createMeterRequest struct {
	MeterNumber string `json:"meter_number"`
	AccountId   string `json:"account_id"`
	Active      *bool  `json:"active"`
}

type meterResponse struct {
	MeterNumber string `json:"meter_number"`
	AccountId   string `json:"account_id"`
	Active      bool   `json:"active"`
	Subscribed  bool   `json:"subscribed"`
}

type updateMeterRequest struct {
	Active *bool `json:"active"`
}

type commandRequest struct {
	Command string `json:"command"`
}

type createInvoiceRequest struct {
	MeterNumber string          `json:"meter_number"`
	Amount      decimal.Decimal `json:"amount"`
}

type invoiceResponse struct {
	Id          uint            `json:"id"`
	MeterNumber string          `json:"meter_number"`
	Amount      decimal.Decimal `json:"amount"`
	KWh         float64         `json:"kwh"`
	Status      string          `json:"status"`
	IssuedAt    string          `json:"issued_at"`
	PaidAt      *string         `json:"paid_at,omitempty"`
}

type paymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type paymentResponse struct {
	PaymentId   uint            `json:"payment_id"`
	Amount      decimal.Decimal `json:"amount"`
	Invoice     invoiceResponse `json:"invoice"`
	Reactivated bool            `json:"reactivated"`
	ResetError  string          `json:"reset_error,omitempty"`
	RelayError  string          `json:"relay_error,omitempty"`
}

func (s *Server) CreateMeterHandler(c echo.Context) error {
	var req createMeterRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := config.CheckMeterNumber(req.MeterNumber); err != nil {
		return s.httpError(err)
	}
	meter := domain.Meter{
		MeterNumber: req.MeterNumber,
		AccountId:   req.AccountId,
		Active:      req.Active == nil || *req.Active,
	}
	resp := meterResponse{
		MeterNumber: meter.MeterNumber,
		AccountId:   meter.AccountId,
		Active:      meter.Active,
		Subscribed:  true,
	}
	if err := s.services.Meters.RegisterMeter(c.Request().Context(), meter); err != nil {
		if !errors.Is(err, service.ErrResubscribeFailed) {
			return s.httpError(err)
		}
		// stored, topics are subscribed on the next successful resubscription
		s.logger.Warn("meter created but not subscribed", zap.String("meter", meter.MeterNumber), zap.Error(err))
		resp.Subscribed = false
	}
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) UpdateMeterHandler(c echo.Context) error {
	var req updateMeterRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.Active == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "active is required")
	}
	if err := s.services.Meters.SetMeterActive(c.Request().Context(), c.Param("number"), *req.Active); err != nil {
		return s.httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) MeterStatusHandler(c echo.Context) error {
	st, err := s.services.Status.Snapshot(c.Request().Context(), c.Param("number"))
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) MeterCommandHandler(c echo.Context) error {
	var req commandRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	directive, err := domain.ParseDirective(req.Command)
	if err != nil {
		return s.httpError(err)
	}
	if err := s.services.Meters.OnManualCommand(c.Request().Context(), c.Param("number"), directive); err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"command": string(directive)})
}

func (s *Server) CreateInvoiceHandler(c echo.Context) error {
	var req createInvoiceRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.MeterNumber == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "meter_number is required")
	}
	invoice, err := s.services.Billing.CreateInvoice(c.Request().Context(), req.MeterNumber, req.Amount)
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusCreated, toInvoiceResponse(*invoice))
}

func (s *Server) RecordPaymentHandler(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid invoice id")
	}
	var req paymentRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	result, err := s.services.Billing.RecordPayment(c.Request().Context(), uint(id), req.Amount)
	if err != nil {
		return s.httpError(err)
	}
	resp := paymentResponse{
		PaymentId: result.Payment.Id,
		Amount:    result.Payment.Amount,
		Invoice:   toInvoiceResponse(result.Invoice),
	}
	if r := result.Reactivation; r != nil {
		resp.Reactivated = r.Err() == nil
		if r.ResetErr != nil {
			resp.ResetError = r.ResetErr.Error()
		}
		if r.DispatchErr != nil {
			resp.RelayError = r.DispatchErr.Error()
		}
	}
	return c.JSON(http.StatusCreated, resp)
}

func toInvoiceResponse(inv domain.Invoice) invoiceResponse {
	resp := invoiceResponse{
		Id:          inv.Id,
		MeterNumber: inv.MeterNumber,
		Amount:      inv.Amount,
		KWh:         inv.KWh,
		Status:      string(inv.Status),
		IssuedAt:    inv.IssuedAt.UTC().Format(time.RFC3339),
	}
	if inv.PaidAt != nil {
		paidAt := inv.PaidAt.UTC().Format(time.RFC3339)
		resp.PaidAt = &paidAt
	}
	return resp
}

func (s *Server) httpError(err error) error {
	switch {
	case errors.Is(err, domain.ErrMeterNotFound), errors.Is(err, domain.ErrInvoiceNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrMeterExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case service.IsClientError(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, mqtt.ErrNotConnected):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, service.ErrResubscribeFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	s.logger.Error("api request failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
