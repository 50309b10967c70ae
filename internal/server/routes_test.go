package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gridpay/relayctl/internal/core/domain"
	"github.com/gridpay/relayctl/internal/core/service"
	"github.com/gridpay/relayctl/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testToken = "s3cret"

type fakeMeters struct {
	meters      map[string]domain.Meter
	resubFail   bool
	commands    []domain.Directive
	dispatchErr error
}

func (f *fakeMeters) RegisterMeter(_ context.Context, m domain.Meter) error {
	if _, ok := f.meters[m.MeterNumber]; ok {
		return domain.ErrMeterExists
	}
	f.meters[m.MeterNumber] = m
	if f.resubFail {
		return service.ErrResubscribeFailed
	}
	return nil
}

func (f *fakeMeters) SetMeterActive(_ context.Context, n string, active bool) error {
	m, ok := f.meters[n]
	if !ok {
		return domain.ErrMeterNotFound
	}
	m.Active = active
	f.meters[n] = m
	return nil
}

func (f *fakeMeters) OnManualCommand(_ context.Context, n string, d domain.Directive) error {
	if _, ok := f.meters[n]; !ok {
		return domain.ErrMeterNotFound
	}
	f.commands = append(f.commands, d)
	return f.dispatchErr
}

type fakeBilling struct {
	invoices []domain.Invoice
}

func (f *fakeBilling) CreateInvoice(_ context.Context, n string, amount decimal.Decimal) (*domain.Invoice, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	inv := domain.Invoice{
		Id:          uint(len(f.invoices) + 1),
		MeterNumber: n,
		Amount:      amount,
		KWh:         amount.Mul(decimal.NewFromInt(2)).InexactFloat64(),
		Status:      domain.InvoiceUnpaid,
		IssuedAt:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	f.invoices = append(f.invoices, inv)
	return &inv, nil
}

func (f *fakeBilling) RecordPayment(_ context.Context, id uint, amount decimal.Decimal) (*service.PaymentResult, error) {
	if int(id) > len(f.invoices) || id == 0 {
		return nil, domain.ErrInvoiceNotFound
	}
	inv := f.invoices[id-1]
	if inv.Status == domain.InvoicePaid {
		return nil, domain.ErrInvoiceAlreadyPaid
	}
	paidAt := time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC)
	inv.Status = domain.InvoicePaid
	inv.PaidAt = &paidAt
	f.invoices[id-1] = inv
	return &service.PaymentResult{
		Payment:      domain.Payment{Id: 1, InvoiceId: id, Amount: amount, PaidAt: paidAt},
		Invoice:      inv,
		Reactivation: &service.ReactivationResult{DispatchErr: mqtt.ErrNotConnected},
	}, nil
}

type fakeStatus struct{}

func (fakeStatus) Snapshot(_ context.Context, n string) (*domain.MeterStatus, error) {
	if n != "CNT-001" {
		return nil, domain.ErrMeterNotFound
	}
	return &domain.MeterStatus{MeterNumber: n, Active: true, CumulativeKWh: 105, ThresholdKWh: 100, Relay: domain.DirectiveOff}, nil
}

func healthActor(healthy bool) *actor.Props {
	return actor.PropsFromFunc(func(ctx actor.Context) {
		if _, ok := ctx.Message().(domain.ActorHealthRequest); ok {
			ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MASTER, Healthy: healthy, State: "!mqtt=disconnected"})
		}
	})
}

type testServer struct {
	handler http.Handler
	meters  *fakeMeters
	billing *fakeBilling
}

func newTestServer(t *testing.T, healthy bool) *testServer {
	as := actor.NewActorSystem()
	t.Cleanup(as.Shutdown)
	master := as.Root.Spawn(healthActor(healthy))

	ts := &testServer{
		meters:  &fakeMeters{meters: map[string]domain.Meter{"CNT-001": {MeterNumber: "CNT-001", Active: true}}},
		billing: &fakeBilling{},
	}
	s := &Server{
		adminToken:  testToken,
		rootContext: as.Root,
		masterActor: master,
		services: Services{
			Meters:   ts.meters,
			Billing:  ts.billing,
			Status:   fakeStatus{},
			Gatherer: prometheus.NewRegistry(),
		},
		logger: zap.NewNop(),
	}
	ts.handler = s.RegisterRoutes()
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheckHandler(t *testing.T) {

	ts := newTestServer(t, true)
	rec := ts.do(http.MethodGet, "/healthcheck", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "health_check: OK", rec.Body.String())

	ts = newTestServer(t, false)
	rec = ts.do(http.MethodGet, "/healthcheck", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "!mqtt=disconnected")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, true)
	rec := ts.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRequiresToken(t *testing.T) {

	ts := newTestServer(t, true)

	req := httptest.NewRequest(http.MethodGet, "/api/meters/CNT-001/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/meters/CNT-001/status", nil)
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing key")
}

func TestCreateMeter(t *testing.T) {

	require := require.New(t)
	ts := newTestServer(t, true)

	rec := ts.do(http.MethodPost, "/api/meters", `{"meter_number":"CNT-002","account_id":"acc-2"}`)
	require.Equal(http.StatusCreated, rec.Code)
	var resp meterResponse
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(resp.Active, "active by default")
	require.True(resp.Subscribed)

	rec = ts.do(http.MethodPost, "/api/meters", `{"meter_number":"CNT-002"}`)
	require.Equal(http.StatusConflict, rec.Code)

	rec = ts.do(http.MethodPost, "/api/meters", `{"account_id":"acc-3"}`)
	require.Equal(http.StatusBadRequest, rec.Code)

	// meter numbers must be a single topic level without wildcards
	for _, bad := range []string{"+", "#", "A/B"} {
		rec = ts.do(http.MethodPost, "/api/meters", `{"meter_number":"`+bad+`"}`)
		require.Equal(http.StatusBadRequest, rec.Code, "meter number %q", bad)
		require.NotContains(ts.meters.meters, bad)
	}

	ts.meters.resubFail = true
	rec = ts.do(http.MethodPost, "/api/meters", `{"meter_number":"CNT-003","active":false}`)
	require.Equal(http.StatusCreated, rec.Code)
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(resp.Subscribed)
	require.False(resp.Active)
}

func TestUpdateMeter(t *testing.T) {

	ts := newTestServer(t, true)

	rec := ts.do(http.MethodPatch, "/api/meters/CNT-001", `{"active":false}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, ts.meters.meters["CNT-001"].Active)

	rec = ts.do(http.MethodPatch, "/api/meters/CNT-999", `{"active":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodPatch, "/api/meters/CNT-001", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMeterStatus(t *testing.T) {

	require := require.New(t)
	ts := newTestServer(t, true)

	rec := ts.do(http.MethodGet, "/api/meters/CNT-001/status", "")
	require.Equal(http.StatusOK, rec.Code)
	var st domain.MeterStatus
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &st))
	require.Equal(domain.DirectiveOff, st.Relay)

	rec = ts.do(http.MethodGet, "/api/meters/CNT-999/status", "")
	require.Equal(http.StatusNotFound, rec.Code)
}

func TestMeterCommand(t *testing.T) {

	ts := newTestServer(t, true)

	rec := ts.do(http.MethodPost, "/api/meters/CNT-001/command", `{"command":"off"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []domain.Directive{domain.DirectiveOff}, ts.meters.commands)

	rec = ts.do(http.MethodPost, "/api/meters/CNT-001/command", `{"command":"TOGGLE"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/meters/CNT-999/command", `{"command":"ON"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.meters.dispatchErr = errors.Join(errors.New("dispatch ON to electricity/CNT-001/relay"), mqtt.ErrNotConnected)
	rec = ts.do(http.MethodPost, "/api/meters/CNT-001/command", `{"command":"ON"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestInvoiceAndPayment(t *testing.T) {

	require := require.New(t)
	ts := newTestServer(t, true)

	rec := ts.do(http.MethodPost, "/api/invoices", `{"meter_number":"CNT-001","amount":"50.00"}`)
	require.Equal(http.StatusCreated, rec.Code)
	var inv invoiceResponse
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &inv))
	require.Equal(uint(1), inv.Id)
	require.Equal("unpaid", inv.Status)
	require.Equal(100.0, inv.KWh)

	rec = ts.do(http.MethodPost, "/api/invoices", `{"meter_number":"CNT-001","amount":0}`)
	require.Equal(http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/invoices/abc/payments", `{"amount":"50"}`)
	require.Equal(http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/invoices/7/payments", `{"amount":"50"}`)
	require.Equal(http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodPost, "/api/invoices/1/payments", `{"amount":"50"}`)
	require.Equal(http.StatusCreated, rec.Code)
	var pay paymentResponse
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &pay))
	require.Equal("paid", pay.Invoice.Status)
	require.NotNil(pay.Invoice.PaidAt)
	require.False(pay.Reactivated)
	require.Contains(pay.RelayError, "not connected")

	rec = ts.do(http.MethodPost, "/api/invoices/1/payments", `{"amount":"50"}`)
	require.Equal(http.StatusBadRequest, rec.Code, "already paid")
}
