package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gridpay/relayctl/internal/config"
	"github.com/gridpay/relayctl/internal/core/domain"
	"github.com/gridpay/relayctl/internal/core/port"
	"github.com/gridpay/relayctl/internal/mqtt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var errStoreDown = errors.New("store down")

type fakeRegistry struct {
	mu        sync.Mutex
	meters    map[string]domain.Meter
	writes    []float64
	readDelay time.Duration
	failFind  error
	failWrite error
}

func newFakeRegistry(meters ...domain.Meter) *fakeRegistry {
	r := &fakeRegistry{meters: make(map[string]domain.Meter)}
	for _, m := range meters {
		r.meters[m.MeterNumber] = m
	}
	return r
}

func (r *fakeRegistry) FindMeterByNumber(_ context.Context, n string) (*domain.Meter, error) {
	r.mu.Lock()
	if r.failFind != nil {
		r.mu.Unlock()
		return nil, r.failFind
	}
	m, ok := r.meters[n]
	delay := r.readDelay
	r.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if !ok {
		return nil, domain.ErrMeterNotFound
	}
	return &m, nil
}

func (r *fakeRegistry) UpdateCumulative(_ context.Context, n string, value float64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrite != nil {
		return r.failWrite
	}
	m, ok := r.meters[n]
	if !ok {
		return domain.ErrMeterNotFound
	}
	m.CumulativeKWh = value
	m.LastUpdateAt = &at
	r.meters[n] = m
	r.writes = append(r.writes, value)
	return nil
}

func (r *fakeRegistry) ListAllMeterNumbers(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	numbers := make([]string, 0, len(r.meters))
	for n := range r.meters {
		numbers = append(numbers, n)
	}
	sort.Strings(numbers)
	return numbers, nil
}

func (r *fakeRegistry) CreateMeter(_ context.Context, m domain.Meter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.meters[m.MeterNumber]; ok {
		return domain.ErrMeterExists
	}
	r.meters[m.MeterNumber] = m
	return nil
}

func (r *fakeRegistry) SetMeterActive(_ context.Context, n string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meters[n]
	if !ok {
		return domain.ErrMeterNotFound
	}
	m.Active = active
	r.meters[n] = m
	return nil
}

func (r *fakeRegistry) cumulative(n string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meters[n].CumulativeKWh
}

func (r *fakeRegistry) writeLog() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.writes...)
}

type fakeInvoices struct {
	mu       sync.Mutex
	invoices []domain.Invoice
	payments []domain.Payment
	fail     error
}

func (s *fakeInvoices) LatestPaidInvoiceKWh(_ context.Context, n string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, false, s.fail
	}
	var latest *domain.Invoice
	for i := range s.invoices {
		inv := &s.invoices[i]
		if inv.MeterNumber != n || inv.Status != domain.InvoicePaid {
			continue
		}
		if latest == nil || inv.IssuedAt.After(latest.IssuedAt) {
			latest = inv
		}
	}
	if latest == nil {
		return 0, false, nil
	}
	return latest.KWh, true, nil
}

func (s *fakeInvoices) CreateInvoice(_ context.Context, inv *domain.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv.Id = uint(len(s.invoices) + 1)
	s.invoices = append(s.invoices, *inv)
	return nil
}

func (s *fakeInvoices) FindInvoice(_ context.Context, id uint) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invoices {
		if inv.Id == id {
			return &inv, nil
		}
	}
	return nil, domain.ErrInvoiceNotFound
}

func (s *fakeInvoices) AddPayment(_ context.Context, p *domain.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Id = uint(len(s.payments) + 1)
	s.payments = append(s.payments, *p)
	return nil
}

func (s *fakeInvoices) PaidAmount(_ context.Context, id uint) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := decimal.Zero
	for _, p := range s.payments {
		if p.InvoiceId == id {
			sum = sum.Add(p.Amount)
		}
	}
	return sum, nil
}

func (s *fakeInvoices) MarkInvoicePaid(_ context.Context, id uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.invoices {
		if s.invoices[i].Id == id {
			s.invoices[i].Status = domain.InvoicePaid
			s.invoices[i].PaidAt = &at
			return nil
		}
	}
	return domain.ErrInvoiceNotFound
}

type published struct {
	Topic   string
	Payload string
}

type fakeTransport struct {
	mu           sync.Mutex
	disconnected bool
	messages     []published
}

func (t *fakeTransport) Publish(topic string, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disconnected {
		return mqtt.ErrNotConnected
	}
	t.messages = append(t.messages, published{Topic: topic, Payload: string(payload)})
	return nil
}

func (t *fakeTransport) Subscribe(string, port.MessageHandler) error { return nil }

func (t *fakeTransport) Reconnect([]string, port.MessageHandler) error { return nil }

func (t *fakeTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.disconnected
}

func (t *fakeTransport) Close() {}

func (t *fakeTransport) setConnected(connected bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnected = !connected
}

func (t *fakeTransport) sent() []published {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]published(nil), t.messages...)
}

type fakeSubscriber struct {
	mu    sync.Mutex
	calls [][]string
	fail  error
}

func (s *fakeSubscriber) Resubscribe(numbers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, numbers)
	return s.fail
}

type recordingMetrics struct {
	mu       sync.Mutex
	accepted int
	rejected map[domain.RejectReason]int
	commands map[domain.Directive]int
	resets   int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		rejected: make(map[domain.RejectReason]int),
		commands: make(map[domain.Directive]int),
	}
}

func (m *recordingMetrics) ReadingAccepted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accepted++
}

func (m *recordingMetrics) ReadingRejected(reason domain.RejectReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[reason]++
}

func (m *recordingMetrics) CommandDispatched(directive domain.Directive, _ bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[directive]++
}

func (m *recordingMetrics) ConsumptionReset(bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
}

type recordingEvents struct {
	mu     sync.Mutex
	events []domain.EngineEvent
}

func (e *recordingEvents) Publish(_ context.Context, ev domain.EngineEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *recordingEvents) ofType(t domain.EngineEventType) []domain.EngineEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.EngineEvent
	for _, ev := range e.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type recordingSink struct {
	mu       sync.Mutex
	readings []domain.Reading
}

func (s *recordingSink) WriteReading(r domain.Reading, _ float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, r)
}

func testConfig() *config.Config {
	return &config.Config{
		MQTT: config.MQTTConfig{BaseTopic: "electricity"},
		Billing: config.BillingConfig{
			PricePerKWh:         0.5,
			DefaultThresholdKWh: 100,
		},
	}
}

type testRig struct {
	engine     *Engine
	registry   *fakeRegistry
	invoices   *fakeInvoices
	transport  *fakeTransport
	subscriber *fakeSubscriber
	metrics    *recordingMetrics
	events     *recordingEvents
	sink       *recordingSink
	billing    *BillingService
}

func newTestRig(meters ...domain.Meter) *testRig {
	rig := &testRig{
		registry:   newFakeRegistry(meters...),
		invoices:   &fakeInvoices{},
		transport:  &fakeTransport{},
		subscriber: &fakeSubscriber{},
		metrics:    newRecordingMetrics(),
		events:     &recordingEvents{},
		sink:       &recordingSink{},
	}
	cfg := testConfig()
	logger := zap.NewNop()
	rig.engine = NewEngine(cfg, rig.registry, rig.invoices, rig.transport, logger)
	rig.engine.Subscriber = rig.subscriber
	rig.engine.Metrics = rig.metrics
	rig.engine.Events = rig.events
	rig.engine.Sink = rig.sink
	rig.billing = NewBillingService(rig.invoices, rig.registry, rig.engine, cfg.Billing.PricePerKWh, logger)
	return rig
}

func activeMeter(n string) domain.Meter {
	return domain.Meter{MeterNumber: n, AccountId: "acc-" + n, Active: true}
}
