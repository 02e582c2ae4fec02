// Package engine is the command side of the settlement service: it executes
// pool and factory operations, stamps the resulting events with the global
// sequence, journals them, fans them out to read-model handlers and publishes
// them on the event bus.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nathanyu/forward-settlement/internal/domain"
	"github.com/nathanyu/forward-settlement/internal/eventstore"
	"github.com/nathanyu/forward-settlement/internal/factory"
	"github.com/nathanyu/forward-settlement/internal/pool"
	"github.com/nathanyu/forward-settlement/internal/sequencer"
	"github.com/nathanyu/forward-settlement/internal/telemetry"
)

// EventHandler is a function that handles committed events (for CQRS).
type EventHandler func(event domain.Event, seq uint64)

// Publisher pushes committed events to the bus. Nil-safe in the engine: the
// core keeps working without a broker.
type Publisher interface {
	PublishEvent(event domain.Event, seq uint64) error
}

// SettlementEngine executes settlement operations against the factory's
// pools and owns the commit path for their events.
type SettlementEngine struct {
	factory *factory.PoolFactory
	store   *eventstore.EventStore
	seq     *sequencer.Sequencer

	mu            sync.RWMutex
	publisher     Publisher
	eventHandlers []EventHandler
	processedCmds map[string]bool
}

// New creates a settlement engine over the factory and journal.
func New(f *factory.PoolFactory, store *eventstore.EventStore) *SettlementEngine {
	return &SettlementEngine{
		factory:       f,
		store:         store,
		seq:           sequencer.New(),
		processedCmds: make(map[string]bool),
	}
}

// Factory exposes the underlying registry for the query surface.
func (e *SettlementEngine) Factory() *factory.PoolFactory {
	return e.factory
}

// SetPublisher attaches the event bus publisher.
func (e *SettlementEngine) SetPublisher(p Publisher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publisher = p
}

// RegisterEventHandler registers a handler to receive committed events.
func (e *SettlementEngine) RegisterEventHandler(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eventHandlers = append(e.eventHandlers, handler)
}

// InitializeFromEventStore seeds the sequencer past the journal's last
// committed sequence so restarts never reuse a stamp.
func (e *SettlementEngine) InitializeFromEventStore() error {
	last, err := e.store.LastSeq()
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	e.seq.Seed(last)
	return nil
}

// seen records command ids for idempotent redelivery from the bus. An empty
// id opts out.
func (e *SettlementEngine) seen(commandID string) bool {
	if commandID == "" {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.processedCmds[commandID] {
		return true
	}
	e.processedCmds[commandID] = true
	return false
}

// commit stamps, journals, fans out and publishes a batch of events.
func (e *SettlementEngine) commit(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	first := e.seq.Reserve(len(events))
	batch := make([]eventstore.StoredEvent, len(events))
	for i, ev := range events {
		batch[i] = eventstore.StoredEvent{Event: ev, Seq: first + uint64(i)}
	}

	persistStart := time.Now()
	if err := e.store.AppendBatch(batch); err != nil {
		return fmt.Errorf("failed to persist events: %w", err)
	}
	telemetry.EventStoreWriteDuration.Observe(time.Since(persistStart).Seconds())

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(
			attribute.Int("events_count", len(events)),
			attribute.Int64("first_seq", int64(first)),
		)
	}

	e.mu.RLock()
	handlers := make([]EventHandler, len(e.eventHandlers))
	copy(handlers, e.eventHandlers)
	publisher := e.publisher
	e.mu.RUnlock()

	for _, se := range batch {
		telemetry.EventsStoredTotal.WithLabelValues(se.Event.GetType()).Inc()
		for _, handler := range handlers {
			handler(se.Event, se.Seq)
		}
		if publisher != nil {
			if err := publisher.PublishEvent(se.Event, se.Seq); err != nil {
				telemetry.Logger.Warn("failed to publish event",
					"type", se.Event.GetType(), "seq", se.Seq, "error", err)
			}
		}
	}
	return nil
}

func (e *SettlementEngine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if telemetry.Tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return telemetry.Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func finishSpan(span trace.Span, err error) {
	if span == nil || !span.IsRecording() {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func recordOrderMetric(action string, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	telemetry.OrdersTotal.WithLabelValues(action, status).Inc()
}

func recordSettlements(events []domain.Event) {
	for _, ev := range events {
		if settled, ok := ev.(domain.OrderSettled); ok {
			telemetry.SettlementsTotal.WithLabelValues(string(settled.Outcome)).Inc()
			if settled.Fee > 0 {
				telemetry.FeeAccruedTotal.WithLabelValues(settled.PoolID).Add(float64(settled.Fee))
			}
		}
	}
}

// DeployPool registers a pool and commits the deployment event.
func (e *SettlementEngine) DeployPool(ctx context.Context, caller, assetID string, kind domain.AssetKind, marginID string) (*pool.ForwardPool, error) {
	ctx, span := e.startSpan(ctx, "engine.DeployPool",
		attribute.String("asset", assetID),
		attribute.String("margin", marginID),
	)
	p, events, err := e.factory.DeployPool(caller, assetID, kind, marginID)
	if err == nil {
		err = e.commit(ctx, events)
	}
	if err == nil {
		telemetry.PoolCount.Set(float64(e.factory.AllPairsLength()))
	}
	finishSpan(span, err)
	return p, err
}

// CreateOrder opens an order in the given pool.
func (e *SettlementEngine) CreateOrder(ctx context.Context, commandID, poolID string, params pool.CreateOrderParams) (domain.Order, error) {
	start := time.Now()
	ctx, span := e.startSpan(ctx, "engine.CreateOrder",
		attribute.String("pool_id", poolID),
		attribute.String("creator", params.Creator),
		attribute.Int64("delivery_price", params.DeliveryPrice),
	)
	defer telemetry.CommandProcessingDuration.Observe(time.Since(start).Seconds())

	if e.seen(commandID) {
		finishSpan(span, nil)
		return domain.Order{}, nil
	}

	p, err := e.factory.PoolByID(poolID)
	if err != nil {
		recordOrderMetric("create", err)
		finishSpan(span, err)
		return domain.Order{}, err
	}
	order, events, err := p.CreateOrder(params)
	if err == nil {
		err = e.commit(ctx, events)
	}
	if err == nil {
		telemetry.OpenOrdersGauge.WithLabelValues(poolID).Set(float64(p.OrdersLength()))
	}
	recordOrderMetric("create", err)
	finishSpan(span, err)
	return order, err
}

// TakeOrder binds a taker to an order's open side.
func (e *SettlementEngine) TakeOrder(ctx context.Context, commandID, poolID, taker string, orderID uint64) error {
	ctx, span := e.startSpan(ctx, "engine.TakeOrder",
		attribute.String("pool_id", poolID),
		attribute.String("taker", taker),
		attribute.Int64("order_id", int64(orderID)),
	)
	if e.seen(commandID) {
		finishSpan(span, nil)
		return nil
	}

	p, err := e.factory.PoolByID(poolID)
	if err == nil {
		var events []domain.Event
		events, err = p.TakeOrder(taker, orderID)
		if err == nil {
			err = e.commit(ctx, events)
		}
	}
	recordOrderMetric("take", err)
	finishSpan(span, err)
	return err
}

// Deliver performs one side's delivery leg; the order may settle in the same
// call when the second leg lands.
func (e *SettlementEngine) Deliver(ctx context.Context, commandID, poolID, account string, orderID uint64) error {
	ctx, span := e.startSpan(ctx, "engine.Deliver",
		attribute.String("pool_id", poolID),
		attribute.String("account", account),
		attribute.Int64("order_id", int64(orderID)),
	)
	if e.seen(commandID) {
		finishSpan(span, nil)
		return nil
	}

	p, err := e.factory.PoolByID(poolID)
	var events []domain.Event
	if err == nil {
		events, err = p.Deliver(account, orderID)
		if err == nil {
			err = e.commit(ctx, events)
		}
	}
	if err == nil {
		recordSettlements(events)
	}
	recordOrderMetric("deliver", err)
	finishSpan(span, err)
	return err
}

// Settle finalizes an order past its deadline.
func (e *SettlementEngine) Settle(ctx context.Context, commandID, poolID string, orderID uint64) error {
	ctx, span := e.startSpan(ctx, "engine.Settle",
		attribute.String("pool_id", poolID),
		attribute.Int64("order_id", int64(orderID)),
	)
	if e.seen(commandID) {
		finishSpan(span, nil)
		return nil
	}

	p, err := e.factory.PoolByID(poolID)
	var events []domain.Event
	if err == nil {
		events, err = p.Settle(orderID)
		if err == nil {
			err = e.commit(ctx, events)
		}
	}
	if err == nil {
		recordSettlements(events)
	}
	recordOrderMetric("settle", err)
	finishSpan(span, err)
	return err
}

// CollectFee drains accrued fees from every pool.
func (e *SettlementEngine) CollectFee(ctx context.Context, caller, to string) (int64, error) {
	ctx, span := e.startSpan(ctx, "engine.CollectFee", attribute.String("to", to))
	total, events, err := e.factory.CollectFee(caller, to)
	if err == nil {
		err = e.commit(ctx, events)
	}
	finishSpan(span, err)
	return total, err
}
