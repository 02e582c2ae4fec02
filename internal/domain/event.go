package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType constants
const (
	EventTypePoolDeployed     = "PoolDeployed"
	EventTypeOrderCreated     = "OrderCreated"
	EventTypeOrderTaken       = "OrderTaken"
	EventTypeDeliveryRecorded = "DeliveryRecorded"
	EventTypeOrderSettled     = "OrderSettled"
	EventTypeFeeCollected     = "FeeCollected"
)

// Event is the base interface for all settlement events.
type Event interface {
	GetType() string
	GetPoolID() string
}

// EventEnvelope wraps an event with metadata for serialization. Seq is the
// global sequence stamped at commit time, giving a total order over the journal.
type EventEnvelope struct {
	Type      string          `json:"type"`
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// PoolDeployed records a new (asset, kind, margin) pool registration.
type PoolDeployed struct {
	PoolID string    `json:"pool_id"`
	Asset  string    `json:"asset"`
	Kind   AssetKind `json:"kind"`
	Margin string    `json:"margin"`
}

func (e PoolDeployed) GetType() string   { return EventTypePoolDeployed }
func (e PoolDeployed) GetPoolID() string { return e.PoolID }

// OrderCreated records a new forward order and the creator's margin deposit.
type OrderCreated struct {
	PoolID        string    `json:"pool_id"`
	OrderID       uint64    `json:"order_id"`
	Creator       string    `json:"creator"`
	IsSeller      bool      `json:"is_seller"`
	DeliveryPrice int64     `json:"delivery_price"`
	BuyerMargin   int64     `json:"buyer_margin"`
	SellerMargin  int64     `json:"seller_margin"`
	ValidTill     time.Time `json:"valid_till"`
	DeliverStart  time.Time `json:"deliver_start"`
	DeliverEnd    time.Time `json:"deliver_end"`
}

func (e OrderCreated) GetType() string   { return EventTypeOrderCreated }
func (e OrderCreated) GetPoolID() string { return e.PoolID }

// OrderTaken records the counterparty joining and depositing its margin.
type OrderTaken struct {
	PoolID string `json:"pool_id"`
	OrderID uint64 `json:"order_id"`
	Taker  string `json:"taker"`
	Share  int64  `json:"share"`
}

func (e OrderTaken) GetType() string   { return EventTypeOrderTaken }
func (e OrderTaken) GetPoolID() string { return e.PoolID }

// DeliveryRecorded records one side performing its leg.
type DeliveryRecorded struct {
	PoolID  string       `json:"pool_id"`
	OrderID uint64       `json:"order_id"`
	Side    DeliverySide `json:"side"`
	Account string       `json:"account"`
}

func (e DeliveryRecorded) GetType() string   { return EventTypeDeliveryRecorded }
func (e DeliveryRecorded) GetPoolID() string { return e.PoolID }

// OrderSettled records terminal finalization of an order.
type OrderSettled struct {
	PoolID       string            `json:"pool_id"`
	OrderID      uint64            `json:"order_id"`
	Outcome      SettlementOutcome `json:"outcome"`
	Fee          int64             `json:"fee"`
	SellerPayout int64             `json:"seller_payout"`
	BuyerPayout  int64             `json:"buyer_payout"`
}

func (e OrderSettled) GetType() string   { return EventTypeOrderSettled }
func (e OrderSettled) GetPoolID() string { return e.PoolID }

// FeeCollected records the factory draining a pool's accrued fee.
type FeeCollected struct {
	PoolID string `json:"pool_id"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

func (e FeeCollected) GetType() string   { return EventTypeFeeCollected }
func (e FeeCollected) GetPoolID() string { return e.PoolID }

// SerializeEvent converts an event to JSON bytes with envelope.
func SerializeEvent(event Event, seq uint64) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	envelope := EventEnvelope{
		Type:      event.GetType(),
		Seq:       seq,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	return json.Marshal(envelope)
}

// DeserializeEvent converts JSON bytes back to an Event plus its sequence.
func DeserializeEvent(data []byte) (Event, uint64, error) {
	var envelope EventEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, 0, err
	}

	var event Event
	switch envelope.Type {
	case EventTypePoolDeployed:
		var e PoolDeployed
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, 0, err
		}
		event = e
	case EventTypeOrderCreated:
		var e OrderCreated
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, 0, err
		}
		event = e
	case EventTypeOrderTaken:
		var e OrderTaken
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, 0, err
		}
		event = e
	case EventTypeDeliveryRecorded:
		var e DeliveryRecorded
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, 0, err
		}
		event = e
	case EventTypeOrderSettled:
		var e OrderSettled
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, 0, err
		}
		event = e
	case EventTypeFeeCollected:
		var e FeeCollected
		if err := json.Unmarshal(envelope.Data, &e); err != nil {
			return nil, 0, err
		}
		event = e
	default:
		return nil, 0, fmt.Errorf("unknown event type: %s", envelope.Type)
	}

	return event, envelope.Seq, nil
}
