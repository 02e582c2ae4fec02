// Package queue is the NATS face of the engine: commands arrive on the
// command subject with request/reply semantics, committed events go out on
// the event subject for downstream subscribers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nathanyu/forward-settlement/internal/domain"
	"github.com/nathanyu/forward-settlement/internal/engine"
	"github.com/nathanyu/forward-settlement/internal/pool"
	"github.com/nathanyu/forward-settlement/internal/telemetry"
)

const (
	CommandSubject = "forward.commands"
	EventSubject   = "forward.events"
)

// Command is the wire shape of a settlement command. CommandID makes
// redelivery idempotent.
type Command struct {
	CommandID string                  `json:"command_id"`
	Type      string                  `json:"type"`
	PoolID    string                  `json:"pool_id"`
	Account   string                  `json:"account,omitempty"`
	OrderID   uint64                  `json:"order_id,omitempty"`
	Order     *pool.CreateOrderParams `json:"order,omitempty"`
}

// Command types.
const (
	CmdCreateOrder = "create_order"
	CmdTakeOrder   = "take_order"
	CmdDeliver     = "deliver"
	CmdSettle      = "settle"
)

// CommandResponse is the reply sent back to the requester.
type CommandResponse struct {
	Success bool          `json:"success"`
	Error   string        `json:"error,omitempty"`
	Order   *domain.Order `json:"order,omitempty"`
}

// NATSClient wraps the NATS connection for command and event traffic.
type NATSClient struct {
	conn *nats.Conn
	sub  *nats.Subscription
}

// NewNATSClient connects to the broker with reconnect handling.
func NewNATSClient(url string) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name("forward-settlement"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				telemetry.Logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			telemetry.Logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSClient{conn: conn}, nil
}

// GetConn returns the underlying NATS connection.
func (c *NATSClient) GetConn() *nats.Conn {
	return c.conn
}

// PublishEvent implements engine.Publisher: committed events go out as
// sequence-stamped envelopes.
func (c *NATSClient) PublishEvent(event domain.Event, seq uint64) error {
	data, err := domain.SerializeEvent(event, seq)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	if err := c.conn.Publish(EventSubject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	telemetry.NATSMessagesPublished.WithLabelValues(EventSubject).Inc()
	return nil
}

// PublishCommand sends a command and waits for the engine's reply.
func (c *NATSClient) PublishCommand(cmd Command, timeout time.Duration) (*CommandResponse, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}

	msg, err := c.conn.Request(CommandSubject, data, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to publish command: %w", err)
	}

	var resp CommandResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &resp, nil
}

// StartCommandConsumer subscribes the engine to the command subject.
func (c *NATSClient) StartCommandConsumer(e *engine.SettlementEngine) error {
	sub, err := c.conn.Subscribe(CommandSubject, func(msg *nats.Msg) {
		c.handleCommand(e, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to commands: %w", err)
	}
	c.sub = sub
	telemetry.Logger.Info("command consumer started", "subject", CommandSubject)
	return nil
}

func (c *NATSClient) handleCommand(e *engine.SettlementEngine, msg *nats.Msg) {
	telemetry.NATSMessagesReceived.WithLabelValues(CommandSubject).Inc()

	var cmd Command
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		respond(msg, CommandResponse{Error: "invalid command format"})
		return
	}

	ctx := context.Background()
	resp := CommandResponse{Success: true}
	switch cmd.Type {
	case CmdCreateOrder:
		if cmd.Order == nil {
			resp = CommandResponse{Error: "missing order payload"}
			break
		}
		order, err := e.CreateOrder(ctx, cmd.CommandID, cmd.PoolID, *cmd.Order)
		if err != nil {
			resp = CommandResponse{Error: err.Error()}
		} else {
			resp.Order = &order
		}
	case CmdTakeOrder:
		if err := e.TakeOrder(ctx, cmd.CommandID, cmd.PoolID, cmd.Account, cmd.OrderID); err != nil {
			resp = CommandResponse{Error: err.Error()}
		}
	case CmdDeliver:
		if err := e.Deliver(ctx, cmd.CommandID, cmd.PoolID, cmd.Account, cmd.OrderID); err != nil {
			resp = CommandResponse{Error: err.Error()}
		}
	case CmdSettle:
		if err := e.Settle(ctx, cmd.CommandID, cmd.PoolID, cmd.OrderID); err != nil {
			resp = CommandResponse{Error: err.Error()}
		}
	default:
		resp = CommandResponse{Error: fmt.Sprintf("unknown command type: %s", cmd.Type)}
	}

	respond(msg, resp)
}

func respond(msg *nats.Msg, resp CommandResponse) {
	if msg.Reply == "" {
		return
	}
	data, _ := json.Marshal(resp)
	msg.Respond(data)
}

// Close drains and closes the connection.
func (c *NATSClient) Close() {
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
	if c.conn != nil {
		c.conn.Drain()
		c.conn.Close()
	}
}
