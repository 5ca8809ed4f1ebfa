package ws

import (
	"context"
	"errors"
	"sync"

	"sangam/internal/metrics"
	"sangam/internal/models"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	// ErrClientDisconnect ends a connection after an explicit disconnect event.
	ErrClientDisconnect = errors.New("client disconnected")

	errEvicted = errors.New("connection evicted")
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type eventHub interface {
	Register(connID string) <-chan models.ServerEvent
	Remove(connID string)
}

type eventDispatcher interface {
	Dispatch(ctx context.Context, connID string, env models.ClientEnvelope) error
	Disconnect(connID string)
}

type Connection struct {
	ws         wsConnection
	hub        eventHub
	dispatcher eventDispatcher
	id         string
	limiter    *rate.Limiter
	fromClient chan models.ClientEnvelope
	fromServer <-chan models.ServerEvent
	errorCh    chan error
}

func NewConnection(
	hub eventHub,
	dispatcher eventDispatcher,
	ws wsConnection,
	connID string,
	limiter *rate.Limiter,
) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		dispatcher: dispatcher,
		id:         connID,
		limiter:    limiter,
		fromClient: make(chan models.ClientEnvelope),
		fromServer: hub.Register(connID),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) ID() string {
	return c.id
}

// Handle runs the connection until the client goes away, the hub evicts it
// or ctx is cancelled. Inbound events are processed one at a time in arrival
// order.
func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.dispatcher.Disconnect(c.id)
		c.hub.Remove(c.id)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) &&
		!errors.Is(err, ErrClientDisconnect) && !errors.Is(err, errEvicted) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var env models.ClientEnvelope
		if err := c.ws.ReadJSON(&env); err != nil {
			return err
		}
		select {
		case c.fromClient <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case env := <-c.fromClient:
			if err := c.processClientEvent(ctx, env); err != nil {
				return err
			}
		case ev, ok := <-c.fromServer:
			if !ok {
				return errEvicted
			}
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) processClientEvent(ctx context.Context, env models.ClientEnvelope) error {
	if c.limiter != nil && !c.limiter.Allow() {
		metrics.RateLimited.Inc()
		log.Debug().Str("conn_id", c.id).Str("event", string(env.Event)).Msg("event rate limited")
		return c.ws.WriteJSON(models.ServerEvent{
			Event: models.ServerEventError,
			Data:  models.ErrorMessage{Message: "rate limit exceeded"},
		})
	}

	return c.dispatcher.Dispatch(ctx, c.id, env)
}
