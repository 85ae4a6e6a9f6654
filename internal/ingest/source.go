package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	yerrors "github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"riskguard/internal/obs"
	"riskguard/internal/schema"
	"riskguard/pkg/exception"
)

const (
	DefaultBinanceURL = "wss://stream.binance.com:9443/ws"

	backpressureLogEvery = 1000
)

// Publisher accepts ticks, normally the feed adapter.
type Publisher interface {
	Publish(ctx context.Context, tick schema.PriceTick) error
}

// Source streams Binance prices into a Publisher.
type Source struct {
	wss       *ws.WebSocket
	stream    Stream
	publisher Publisher
	metrics   *obs.Metrics

	reqID        atomic.Int64
	backpressure atomic.Uint64
}

// NewSource creates a source for url. An empty url uses the public Binance
// endpoint.
func NewSource(ctx context.Context, url string, stream Stream, publisher Publisher, metrics *obs.Metrics) (*Source, error) {
	if publisher == nil {
		return nil, exception.ErrNilInstance
	}
	stream, err := ParseStream(string(stream))
	if err != nil {
		return nil, err
	}
	if url == "" {
		url = DefaultBinanceURL
	}
	return &Source{
		wss:       ws.New(ctx, url),
		stream:    stream,
		publisher: publisher,
		metrics:   metrics,
	}, nil
}

// ParseStream validates a stream name. Empty means the trade stream.
func ParseStream(name string) (Stream, error) {
	switch Stream(name) {
	case StreamTrade, "":
		return StreamTrade, nil
	case StreamTicker:
		return StreamTicker, nil
	default:
		return "", fmt.Errorf("%w: unknown ingest stream %q", exception.ErrConfig, name)
	}
}

func (s *Source) Start(ctx context.Context) error {
	if err := s.wss.Start(ctx); err != nil {
		return yerrors.Wrap(err, "start wss")
	}
	return nil
}

func (s *Source) Close() {
	s.wss.Close()
}

// Subscribe subscribes every symbol to the configured stream and waits for
// the acknowledgement.
func (s *Source) Subscribe(ctx context.Context, symbols []schema.Symbol) error {
	if len(symbols) == 0 {
		return fmt.Errorf("%w: no symbols to subscribe", exception.ErrInvalidArgument)
	}
	params := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		params = append(params, streamName(symbol, s.stream))
	}
	id := s.reqID.Add(1)

	appendIntoRegister := true
	if err := s.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, ws *ws.WebSocket) error {
			payload := BinanceSubscribeRequest{Method: "SUBSCRIBE", Params: params, ID: id}
			if err := ws.WriteJSON(payload); err != nil {
				return yerrors.Wrap(err, "write subscribe payload").With("payload", payload)
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			var resp BinanceSubscribeResponse
			if err := m.Unmarshal(&resp); err != nil || resp.ID != id {
				return false, nil
			}
			if resp.Result != nil {
				return false, yerrors.Errorf("subscribe and wait, err: %+v", resp.Result)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return yerrors.Wrap(err, "send and wait")
	}

	logs.Infof("subscribed %d symbols to binance %s stream", len(symbols), s.stream)
	return nil
}

// Observe publishes every received price until ctx is done or the process
// shuts down.
func (s *Source) Observe(ctx context.Context) (unsubscribe func()) {
	ch, cancel := s.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				event, ok := ws.ReadMessage[BinanceEvent](m)
				if !ok {
					continue
				}
				var tick schema.PriceTick
				switch event.EventType {
				case eventTrade:
					trade, ok := ws.ReadMessage[BinanceTrade](m)
					if !ok {
						continue
					}
					tick, ok = s.accept(trade.Tick())
					if !ok {
						continue
					}
				case eventTicker:
					ticker, ok := ws.ReadMessage[BinanceTicker](m)
					if !ok {
						continue
					}
					tick, ok = s.accept(ticker.Tick())
					if !ok {
						continue
					}
				default:
					continue
				}
				s.handle(ctx, tick)
			}
		}
	}()

	return cancel
}

func (s *Source) accept(tick schema.PriceTick, ok bool) (schema.PriceTick, bool) {
	if !ok {
		s.metrics.IncIngestRejected()
	}
	return tick, ok
}

func (s *Source) handle(ctx context.Context, tick schema.PriceTick) {
	err := s.publisher.Publish(ctx, tick)
	switch {
	case err == nil:
	case errors.Is(err, exception.ErrBackpressure):
		if n := s.backpressure.Add(1); n == 1 || n%backpressureLogEvery == 0 {
			logs.Infof("feed backpressure, dropped %d ticks so far, last symbol %s", n, tick.Symbol)
		}
	case errors.Is(err, exception.ErrInvalidTick):
		s.metrics.IncIngestRejected()
	case errors.Is(err, exception.ErrFeedClosed), ctx.Err() != nil:
	default:
		logs.Errorf("publish tick %s, err: %+v", tick.Symbol, err)
	}
}

// Dropped returns the number of ticks lost to backpressure.
func (s *Source) Dropped() uint64 {
	return s.backpressure.Load()
}

func streamName(symbol schema.Symbol, stream Stream) string {
	return fmt.Sprintf("%s@%s", strings.ToLower(symbol.String()), stream)
}
