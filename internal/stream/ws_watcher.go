package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/helion-systems/helion/internal/domain"
)

// WSWatcher is a Watcher backed by a JSON kline push feed over
// nhooyr.io/websocket, grounded directly on the teacher's
// MarketStatusWebSocket dial/subscribe/read-loop shape: one Dial per
// WatchOHLCV call, a subscribe frame naming the channel, then a read loop
// that decodes each text frame into a candle and forwards it on a
// channel until the connection closes or the context is canceled.
type WSWatcher struct {
	baseURL string
	log     zerolog.Logger
}

// NewWSWatcher builds a WSWatcher dialing baseURL for every subscription
// (e.g. "wss://stream.example.com/ws").
func NewWSWatcher(baseURL string, log zerolog.Logger) *WSWatcher {
	return &WSWatcher{baseURL: baseURL, log: log.With().Str("component", "ws_watcher").Logger()}
}

// klineFrame is the wire shape this watcher expects: a 2-element JSON
// array of [channel, candle].
type klineFrame struct {
	Channel string
	Candle  wireCandle
}

type wireCandle struct {
	OpenTimeMS int64   `json:"t"`
	Open       float64 `json:"o"`
	High       float64 `json:"h"`
	Low        float64 `json:"l"`
	Close      float64 `json:"c"`
	Volume     float64 `json:"v"`
}

func (f *klineFrame) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 2 {
		return fmt.Errorf("stream: kline frame too short")
	}
	if err := json.Unmarshal(raw[0], &f.Channel); err != nil {
		return err
	}
	return json.Unmarshal(raw[1], &f.Candle)
}

// WatchOHLCV dials baseURL, sends a subscribe frame for (symbol,
// timeframe), and returns a channel fed by the read loop. The channel is
// closed when the connection ends for any reason; the caller (stream.run)
// treats that as "reconnect".
func (w *WSWatcher) WatchOHLCV(ctx context.Context, symbol, timeframe string) (<-chan domain.Candle, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, w.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("stream: dial failed: %w", err)
	}

	channel := fmt.Sprintf("kline_%s_%s", symbol, timeframe)
	sub := []string{"subscribe", channel}
	data, err := json.Marshal(sub)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "marshal failed")
		return nil, err
	}
	writeCtx, writeCancel := context.WithTimeout(ctx, 10*time.Second)
	defer writeCancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return nil, fmt.Errorf("stream: subscribe failed: %w", err)
	}

	out := make(chan domain.Candle, 16)
	go w.readLoop(ctx, conn, channel, out)
	return out, nil
}

func (w *WSWatcher) readLoop(ctx context.Context, conn *websocket.Conn, wantChannel string, out chan<- domain.Candle) {
	defer close(out)
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		msgType, message, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.log.Debug().Err(err).Msg("read loop ended")
			}
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var frame klineFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			w.log.Debug().Err(err).Msg("failed to parse frame, skipping")
			continue
		}
		if frame.Channel != wantChannel {
			continue
		}

		candle := domain.Candle{
			OpenTime: time.UnixMilli(frame.Candle.OpenTimeMS),
			Open:     frame.Candle.Open,
			High:     frame.Candle.High,
			Low:      frame.Candle.Low,
			Close:    frame.Candle.Close,
			Volume:   frame.Candle.Volume,
		}
		select {
		case out <- candle:
		case <-ctx.Done():
			return
		}
	}
}
