package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// TickerStream keeps a live top-of-book cache from the combined bookTicker
// websocket stream. FetchTickers overlays its quotes on the REST snapshot so
// the detection loop sees fresher prices between polls.
type TickerStream struct {
	wsURL string

	mu    sync.RWMutex
	books map[string]topOfBook // symbol -> latest quote
}

type topOfBook struct {
	bid float64
	ask float64
}

func NewTickerStream(wsURL string) *TickerStream {
	return &TickerStream{
		wsURL: strings.TrimSpace(wsURL),
		books: make(map[string]topOfBook),
	}
}

// TopOfBook returns the latest streamed bid/ask for a symbol, if any.
func (s *TickerStream) TopOfBook(symbol string) (bid, ask float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[strings.ToUpper(symbol)]
	if !ok || b.bid <= 0 || b.ask <= 0 {
		return 0, 0, false
	}
	return b.bid, b.ask, true
}

type bookTickerCombined struct {
	Data bookTickerMsg `json:"data"`
}

type bookTickerMsg struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
}

// Run dials the stream and keeps it alive with exponential backoff until the
// context is cancelled. Meant to run in its own goroutine.
func (s *TickerStream) Run(ctx context.Context, symbols []string) error {
	wsURL, err := buildCombinedURL(s.wsURL, symbols)
	if err != nil {
		return err
	}

	backoff := 500 * time.Millisecond
	maxBackoff := 10 * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, _, err := websocket.DefaultDialer.DialContext(cctx, wsURL, nil)
		cancel()
		if err != nil {
			log.Error().Str("venue", VenueName).Err(err).Msg("ws dial failed")
			time.Sleep(backoff)
			backoff = minDur(backoff*2, maxBackoff)
			continue
		}

		backoff = 500 * time.Millisecond
		log.Info().Str("venue", VenueName).Msg("ws connected")

		err = readLoop(ctx, conn, func(b []byte) {
			var msg bookTickerCombined
			if e := json.Unmarshal(b, &msg); e != nil {
				log.Error().Str("venue", VenueName).Err(e).Msg("ws decode failed")
				return
			}
			sym := strings.ToUpper(msg.Data.Symbol)
			if sym == "" {
				return
			}
			s.mu.Lock()
			s.books[sym] = topOfBook{
				bid: parseFloat(msg.Data.Bid),
				ask: parseFloat(msg.Data.Ask),
			}
			s.mu.Unlock()
		})

		_ = conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Warn().Str("venue", VenueName).Err(err).Msg("ws disconnected, reconnecting")
		time.Sleep(backoff)
		backoff = minDur(backoff*2, maxBackoff)
	}
}

func buildCombinedURL(base string, symbols []string) (string, error) {
	if base == "" {
		return "", errors.New("binance ws url empty")
	}
	streams := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToLower(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		streams = append(streams, fmt.Sprintf("%s@bookTicker", sym))
	}
	if len(streams) == 0 {
		return "", errors.New("no symbols to stream")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = "/stream"
	u.RawQuery = "streams=" + strings.Join(streams, "/")
	return u.String(), nil
}

func readLoop(ctx context.Context, conn *websocket.Conn, onMsg func([]byte)) error {
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(25 * time.Second)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			onMsg(b)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		}
	}
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
