// Command loadtest drives estimation rounds against a running pokersync server.
//
// Every client joins one room. Each round all clients select a card, the first
// client reveals, and the reveal fan-out latency is measured on every
// connection before the board is reset for the next round.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	flag "github.com/spf13/pflag"
)

var cards = []string{"1", "2", "3", "5", "8", "13"}

type estimator struct {
	id       int
	conn     *websocket.Conn
	revealed chan time.Time
	joined   chan struct{}
	mu       sync.Mutex
}

func (e *estimator) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn.WriteMessage(websocket.TextMessage, data)
}

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	clients := flag.IntP("clients", "c", 10, "Number of concurrent estimators")
	room := flag.String("room", "loadtest", "Room to join")
	rounds := flag.IntP("rounds", "n", 10, "Estimation rounds to play")
	timeout := flag.Duration("timeout", 5*time.Second, "How long to wait for a reveal to reach every client")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	log.Info("load test starting",
		slog.Int("clients", *clients),
		slog.Int("rounds", *rounds),
		slog.String("room", *room),
	)

	var (
		received  int64
		sent      int64
		failures  int64
		latencies []time.Duration
	)

	start := time.Now()
	estimators := make([]*estimator, 0, *clients)
	for i := 0; i < *clients; i++ {
		participant := fmt.Sprintf("estimator_%d", i)
		conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s?user=%s", *url, participant), nil)
		if err != nil {
			atomic.AddInt64(&failures, 1)
			log.Error("dial failed", slog.Int("client", i), slog.String("error", err.Error()))
			continue
		}
		e := &estimator{
			id:       i,
			conn:     conn,
			revealed: make(chan time.Time, *rounds),
			joined:   make(chan struct{}),
		}
		go e.read(&received)
		estimators = append(estimators, e)
	}
	defer func() {
		for _, e := range estimators {
			e.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			e.conn.Close()
		}
	}()
	if len(estimators) == 0 {
		log.Error("no client connected")
		os.Exit(1)
	}

	for _, e := range estimators {
		if err := e.send(map[string]string{"type": "join-room", "roomId": *room}); err != nil {
			atomic.AddInt64(&failures, 1)
			continue
		}
		atomic.AddInt64(&sent, 1)
		select {
		case <-e.joined:
		case <-time.After(*timeout):
			atomic.AddInt64(&failures, 1)
			log.Warn("join not acknowledged", slog.Int("client", e.id))
		}
	}

	moderator := estimators[0]
	for round := 0; round < *rounds; round++ {
		var wg sync.WaitGroup
		for _, e := range estimators {
			wg.Add(1)
			go func(e *estimator) {
				defer wg.Done()
				card := cards[(e.id+round)%len(cards)]
				if err := e.send(map[string]string{"type": "select-card", "roomId": *room, "cardValue": card}); err != nil {
					atomic.AddInt64(&failures, 1)
					return
				}
				atomic.AddInt64(&sent, 1)
			}(e)
		}
		wg.Wait()

		revealAt := time.Now()
		if err := moderator.send(map[string]string{"type": "reveal-cards", "roomId": *room}); err != nil {
			log.Error("reveal failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		atomic.AddInt64(&sent, 1)

		deadline := time.After(*timeout)
		for _, e := range estimators {
			select {
			case at := <-e.revealed:
				latencies = append(latencies, at.Sub(revealAt))
			case <-deadline:
				atomic.AddInt64(&failures, 1)
			}
		}

		if err := moderator.send(map[string]string{"type": "reset-all-cards", "roomId": *room}); err != nil {
			atomic.AddInt64(&failures, 1)
		}
		atomic.AddInt64(&sent, 1)
	}

	elapsed := time.Since(start)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	fmt.Println("\n=== Load Test Results ===")
	fmt.Printf("Duration:    %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Clients:     %d connected\n", len(estimators))
	fmt.Printf("Rounds:      %d\n", *rounds)
	fmt.Printf("Sent:        %d events\n", atomic.LoadInt64(&sent))
	fmt.Printf("Received:    %d events\n", atomic.LoadInt64(&received))
	fmt.Printf("Failures:    %d\n", atomic.LoadInt64(&failures))
	if len(latencies) > 0 {
		fmt.Printf("Reveal p50:  %s\n", percentile(latencies, 50))
		fmt.Printf("Reveal p95:  %s\n", percentile(latencies, 95))
		fmt.Printf("Reveal p99:  %s\n", percentile(latencies, 99))
	}
	fmt.Printf("Throughput:  %.0f events/sec\n", float64(atomic.LoadInt64(&received))/elapsed.Seconds())
}

// read counts every inbound event and reports join acknowledgements and
// reveals to the driver loop.
func (e *estimator) read(received *int64) {
	var once sync.Once
	for {
		_, data, err := e.conn.ReadMessage()
		if err != nil {
			return
		}
		atomic.AddInt64(received, 1)

		var msg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		switch msg.Type {
		case "membership-changed":
			once.Do(func() { close(e.joined) })
		case "cards-revealed":
			select {
			case e.revealed <- time.Now():
			default:
			}
		}
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
