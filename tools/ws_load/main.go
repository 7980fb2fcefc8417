// Command ws_load opens many dashboard WebSocket connections and counts the frames they receive.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	Type string `json:"type"`
}

type counters struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	status      atomic.Int64
	pairs       atomic.Int64
	logs        atomic.Int64
}

func (c *counters) String() string {
	return fmt.Sprintf("connected=%d connect_errs=%d stream_errs=%d status=%d pairs=%d logs=%d",
		c.connected.Load(), c.connectErrs.Load(), c.streamErrs.Load(),
		c.status.Load(), c.pairs.Load(), c.logs.Load())
}

func main() {
	var (
		targetURL    string
		connections  int
		testDuration time.Duration
		rampUp       time.Duration
	)

	flag.StringVar(&targetURL, "url", "ws://localhost:3000/ws", "dashboard WebSocket URL")
	flag.IntVar(&connections, "conns", 200, "number of concurrent connections to open")
	flag.DurationVar(&testDuration, "dur", 60*time.Second, "test duration (0 for until interrupted)")
	flag.DurationVar(&rampUp, "ramp", 0, "ramp-up duration (spread connection starts across this window)")
	flag.Parse()

	if connections <= 0 {
		log.Fatalf("invalid conns: %d", connections)
	}

	if rampUp == 0 && connections > 100 {
		// default ramp-up: 1 second per 500 connections
		rampUp = time.Duration(connections/500) * time.Second
		if rampUp < time.Second {
			rampUp = time.Second
		}
		log.Printf("No ramp-up specified for high connection count. Using default ramp-up: %s", rampUp)
	}

	log.Printf("starting ws load: url=%s conns=%d duration=%s ramp=%s", targetURL, connections, testDuration, rampUp)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if testDuration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, testDuration)
		defer stop()
	}

	dialer := &websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	var (
		c  counters
		wg sync.WaitGroup
	)
	start := time.Now()

	var interval time.Duration
	if rampUp > 0 {
		interval = rampUp / time.Duration(connections)
	}

	for i := 0; i < connections && ctx.Err() == nil; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx, dialer, targetURL, &c)
		}()
	}

	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Printf("status: %s elapsed=%s", &c, time.Since(start).Truncate(time.Second))
			}
		}
	}()

	wg.Wait()

	elapsed := time.Since(start)
	if elapsed == 0 {
		elapsed = time.Millisecond
	}
	total := c.status.Load() + c.pairs.Load() + c.logs.Load()

	fmt.Printf("done: %s elapsed=%s frames/s=%.2f\n", &c, elapsed.Truncate(time.Millisecond), float64(total)/elapsed.Seconds())
}

func run(ctx context.Context, dialer *websocket.Dialer, url string, c *counters) {
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	defer conn.Close()
	c.connected.Add(1)

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.streamErrs.Add(1)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.streamErrs.Add(1)
			continue
		}
		switch f.Type {
		case "status":
			c.status.Add(1)
		case "pairs-update":
			c.pairs.Add(1)
		case "log":
			c.logs.Add(1)
		}
	}
}
