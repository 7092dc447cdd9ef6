package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/user/reader-relay/internal/domain"
	"github.com/user/reader-relay/internal/transport/ws"
)

func main() {
	targetURL := flag.String("url", "ws://localhost:8080/ws", "Target websocket URL")
	secret := flag.String("secret", "supersecretkey", "JWT signing secret, must match the server")
	concurrency := flag.Int("c", 10, "Number of concurrent reader sessions")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	eps := flag.Int("eps", 1000, "Events per second limit across all sessions")
	flag.Parse()

	log.Printf("Starting load test on %s", *targetURL)
	log.Printf("Sessions: %d, Duration: %s, EPS: %d", *concurrency, *duration, *eps)

	var wg sync.WaitGroup
	var successCount, errorCount atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*eps), 100) // Allow bursts up to 100

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			identity := domain.Identity{
				UserID: fmt.Sprintf("load-reader-%d", workerID),
				Email:  fmt.Sprintf("load-reader-%d@example.com", workerID),
				Role:   domain.RoleReader,
			}
			token, err := ws.GenerateToken(identity, *secret, *duration+time.Minute)
			if err != nil {
				log.Printf("worker %d: failed to generate token: %v", workerID, err)
				return
			}

			conn, _, err := websocket.Dial(ctx, *targetURL+"?token="+token, nil)
			if err != nil {
				log.Printf("worker %d: failed to connect: %v", workerID, err)
				errorCount.Add(1)
				return
			}
			defer conn.Close(websocket.StatusNormalClosure, "")

			// Drain server replies so the connection is not backpressured.
			go func() {
				for {
					if _, _, err := conn.Read(ctx); err != nil {
						return
					}
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return
				default:
					if err := limiter.Wait(ctx); err != nil {
						return
					}

					payload := fmt.Sprintf(`{"page": %d, "book_id": "%s"}`, workerID, uuid.NewString())
					frame, err := ws.NewEnvelope(ws.MsgReaderEvent, ws.ReaderEventRequest{
						EventType: string(domain.EventPageSync),
						Data:      []byte(payload),
					})
					if err != nil {
						continue // Should not happen
					}

					if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
						errorCount.Add(1)
						return
					}
					successCount.Add(1)
				}
			}
		}(i)
	}

	wg.Wait()

	totalEvents := successCount.Load() + errorCount.Load()
	actualEPS := float64(totalEvents) / duration.Seconds()

	log.Println("Load test finished.")
	log.Printf("Total Events: %d", totalEvents)
	log.Printf("Sent: %d", successCount.Load())
	log.Printf("Errors: %d", errorCount.Load())
	log.Printf("Actual EPS: %.2f", actualEPS)
}
