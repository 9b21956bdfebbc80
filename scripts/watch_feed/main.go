package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"petshop-provenance-ledger/internal/adapters/primary/httpapi"

	"github.com/gorilla/websocket"
)

// Tails the ledger's live record feed and prints every appended block
func main() {
	host := os.Getenv("LEDGER_HOST")
	if host == "" {
		host = "localhost:8080"
	}
	basePath := os.Getenv("HTTP_BASE_PATH")
	if basePath == "" {
		basePath = "/api/petshop/blockchain"
	}
	feedURL := url.URL{Scheme: "ws", Host: host, Path: basePath + "/ws"}

	fmt.Printf("Watching ledger feed at %s\n", feedURL.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nReceived shutdown signal")
		cancel()
	}()

	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, feedURL.String(), nil)
	if err != nil {
		log.Fatalf("Failed to connect to ledger feed: %v", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	received := 0
	startTime := time.Now()
	for {
		var msg httpapi.FeedMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Feed closed: %v", err)
			}
			break
		}
		if msg.Type != httpapi.MessageTypeBlockAppended || msg.Data == nil {
			continue
		}

		received++
		record := msg.Data
		fmt.Printf("#%-6d %s %-24s pet=%-12s nonce=%-8d hash=%s\n",
			record.Index,
			record.Timestamp.Format(time.RFC3339),
			record.EventType,
			record.PetCode,
			record.Nonce,
			record.Hash)
	}

	fmt.Printf("Received %d blocks in %v\n", received, time.Since(startTime).Round(time.Second))
}
