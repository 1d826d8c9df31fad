// Worker consumes mirrored device events from Kafka and logs them.
// Set KAFKA_BROKERS, EVENTS_KAFKA_TOPIC, and KAFKA_GROUP_ID.
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"mowerhub/backend/internal/config"
	"mowerhub/backend/internal/eventbus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	brokers := cfg.EventsKafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("worker: KAFKA_BROKERS is required")
	}

	topic := cfg.EventsKafkaTopic
	if topic == "" {
		topic = "mowerhub-events"
	}
	groupID := cfg.KafkaGroupID
	if groupID == "" {
		groupID = "mowerhub-events-worker"
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("worker: shutting down...")
		cancel()
	}()

	log.Printf("worker: consuming from %s (group %s)", topic, groupID)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("worker: stopped")
				return
			}
			log.Printf("worker: kafka read error: %v", err)
			continue
		}

		var e eventbus.Event
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			log.Printf("worker: malformed event at offset %d: %v", msg.Offset, err)
			continue
		}
		log.Printf("worker: %s device=%s dropped=%d", e.Type, e.DeviceID, e.Dropped)
	}
}
