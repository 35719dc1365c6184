//go:build ignore

// test_publish имитирует нативный виджет карты: публикует attach и viewport
// в stream:geoview:viewport и ждёт маркеры в stream:geoview:markers.
//
//	go run scripts/test_publish.go -redis localhost:6379
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/geoview-microservice/internal/domain"
)

func main() {
	redisAddr := flag.String("redis", "localhost:6379", "Redis address for streams")
	lat := flag.Float64("lat", 40.7128, "viewport center latitude")
	lng := flag.Float64("lng", -74.0060, "viewport center longitude")
	delta := flag.Float64("delta", 0.05, "viewport latitude/longitude delta")
	wait := flag.Duration("wait", 30*time.Second, "how long to wait for markers")
	flag.Parse()

	client := redis.NewClient(&redis.Options{Addr: *redisAddr})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}

	// читаем обновления начиная с текущего конца стрима
	lastID := "$"
	clientID := "test-" + uuid.NewString()
	region := domain.Region{
		Center:         domain.LatLng{Lat: *lat, Lng: *lng},
		LatitudeDelta:  *delta,
		LongitudeDelta: *delta,
	}

	for _, evt := range []domain.ViewportEvent{
		{ClientID: clientID, Type: domain.ViewportEventAttach},
		{ClientID: clientID, Type: domain.ViewportEventViewport, Region: &region, Size: domain.ScreenSize{Width: 390, Height: 844}},
	} {
		data, err := json.Marshal(evt)
		if err != nil {
			log.Fatalf("Failed to marshal event: %v", err)
		}
		id, err := client.XAdd(ctx, &redis.XAddArgs{
			Stream: domain.StreamViewportEvents,
			Values: map[string]interface{}{"data": string(data)},
		}).Result()
		if err != nil {
			log.Fatalf("Failed to publish event: %v", err)
		}
		fmt.Printf("published %-8s %s\n", evt.Type, id)
	}

	fmt.Printf("waiting for markers for %s in %s...\n", clientID, domain.StreamMarkerUpdates)

	deadline := time.Now().Add(*wait)
	for time.Now().Before(deadline) {
		results, err := client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{domain.StreamMarkerUpdates, lastID},
			Count:   50,
			Block:   time.Second,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			log.Fatalf("Failed to read updates: %v", err)
		}

		for _, stream := range results {
			for _, msg := range stream.Messages {
				lastID = msg.ID

				data, _ := msg.Values["data"].(string)
				var update domain.MarkerUpdateEvent
				if err := json.Unmarshal([]byte(data), &update); err != nil || update.ClientID != clientID {
					continue
				}

				pretty, _ := json.MarshalIndent(update, "", "  ")
				fmt.Printf("%s\n", pretty)

				if update.Type == domain.MarkerUpdateMarkers || update.Type == domain.MarkerUpdateError {
					detach, _ := json.Marshal(domain.ViewportEvent{ClientID: clientID, Type: domain.ViewportEventDetach})
					client.XAdd(ctx, &redis.XAddArgs{
						Stream: domain.StreamViewportEvents,
						Values: map[string]interface{}{"data": string(detach)},
					})
					return
				}
			}
		}
	}

	log.Fatalf("Timeout waiting for markers")
}
