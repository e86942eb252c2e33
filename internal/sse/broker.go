package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/openclaw/consult-session-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	RoomToken string
	Events    chan Event
	Done      chan struct{}
}

// Broker fans room-scoped session events out through Redis pub/sub so every
// server instance can deliver them to its own connected participants.
type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // roomToken -> set of clients
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(roomToken string) *Client {
	client := &Client{
		RoomToken: roomToken,
		Events:    make(chan Event, 100),
		Done:      make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[roomToken] == nil {
		b.clients[roomToken] = make(map[*Client]bool)
		ready := make(chan struct{})
		go b.subscribeToRedis(roomToken, ready)
		<-ready
	}
	b.clients[roomToken][client] = true
	clientCount := len(b.clients[roomToken])
	b.mu.Unlock()

	log.Info().
		Str("roomToken", roomToken).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.RoomToken]; ok {
		if _, present := clients[client]; !present {
			return
		}
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(b.clients, client.RoomToken)
		}

		log.Info().
			Str("roomToken", client.RoomToken).
			Int("clientCount", len(clients)).
			Msg("sse client unsubscribed")
	}
}

func (b *Broker) Publish(ctx context.Context, roomToken string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.RoomChannel(roomToken)
	return b.redis.Publish(ctx, channel, data).Err()
}

func (b *Broker) subscribeToRedis(roomToken string, ready chan<- struct{}) {
	channel := redisclient.RoomChannel(roomToken)
	pubsub := b.redis.Subscribe(b.ctx, channel)
	defer pubsub.Close()

	// Wait for the subscription confirmation so events published right after
	// Subscribe returns are not lost.
	if _, err := pubsub.Receive(b.ctx); err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("redis pubsub subscribe failed")
	}
	close(ready)

	log.Debug().
		Str("roomToken", roomToken).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(roomToken, event)
		}
	}
}

func (b *Broker) broadcast(roomToken string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients[roomToken] {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("roomToken", roomToken).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
}

func (b *Broker) ClientCount(roomToken string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[roomToken])
}
