package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// CountdownKey holds the live seconds-remaining counter of an active session.
func CountdownKey(sessionID string) string {
	return fmt.Sprintf("session:countdown:%s", sessionID)
}

// PausedKey holds the remaining-seconds snapshot taken when a session paused.
func PausedKey(sessionID string) string {
	return fmt.Sprintf("session:paused:%s", sessionID)
}

// TickLeaseKey guards one timer tick of a session across worker processes.
func TickLeaseKey(sessionID string) string {
	return fmt.Sprintf("session:tick-lease:%s", sessionID)
}

// RoomChannel is the pub/sub channel carrying lifecycle events for a room.
func RoomChannel(roomToken string) string {
	return fmt.Sprintf("room:%s", roomToken)
}
