package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mcoot/secretgame/internal/api/response"
	"github.com/mcoot/secretgame/internal/model"
)

// EventPlayers is the event name carrying a public player snapshot
const EventPlayers = "players"

// Subscriber is the player store's live subscription
type Subscriber interface {
	Subscribe(ctx context.Context, onChange func(model.Snapshot)) (func(), error)
}

// Broadcaster owns the store's single subscription and republishes each
// snapshot to the hub with unrevealed secrets removed
type Broadcaster struct {
	players Subscriber
	hub     *Hub
	logger  *slog.Logger
}

// NewBroadcaster creates a new Broadcaster
func NewBroadcaster(players Subscriber, hub *Hub, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		players: players,
		hub:     hub,
		logger:  logger.With(slog.String("component", "feed-broadcaster")),
	}
}

// Start subscribes to the store. The returned function stops the feed.
func (b *Broadcaster) Start(ctx context.Context) (func(), error) {
	return b.players.Subscribe(ctx, b.publish)
}

func (b *Broadcaster) publish(snapshot model.Snapshot) {
	data, err := json.Marshal(response.SnapshotFromModel(snapshot))
	if err != nil {
		b.logger.Error("feed failed to encode snapshot", slog.String("error", err.Error()))
		return
	}
	b.hub.Broadcast(Event{Name: EventPlayers, Data: data})
}
