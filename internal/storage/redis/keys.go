package redis

import (
	"fmt"

	"github.com/mcoot/secretgame/internal/model"
)

// Key prefix for all game-related data
const keyPrefix = "secretgame"

// playerKey returns the Redis key for a Player hash
func playerKey(id model.PlayerID) string {
	return fmt.Sprintf("%s:player:%s", keyPrefix, id)
}

// playersIndexKey returns the Redis key for the ZSET of player ids scored by creation time
func playersIndexKey() string {
	return fmt.Sprintf("%s:idx:players", keyPrefix)
}

// registeredPlayerKey returns the Redis key for a RegisteredPlayer
func registeredPlayerKey(playerID model.PlayerID) string {
	return fmt.Sprintf("%s:registered_player:%s", keyPrefix, playerID)
}

// usernameIndexKey returns the Redis key for the username -> player_id index
func usernameIndexKey(username string) string {
	return fmt.Sprintf("%s:idx:username:%s", keyPrefix, username)
}

// secretPoolKey returns the Redis key for the LIST of extra secrets
func secretPoolKey() string {
	return fmt.Sprintf("%s:secrets:all", keyPrefix)
}

// revealIntentsKey returns the Redis key for the HASH of pending reveal intents
func revealIntentsKey() string {
	return fmt.Sprintf("%s:reveal_intents", keyPrefix)
}

// playerChangesChannel is the pub/sub channel player changes are published on
func playerChangesChannel() string {
	return fmt.Sprintf("%s:player_changes", keyPrefix)
}
