package model

import (
	"sort"
	"time"
)

// ChangeKind identifies what happened to a player record
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
)

// PlayerChange is a single backing-store change delivered by a watch feed
type PlayerChange struct {
	Kind   ChangeKind
	Player *Player
}

// Snapshot is a point-in-time view of all player records
type Snapshot struct {
	// Players is ordered by creation time
	Players []*Player
	// Changed is the record that triggered this snapshot (nil for the initial one)
	Changed *Player
	At      time.Time
}

// Find returns the player with the given id, if present
func (s Snapshot) Find(id PlayerID) (*Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// SortByCreation orders players by creation time, then id
func SortByCreation(players []*Player) {
	sort.SliceStable(players, func(i, j int) bool {
		if players[i].CreatedAt.Equal(players[j].CreatedAt) {
			return players[i].ID < players[j].ID
		}
		return players[i].CreatedAt.Before(players[j].CreatedAt)
	})
}

// SortByPoints orders players by points descending, then creation time
func SortByPoints(players []*Player) {
	sort.SliceStable(players, func(i, j int) bool {
		if players[i].Points != players[j].Points {
			return players[i].Points > players[j].Points
		}
		return players[i].CreatedAt.Before(players[j].CreatedAt)
	})
}
