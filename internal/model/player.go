package model

import "time"

// DefaultStartingPoints is the balance a player is created with
const DefaultStartingPoints = 5

// PlayerID uniquely identifies a player across the system
type PlayerID string

// GuessState is the state of a (guesser, target) interaction, derived from the target
type GuessState string

const (
	GuessStateNoSecretSet     GuessState = "no_secret_set"    // Target has not chosen a secret
	GuessStateAlreadyRevealed GuessState = "already_revealed" // Target's secret was already found
	GuessStateOpen            GuessState = "open"             // Target has an active, unrevealed secret
)

// Player is the durable record of a game participant
type Player struct {
	ID       PlayerID
	Username string // display name
	IsGuest  bool   // true for anonymous sign-ins

	// Secret is nil until the player chooses one
	Secret *string
	Points int

	Revealed   bool
	RevealedBy PlayerID // empty until revealed
	RevealedAt *time.Time

	// Version is assigned by the backing store and bumped on every durable write
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasSecret reports whether the player has chosen a non-empty secret
func (p *Player) HasSecret() bool {
	return p.Secret != nil && *p.Secret != ""
}

// GuessState returns whether the player's secret can currently be guessed.
// A revealed player is never open, even if the secret text was removed.
func (p *Player) GuessState() GuessState {
	switch {
	case p.Revealed:
		return GuessStateAlreadyRevealed
	case !p.HasSecret():
		return GuessStateNoSecretSet
	default:
		return GuessStateOpen
	}
}

// Clone returns a deep copy of the player
func (p *Player) Clone() *Player {
	if p == nil {
		return nil
	}
	c := *p
	if p.Secret != nil {
		s := *p.Secret
		c.Secret = &s
	}
	if p.RevealedAt != nil {
		t := *p.RevealedAt
		c.RevealedAt = &t
	}
	return &c
}

// PlayerUpdate is a partial, field-scoped update. Nil fields are left untouched.
type PlayerUpdate struct {
	Username    *string
	IsGuest     *bool
	Secret      *string
	ClearSecret bool // removes the secret; ignored when Secret is set
	Points      *int // absolute balance; use ChangePoints for deltas
	Revealed    *bool
}

// IsEmpty reports whether the update touches no field
func (u PlayerUpdate) IsEmpty() bool {
	return u.Username == nil && u.IsGuest == nil && u.Secret == nil &&
		!u.ClearSecret && u.Points == nil && u.Revealed == nil
}

// ApplyTo merges the update into p. Creation defaults and bookkeeping
// fields (version, timestamps) are the caller's job.
func (u PlayerUpdate) ApplyTo(p *Player) {
	if u.Username != nil {
		p.Username = *u.Username
	}
	if u.IsGuest != nil {
		p.IsGuest = *u.IsGuest
	}
	if u.Secret != nil {
		s := *u.Secret
		p.Secret = &s
	} else if u.ClearSecret {
		p.Secret = nil
	}
	if u.Points != nil {
		p.Points = *u.Points
	}
	if u.Revealed != nil {
		p.Revealed = *u.Revealed
		if !p.Revealed {
			p.RevealedBy = ""
			p.RevealedAt = nil
		}
	}
}

// RevealMark describes a markRevealed call
type RevealMark struct {
	By          PlayerID
	At          time.Time
	ClearSecret bool

	// ExpectedSecret, when set, makes the mark conditional on the stored secret
	ExpectedSecret *string
}

// CheckRevealable returns nil when the player is open with exactly the
// expected secret
func (p *Player) CheckRevealable(expected string) error {
	switch {
	case p.Revealed:
		return ErrAlreadyRevealed
	case !p.HasSecret():
		return ErrNoSecretSet
	case *p.Secret != expected:
		return ErrSecretMismatch
	}
	return nil
}

// AddPoints adds delta to the balance without going below floor
func (p *Player) AddPoints(delta int, floor *int) {
	p.Points += delta
	if floor != nil && p.Points < *floor {
		p.Points = *floor
	}
}

// ApplyMark sets the reveal fields. It reports false and leaves the player
// untouched when it was already revealed.
func (p *Player) ApplyMark(mark RevealMark) (bool, error) {
	if p.Revealed {
		return false, nil
	}
	if mark.ExpectedSecret != nil {
		if err := p.CheckRevealable(*mark.ExpectedSecret); err != nil {
			return false, err
		}
	}
	at := mark.At
	p.Revealed = true
	p.RevealedBy = mark.By
	p.RevealedAt = &at
	if mark.ClearSecret {
		p.Secret = nil
	}
	return true, nil
}

// RegisteredPlayer holds credentials for a non-guest player.
// Stored separately so password hashes never travel with player records.
type RegisteredPlayer struct {
	PlayerID     PlayerID
	Username     string // login username (immutable)
	PasswordHash string // bcrypt hash
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Ptr returns a pointer to v
func Ptr[T any](v T) *T {
	return &v
}
