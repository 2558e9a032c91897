package request

// CreateGuestRequest is the request body for creating a guest player
type CreateGuestRequest struct {
	DisplayName string `json:"display_name"`
}

// RegisterRequest is the request body for registering a player
type RegisterRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// LoginRequest is the request body for logging in
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ChooseSecretRequest is the request body for choosing a secret
type ChooseSecretRequest struct {
	Secret string `json:"secret"`
}

// GuessRequest is the request body for guessing another player's secret
type GuessRequest struct {
	TargetID string `json:"target_id"`
	Guess    string `json:"guess"`
}
