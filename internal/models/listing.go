package models

import "time"

// Slot is one host connection as advertised on the relay
type Slot struct {
	ConnectionID string `json:"connectionId"`
	Open         bool   `json:"open"`
	Signal       string `json:"signal,omitempty"` // Offer blob, only while open
}

// Listing is a host's published session
type Listing struct {
	GameID    string    `json:"gameId"`
	SessionID string    `json:"sessionId"`
	HostName  string    `json:"hostName"`
	PublicKey string    `json:"publicKey"` // Owner identity, set by the relay
	Slots     []Slot    `json:"slots"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OpenSlots returns the slots a guest can still answer
func (l Listing) OpenSlots() []Slot {
	var open []Slot
	for _, s := range l.Slots {
		if s.Open && s.Signal != "" {
			open = append(open, s)
		}
	}
	return open
}

// SubscribeRequest is the body of POST /api/auth/subscribe
type SubscribeRequest struct {
	PublicKey string `json:"publicKey" binding:"required"`
	Nonce     string `json:"nonce" binding:"required"`
	Signature string `json:"signature" binding:"required"` // Signature of the nonce
}

// SubscribeResponse carries the subscription token
type SubscribeResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}
