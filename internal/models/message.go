package models

// RelayType is the type of a relay socket message
type RelayType string

const (
	// Client to relay
	RelayTypeOffer       RelayType = "offer"
	RelayTypeListOffers  RelayType = "listOffers"
	RelayTypeAnswer      RelayType = "answer"
	RelayTypeDeleteOffer RelayType = "deleteOffer"

	// Relay to client
	RelayTypeConnected RelayType = "connected"
	RelayTypeOffers    RelayType = "offers"
	RelayTypeError     RelayType = "error"
)

// ActionSendMessage is the only action clients send.
const ActionSendMessage = "sendMessage"

// Error codes reported in RelayMessage.Code
const (
	CodeDuplicateIdentity = "duplicate_identity"
	CodeRateLimited       = "rate_limited"
	CodeBadRequest        = "bad_request"
	CodeNotFound          = "not_found"
	CodeForbidden         = "forbidden"
)

// RelayMessage is every message on the relay socket, in both directions
type RelayMessage struct {
	Action       string    `json:"action,omitempty"`
	Type         RelayType `json:"type"`
	GameID       string    `json:"gameId,omitempty"`
	SessionID    string    `json:"sessionId,omitempty"`
	ConnectionID string    `json:"connectionId,omitempty"`
	Listing      *Listing  `json:"listing,omitempty"`
	Listings     []Listing `json:"listings,omitempty"`
	Signal       string    `json:"signal,omitempty"`
	From         string    `json:"from,omitempty"`
	ClientID     string    `json:"clientId,omitempty"`
	Code         string    `json:"code,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Answer is a guest's answer routed to the listing owner
type Answer struct {
	SessionID    string `json:"sessionId"`
	ConnectionID string `json:"connectionId"`
	Signal       string `json:"signal"`
	From         string `json:"from"`
}
