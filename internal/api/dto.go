package api

import (
	"time"

	"github.com/serverdeck/serverdeck/internal/listing"
)

// Wire types for the listing API. Kept separate from the domain model so
// upstream renames stay contained here.

type pageResponse struct {
	Servers []serverDTO `json:"servers"`
	Links   pageLinks   `json:"links"`
}

type pageLinks struct {
	Next string `json:"next,omitempty"`
	Prev string `json:"prev,omitempty"`
}

type serverDTO struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Address    string `json:"address,omitempty"`
	Map        string `json:"map,omitempty"`
	Region     string `json:"region,omitempty"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
	Rank       int    `json:"rank"`
	LastWipe   string `json:"last_wipe,omitempty"`
	NextWipe   string `json:"next_wipe,omitempty"`
	Modded     bool   `json:"modded"`
	Official   bool   `json:"official"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	RetryAfter string `json:"retry_after,omitempty"` // RFC 3339 instant
}

type confirmPurchaseRequest struct {
	Token string `json:"token"`
}

func (d serverDTO) toServer() listing.Server {
	srv := listing.Server{
		ID:         d.ID,
		Name:       d.Name,
		Address:    d.Address,
		Map:        d.Map,
		Region:     d.Region,
		Players:    d.Players,
		MaxPlayers: d.MaxPlayers,
		Rank:       d.Rank,
		Modded:     d.Modded,
		Official:   d.Official,
	}
	if t, err := time.Parse(time.RFC3339, d.LastWipe); err == nil {
		srv.LastWipe = t
	}
	if t, err := time.Parse(time.RFC3339, d.NextWipe); err == nil {
		srv.NextWipe = &t
	}
	return srv
}
