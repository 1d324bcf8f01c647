package listing

import (
	"time"
)

// Server is a cached snapshot of one listed game server.
//
// IsFavorite and IsSubscribed are locally owned: they are set by the toggle
// use cases and must survive re-fetches of the upstream listing. The fetch
// pipeline never carries flag truth from upstream.
type Server struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Address    string     `json:"address,omitempty"`
	Map        string     `json:"map,omitempty"`
	Region     string     `json:"region,omitempty"`
	Players    int        `json:"players"`
	MaxPlayers int        `json:"max_players"`
	Rank       int        `json:"rank"`
	LastWipe   time.Time  `json:"last_wipe,omitempty"`
	NextWipe   *time.Time `json:"next_wipe,omitempty"`
	Modded     bool       `json:"modded"`
	Official   bool       `json:"official"`

	IsFavorite   bool `json:"is_favorite"`
	IsSubscribed bool `json:"is_subscribed"`
}

// SortKey selects the upstream ordering of a listing page.
type SortKey string

const (
	SortRank    SortKey = "rank"
	SortPlayers SortKey = "players"
	SortWipe    SortKey = "wipe"
	SortName    SortKey = "name"
)

// Page is one fetched slice of the listing, together with the opaque
// continuation cursor for the next slice. A nil NextCursor means the
// listing is exhausted.
type Page struct {
	Servers    []Server
	NextCursor *string
}
