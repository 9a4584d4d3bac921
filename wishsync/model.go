package wishsync

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// reservation lifecycle for an item
const (
	ReservationAvailable = "available"
	ReservationReserved  = "reserved"
	ReservationPurchased = "purchased"
)

// chip-in states
const (
	ContributionPledged = "pledged"
	ContributionPaid    = "paid"
)

// Item is one entry of a wishlist as the server renders it.
// The server is authoritative for every field. Local optimistic edits are
// provisional copies that get replaced by the server value on settle.
type Item struct {
	ItemId             Id      `json:"id"`
	WishlistId         Id      `json:"wishlist_id"`
	Title              string  `json:"title"`
	Description        string  `json:"description,omitempty"`
	LinkUrl            string  `json:"link_url,omitempty"`
	ImageUrl           string  `json:"image_url,omitempty"`
	Price              float64 `json:"price,omitempty"`
	Currency           string  `json:"currency,omitempty"`
	Position           int     `json:"position"`
	ReservationStatus  string  `json:"reservation_status"`
	ReservedById       *Id     `json:"reserved_by_id,omitempty"`
	ReservedAt         string  `json:"reserved_at,omitempty"`
	ReservationMessage string  `json:"reservation_message,omitempty"`
	ContributedById    *Id     `json:"contributed_by_id,omitempty"`
	ContributedTotal   float64 `json:"contributed_total,omitempty"`
	ContributedPledged float64 `json:"contributed_pledged,omitempty"`
	ContributedPaid    float64 `json:"contributed_paid,omitempty"`
	CreatedAt          string  `json:"created_at,omitempty"`
	UpdatedAt          string  `json:"updated_at,omitempty"`
}

// Suggestion is a visitor-proposed item waiting for the owner to accept or
// reject. It is created server side; the client only ever removes it locally.
type Suggestion struct {
	SuggestionId  Id     `json:"id"`
	WishlistId    Id     `json:"wishlist_id"`
	SuggestedById *Id    `json:"suggested_by_id,omitempty"`
	Title         string `json:"title"`
	LinkUrl       string `json:"link_url,omitempty"`
	Message       string `json:"message,omitempty"`
	Status        string `json:"status,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
}

type Wishlist struct {
	WishlistId  Id     `json:"id"`
	OwnerId     Id     `json:"owner_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	IsPublic    bool   `json:"is_public"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
}

// comparable
type Id [16]byte

// ids minted locally (session ids) are ulids so that ids from the same
// source sort by create time. Server ids arrive as uuid strings and parse
// into the same 16 bytes.
func NewId() Id {
	return Id(ulid.Make())
}

func IdFromBytes(idBytes []byte) (Id, error) {
	if len(idBytes) != 16 {
		return Id{}, fmt.Errorf("id must be 16 bytes")
	}
	return Id(idBytes), nil
}

func ParseId(idStr string) (Id, error) {
	return parseUuid(idStr)
}

func RequireId(idStr string) Id {
	id, err := ParseId(idStr)
	if err != nil {
		panic(err)
	}
	return id
}

func (self Id) Bytes() []byte {
	return self[0:16]
}

func (self Id) String() string {
	return encodeUuid(self)
}

func (self Id) MarshalJSON() ([]byte, error) {
	var buff bytes.Buffer
	buff.WriteByte('"')
	buff.WriteString(encodeUuid(self))
	buff.WriteByte('"')
	return buff.Bytes(), nil
}

func (self *Id) UnmarshalJSON(src []byte) error {
	if len(src) != 38 {
		return fmt.Errorf("invalid length for uuid: %v", len(src))
	}
	buf, err := parseUuid(string(src[1 : len(src)-1]))
	if err != nil {
		return err
	}
	*self = buf
	return nil
}

func parseUuid(src string) (dst [16]byte, err error) {
	switch len(src) {
	case 36:
		src = src[0:8] + src[9:13] + src[14:18] + src[19:23] + src[24:]
	case 32:
		// dashes already stripped, assume valid
	default:
		return dst, fmt.Errorf("cannot parse uuid %v", src)
	}

	buf, err := hex.DecodeString(src)
	if err != nil {
		return dst, err
	}

	copy(dst[:], buf)
	return dst, err
}

func encodeUuid(src [16]byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", src[0:4], src[4:6], src[6:8], src[8:10], src[10:16])
}
