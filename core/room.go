package core

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	// RoomSummaryCollection holds one summary document per room keyed by the room key.
	RoomSummaryCollection = "chatrooms"

	messageCollectionPrefix = "message="

	// KeyDelimiter separates member IDs in keys built with DelimitedKeys.
	KeyDelimiter = "|"
)

var (
	// ErrInvalidMember is returned when a member cannot take part in a room key.
	ErrInvalidMember = errors.New("invalid member")
	// ErrInsufficientMembers is returned when a room is opened without members.
	ErrInsufficientMembers = errors.New("insufficient members")
	// ErrUnknownKeyEncoding is returned for an unsupported key encoding name.
	ErrUnknownKeyEncoding = errors.New("unknown key encoding")
)

// KeyEncoding determines how sorted member IDs are combined into a room key.
type KeyEncoding int

const (
	// DelimitedKeys joins the sorted IDs with KeyDelimiter.
	// IDs containing the delimiter are rejected so distinct member sets never share a key.
	DelimitedKeys KeyEncoding = iota
	// ConcatKeys concatenates the sorted IDs without a separator.
	// Keys of distinct member sets can collide, e.g. ["ab","c"] and ["a","bc"].
	// It is kept to address rooms created before DelimitedKeys existed.
	ConcatKeys
)

func (e KeyEncoding) String() string {
	switch e {
	case DelimitedKeys:
		return "delimited"
	case ConcatKeys:
		return "concat"
	default:
		return fmt.Sprintf("KeyEncoding(%d)", int(e))
	}
}

func ParseKeyEncoding(s string) (KeyEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "delimited":
		return DelimitedKeys, nil
	case "concat":
		return ConcatKeys, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKeyEncoding, s)
	}
}

// RoomIdentity addresses a room. Both values are independent of member order.
type RoomIdentity struct {
	Key         string `json:"key"`
	DisplayName string `json:"name"`
}

// MessageCollection is the collection holding the messages of the room.
func (r RoomIdentity) MessageCollection() string {
	return messageCollectionPrefix + r.Key
}

// DeriveRoomIdentity builds the identity of the room formed by members.
// An empty member set yields an empty identity. Duplicate members are kept.
func DeriveRoomIdentity(members []User, enc KeyEncoding) (RoomIdentity, error) {
	ids := make([]string, 0, len(members))
	names := make([]string, 0, len(members))
	for _, m := range members {
		if enc == DelimitedKeys && strings.Contains(m.ID, KeyDelimiter) {
			return RoomIdentity{}, fmt.Errorf("%w: id %q contains %q", ErrInvalidMember, m.ID, KeyDelimiter)
		}
		ids = append(ids, m.ID)
		names = append(names, m.Name)
	}
	slices.Sort(ids)
	slices.Sort(names)

	var sep string
	switch enc {
	case DelimitedKeys:
		sep = KeyDelimiter
	case ConcatKeys:
		sep = ""
	default:
		return RoomIdentity{}, fmt.Errorf("%w: %v", ErrUnknownKeyEncoding, enc)
	}

	return RoomIdentity{
		Key:         strings.Join(ids, sep),
		DisplayName: strings.Join(names, ","),
	}, nil
}

// Message is a chat message as stored in the message collection of a room.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	// Own is the uid of the author.
	Own string `json:"own"`
	// MemberName is the display name of the room when the message was sent.
	MemberName string `json:"memberName"`
}

// RoomSummary is the denormalised record used to render a list of rooms.
type RoomSummary struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	RecentMessage  string    `json:"recentMessage"`
	CreatedAt      time.Time `json:"createdAt"`
	Members        []User    `json:"member"`
	MemberIDs      []string  `json:"member_ids"`
	Own            string    `json:"own"`
	ProfilePicPath string    `json:"profilePicPath"`
}

// MessageFromDocument maps a stored document to a Message.
func MessageFromDocument(doc Document) (Message, error) {
	var m Message
	if err := doc.Decode(&m); err != nil {
		return Message{}, err
	}
	m.ID = doc.ID
	return m, nil
}

func RoomSummaryFromDocument(doc Document) (RoomSummary, error) {
	var s RoomSummary
	if err := doc.Decode(&s); err != nil {
		return RoomSummary{}, err
	}
	s.ID = doc.ID
	return s, nil
}

func memberIDs(members []User) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	return ids
}
