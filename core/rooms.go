package core

import (
	"context"
	"fmt"
)

// RoomSummaries returns the summaries of the rooms uid is a member of,
// most recently active first.
func RoomSummaries(ctx context.Context, store DocStore, uid string, limit int) ([]RoomSummary, error) {
	docs, err := store.Query(ctx, Query{
		Collection: RoomSummaryCollection,
		OrderBy:    "createdAt",
		Descending: true,
		Limit:      limit,
		Where:      &Filter{Field: "member_ids", Op: ArrayContains, Value: uid},
	})
	if err != nil {
		return nil, fmt.Errorf("query room summaries: %w", err)
	}
	summaries := make([]RoomSummary, 0, len(docs))
	for _, doc := range docs {
		s, err := RoomSummaryFromDocument(doc)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// RoomMessages returns the limit most recent messages of the room in creation order.
func RoomMessages(ctx context.Context, store DocStore, room RoomIdentity, limit int) ([]Message, error) {
	if room.Key == "" {
		return nil, ErrInsufficientMembers
	}
	docs, err := store.Query(ctx, Query{
		Collection:  room.MessageCollection(),
		OrderBy:     "createdAt",
		LimitToLast: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	messages := make([]Message, 0, len(docs))
	for _, doc := range docs {
		m, err := MessageFromDocument(doc)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// IsRoomMember reports whether uid is a member of the room with the given key.
func IsRoomMember(ctx context.Context, store DocStore, key, uid string) (bool, error) {
	doc, err := store.Get(ctx, RoomSummaryCollection, key)
	if err != nil {
		return false, fmt.Errorf("get room summary: %w", err)
	}
	if doc == nil {
		return false, nil
	}
	s, err := RoomSummaryFromDocument(*doc)
	if err != nil {
		return false, err
	}
	for _, id := range s.MemberIDs {
		if id == uid {
			return true, nil
		}
	}
	return false, nil
}
