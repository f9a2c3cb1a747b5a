package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL      = 30 * time.Minute
	DefaultMaxTurns = 20
)

type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// State is what the chat layer remembers about one owner between requests.
type State struct {
	OwnerID      string     `json:"owner_id"`
	ActiveFormID *uuid.UUID `json:"active_form_id,omitempty"`
	Turns        []Turn     `json:"turns"`
}

// Append adds a turn and keeps only the newest max turns.
func (s *State) Append(turn Turn, max int) {
	s.Turns = append(s.Turns, turn)
	if max > 0 && len(s.Turns) > max {
		s.Turns = append([]Turn(nil), s.Turns[len(s.Turns)-max:]...)
	}
}

// Store keeps conversation state in Redis. Every read and write pushes the
// expiry forward, so an idle conversation is forgotten after ttl.
type Store struct {
	client   *redis.Client
	ttl      time.Duration
	maxTurns int
}

func NewStore(client *redis.Client, ttl time.Duration, maxTurns int) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Store{client: client, ttl: ttl, maxTurns: maxTurns}
}

func (s *Store) MaxTurns() int {
	return s.maxTurns
}

// Load returns the owner's state, or a fresh one when none is stored.
func (s *Store) Load(ctx context.Context, ownerID string) (*State, error) {
	data, err := s.client.GetEx(ctx, key(ownerID), s.ttl).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &State{OwnerID: ownerID}, nil
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return &state, nil
}

func (s *Store) Save(ctx context.Context, state *State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key(state.OwnerID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, ownerID string) error {
	return s.client.Del(ctx, key(ownerID)).Err()
}

func key(ownerID string) string {
	return fmt.Sprintf("conversation:%s", ownerID)
}
