// Copyright (c) 2025 Vocalab
//
// Licensed under GPL-2.0. See LICENSE.md for details.

package internal_relay

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vocalab/pkg/commons"
)

const presenceKey = "discussion:online"

// Presence tracks which identities currently hold a relay connection, backed
// by a Redis set so every relay instance sees the same roster.
type Presence struct {
	logger commons.Logger
	client *redis.Client
}

func NewPresence(logger commons.Logger, client *redis.Client) *Presence {
	return &Presence{logger: logger, client: client}
}

func (p *Presence) SetOnline(ctx context.Context, identity string) error {
	if err := p.client.SAdd(ctx, presenceKey, identity).Err(); err != nil {
		return fmt.Errorf("failed to mark %s online: %w", identity, err)
	}
	return nil
}

func (p *Presence) SetOffline(ctx context.Context, identity string) error {
	if err := p.client.SRem(ctx, presenceKey, identity).Err(); err != nil {
		return fmt.Errorf("failed to mark %s offline: %w", identity, err)
	}
	return nil
}

func (p *Presence) IsOnline(ctx context.Context, identity string) (bool, error) {
	online, err := p.client.SIsMember(ctx, presenceKey, identity).Result()
	if err != nil {
		return false, fmt.Errorf("presence lookup failed: %w", err)
	}
	return online, nil
}

// Online lists every identity with a live relay connection.
func (p *Presence) Online(ctx context.Context) ([]string, error) {
	members, err := p.client.SMembers(ctx, presenceKey).Result()
	if err != nil {
		return nil, fmt.Errorf("presence listing failed: %w", err)
	}
	return members, nil
}
