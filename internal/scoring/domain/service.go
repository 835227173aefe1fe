package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Result struct {
	Score
	ScoredAt      time.Time `json:"scored_at"`
	AutoQualified bool      `json:"auto_qualified"`
}

type Service interface {
	// ComputeAndSaveScore scores the referral under a row lock, records a
	// SCORE_UPDATE event and auto-qualifies a PENDING referral that reaches
	// AutoQualifyThreshold. Reward emission for that transition is requested
	// once the transaction has committed.
	ComputeAndSaveScore(ctx context.Context, referralID snowflake.ID) (Result, error)
	// GetScore returns the stored score, computing it first if the referral
	// has never been scored.
	GetScore(ctx context.Context, referralID snowflake.ID) (Result, error)
}

var (
	ErrInvalidID = errors.New("invalid_id")
	ErrNotFound  = errors.New("not_found")
)
