package service

import (
	"context"
	"fmt"

	pointsdomain "github.com/opencafe/pointsd/internal/points/domain"
	"github.com/opencafe/pointsd/internal/xpconfig"
)

// recentEntryCount bounds the history slice returned with a standing.
const recentEntryCount = 10

// Typed award helpers for bot integrations. Each one resolves its
// catalog action and builds the idempotency key so the same coffee,
// message or reaction can never pay out twice.

func (s *Service) AwardCoffeeMade(ctx context.Context, userID, messageID string) (*pointsdomain.AddPointsResult, error) {
	return s.Award(ctx, userID, xpconfig.ActionCoffeeMade, messageID, nil)
}

func (s *Service) AwardCoffeeBrought(ctx context.Context, userID, messageID string) (*pointsdomain.AddPointsResult, error) {
	return s.Award(ctx, userID, xpconfig.ActionCoffeeBrought, messageID, nil)
}

func (s *Service) AwardRating(ctx context.Context, userID, ratingID string) (*pointsdomain.AddPointsResult, error) {
	return s.Award(ctx, userID, xpconfig.ActionRatingGiven, ratingID, nil)
}

func (s *Service) AwardChatMessage(ctx context.Context, userID, messageID string) (*pointsdomain.AddPointsResult, error) {
	return s.Award(ctx, userID, xpconfig.ActionMessageSent, messageID, nil)
}

func (s *Service) AwardReactionGiven(ctx context.Context, userID, messageID, reactionType string) (*pointsdomain.AddPointsResult, error) {
	key := fmt.Sprintf("reaction-%s-%s-%s", messageID, reactionType, userID)
	return s.Award(ctx, userID, xpconfig.ActionReactionGiven, key, nil)
}

func (s *Service) AwardReactionReceived(ctx context.Context, userID, messageID, reactionType, fromUserID string) (*pointsdomain.AddPointsResult, error) {
	key := fmt.Sprintf("reaction-%s-%s-%s", messageID, reactionType, fromUserID)
	return s.Award(ctx, userID, xpconfig.ActionReactionReceived, key, nil)
}

// AwardAchievement pays the amount for the rarity tier; an unknown
// rarity fails the catalog lookup.
func (s *Service) AwardAchievement(ctx context.Context, userID, achievementID, rarity string) (*pointsdomain.AddPointsResult, error) {
	return s.Award(ctx, userID, "achievement-"+rarity, achievementID, map[string]any{
		"achievement_id": achievementID,
		"rarity":         rarity,
	})
}
