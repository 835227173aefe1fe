package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/referrals/internal/referral/domain"
	codedomain "github.com/smallbiznis/referrals/internal/referralcode/domain"
	restaurantdomain "github.com/smallbiznis/referrals/internal/restaurant/domain"
	rewarddomain "github.com/smallbiznis/referrals/internal/reward/domain"
	"github.com/smallbiznis/referrals/pkg/db/pagination"
)

const defaultListPageSize = 50

// ListSent returns every referral made with the user's codes, newest first,
// with the rewards the user earned from each.
func (s *Service) ListSent(ctx context.Context, userID string) ([]domain.ReferralView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidID
	}

	codes, err := s.codeRepo.ListByReferrer(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if len(codes) == 0 {
		return []domain.ReferralView{}, nil
	}
	codeIDs := make([]snowflake.ID, 0, len(codes))
	for _, code := range codes {
		codeIDs = append(codeIDs, code.ID)
	}

	referrals, err := s.repo.ListByCodeIDs(ctx, s.db, codeIDs)
	if err != nil {
		return nil, err
	}
	return s.buildViews(ctx, referrals, codes, userID)
}

// GetReceived returns the referral attached to a restaurant the user owns,
// or nil when the user was never referred.
func (s *Service) GetReceived(ctx context.Context, userID string) (*domain.ReferralView, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidID
	}

	restaurants, err := s.restaurantRepo.ListByOwner(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if len(restaurants) == 0 {
		return nil, nil
	}
	restaurantIDs := make([]snowflake.ID, 0, len(restaurants))
	for _, restaurant := range restaurants {
		restaurantIDs = append(restaurantIDs, restaurant.ID)
	}

	referrals, err := s.repo.ListByRestaurantIDs(ctx, s.db, restaurantIDs)
	if err != nil {
		return nil, err
	}
	if len(referrals) == 0 {
		return nil, nil
	}

	views, err := s.buildViews(ctx, referrals[:1], nil, userID)
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

func (s *Service) ListAll(ctx context.Context, req domain.ListReferralRequest) (domain.ListReferralResponse, error) {
	filter := domain.ListFilter{
		PipelineStatus: domain.PipelineStatus(strings.ToUpper(strings.TrimSpace(req.PipelineStatus))),
	}
	if filter.PipelineStatus != "" && !filter.PipelineStatus.Valid() {
		return domain.ListReferralResponse{}, domain.ErrInvalidStatus
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultListPageSize
	}

	items, err := s.repo.List(ctx, s.db, filter, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  int(pageSize),
	})
	if err != nil {
		return domain.ListReferralResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int(pageSize), func(referral *domain.Referral) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        referral.ID.String(),
			CreatedAt: referral.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	views, err := s.buildViews(ctx, items, nil, "")
	if err != nil {
		return domain.ListReferralResponse{}, err
	}

	resp := domain.ListReferralResponse{Referrals: views}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// buildViews joins referrals with their restaurant, code and rewards. Codes
// already loaded by the caller are reused. A non-empty beneficiaryID limits
// rewards to that user.
func (s *Service) buildViews(
	ctx context.Context,
	referrals []*domain.Referral,
	codes []*codedomain.ReferralCode,
	beneficiaryID string,
) ([]domain.ReferralView, error) {
	if len(referrals) == 0 {
		return []domain.ReferralView{}, nil
	}

	referralIDs := make([]snowflake.ID, 0, len(referrals))
	restaurantIDs := make([]snowflake.ID, 0, len(referrals))
	codeIDs := make([]snowflake.ID, 0, len(referrals))
	for _, referral := range referrals {
		referralIDs = append(referralIDs, referral.ID)
		restaurantIDs = append(restaurantIDs, referral.ReferredRestaurantID)
		codeIDs = append(codeIDs, referral.ReferralCodeID)
	}

	if codes == nil {
		loaded, err := s.codeRepo.ListByIDs(ctx, s.db, codeIDs)
		if err != nil {
			return nil, err
		}
		codes = loaded
	}
	codeByID := make(map[snowflake.ID]*codedomain.ReferralCode, len(codes))
	for _, code := range codes {
		codeByID[code.ID] = code
	}

	restaurants, err := s.restaurantRepo.ListByIDs(ctx, s.db, restaurantIDs)
	if err != nil {
		return nil, err
	}
	restaurantByID := make(map[snowflake.ID]*restaurantdomain.Restaurant, len(restaurants))
	for _, restaurant := range restaurants {
		restaurantByID[restaurant.ID] = restaurant
	}

	rewards, err := s.rewardRepo.ListByReferralIDs(ctx, s.db, referralIDs, beneficiaryID)
	if err != nil {
		return nil, err
	}
	rewardsByReferral := make(map[snowflake.ID][]domain.RewardSummary, len(referrals))
	for _, reward := range rewards {
		rewardsByReferral[reward.ReferralID] = append(rewardsByReferral[reward.ReferralID], summarizeReward(reward))
	}

	views := make([]domain.ReferralView, 0, len(referrals))
	for _, referral := range referrals {
		referral.Project()
		view := domain.ReferralView{
			Referral: *referral,
			Rewards:  rewardsByReferral[referral.ID],
		}
		if view.Rewards == nil {
			view.Rewards = []domain.RewardSummary{}
		}
		if restaurant, ok := restaurantByID[referral.ReferredRestaurantID]; ok {
			view.Restaurant = &domain.RestaurantSummary{
				ID:      restaurant.ID.String(),
				Name:    restaurant.Name,
				Status:  string(restaurant.Status),
				OwnerID: restaurant.OwnerID,
			}
		}
		if code, ok := codeByID[referral.ReferralCodeID]; ok {
			view.Code = &domain.CodeSummary{
				ID:             code.ID.String(),
				Code:           code.Code,
				ReferrerUserID: code.ReferrerUserID,
				ReferrerName:   code.ReferrerName,
			}
		}
		views = append(views, view)
	}
	return views, nil
}

func summarizeReward(reward *rewarddomain.Reward) domain.RewardSummary {
	return domain.RewardSummary{
		ID:              reward.ID.String(),
		BeneficiaryID:   reward.BeneficiaryID,
		BeneficiaryType: string(reward.BeneficiaryType),
		RewardType:      string(reward.RewardType),
		Amount:          reward.Amount,
		Description:     reward.Description,
		Status:          string(reward.Status),
		IssuedAt:        reward.IssuedAt,
		RedeemedAt:      reward.RedeemedAt,
		ExpiresAt:       reward.ExpiresAt,
	}
}
