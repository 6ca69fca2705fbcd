// Package xpconfig holds the XP catalog: how much each club action is
// worth, with admin-tunable overrides stored in the settings table.
package xpconfig

import (
	"errors"
	"sort"

	ledgerdomain "github.com/opencafe/pointsd/internal/ledger/domain"
)

// Action names accepted by the catalog.
const (
	ActionCoffeeMade           = "coffee-made"
	ActionCoffeeBrought        = "coffee-brought"
	ActionRatingGiven          = "rating-given"
	ActionMessageSent          = "message-sent"
	ActionReactionGiven        = "reaction-given"
	ActionReactionReceived     = "reaction-received"
	ActionAchievementCommon    = "achievement-common"
	ActionAchievementRare      = "achievement-rare"
	ActionAchievementEpic      = "achievement-epic"
	ActionAchievementLegendary = "achievement-legendary"
	ActionAchievementPlatinum  = "achievement-platinum"
)

// Action binds a catalog action to its ledger source and XP amount.
type Action struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Amount int64  `json:"amount"`
}

// Catalog maps action name to its current definition.
type Catalog map[string]Action

var ErrUnknownAction = errors.New("unknown_action")

// Defaults returns the built-in catalog.
func Defaults() Catalog {
	return Catalog{
		ActionCoffeeMade:           {Name: ActionCoffeeMade, Source: ledgerdomain.SourceCoffeeMade, Amount: 50},
		ActionCoffeeBrought:        {Name: ActionCoffeeBrought, Source: ledgerdomain.SourceCoffeeBrought, Amount: 75},
		ActionRatingGiven:          {Name: ActionRatingGiven, Source: ledgerdomain.SourceRating, Amount: 15},
		ActionMessageSent:          {Name: ActionMessageSent, Source: ledgerdomain.SourceMessage, Amount: 1},
		ActionReactionGiven:        {Name: ActionReactionGiven, Source: ledgerdomain.SourceReaction, Amount: 3},
		ActionReactionReceived:     {Name: ActionReactionReceived, Source: ledgerdomain.SourceReaction, Amount: 5},
		ActionAchievementCommon:    {Name: ActionAchievementCommon, Source: ledgerdomain.SourceAchievement, Amount: 25},
		ActionAchievementRare:      {Name: ActionAchievementRare, Source: ledgerdomain.SourceAchievement, Amount: 50},
		ActionAchievementEpic:      {Name: ActionAchievementEpic, Source: ledgerdomain.SourceAchievement, Amount: 100},
		ActionAchievementLegendary: {Name: ActionAchievementLegendary, Source: ledgerdomain.SourceAchievement, Amount: 200},
		ActionAchievementPlatinum:  {Name: ActionAchievementPlatinum, Source: ledgerdomain.SourceAchievement, Amount: 500},
	}
}

// Names returns catalog action names in stable order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
