// internal/messages/display.go
package messages

import (
	"fmt"
	"strings"

	"github.com/jason-s-yu/sionline/internal/models"
)

// StageText describes the progress of a game.
func StageText(g *models.GameRecord) string {
	switch g.Stage {
	case models.StageCreated:
		return "Created"
	case models.StageStarted:
		return "Started"
	case models.StageRound:
		return fmt.Sprintf("%d/%d: %s", g.ProgressCurrent, g.ProgressTotal, g.StageName)
	case models.StageFinal:
		return "Final"
	default:
		return "Finished"
	}
}

// RuleNames lists the notable rules of a game in display order.
func RuleNames(g *models.GameRecord) []string {
	var names []string
	if g.Mode == models.ModeSport {
		names = append(names, "Sport")
	} else {
		names = append(names, "Classic")
	}
	if !g.Rules.Has(models.RuleFalseStart) {
		names = append(names, "No false starts")
	}
	if g.Rules.Has(models.RuleOral) {
		names = append(names, "Oral game")
	}
	if g.Rules.Has(models.RuleIgnoreWrong) {
		names = append(names, "Wrong answers are not penalized")
	}
	if g.Rules.Has(models.RulePingPenalty) {
		names = append(names, "Ping penalty")
	}
	return names
}

// PackageDisplayName replaces the random package marker with readable text.
func PackageDisplayName(name string) string {
	if name == models.RandomPackageIndicator {
		return RandomServerTheme
	}
	return name
}

// FilterSummary describes the active filter flags.
func FilterSummary(f models.Filter) string {
	onlyNew := f.Has(models.FilterNew)
	sport := f.Has(models.FilterSport)
	tv := f.Has(models.FilterTv)
	noPassword := f.Has(models.FilterNoPassword)

	if sport == tv && !onlyNew && !noPassword {
		return "All"
	}

	var parts []string
	if onlyNew {
		parts = append(parts, "New")
	}
	if sport && !tv {
		parts = append(parts, "Sport")
	}
	if tv && !sport {
		parts = append(parts, "TV")
	}
	if noPassword {
		parts = append(parts, "No password")
	}
	return strings.Join(parts, ", ")
}
