package messages

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-s-yu/sionline/internal/errs"
	"github.com/jason-s-yu/sionline/internal/models"
)

func TestCreationMessagesAreDistinct(t *testing.T) {
	seen := map[string]models.CreationResultCode{}
	for code := models.CreationNoPackage; code <= models.CreationTooManyGamesByAddress; code++ {
		msg := ForCreation(code)
		require.NotEmpty(t, msg)
		prev, dup := seen[msg]
		assert.False(t, dup, "codes %d and %d share message %q", prev, code, msg)
		seen[msg] = code
	}
}

func TestTooManyGamesByAddressIsNotGeneric(t *testing.T) {
	err := &errs.SessionRejectedError{Code: models.CreationTooManyGamesByAddress}
	msg := ForError(err)
	assert.Equal(t, "Too many games have been created from this address", msg)
	assert.NotEqual(t, ForCreation(models.CreationUnknownError), msg)
}

func TestUnrecognizedCreationCodeFallsBackToUnknown(t *testing.T) {
	assert.Equal(t, ForCreation(models.CreationUnknownError), ForCreation(models.CreationResultCode(999)))
}

func TestJoinMessagesAreDistinct(t *testing.T) {
	seen := map[string]bool{}
	for code := models.JoinGameNotFound; code <= models.JoinForbidden; code++ {
		msg := ForJoin(code)
		assert.False(t, seen[msg], "duplicate join message %q", msg)
		seen[msg] = true
	}
	assert.Equal(t, UnknownError, ForJoin(models.JoinErrorType(42)))
}

func TestForError(t *testing.T) {
	assert.Empty(t, ForError(fmt.Errorf("wrapped: %w", errs.ErrCancelled)))
	assert.Equal(t, UpgradeRequired, ForError(errs.ErrProtocolVersionUnsupported))
	assert.Equal(t, "Game not found no such id", ForError(&errs.JoinRejectedError{Code: models.JoinGameNotFound, Message: "no such id"}))
	assert.Equal(t, "File is too large. Maximum file size: 2.0 MiB", ForError(&errs.ContentTooLargeError{Size: 3 << 20, Limit: 2 << 20}))
	assert.Equal(t, "boom", ForError(errors.New("boom")))
}

func TestFilterSummary(t *testing.T) {
	assert.Equal(t, "All", FilterSummary(0))
	assert.Equal(t, "All", FilterSummary(models.FilterSport|models.FilterTv))
	assert.Equal(t, "New, TV", FilterSummary(models.FilterNew|models.FilterTv))
	assert.Equal(t, "Sport, No password", FilterSummary(models.FilterSport|models.FilterNoPassword))
}

func TestStageAndRules(t *testing.T) {
	g := &models.GameRecord{Stage: models.StageRound, ProgressCurrent: 2, ProgressTotal: 5, StageName: "History", Mode: models.ModeTv, Rules: models.RuleOral}
	assert.Equal(t, "2/5: History", StageText(g))
	assert.Equal(t, []string{"Classic", "No false starts", "Oral game"}, RuleNames(g))
	assert.Equal(t, RandomServerTheme, PackageDisplayName(models.RandomPackageIndicator))
}
