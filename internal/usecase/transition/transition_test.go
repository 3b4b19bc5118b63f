package transition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/opsdesk-backend/internal/domain"
)

func TestNextStatus(t *testing.T) {
	dd, bg := domain.InstrumentTypeDD, domain.InstrumentTypeBG

	tests := []struct {
		name     string
		t        domain.InstrumentType
		stage    domain.Stage
		current  domain.Status
		expected domain.Status
	}{
		{"DD create", dd, domain.StageAssignment, "", domain.StatusAssigned},
		{"DD stage 1 resubmit keeps Assigned", dd, domain.StageAssignment, domain.StatusAssigned, domain.StatusAssigned},
		{"DD stage 1 replay keeps Issued", dd, domain.StageAssignment, domain.StatusIssued, domain.StatusIssued},
		{"DD stage 2 advances", dd, domain.StageProcessing, domain.StatusAssigned, domain.StatusFilled},
		{"DD stage 2 replay keeps Filled", dd, domain.StageProcessing, domain.StatusFilled, domain.StatusFilled},
		{"DD stage 2 replay keeps SentToClient", dd, domain.StageProcessing, domain.StatusSentToClient, domain.StatusSentToClient},
		{"DD stage 3 advances", dd, domain.StageIssuance, domain.StatusFilled, domain.StatusIssued},
		{"DD stage 3 on Assigned stays", dd, domain.StageIssuance, domain.StatusAssigned, domain.StatusAssigned},
		{"DD stage 3 replay keeps SentToClient", dd, domain.StageIssuance, domain.StatusSentToClient, domain.StatusSentToClient},
		{"BG create", bg, domain.StageAssignment, "", domain.StatusAssigned},
		{"BG stage 1 resubmit fills", bg, domain.StageAssignment, domain.StatusAssigned, domain.StatusFilled},
		{"BG stage 1 replay keeps Issued", bg, domain.StageAssignment, domain.StatusIssued, domain.StatusIssued},
		{"BG stage 2 from Assigned", bg, domain.StageProcessing, domain.StatusAssigned, domain.StatusIssued},
		{"BG stage 2 from Filled", bg, domain.StageProcessing, domain.StatusFilled, domain.StatusIssued},
		{"BG stage 2 replay", bg, domain.StageProcessing, domain.StatusIssued, domain.StatusIssued},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextStatus(tt.t, tt.stage, tt.current)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
			if tt.current != "" {
				assert.GreaterOrEqual(t, got.Rank(), tt.current.Rank(), "status must never regress")
			}
		})
	}
}

func TestNextStatus_InvalidStage(t *testing.T) {
	tests := []struct {
		name  string
		t     domain.InstrumentType
		stage domain.Stage
	}{
		{"BG has no stage 3", domain.InstrumentTypeBG, domain.StageIssuance},
		{"Stage 0", domain.InstrumentTypeDD, 0},
		{"Stage 4", domain.InstrumentTypeDD, 4},
		{"Unknown type", domain.InstrumentType("XX"), domain.StageAssignment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextStatus(tt.t, tt.stage, domain.StatusIssued)
			var stageErr *domain.InvalidStageError
			require.ErrorAs(t, err, &stageErr)
			assert.Equal(t, domain.StatusIssued, got)
		})
	}
}

func TestPendingStage(t *testing.T) {
	tests := []struct {
		name     string
		t        domain.InstrumentType
		current  domain.Status
		expected domain.Stage
		ok       bool
	}{
		{"DD new", domain.InstrumentTypeDD, "", domain.StageAssignment, true},
		{"DD assigned", domain.InstrumentTypeDD, domain.StatusAssigned, domain.StageProcessing, true},
		{"DD filled", domain.InstrumentTypeDD, domain.StatusFilled, domain.StageIssuance, true},
		{"DD issued", domain.InstrumentTypeDD, domain.StatusIssued, 0, false},
		{"DD sent", domain.InstrumentTypeDD, domain.StatusSentToClient, 0, false},
		{"BG assigned", domain.InstrumentTypeBG, domain.StatusAssigned, domain.StageProcessing, true},
		{"BG filled", domain.InstrumentTypeBG, domain.StatusFilled, domain.StageProcessing, true},
		{"BG issued", domain.InstrumentTypeBG, domain.StatusIssued, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PendingStage(tt.t, tt.current)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestTerminalAndReachable(t *testing.T) {
	assert.True(t, Terminal(domain.InstrumentTypeBG, domain.StatusIssued))
	assert.False(t, Terminal(domain.InstrumentTypeDD, domain.StatusIssued))
	assert.True(t, Terminal(domain.InstrumentTypeDD, domain.StatusSentToClient))

	assert.False(t, Reachable(domain.InstrumentTypeBG, domain.StatusSentToClient))
	assert.True(t, Reachable(domain.InstrumentTypeDD, domain.StatusSentToClient))
	assert.True(t, Reachable(domain.InstrumentTypeBG, domain.StatusFilled))
	assert.False(t, Reachable(domain.InstrumentTypeDD, domain.Status("Lost")))
}
