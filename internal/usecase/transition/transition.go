package transition

import (
	"github.com/simaogato/opsdesk-backend/internal/domain"
)

// NextStatus computes the status after stage is submitted on a record of
// type t currently in status current ("" for a record being created).
//
// Logic:
//   - Stage 1 creates a record as Assigned. Resubmitting it on an Assigned
//     BG advances to Filled; DD stays Assigned. Later statuses are kept.
//   - Stage 2 on a BG always lands on Issued (its terminal stage). On a DD it
//     advances Assigned to Filled and keeps anything further along.
//   - Stage 3 exists only for DD and advances Filled to Issued.
//
// A status never regresses: replaying an earlier stage keeps downstream progress.
func NextStatus(t domain.InstrumentType, stage domain.Stage, current domain.Status) (domain.Status, error) {
	if !t.Valid() {
		return current, &domain.InvalidStageError{Type: t, Stage: stage, Reason: "unknown instrument type"}
	}
	if !domain.HasStage(t, stage) {
		return current, &domain.InvalidStageError{Type: t, Stage: stage, Reason: "stage is not part of the sequence"}
	}

	switch stage {
	case domain.StageAssignment:
		if current == "" {
			return domain.StatusAssigned, nil
		}
		if current == domain.StatusAssigned && t == domain.InstrumentTypeBG {
			return domain.StatusFilled, nil
		}
		return current, nil

	case domain.StageProcessing:
		if t == domain.InstrumentTypeBG {
			return domain.StatusIssued, nil
		}
		return advance(current, domain.StatusAssigned, domain.StatusFilled), nil

	case domain.StageIssuance:
		return advance(current, domain.StatusFilled, domain.StatusIssued), nil
	}

	return current, &domain.InvalidStageError{Type: t, Stage: stage, Reason: "unknown stage"}
}

// PendingStage returns the next stage a record of type t in status current
// is waiting on. ok is false once the stage pipeline is complete.
func PendingStage(t domain.InstrumentType, current domain.Status) (domain.Stage, bool) {
	switch {
	case current == "":
		return domain.StageAssignment, true
	case t == domain.InstrumentTypeBG:
		if current.Rank() < domain.StatusIssued.Rank() {
			return domain.StageProcessing, true
		}
		return 0, false
	case current == domain.StatusAssigned:
		return domain.StageProcessing, true
	case current == domain.StatusFilled:
		return domain.StageIssuance, true
	default:
		return 0, false
	}
}

// Terminal reports whether current is the last reachable status for t
func Terminal(t domain.InstrumentType, current domain.Status) bool {
	if t == domain.InstrumentTypeBG {
		return current == domain.StatusIssued
	}
	return current == domain.StatusSentToClient
}

// Reachable reports whether status can ever be held by a record of type t
func Reachable(t domain.InstrumentType, status domain.Status) bool {
	if !status.Valid() {
		return false
	}
	if t == domain.InstrumentTypeBG {
		return status != domain.StatusSentToClient
	}
	return true
}

// advance moves from -> to and leaves any other status as it is
func advance(current, from, to domain.Status) domain.Status {
	if current == from || current == "" {
		return to
	}
	return current
}
