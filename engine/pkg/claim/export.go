package claim

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

var exportHeader = []string{"started_at", "week_key", "epoch", "user_id", "amount", "status", "tx_sig", "fail_reason"}

// ExportCSV streams every claim as CSV for operator reconciliation,
// ordered most recent first. Week keys are resolved once per epoch.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer) error {
	claims, err := s.cfg.Claims.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list claims: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	weekKeys := make(map[uint64]string)
	for i := range claims {
		c := &claims[i]
		weekKey, ok := weekKeys[c.EpochNumber]
		if !ok {
			ep, err := s.cfg.Epochs.GetEpoch(ctx, c.EpochNumber)
			if err != nil {
				return fmt.Errorf("failed to resolve epoch %d: %w", c.EpochNumber, err)
			}
			weekKey = ep.WeekKey
			weekKeys[c.EpochNumber] = weekKey
		}

		record := []string{
			c.StartedAt.UTC().Format(time.RFC3339),
			weekKey,
			strconv.FormatUint(c.EpochNumber, 10),
			c.UserID,
			strconv.FormatInt(c.Amount, 10),
			string(c.Status),
			c.TxSig,
			c.FailReason,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv record: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
