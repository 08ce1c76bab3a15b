package blockchain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/AlloPay/accountd/internal/domain"
)

// decodeEvent maps a confirmed account-contract log to its domain event.
// Logs with an unknown topic return ("", nil, nil) and are skipped.
func decodeEvent(log types.Log, blockTime time.Time) (string, any, error) {
	if len(log.Topics) == 0 {
		return "", nil, nil
	}

	meta := domain.EventMeta{
		Account:  log.Address,
		Block:    log.BlockNumber,
		TxHash:   log.TxHash,
		TxIndex:  log.TxIndex,
		LogIndex: log.Index,
		Time:     blockTime,
	}

	switch log.Topics[0] {
	case accountABI.Events["PolicyAdded"].ID:
		var data struct {
			Key  uint16
			Hash [32]byte
		}
		if err := unpackEvent(&data, "PolicyAdded", log.Data); err != nil {
			return "", nil, err
		}
		return "PolicyAdded", domain.PolicyAddedEvent{
			EventMeta: meta,
			Key:       domain.PolicyKey(data.Key),
			Hash:      data.Hash,
		}, nil

	case accountABI.Events["PolicyRemoved"].ID:
		var data struct{ Key uint16 }
		if err := unpackEvent(&data, "PolicyRemoved", log.Data); err != nil {
			return "", nil, err
		}
		return "PolicyRemoved", domain.PolicyRemovedEvent{
			EventMeta: meta,
			Key:       domain.PolicyKey(data.Key),
		}, nil

	case accountABI.Events["Scheduled"].ID:
		var data struct {
			Proposal  [32]byte
			Timestamp uint64
		}
		if err := unpackEvent(&data, "Scheduled", log.Data); err != nil {
			return "", nil, err
		}
		return "Scheduled", domain.ScheduledEvent{
			EventMeta:    meta,
			ProposalHash: data.Proposal,
			Timestamp:    time.Unix(int64(data.Timestamp), 0).UTC(),
		}, nil

	case accountABI.Events["ScheduleCancelled"].ID:
		var data struct{ Proposal [32]byte }
		if err := unpackEvent(&data, "ScheduleCancelled", log.Data); err != nil {
			return "", nil, err
		}
		return "ScheduleCancelled", domain.ScheduleCancelledEvent{
			EventMeta:    meta,
			ProposalHash: data.Proposal,
		}, nil
	}

	return "", nil, nil
}

func unpackEvent(out any, name string, data []byte) error {
	if err := accountABI.UnpackIntoInterface(out, name, data); err != nil {
		return fmt.Errorf("unpack %s: %w", name, err)
	}
	return nil
}
