package kucoin

import "github.com/spooky-finn/go-streambridge/domain"

// DepthUpdateValidator enforces the exchange's level2 sequence contract:
// consecutive updates overlap, so an update is applicable as long as it does
// not leave a gap above the book's head sequence.
type DepthUpdateValidator struct{}

func (v *DepthUpdateValidator) IsValidUpd(update *domain.OrderBookUpdate, orderBookLastUpdId int64) error {
	if update.SequenceEnd <= orderBookLastUpdId {
		return domain.ErrUpdateOutdated
	}

	if update.SequenceStart <= orderBookLastUpdId+1 && update.SequenceEnd >= orderBookLastUpdId {
		return nil
	}
	return domain.ErrUpdateOutOfSequence
}
