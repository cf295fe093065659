package binance

import "github.com/spooky-finn/go-streambridge/domain"

// DepthUpdateValidator enforces the exchange's depth stream contract: an
// update is applicable when U <= lastUpdateId+1 <= u.
type DepthUpdateValidator struct{}

func (v *DepthUpdateValidator) IsValidUpd(update *domain.OrderBookUpdate, orderBookLastUpdId int64) error {
	// drop any event where u is <= the book's lastUpdateId
	if update.SequenceEnd <= orderBookLastUpdId {
		return domain.ErrUpdateOutdated
	}

	if update.SequenceStart <= orderBookLastUpdId+1 && update.SequenceEnd >= orderBookLastUpdId+1 {
		return nil
	}

	if update.SequenceStart > orderBookLastUpdId+1 {
		return domain.ErrUpdateOutOfSequence
	}

	return nil
}
