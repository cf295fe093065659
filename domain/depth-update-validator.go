package domain

import "errors"

var (
	// ErrUpdateOutOfSequence marks a gap between the mirror and the update
	// stream. Repeated occurrences force a resync of the order book.
	ErrUpdateOutOfSequence = errors.New("order book update is out of sequence")
	// ErrUpdateOutdated marks an update already covered by the installed
	// snapshot. Such updates are skipped silently.
	ErrUpdateOutdated = errors.New("order book update is outdated")
)

// DepthUpdateValidator encodes one provider's sequence-numbering contract.
// A nil return means the update may be applied to the mirror.
type DepthUpdateValidator interface {
	IsValidUpd(update *OrderBookUpdate, orderBookLastUpdId int64) error
}
