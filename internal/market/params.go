package market

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// MaxFeeRateBps caps the platform fee at 10%.
const MaxFeeRateBps = 1_000

// Params holds the engine's construction-time settings.
type Params struct {
	Address      common.Address
	Owner        common.Address
	FeeRecipient common.Address
	FeeRateBps   uint64

	MaxListingDuration time.Duration
	MaxOfferDuration   time.Duration
	MinAuctionDuration time.Duration
	MaxAuctionDuration time.Duration
	MinBidIncrementBps uint64
	ExtensionWindow    time.Duration

	// NativeRefundGas bounds what a refunded bidder may spend receiving
	// native currency.
	NativeRefundGas uint64
	MaxBatchSize    int

	PaymentMethods []domain.PaymentMethod
}

// DefaultParams returns the stock marketplace settings. Address, Owner and
// FeeRecipient are left for the caller.
func DefaultParams() Params {
	return Params{
		FeeRateBps:         250,
		MaxListingDuration: 180 * 24 * time.Hour,
		MaxOfferDuration:   30 * 24 * time.Hour,
		MinAuctionDuration: time.Hour,
		MaxAuctionDuration: 30 * 24 * time.Hour,
		MinBidIncrementBps: 500,
		ExtensionWindow:    10 * time.Minute,
		NativeRefundGas:    2300,
		MaxBatchSize:       50,
		PaymentMethods:     []domain.PaymentMethod{domain.Native},
	}
}

// Validate checks the settings for consistency.
func (p Params) Validate() error {
	var errs []error
	if p.Address == (common.Address{}) {
		errs = append(errs, errors.New("engine address is required"))
	}
	if p.Owner == (common.Address{}) {
		errs = append(errs, errors.New("owner is required"))
	}
	if p.FeeRecipient == (common.Address{}) {
		errs = append(errs, errors.New("fee recipient is required"))
	}
	if p.FeeRateBps > MaxFeeRateBps {
		errs = append(errs, fmt.Errorf("fee rate %d bps exceeds %d", p.FeeRateBps, MaxFeeRateBps))
	}
	if p.MaxListingDuration <= 0 || p.MaxOfferDuration <= 0 {
		errs = append(errs, errors.New("listing and offer durations must be positive"))
	}
	if p.MinAuctionDuration <= 0 || p.MaxAuctionDuration < p.MinAuctionDuration {
		errs = append(errs, fmt.Errorf("auction duration bounds [%s, %s] are invalid", p.MinAuctionDuration, p.MaxAuctionDuration))
	}
	if p.MinBidIncrementBps == 0 {
		errs = append(errs, errors.New("min bid increment must be positive"))
	}
	if p.ExtensionWindow < 0 {
		errs = append(errs, errors.New("extension window must not be negative"))
	}
	if p.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("max batch size must be positive"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("market: invalid params: %w", errors.Join(errs...))
}
