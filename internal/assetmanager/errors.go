package assetmanager

import "github.com/atmx/fasset-manager/internal/apperr"

var (
	ErrOnlyAssetManagerController = apperr.New(apperr.KindAuthorization, "assetmanager: only asset manager controller")
	ErrOnlyAgentOwner             = apperr.New(apperr.KindAuthorization, "assetmanager: only agent owner")
	ErrOnlyMinterOrAgent          = apperr.New(apperr.KindAuthorization, "assetmanager: only minter or agent owner")
	ErrOnlyRedeemerOrAgent        = apperr.New(apperr.KindAuthorization, "assetmanager: only redeemer or agent owner")
	ErrNotWhitelisted             = apperr.New(apperr.KindAuthorization, "assetmanager: owner not whitelisted")
	ErrConfirmationByOthersEarly  = apperr.New(apperr.KindAuthorization, "assetmanager: only agent owner may confirm yet")
	ErrWithdrawalNotAllowedYet    = apperr.New(apperr.KindAuthorization, "assetmanager: withdrawal not allowed yet")
	ErrDestroyNotAllowedYet       = apperr.New(apperr.KindAuthorization, "assetmanager: destroy not allowed yet")
	ErrConfirmationTooEarly       = apperr.New(apperr.KindAuthorization, "assetmanager: announced payment confirmation too early")
	ErrMintingDefaultTooEarly     = apperr.New(apperr.KindAuthorization, "assetmanager: minting payment window not over")
	ErrRedemptionDefaultTooEarly  = apperr.New(apperr.KindAuthorization, "assetmanager: redemption payment window not over")
	ErrExpiryTooEarly             = apperr.New(apperr.KindAuthorization, "assetmanager: reservation cannot expire yet")

	ErrInvalidArgument     = apperr.New(apperr.KindValidation, "assetmanager: invalid argument")
	ErrZeroAmount          = apperr.New(apperr.KindValidation, "assetmanager: amount must be positive")
	ErrZeroLots            = apperr.New(apperr.KindValidation, "assetmanager: lots must be positive")
	ErrFeeBipsTooHigh      = apperr.New(apperr.KindValidation, "assetmanager: fee bips above 100%")
	ErrAgentFeeTooHigh     = apperr.New(apperr.KindValidation, "assetmanager: agent's fee too high")
	ErrInappropriateFee    = apperr.New(apperr.KindValidation, "assetmanager: inappropriate reservation fee")
	ErrFAssetBalanceTooLow = apperr.New(apperr.KindValidation, "assetmanager: f-asset balance too low")
	ErrWithdrawalTooHigh   = apperr.New(apperr.KindValidation, "assetmanager: withdrawal above free collateral")

	ErrUnknownAgent       = apperr.New(apperr.KindNotFound, "assetmanager: unknown agent")
	ErrUnknownReservation = apperr.New(apperr.KindNotFound, "assetmanager: unknown collateral reservation")
	ErrUnknownRedemption  = apperr.New(apperr.KindNotFound, "assetmanager: unknown redemption request")
	ErrUnknownCollateral  = apperr.New(apperr.KindNotFound, "assetmanager: unknown collateral token")

	ErrAddressAlreadyClaimed     = apperr.New(apperr.KindStateConflict, "assetmanager: underlying address already claimed")
	ErrPaused                    = apperr.New(apperr.KindStateConflict, "assetmanager: paused")
	ErrTerminated                = apperr.New(apperr.KindStateConflict, "assetmanager: terminated")
	ErrNotPausedEnough           = apperr.New(apperr.KindStateConflict, "assetmanager: asset manager not paused enough")
	ErrReservationConsumed       = apperr.New(apperr.KindStateConflict, "assetmanager: collateral reservation already consumed")
	ErrRedemptionNotActive       = apperr.New(apperr.KindStateConflict, "assetmanager: redemption request not active")
	ErrPaymentAlreadyConfirmed   = apperr.New(apperr.KindStateConflict, "assetmanager: payment already confirmed")
	ErrInvalidAgentStatus        = apperr.New(apperr.KindStateConflict, "assetmanager: invalid agent status")
	ErrAgentNotAvailable         = apperr.New(apperr.KindStateConflict, "assetmanager: agent not available")
	ErrAgentAlreadyAvailable     = apperr.New(apperr.KindStateConflict, "assetmanager: agent already available")
	ErrAgentStillAvailable       = apperr.New(apperr.KindStateConflict, "assetmanager: agent still available")
	ErrNotEnoughFreeCollateral   = apperr.New(apperr.KindStateConflict, "assetmanager: not enough free collateral")
	ErrNothingToRedeem           = apperr.New(apperr.KindStateConflict, "assetmanager: redeem 0 lots")
	ErrNotInLiquidation          = apperr.New(apperr.KindStateConflict, "assetmanager: not in liquidation")
	ErrAlreadyLiquidating        = apperr.New(apperr.KindStateConflict, "assetmanager: already in full liquidation")
	ErrAnnouncedWithdrawalActive = apperr.New(apperr.KindStateConflict, "assetmanager: announced underlying withdrawal active")
	ErrNoAnnouncedWithdrawal     = apperr.New(apperr.KindStateConflict, "assetmanager: no announced underlying withdrawal")
	ErrWithdrawalNotAnnounced    = apperr.New(apperr.KindStateConflict, "assetmanager: collateral withdrawal not announced")
	ErrDestroyNotAnnounced       = apperr.New(apperr.KindStateConflict, "assetmanager: destroy not announced")
	ErrOutstandingBacking        = apperr.New(apperr.KindStateConflict, "assetmanager: agent still backs f-assets")

	ErrInvalidChain                   = apperr.New(apperr.KindAttestationMismatch, "assetmanager: invalid chain")
	ErrInvalidMintingReference        = apperr.New(apperr.KindAttestationMismatch, "assetmanager: invalid minting reference")
	ErrInvalidRedemptionReference     = apperr.New(apperr.KindAttestationMismatch, "assetmanager: invalid redemption reference")
	ErrNotUnderlyingAddress           = apperr.New(apperr.KindAttestationMismatch, "assetmanager: not underlying address")
	ErrNotAgentsUnderlyingAddress     = apperr.New(apperr.KindAttestationMismatch, "assetmanager: source not agent's underlying address")
	ErrNotRedeemerAddress             = apperr.New(apperr.KindAttestationMismatch, "assetmanager: not redeemer's address")
	ErrNotATopupPayment               = apperr.New(apperr.KindAttestationMismatch, "assetmanager: not a topup payment")
	ErrNegativePayment                = apperr.New(apperr.KindAttestationMismatch, "assetmanager: negative payment")
	ErrTopupBeforeAgentCreated        = apperr.New(apperr.KindAttestationMismatch, "assetmanager: topup before agent created")
	ErrMintingPaymentTooSmall         = apperr.New(apperr.KindAttestationMismatch, "assetmanager: minting payment too small")
	ErrMintingPaymentTooOld           = apperr.New(apperr.KindAttestationMismatch, "assetmanager: minting payment too old")
	ErrRedemptionPaymentTooSmall      = apperr.New(apperr.KindAttestationMismatch, "assetmanager: redemption payment too small")
	ErrRedemptionPaymentTooOld        = apperr.New(apperr.KindAttestationMismatch, "assetmanager: redemption payment too old")
	ErrRedemptionPaymentTooLate       = apperr.New(apperr.KindAttestationMismatch, "assetmanager: redemption payment too late")
	ErrNonPaymentMismatch             = apperr.New(apperr.KindAttestationMismatch, "assetmanager: non-payment proof mismatch")
	ErrWrongAnnouncedPaymentReference = apperr.New(apperr.KindAttestationMismatch, "assetmanager: wrong announced payment reference")
	ErrMatchingRedemptionActive       = apperr.New(apperr.KindAttestationMismatch, "assetmanager: matching redemption active")
	ErrMatchingAnnouncedPaymentActive = apperr.New(apperr.KindAttestationMismatch, "assetmanager: matching announced payment active")
	ErrTransactionConfirmed           = apperr.New(apperr.KindAttestationMismatch, "assetmanager: transaction already confirmed")
	ErrChallengeSameTransaction       = apperr.New(apperr.KindAttestationMismatch, "assetmanager: same transaction repeated")
	ErrChallengeNotDuplicate          = apperr.New(apperr.KindAttestationMismatch, "assetmanager: challenge: not duplicate")
)
