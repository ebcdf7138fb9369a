// Package model defines the core domain types shared across the asset manager.
// Token, collateral and price amounts are 256-bit integers (cosmossdk.io/math);
// decimal.Decimal appears only in human-facing views, never in accounting.
package model

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// CollateralType describes a collateral token accepted by an asset manager
// and how its price relative to the f-asset is obtained.
type CollateralType struct {
	Token    string `json:"token"`
	Decimals uint8  `json:"decimals"`
	// AssetFtsoSymbol is the price feed symbol of the underlying asset.
	AssetFtsoSymbol string `json:"asset_ftso_symbol"`
	// TokenFtsoSymbol is empty for direct-peg collateral.
	TokenFtsoSymbol string `json:"token_ftso_symbol,omitempty"`
	DirectPricePair bool   `json:"direct_price_pair"`
}

// IsDirectPeg reports whether the token price lookup is skipped and
// treated as (1, 0 decimals).
func (c CollateralType) IsDirectPeg() bool {
	return c.DirectPricePair || c.TokenFtsoSymbol == ""
}

// Agent is the ledger entry of one agent vault.
type Agent struct {
	VaultAddress      string      `json:"vault_address" db:"vault_address"`
	Manager           string      `json:"manager" db:"manager"`
	Owner             string      `json:"owner" db:"owner"`
	UnderlyingAddress string      `json:"underlying_address" db:"underlying_address"`
	CollateralToken   string      `json:"collateral_token" db:"collateral_token"`
	Status            AgentStatus `json:"status" db:"status"`
	Available         bool        `json:"available" db:"available"`
	MintingFeeBIPS    uint64      `json:"minting_fee_bips" db:"minting_fee_bips"`

	CollateralWei sdkmath.Uint `json:"collateral_wei" db:"collateral_wei"`
	// FreeUnderlyingBalanceUBA may go negative after an illegal or
	// overspending payment from the agent's underlying address.
	FreeUnderlyingBalanceUBA sdkmath.Int  `json:"free_underlying_balance_uba" db:"free_underlying_balance_uba"`
	ReservedAMG              sdkmath.Uint `json:"reserved_amg" db:"reserved_amg"`
	MintedAMG                sdkmath.Uint `json:"minted_amg" db:"minted_amg"`
	RedeemingAMG             sdkmath.Uint `json:"redeeming_amg" db:"redeeming_amg"`

	CreatedAt                time.Time `json:"created_at" db:"created_at"`
	CreatedAtUnderlyingBlock uint64    `json:"created_at_underlying_block" db:"created_at_underlying_block"`
	CCBStartedAt             time.Time `json:"ccb_started_at,omitempty" db:"ccb_started_at"`
	LiquidationStartedAt     time.Time `json:"liquidation_started_at,omitempty" db:"liquidation_started_at"`
	DestroyAllowedAt         time.Time `json:"destroy_allowed_at,omitempty" db:"destroy_allowed_at"`

	WithdrawalAnnouncedWei sdkmath.Uint `json:"withdrawal_announced_wei" db:"withdrawal_announced_wei"`
	WithdrawalAllowedAt    time.Time    `json:"withdrawal_allowed_at,omitempty" db:"withdrawal_allowed_at"`

	// UnderlyingWithdrawalID is non-zero while an underlying withdrawal is announced.
	UnderlyingWithdrawalID          uint64    `json:"underlying_withdrawal_id,omitempty" db:"underlying_withdrawal_id"`
	UnderlyingWithdrawalAnnouncedAt time.Time `json:"underlying_withdrawal_announced_at,omitempty" db:"underlying_withdrawal_announced_at"`
}

// BackedAMG is the amount of f-asset value the agent's collateral must cover:
// minted, reserved for minting, and being redeemed.
func (a *Agent) BackedAMG() sdkmath.Uint {
	return a.MintedAMG.Add(a.ReservedAMG).Add(a.RedeemingAMG)
}

// Clone returns a deep-enough copy; amounts are immutable values.
func (a *Agent) Clone() *Agent {
	c := *a
	return &c
}

// ReservationStatus tracks a collateral reservation through its lifecycle.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationMinted    ReservationStatus = "MINTED"
	ReservationDefaulted ReservationStatus = "DEFAULTED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// CollateralReservation holds an agent's collateral for a minter until the
// underlying payment is proven or the window passes.
type CollateralReservation struct {
	ID                uint64       `json:"id" db:"id"`
	Manager           string       `json:"manager" db:"manager"`
	AgentVault        string       `json:"agent_vault" db:"agent_vault"`
	Minter            string       `json:"minter" db:"minter"`
	ValueAMG          sdkmath.Uint `json:"value_amg" db:"value_amg"`
	ValueUBA          sdkmath.Uint `json:"value_uba" db:"value_uba"`
	MintingFeeUBA     sdkmath.Uint `json:"minting_fee_uba" db:"minting_fee_uba"`
	ReservationFeeWei sdkmath.Uint `json:"reservation_fee_wei" db:"reservation_fee_wei"`

	FirstUnderlyingBlock    uint64 `json:"first_underlying_block" db:"first_underlying_block"`
	LastUnderlyingBlock     uint64 `json:"last_underlying_block" db:"last_underlying_block"`
	LastUnderlyingTimestamp int64  `json:"last_underlying_timestamp" db:"last_underlying_timestamp"`

	PaymentAddress   string            `json:"payment_address" db:"payment_address"`
	PaymentReference string            `json:"payment_reference" db:"payment_reference"`
	Status           ReservationStatus `json:"status" db:"status"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
}

// RedemptionTicket is one queued slice of minted backing. Tickets are
// appended when minting executes and consumed oldest first by redemptions.
type RedemptionTicket struct {
	ID         uint64       `json:"id"`
	AgentVault string       `json:"agent_vault"`
	ValueAMG   sdkmath.Uint `json:"value_amg"`
	CreatedAt  time.Time    `json:"created_at"`
}

// RedemptionStatus tracks a redemption request.
type RedemptionStatus string

const (
	RedemptionActive    RedemptionStatus = "ACTIVE"
	RedemptionPaid      RedemptionStatus = "PAID"
	RedemptionDefaulted RedemptionStatus = "DEFAULTED"
)

// RedemptionRequest is a redeemer's claim against one agent, carved out of
// one or more tickets of that agent.
type RedemptionRequest struct {
	ID                        uint64       `json:"id" db:"id"`
	Manager                   string       `json:"manager" db:"manager"`
	AgentVault                string       `json:"agent_vault" db:"agent_vault"`
	Redeemer                  string       `json:"redeemer" db:"redeemer"`
	RedeemerUnderlyingAddress string       `json:"redeemer_underlying_address" db:"redeemer_underlying_address"`
	ValueAMG                  sdkmath.Uint `json:"value_amg" db:"value_amg"`
	ValueUBA                  sdkmath.Uint `json:"value_uba" db:"value_uba"`
	FeeUBA                    sdkmath.Uint `json:"fee_uba" db:"fee_uba"`

	FirstUnderlyingBlock    uint64 `json:"first_underlying_block" db:"first_underlying_block"`
	LastUnderlyingBlock     uint64 `json:"last_underlying_block" db:"last_underlying_block"`
	LastUnderlyingTimestamp int64  `json:"last_underlying_timestamp" db:"last_underlying_timestamp"`

	PaymentReference string           `json:"payment_reference" db:"payment_reference"`
	Status           RedemptionStatus `json:"status" db:"status"`
	RequestedAt      time.Time        `json:"requested_at" db:"requested_at"`
}

// AgentInfo is the read view of an agent with derived risk figures.
type AgentInfo struct {
	Agent
	// CollateralRatio is collateral / backed value (1.5 = 150%). Zero when
	// nothing is backed; see Unbacked.
	CollateralRatio     decimal.Decimal `json:"collateral_ratio"`
	CollateralRatioBIPS uint64          `json:"collateral_ratio_bips"`
	Unbacked            bool            `json:"unbacked"`
	FreeCollateralWei   sdkmath.Uint    `json:"free_collateral_wei"`
	FreeCollateralLots  uint64          `json:"free_collateral_lots"`
	LiquidationFactor   uint64          `json:"liquidation_factor_bips,omitempty"`
}
