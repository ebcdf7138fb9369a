// Package paymentref encodes the 32-byte payment references that tie an
// underlying-chain payment to a reservation, redemption, withdrawal or topup.
//
// The top 8 bytes carry a type tag, the low 24 bytes the id (or, for topups,
// the 20-byte agent vault address). References are rendered as 0x-prefixed,
// 64-character lowercase hex.
package paymentref

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/atmx/fasset-manager/internal/apperr"
)

// Type is the tag in the top 64 bits of a reference.
type Type uint64

const (
	TypeMinting             Type = 0x4642505266410001
	TypeRedemption          Type = 0x4642505266410002
	TypeAnnouncedWithdrawal Type = 0x4642505266410003
	TypeTopup               Type = 0x4642505266410011
)

var (
	ErrInvalidReference = apperr.New(apperr.KindValidation, "paymentref: invalid reference")
	ErrInvalidAddress   = apperr.New(apperr.KindValidation, "paymentref: invalid address")
)

func encode(t Type, low []byte) string {
	var ref [32]byte
	binary.BigEndian.PutUint64(ref[:8], uint64(t))
	copy(ref[32-len(low):], low)
	return "0x" + hex.EncodeToString(ref[:])
}

func encodeID(t Type, id uint64) string {
	var low [8]byte
	binary.BigEndian.PutUint64(low[:], id)
	return encode(t, low[:])
}

// Minting is the reference of collateral reservation id.
func Minting(id uint64) string { return encodeID(TypeMinting, id) }

// Redemption is the reference of redemption request id.
func Redemption(id uint64) string { return encodeID(TypeRedemption, id) }

// AnnouncedWithdrawal is the reference of announced underlying withdrawal id.
func AnnouncedWithdrawal(id uint64) string { return encodeID(TypeAnnouncedWithdrawal, id) }

// Topup is the reference an agent uses to top up its underlying address.
func Topup(vault string) (string, error) {
	addr, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(vault), "0x"))
	if err != nil || len(addr) != 20 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, vault)
	}
	return encode(TypeTopup, addr), nil
}

// Decode splits a reference into its type tag and low 64 bits. Topup
// references carry an address, so their id is not meaningful.
func Decode(ref string) (Type, uint64, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(ref), "0x"))
	if err != nil || len(raw) != 32 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	return Type(binary.BigEndian.Uint64(raw[:8])), binary.BigEndian.Uint64(raw[24:]), nil
}

// Normalize lowercases ref so that references compare by value.
func Normalize(ref string) string {
	return strings.ToLower(ref)
}

// Equal compares two references case-insensitively.
func Equal(a, b string) bool {
	return strings.EqualFold(a, b)
}
