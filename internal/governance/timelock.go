package governance

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/atmx/fasset-manager/internal/settings"
)

// Controller-level methods that are not asset manager settings.
const (
	MethodAddAssetManager    = "addAssetManager"
	MethodRemoveAssetManager = "removeAssetManager"
)

var controllerSignatures = map[string]string{
	MethodAddAssetManager:    "addAssetManager(address)",
	MethodRemoveAssetManager: "removeAssetManager(address)",
}

// Call is the decoded payload of a governance call. Manager is the
// argument of add/remove asset manager calls.
type Call struct {
	Method  string          `json:"method"`
	Targets []string        `json:"targets,omitempty"`
	Update  settings.Update `json:"update,omitempty"`
	Manager string          `json:"manager,omitempty"`
}

// TimelockedCall is a call waiting for its delay to elapse.
type TimelockedCall struct {
	Selector     string    `json:"selector"`
	EncodedCall  string    `json:"encoded_call"`
	AllowedAfter time.Time `json:"allowed_after"`
	Executed     bool      `json:"executed"`
	ExecutedAt   time.Time `json:"executed_at,omitempty"`
	Method       string    `json:"method"`
	TargetCount  int       `json:"target_count"`
}

// Selector returns the 4-byte Keccak-256 prefix of a method signature as
// 0x-prefixed hex.
func Selector(signature string) string {
	return "0x" + hex.EncodeToString(selectorBytes(signature))
}

func selectorBytes(signature string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return h.Sum(nil)[:4]
}

func signatureOf(method string) (string, error) {
	if sig, ok := controllerSignatures[method]; ok {
		return sig, nil
	}
	st, ok := settings.Lookup(method)
	if !ok {
		return "", fmt.Errorf("%w: %s", settings.ErrUnknownSetting, method)
	}
	return st.Signature, nil
}

// encode returns the selector and the hex encoded selector+JSON payload.
func encode(c Call) (selector, encoded string, err error) {
	sig, err := signatureOf(c.Method)
	if err != nil {
		return "", "", err
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return "", "", fmt.Errorf("governance: encode %s: %w", c.Method, err)
	}
	sel := selectorBytes(sig)
	return "0x" + hex.EncodeToString(sel), "0x" + hex.EncodeToString(append(sel, payload...)), nil
}

func decode(encoded string) (Call, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(encoded, "0x"))
	if err != nil || len(raw) < 4 {
		return Call{}, fmt.Errorf("%w: malformed encoded call", ErrUnknownSelector)
	}
	var c Call
	if err := json.Unmarshal(raw[4:], &c); err != nil {
		return Call{}, fmt.Errorf("governance: decode call: %w", err)
	}
	return c, nil
}
