// Package crypto recovers signer addresses from off-chain signed messages.
// Recovery is a pure function; no shared state.
package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrMalformedSignature is returned when the signature is not a hex
	// encoded 65-byte secp256k1 signature.
	ErrMalformedSignature = errors.New("sigverify: malformed signature")
	// ErrRecoveryFailed is returned when no public key can be recovered.
	ErrRecoveryFailed = errors.New("sigverify: recovery failed")
	// ErrNoTimestamp is returned when a signed message carries no parsable
	// trailing timestamp.
	ErrNoTimestamp = errors.New("sigverify: message has no timestamp")
)

// RecoverSigner returns the lower-cased hex address that produced the
// signature over the message, using the standard Ethereum signed-message
// prefix.
func RecoverSigner(message string, signature string) (string, error) {
	sig, err := decodeSignature(signature)
	if err != nil {
		return "", err
	}
	digest := prefixedHash([]byte(message))
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecoveryFailed, err)
	}
	addr := ethcrypto.PubkeyToAddress(*pub)
	return strings.ToLower(addr.Hex()), nil
}

// MessageTimestamp extracts the trailing unix timestamp from a signed
// provisioning message of the form "... at <unix seconds>".
func MessageTimestamp(message string) (time.Time, error) {
	fields := strings.Fields(strings.TrimSpace(message))
	if len(fields) == 0 {
		return time.Time{}, ErrNoTimestamp
	}
	secs, err := strconv.ParseInt(fields[len(fields)-1], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrNoTimestamp, err)
	}
	return time.Unix(secs, 0).UTC(), nil
}

func decodeSignature(signature string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(signature), "0x")
	sig, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrMalformedSignature, len(sig))
	}
	// Accept both the raw 0/1 recovery id and the 27/28 convention.
	out := make([]byte, 65)
	copy(out, sig)
	if out[64] >= 27 {
		out[64] -= 27
	}
	if out[64] > 1 {
		return nil, fmt.Errorf("%w: recovery id %d", ErrMalformedSignature, sig[64])
	}
	return out, nil
}

func prefixedHash(message []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return ethcrypto.Keccak256(append([]byte(prefix), message...))
}
