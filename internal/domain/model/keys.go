package model

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// Account records are addressed by deterministic keys derived from a fixed
// namespace seed plus the identifying parts. Any party holding the token and
// wallet identifiers can recompute the key, so no index table is needed to
// locate a wallet's approval or balance record.
const (
	NamespaceTokenConfig = "token_config"
	NamespaceAllowlist   = "allowlist"
	NamespaceBalance     = "balance"
)

// DeriveKey builds a content-addressed key from a namespace seed and parts.
// Parts are length-separated so ("ab","c") and ("a","bc") never collide.
func DeriveKey(namespace string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(namespace))
	for _, p := range parts {
		h.Write([]byte{0, byte(len(p) >> 8), byte(len(p))})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TokenConfigKey addresses a token's configuration record.
func TokenConfigKey(tokenID uuid.UUID) string {
	return DeriveKey(NamespaceTokenConfig, tokenID.String())
}

// AllowlistKey addresses the approval record for (token, wallet).
func AllowlistKey(tokenID uuid.UUID, wallet string) string {
	return DeriveKey(NamespaceAllowlist, tokenID.String(), wallet)
}

// BalanceKey addresses the balance record for (token, wallet).
func BalanceKey(tokenID uuid.UUID, wallet string) string {
	return DeriveKey(NamespaceBalance, tokenID.String(), wallet)
}
