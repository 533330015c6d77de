// Package identity derives the canonical marketplace account names every
// component uses to authorize callers. Both the coordinator and the vaults
// recompute the same derivation instead of trusting any stored allow-list, so
// the functions here must stay pure and deterministic.
package identity

import "strings"

// AccountID is an opaque, globally unique account handle.
type AccountID string

const (
	testnetMarker = "testnet"

	testnetRoot = "nftsale.testnet"
	mainnetRoot = "nftsale.near"
)

func (a AccountID) String() string {
	return string(a)
}

// IsTestnet reports whether the account lives on the test network, decided by
// the fixed 7-character suffix of its name.
func (a AccountID) IsTestnet() bool {
	s := string(a)
	if len(s) < len(testnetMarker) {
		return false
	}
	return s[len(s)-len(testnetMarker):] == testnetMarker
}

// MarketRoot returns the marketplace root account on the same network as the
// given account. Vaults compare their predecessor against this value to accept
// only calls relayed by the coordinator.
func MarketRoot(account AccountID) AccountID {
	if account.IsTestnet() {
		return AccountID(testnetRoot)
	}
	return AccountID(mainnetRoot)
}

// Subaccount computes the vault account for a chosen label, rooted on the same
// network as the owning account. Any label yields a syntactically well-formed
// name; label validation happens upstream.
func Subaccount(owner AccountID, label string) AccountID {
	var b strings.Builder
	b.WriteString(label)
	b.WriteByte('.')
	b.WriteString(string(MarketRoot(owner)))
	return AccountID(b.String())
}
