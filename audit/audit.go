// Package audit merges the registry's Issued and Revoked event streams into one timeline.
//
// The timeline is best-effort: two fetches of the same window may disagree while the node is
// still indexing, so it is never a substitute for Verify.
package audit

import (
	"cmp"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pilacorp/go-credential-registry/fingerprint"
)

// DefaultWindow is the number of most recent events Merge keeps, and the most any window may
// hold.
const DefaultWindow = 20

// Kind distinguishes the two event streams.
type Kind uint8

const (
	KindIssued Kind = iota + 1
	KindRevoked
)

func (k Kind) String() string {
	switch k {
	case KindIssued:
		return "issued"
	case KindRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is one entry of the audit timeline.
type Event struct {
	Kind        Kind               `json:"kind"`
	DocHash     fingerprint.Digest `json:"docHash"`
	Issuer      common.Address     `json:"issuer"`
	BlockNumber uint64             `json:"blockNumber"`
	// Timestamp is the issuedAt or revokedAt value the contract emitted.
	Timestamp uint64      `json:"timestamp"`
	IPFSCID   string      `json:"ipfsCid,omitempty"`
	TxHash    common.Hash `json:"txHash"`
	LogIndex  uint        `json:"logIndex"`
}

// Merge returns the DefaultWindow most recent events of both streams in block order.
func Merge(issued, revoked []Event) []Event {
	return MergeWindow(issued, revoked, DefaultWindow)
}

// MergeWindow is Merge with a smaller window. Windows outside 1..DefaultWindow are clamped to
// DefaultWindow.
func MergeWindow(issued, revoked []Event, window int) []Event {
	if window <= 0 || window > DefaultWindow {
		window = DefaultWindow
	}

	merged := Timeline(issued, revoked)
	if len(merged) > window {
		merged = slices.Clone(merged[len(merged)-window:])
	}
	return merged
}

// Timeline concatenates issued and revoked and stable-sorts them by block number, keeping every
// event. It serves explicit backfills over a chosen block range. Events are never deduplicated:
// an issuance and a revocation of the same digest are distinct facts.
func Timeline(issued, revoked []Event) []Event {
	merged := make([]Event, 0, len(issued)+len(revoked))
	merged = append(merged, issued...)
	merged = append(merged, revoked...)

	slices.SortStableFunc(merged, func(a, b Event) int {
		return cmp.Compare(a.BlockNumber, b.BlockNumber)
	})
	return merged
}
