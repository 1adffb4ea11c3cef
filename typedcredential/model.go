package typedcredential

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/pilacorp/go-credential-registry/fingerprint"
	"github.com/pilacorp/go-credential-registry/regerr"
)

const (
	// DefaultDomainName is the EIP-712 domain name of the registry contract.
	DefaultDomainName = "CredentialRegistry"
	// DefaultDomainVersion is the EIP-712 domain version of the registry contract.
	DefaultDomainVersion = "1"
)

// Domain is the EIP-712 signing domain. Every field must match what the registry contract was
// deployed with, or the signature recovers to a different address on-chain.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewDomain builds a domain with the default name and version.
func NewDomain(chainID *big.Int, registry common.Address) Domain {
	return Domain{
		Name:              DefaultDomainName,
		Version:           DefaultDomainVersion,
		ChainID:           new(big.Int).Set(chainID),
		VerifyingContract: registry,
	}
}

// Validate checks that every domain field is populated.
func (d Domain) Validate() error {
	if d.Name == "" || d.Version == "" {
		return regerr.Input("signing domain name and version are required")
	}
	if d.ChainID == nil || d.ChainID.Sign() <= 0 {
		return regerr.Input("signing domain chain ID must be greater than 0")
	}
	if d.VerifyingContract == (common.Address{}) {
		return regerr.Input("signing domain verifying contract is required")
	}
	return nil
}

func (d Domain) typedDataDomain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              d.Name,
		Version:           d.Version,
		ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(d.ChainID)),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

// Record is the credential a signer authorises. It is built immediately before signing and is
// not modified afterwards.
type Record struct {
	DocHash     fingerprint.Digest `json:"docHash"`
	StudentName string             `json:"studentName"`
	Course      string             `json:"course"`
	IssueDate   uint64             `json:"issueDate"`
	// IPFSCID is only part of the signed structure under ProtocolV2.
	IPFSCID string `json:"ipfsCid,omitempty"`
}

// NewRecord builds a record stamped with issuedAt.
func NewRecord(docHash fingerprint.Digest, studentName, course string, issuedAt time.Time) Record {
	return Record{
		DocHash:     docHash,
		StudentName: studentName,
		Course:      course,
		IssueDate:   uint64(issuedAt.Unix()),
	}
}

// WithIPFSCID returns a copy of r carrying cid.
func (r Record) WithIPFSCID(cid string) Record {
	r.IPFSCID = cid
	return r
}

// Validate checks the record's fields against protocol p.
func (r Record) Validate(p Protocol) error {
	if r.DocHash.IsZero() {
		return regerr.Input("docHash is required")
	}
	if strings.TrimSpace(r.StudentName) == "" {
		return regerr.Input("studentName is required")
	}
	if strings.TrimSpace(r.Course) == "" {
		return regerr.Input("course is required")
	}
	if r.IPFSCID != "" && !p.HasIPFSCID() {
		return regerr.Input("ipfsCid is not part of the %s credential schema", p)
	}
	return nil
}

// CheckIssueDate rejects issue dates further than skew from now in either direction.
func (r Record) CheckIssueDate(now time.Time, skew time.Duration) error {
	issued := time.Unix(int64(r.IssueDate), 0)
	if r.IssueDate > 1<<63-1 || issued.Before(now.Add(-skew)) || issued.After(now.Add(skew)) {
		return regerr.Input("issueDate %d is not within %s of %d", r.IssueDate, skew, now.Unix())
	}
	return nil
}

func (r Record) message(p Protocol) apitypes.TypedDataMessage {
	msg := apitypes.TypedDataMessage{
		"docHash":     r.DocHash.Hex(),
		"studentName": r.StudentName,
		"course":      r.Course,
		"issueDate":   (*math.HexOrDecimal256)(new(big.Int).SetUint64(r.IssueDate)),
	}
	if p.HasIPFSCID() {
		msg["ipfsCid"] = r.IPFSCID
	}
	return msg
}
