package typedcredential

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Protocol is the registry protocol version a deployment speaks. The version decides the
// credential schema, the verify result shape and the Issued event layout, so it is chosen once
// when a client is constructed.
type Protocol uint8

const (
	// ProtocolV1 has no ipfsCid anywhere.
	ProtocolV1 Protocol = 1
	// ProtocolV2 adds ipfsCid to the credential schema, the verify result and the Issued event.
	ProtocolV2 Protocol = 2
)

// PrimaryType is the EIP-712 primary type name of a credential.
const PrimaryType = "Credential"

var domainFields = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var credentialFieldsV1 = []apitypes.Type{
	{Name: "docHash", Type: "bytes32"},
	{Name: "studentName", Type: "string"},
	{Name: "course", Type: "string"},
	{Name: "issueDate", Type: "uint64"},
}

var credentialFieldsV2 = append(append([]apitypes.Type{}, credentialFieldsV1...),
	apitypes.Type{Name: "ipfsCid", Type: "string"},
)

// ParseProtocol accepts "v1", "1", "v2" and "2".
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "v1", "1":
		return ProtocolV1, nil
	case "v2", "2":
		return ProtocolV2, nil
	default:
		return 0, fmt.Errorf("unknown registry protocol %q", s)
	}
}

func (p Protocol) String() string {
	switch p {
	case ProtocolV1:
		return "v1"
	case ProtocolV2:
		return "v2"
	default:
		return fmt.Sprintf("Protocol(%d)", uint8(p))
	}
}

// Valid reports whether p is a known protocol version.
func (p Protocol) Valid() bool {
	return p == ProtocolV1 || p == ProtocolV2
}

// HasIPFSCID reports whether the protocol carries an ipfsCid field.
func (p Protocol) HasIPFSCID() bool {
	return p == ProtocolV2
}

// CredentialFields returns the ordered credential schema. Field order is part of what is signed.
func (p Protocol) CredentialFields() []apitypes.Type {
	fields := credentialFieldsV1
	if p.HasIPFSCID() {
		fields = credentialFieldsV2
	}
	return append([]apitypes.Type(nil), fields...)
}

// Types returns the full EIP-712 type set, domain included.
func (p Protocol) Types() apitypes.Types {
	return apitypes.Types{
		"EIP712Domain": append([]apitypes.Type(nil), domainFields...),
		PrimaryType:    p.CredentialFields(),
	}
}

// TypeString returns the canonical type encoding, e.g.
// "Credential(bytes32 docHash,string studentName,string course,uint64 issueDate)".
func (p Protocol) TypeString() string {
	fields := p.CredentialFields()
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.Type + " " + f.Name
	}
	return PrimaryType + "(" + strings.Join(parts, ",") + ")"
}
