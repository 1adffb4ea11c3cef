package registry

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pilacorp/go-credential-registry/typedcredential"
)

//go:embed contract/*.json
var artifacts embed.FS

var artifactFiles = map[typedcredential.Protocol]string{
	typedcredential.ProtocolV1: "contract/credential_registry_v1.json",
	typedcredential.ProtocolV2: "contract/credential_registry_v2.json",
}

type parsedArtifact struct {
	once sync.Once
	abi  abi.ABI
	err  error
}

var parsedABIs = map[typedcredential.Protocol]*parsedArtifact{
	typedcredential.ProtocolV1: {},
	typedcredential.ProtocolV2: {},
}

// IssuerRole is the AccessControl role allowed to issue and revoke, keccak256("ISSUER_ROLE").
var IssuerRole = [32]byte(crypto.Keccak256([]byte("ISSUER_ROLE")))

// Contract method and event names.
const (
	MethodIssue              = "issue"
	MethodRevoke             = "revoke"
	MethodIssueWithSignature = "issueWithSignature"
	MethodVerify             = "verify"
	MethodHasRole            = "hasRole"
	MethodGrantRole          = "grantRole"

	EventIssued  = "Issued"
	EventRevoked = "Revoked"
)

// CredentialTupleV1 is the issueWithSignature credential argument of protocol v1.
type CredentialTupleV1 struct {
	DocHash     [32]byte
	StudentName string
	Course      string
	IssueDate   uint64
}

// CredentialTupleV2 is the issueWithSignature credential argument of protocol v2.
type CredentialTupleV2 struct {
	DocHash     [32]byte
	StudentName string
	Course      string
	IssueDate   uint64
	IpfsCid     string
}

// ABI returns the registry contract ABI for protocol p. Artifacts are parsed once.
func ABI(p typedcredential.Protocol) (abi.ABI, error) {
	parsed, ok := parsedABIs[p]
	if !ok {
		return abi.ABI{}, fmt.Errorf("no contract artifact for protocol %s", p)
	}

	parsed.once.Do(func() {
		raw, err := artifacts.ReadFile(artifactFiles[p])
		if err != nil {
			parsed.err = fmt.Errorf("failed to read contract artifact: %w", err)
			return
		}

		type hardhatArtifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		var artifact hardhatArtifact
		if err := json.Unmarshal(raw, &artifact); err != nil {
			parsed.err = fmt.Errorf("failed to unmarshal artifact JSON: %w", err)
			return
		}
		parsed.abi, parsed.err = abi.JSON(strings.NewReader(string(artifact.ABI)))
	})

	return parsed.abi, parsed.err
}

// credentialTuple converts a record to the issueWithSignature argument for protocol p.
func credentialTuple(p typedcredential.Protocol, r typedcredential.Record) any {
	if p.HasIPFSCID() {
		return CredentialTupleV2{
			DocHash:     r.DocHash.Bytes32(),
			StudentName: r.StudentName,
			Course:      r.Course,
			IssueDate:   r.IssueDate,
			IpfsCid:     r.IPFSCID,
		}
	}
	return CredentialTupleV1{
		DocHash:     r.DocHash.Bytes32(),
		StudentName: r.StudentName,
		Course:      r.Course,
		IssueDate:   r.IssueDate,
	}
}
