package typedcredential

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-credential-registry/fingerprint"
	"github.com/pilacorp/go-credential-registry/regerr"
)

var (
	testRegistry = common.HexToAddress("0x0C6Fe5983595528E2B27294bc6b9a5C7736989EB")
	testChainID  = big.NewInt(11155111)
	testIssuedAt = time.Unix(1760000000, 0)
)

func fixedClock() time.Time { return testIssuedAt }

func testRecord() Record {
	return NewRecord(fingerprint.Sum([]byte("test")), "Ada Lovelace", "Analytical Engines", testIssuedAt)
}

func newTestEncoder(t *testing.T, p Protocol) *Encoder {
	t.Helper()
	enc, err := NewEncoder(p, WithClock(fixedClock))
	require.NoError(t, err)
	return enc
}

// manualHash recomputes the EIP-712 digest field by field with raw keccak and ABI word encoding.
func manualHash(p Protocol, d Domain, r Record) common.Hash {
	word := func(b []byte) []byte { return common.LeftPadBytes(b, 32) }

	domainType := crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	separator := crypto.Keccak256(
		domainType,
		crypto.Keccak256([]byte(d.Name)),
		crypto.Keccak256([]byte(d.Version)),
		word(d.ChainID.Bytes()),
		word(d.VerifyingContract.Bytes()),
	)

	fields := [][]byte{
		crypto.Keccak256([]byte(p.TypeString())),
		r.DocHash[:],
		crypto.Keccak256([]byte(r.StudentName)),
		crypto.Keccak256([]byte(r.Course)),
		word(new(big.Int).SetUint64(r.IssueDate).Bytes()),
	}
	if p.HasIPFSCID() {
		fields = append(fields, crypto.Keccak256([]byte(r.IPFSCID)))
	}
	structHash := crypto.Keccak256(fields...)

	return crypto.Keccak256Hash([]byte{0x19, 0x01}, separator, structHash)
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "Credential(bytes32 docHash,string studentName,string course,uint64 issueDate)", ProtocolV1.TypeString())
	assert.Equal(t, "Credential(bytes32 docHash,string studentName,string course,uint64 issueDate,string ipfsCid)", ProtocolV2.TypeString())
}

func TestEncodeMatchesManualEIP712(t *testing.T) {
	domain := NewDomain(testChainID, testRegistry)

	tests := []struct {
		name     string
		protocol Protocol
		record   Record
	}{
		{name: "v1", protocol: ProtocolV1, record: testRecord()},
		{name: "v2 with cid", protocol: ProtocolV2, record: testRecord().WithIPFSCID("bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi")},
		{name: "v2 without cid", protocol: ProtocolV2, record: testRecord()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := newTestEncoder(t, tt.protocol).Encode(domain, tt.record)
			require.NoError(t, err)
			assert.Equal(t, manualHash(tt.protocol, domain, tt.record), encoded.Hash)
			assert.Equal(t, PrimaryType, encoded.TypedData.PrimaryType)
		})
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	enc := newTestEncoder(t, ProtocolV1)
	domain := NewDomain(testChainID, testRegistry)

	first, err := enc.Encode(domain, testRecord())
	require.NoError(t, err)
	second, err := enc.Encode(domain, testRecord())
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, first.DomainSeparator, second.DomainSeparator)
	assert.Equal(t, first.TypedData, second.TypedData)
}

func TestEncodeSeparatesDomainsAndProtocols(t *testing.T) {
	record := testRecord()
	base, err := newTestEncoder(t, ProtocolV1).Encode(NewDomain(testChainID, testRegistry), record)
	require.NoError(t, err)

	otherChain, err := newTestEncoder(t, ProtocolV1).Encode(NewDomain(big.NewInt(1), testRegistry), record)
	require.NoError(t, err)
	assert.NotEqual(t, base.Hash, otherChain.Hash)

	otherContract, err := newTestEncoder(t, ProtocolV1).Encode(NewDomain(testChainID, common.HexToAddress("0x01")), record)
	require.NoError(t, err)
	assert.NotEqual(t, base.Hash, otherContract.Hash)

	v2, err := newTestEncoder(t, ProtocolV2).Encode(NewDomain(testChainID, testRegistry), record)
	require.NoError(t, err)
	assert.NotEqual(t, base.Hash, v2.Hash)
	assert.Equal(t, base.DomainSeparator, v2.DomainSeparator)
}

func TestEncodeValidation(t *testing.T) {
	domain := NewDomain(testChainID, testRegistry)

	tests := []struct {
		name     string
		protocol Protocol
		domain   Domain
		mutate   func(r *Record)
	}{
		{name: "empty student name", protocol: ProtocolV1, domain: domain, mutate: func(r *Record) { r.StudentName = "" }},
		{name: "blank course", protocol: ProtocolV1, domain: domain, mutate: func(r *Record) { r.Course = "  " }},
		{name: "zero digest", protocol: ProtocolV1, domain: domain, mutate: func(r *Record) { r.DocHash = fingerprint.Digest{} }},
		{name: "cid under v1", protocol: ProtocolV1, domain: domain, mutate: func(r *Record) { r.IPFSCID = "bafy" }},
		{name: "issue date in the past", protocol: ProtocolV1, domain: domain, mutate: func(r *Record) { r.IssueDate -= 3600 }},
		{name: "issue date in the future", protocol: ProtocolV2, domain: domain, mutate: func(r *Record) { r.IssueDate += 3600 }},
		{name: "issue date overflow", protocol: ProtocolV2, domain: domain, mutate: func(r *Record) { r.IssueDate = 1 << 63 }},
		{name: "missing chain", protocol: ProtocolV1, domain: Domain{Name: "CredentialRegistry", Version: "1", VerifyingContract: testRegistry}, mutate: func(r *Record) {}},
		{name: "missing contract", protocol: ProtocolV1, domain: NewDomain(testChainID, common.Address{}), mutate: func(r *Record) {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := testRecord()
			tt.mutate(&record)

			encoded, err := newTestEncoder(t, tt.protocol).Encode(tt.domain, record)
			require.Error(t, err)
			assert.Nil(t, encoded)
			assert.True(t, errors.Is(err, regerr.ErrInvalidInput))
		})
	}
}

func TestCheckNeedsNoDomain(t *testing.T) {
	enc := newTestEncoder(t, ProtocolV1)
	assert.NoError(t, enc.Check(testRecord()))

	record := testRecord()
	record.StudentName = ""
	assert.ErrorIs(t, enc.Check(record), regerr.ErrInvalidInput)

	record = testRecord()
	record.IssueDate -= 3600
	assert.ErrorIs(t, enc.Check(record), regerr.ErrInvalidInput)
}

func TestEncodeSkewDisabled(t *testing.T) {
	enc, err := NewEncoder(ProtocolV1, WithClock(fixedClock), WithIssueDateSkew(0))
	require.NoError(t, err)

	record := testRecord()
	record.IssueDate = 1
	_, err = enc.Encode(NewDomain(testChainID, testRegistry), record)
	assert.NoError(t, err)
}

func TestNewEncoderRejectsUnknownProtocol(t *testing.T) {
	_, err := NewEncoder(Protocol(9))
	assert.True(t, errors.Is(err, regerr.ErrInvalidInput))
}

func TestParseProtocol(t *testing.T) {
	for in, want := range map[string]Protocol{"v1": ProtocolV1, "1": ProtocolV1, "V2": ProtocolV2, " 2 ": ProtocolV2} {
		got, err := ParseProtocol(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseProtocol("v3")
	assert.Error(t, err)
}

func TestEncodedCredentialJSON(t *testing.T) {
	encoded, err := newTestEncoder(t, ProtocolV1).Encode(NewDomain(testChainID, testRegistry), testRecord())
	require.NoError(t, err)

	raw, err := json.Marshal(encoded)
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "Credential", payload["primaryType"])
	domain := payload["domain"].(map[string]any)
	assert.Equal(t, "CredentialRegistry", domain["name"])
	assert.Equal(t, testRegistry.Hex(), domain["verifyingContract"])
	message := payload["message"].(map[string]any)
	assert.Equal(t, "Ada Lovelace", message["studentName"])
	assert.NotContains(t, message, "ipfsCid")
}
