package registrytest

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pilacorp/go-credential-registry/fingerprint"
	"github.com/pilacorp/go-credential-registry/registry"
	"github.com/pilacorp/go-credential-registry/typedcredential"
)

// execute runs calldata from `from` against the registry. State changes and logs are applied
// only when commit is set. Callers hold l.mu.
func (l *Ledger) execute(from common.Address, data []byte, commit bool) ([]byte, []*types.Log, *RevertError) {
	if len(data) < 4 {
		return nil, nil, &RevertError{}
	}
	method, err := l.abi.MethodById(data[:4])
	if err != nil {
		return nil, nil, &RevertError{}
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, l.reason("invalid calldata")
	}

	switch method.Name {
	case registry.MethodIssue:
		docHash := args[0].([32]byte)
		if rev := l.requireRole(registry.IssuerRole, from); rev != nil {
			return nil, nil, rev
		}
		if rev := l.requireNotIssued(docHash); rev != nil {
			return nil, nil, rev
		}
		if !commit {
			return nil, nil, nil
		}
		return nil, l.issue(docHash, from, ""), nil

	case registry.MethodRevoke:
		docHash := args[0].([32]byte)
		if rev := l.requireRole(registry.IssuerRole, from); rev != nil {
			return nil, nil, rev
		}
		state, ok := l.credentials[docHash]
		if !ok || !state.issued {
			return nil, nil, l.customError("NotIssued", docHash)
		}
		if state.revoked {
			return nil, nil, l.customError("AlreadyRevoked", docHash)
		}
		if !commit {
			return nil, nil, nil
		}
		state.revoked = true
		return nil, []*types.Log{l.eventLog(registry.EventRevoked, docHash, from, l.blockTime)}, nil

	case registry.MethodIssueWithSignature:
		record := l.recordArg(args[0])
		signer, rev := l.recoverSigner(record, args[1].(uint8), args[2].([32]byte), args[3].([32]byte))
		if rev != nil {
			return nil, nil, rev
		}
		if !l.hasRole(registry.IssuerRole, signer) {
			return nil, nil, l.customError("UnauthorizedSigner", signer)
		}
		docHash := record.DocHash.Bytes32()
		if rev := l.requireNotIssued(docHash); rev != nil {
			return nil, nil, rev
		}
		if !commit {
			return nil, nil, nil
		}
		return nil, l.issue(docHash, signer, record.IPFSCID), nil

	case registry.MethodGrantRole:
		role := args[0].([32]byte)
		if rev := l.requireRole([32]byte{}, from); rev != nil {
			return nil, nil, rev
		}
		if commit {
			l.grant(role, args[1].(common.Address))
		}
		return nil, nil, nil

	case registry.MethodVerify:
		state := l.credentials[args[0].([32]byte)]
		if state == nil {
			state = &credentialState{}
		}
		values := []any{state.issued, state.revoked, state.issuedAt, state.issuer}
		if l.protocol.HasIPFSCID() {
			values = append(values, state.cid)
		}
		return l.pack(method, values...), nil, nil

	case registry.MethodHasRole:
		return l.pack(method, l.hasRole(args[0].([32]byte), args[1].(common.Address))), nil, nil

	case "ISSUER_ROLE":
		return l.pack(method, registry.IssuerRole), nil, nil

	case "DEFAULT_ADMIN_ROLE":
		return l.pack(method, [32]byte{}), nil, nil

	default:
		return nil, nil, l.reason("unsupported method " + method.Name)
	}
}

func (l *Ledger) issue(docHash [32]byte, issuer common.Address, cid string) []*types.Log {
	l.credentials[docHash] = &credentialState{
		issued:   true,
		issuedAt: l.blockTime,
		issuer:   issuer,
		cid:      cid,
	}
	values := []any{l.blockTime}
	if l.protocol.HasIPFSCID() {
		values = append(values, cid)
	}
	return []*types.Log{l.eventLog(registry.EventIssued, docHash, issuer, values...)}
}

func (l *Ledger) recordArg(arg any) typedcredential.Record {
	if l.protocol.HasIPFSCID() {
		t := abi.ConvertType(arg, new(registry.CredentialTupleV2)).(*registry.CredentialTupleV2)
		return typedcredential.Record{DocHash: fingerprint.Digest(t.DocHash), StudentName: t.StudentName, Course: t.Course, IssueDate: t.IssueDate, IPFSCID: t.IpfsCid}
	}
	t := abi.ConvertType(arg, new(registry.CredentialTupleV1)).(*registry.CredentialTupleV1)
	return typedcredential.Record{DocHash: fingerprint.Digest(t.DocHash), StudentName: t.StudentName, Course: t.Course, IssueDate: t.IssueDate}
}

// recoverSigner reproduces the contract's EIP-712 recovery for record under the deployed domain.
func (l *Ledger) recoverSigner(record typedcredential.Record, v uint8, r, s [32]byte) (common.Address, *RevertError) {
	domain := typedcredential.NewDomain(l.chainID, l.address)
	domain.Name = l.domainName
	domain.Version = l.domainVersion

	encoded, err := l.encoder.Encode(domain, record)
	if err != nil {
		return common.Address{}, l.reason("invalid credential")
	}

	if v != 27 && v != 28 {
		return common.Address{}, l.customError("ECDSAInvalidSignature")
	}
	if !crypto.ValidateSignatureValues(v-27, new(big.Int).SetBytes(r[:]), new(big.Int).SetBytes(s[:]), true) {
		return common.Address{}, l.customError("ECDSAInvalidSignatureS", s)
	}

	sig := make([]byte, 0, 65)
	sig = append(sig, r[:]...)
	sig = append(sig, s[:]...)
	sig = append(sig, v-27)

	pub, err := crypto.SigToPub(encoded.Hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, l.customError("ECDSAInvalidSignature")
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func (l *Ledger) requireRole(role [32]byte, account common.Address) *RevertError {
	if !l.hasRole(role, account) {
		return l.customError("AccessControlUnauthorizedAccount", account, role)
	}
	return nil
}

func (l *Ledger) requireNotIssued(docHash [32]byte) *RevertError {
	if state, ok := l.credentials[docHash]; ok && state.issued {
		return l.customError("AlreadyIssued", docHash)
	}
	return nil
}

func (l *Ledger) hasRole(role [32]byte, account common.Address) bool {
	return l.roles[role][account]
}

func (l *Ledger) grant(role [32]byte, account common.Address) {
	if l.roles[role] == nil {
		l.roles[role] = map[common.Address]bool{}
	}
	l.roles[role][account] = true
}

func (l *Ledger) eventLog(name string, docHash [32]byte, actor common.Address, values ...any) *types.Log {
	ev := l.abi.Events[name]
	data, err := ev.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		panic(err)
	}
	return &types.Log{
		Address: l.address,
		Topics:  []common.Hash{ev.ID, common.Hash(docHash), common.BytesToHash(actor.Bytes())},
		Data:    data,
	}
}

func (l *Ledger) pack(method *abi.Method, values ...any) []byte {
	out, err := method.Outputs.Pack(values...)
	if err != nil {
		panic(err)
	}
	return out
}

func (l *Ledger) customError(name string, args ...any) *RevertError {
	e := l.abi.Errors[name]
	packed, err := e.Inputs.Pack(args...)
	if err != nil {
		panic(err)
	}
	data := append(common.CopyBytes(e.ID[:4]), packed...)
	return &RevertError{Reason: registry.DecodeRevert(l.abi, data).Reason, Data: data}
}

// reason reverts with require-style Error(string).
func (l *Ledger) reason(msg string) *RevertError {
	strType, _ := abi.NewType("string", "", nil)
	packed, err := abi.Arguments{{Type: strType}}.Pack(msg)
	if err != nil {
		panic(err)
	}
	data := append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...)
	return &RevertError{Reason: msg, Data: data}
}
