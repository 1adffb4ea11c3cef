package registry

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/pilacorp/go-credential-registry/regerr"
)

var (
	errorSelector = []byte{0x08, 0xc3, 0x79, 0xa0}
	panicSelector = []byte{0x4e, 0x48, 0x7b, 0x71}
)

// Revert is a decoded contract revert.
type Revert struct {
	// Name is "Error", "Panic" or the name of a custom error declared in the ABI.
	Name string
	Args []any
	// Reason is the human-readable form: the require message, the panic description, or
	// Name(args...) for custom errors.
	Reason string
}

// DecodeRevert decodes revert data against contractABI. Unknown selectors decode to a Revert
// carrying the raw data as its reason.
func DecodeRevert(contractABI abi.ABI, data []byte) Revert {
	if len(data) < 4 {
		return Revert{Reason: "execution reverted"}
	}

	if bytes.Equal(data[:4], errorSelector) || bytes.Equal(data[:4], panicSelector) {
		name := "Error"
		if bytes.Equal(data[:4], panicSelector) {
			name = "Panic"
		}
		if reason, err := abi.UnpackRevert(data); err == nil {
			return Revert{Name: name, Reason: reason}
		}
		if name == "Panic" && len(data) == 36 {
			return Revert{Name: name, Reason: fmt.Sprintf("panic code %#x", new(big.Int).SetBytes(data[4:]))}
		}
	}

	for _, e := range contractABI.Errors {
		if !bytes.Equal(e.ID[:4], data[:4]) {
			continue
		}
		args, err := e.Inputs.Unpack(data[4:])
		if err != nil {
			break
		}
		formatted := make([]string, len(args))
		for i, arg := range args {
			formatted[i] = formatArg(arg)
		}
		return Revert{Name: e.Name, Args: args, Reason: e.Name + "(" + strings.Join(formatted, ", ") + ")"}
	}

	return Revert{Reason: "execution reverted: " + hexutil.Encode(data)}
}

func formatArg(arg any) string {
	switch v := arg.(type) {
	case [32]byte:
		return hexutil.Encode(v[:])
	case common.Address:
		return v.Hex()
	case []byte:
		return hexutil.Encode(v)
	default:
		return fmt.Sprint(v)
	}
}

// Code classifies the revert.
func (r Revert) Code() regerr.Code {
	switch r.Name {
	case "AlreadyIssued":
		return regerr.CodeAlreadyIssued
	case "NotIssued":
		return regerr.CodeNotIssued
	case "AlreadyRevoked":
		return regerr.CodeAlreadyRevoked
	case "AccessControlUnauthorizedAccount":
		return regerr.CodeNotIssuer
	case "UnauthorizedSigner", "ECDSAInvalidSignature", "ECDSAInvalidSignatureLength", "ECDSAInvalidSignatureS":
		return regerr.CodeSignatureRejectedOnChain
	case "Error":
		reason := strings.ToLower(r.Reason)
		switch {
		case strings.Contains(reason, "already issued"):
			return regerr.CodeAlreadyIssued
		case strings.Contains(reason, "already revoked"):
			return regerr.CodeAlreadyRevoked
		case strings.Contains(reason, "not issued"):
			return regerr.CodeNotIssued
		case strings.Contains(reason, "signature"), strings.Contains(reason, "signer"):
			return regerr.CodeSignatureRejectedOnChain
		case strings.Contains(reason, "accesscontrol"), strings.Contains(reason, "not issuer"):
			return regerr.CodeNotIssuer
		}
	}
	return regerr.CodeChainFailure
}

// revertData extracts the revert payload a node attached to a call error.
func revertData(err error) ([]byte, bool) {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return nil, false
	}
	switch data := de.ErrorData().(type) {
	case string:
		b, err := hexutil.Decode(data)
		if err != nil {
			return nil, false
		}
		return b, true
	case []byte:
		return data, true
	default:
		return nil, false
	}
}

// classifyCallError turns an eth_call or receipt replay error into a registry error, surfacing
// the decoded revert reason verbatim when the node provided one.
func classifyCallError(contractABI abi.ABI, op string, err error) error {
	if err == nil {
		return nil
	}
	if data, ok := revertData(err); ok {
		rev := DecodeRevert(contractABI, data)
		return regerr.Wrap(rev.Code(), err, rev.Reason)
	}
	if strings.Contains(err.Error(), "execution reverted") {
		return regerr.Wrap(regerr.CodeChainFailure, err, op+" reverted")
	}
	return regerr.Wrap(regerr.CodeChainFailure, err, op+" failed")
}
