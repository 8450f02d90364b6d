package chain

import (
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// canonicalCall is the hashable form of a dispatch call. encoding/json
// serializes map keys in sorted order, so the encoding is deterministic for
// a given call regardless of argument insertion order.
type canonicalCall struct {
	Module   string `json:"module"`
	Function string `json:"function"`
	Args     Args   `json:"args"`
}

// ComputeMultisigCallHash derives the hash under which a multisig call is
// announced. Both sides of the pipeline join (the as_multi extrinsic and the
// Multisig events) hash through this function, so the join is stable.
func (c *Client) ComputeMultisigCallHash(module, function string, args Args) (string, error) {
	return ComputeCallHash(module, function, args)
}

// ComputeCallHash is the client-independent form of ComputeMultisigCallHash.
func ComputeCallHash(module, function string, args Args) (string, error) {
	encoded, err := json.Marshal(&canonicalCall{Module: module, Function: function, Args: args})
	if err != nil {
		return "", errors.Wrap(err, "cannot encode call for hashing")
	}
	sum := blake2b.Sum256(encoded)
	return "0x" + hex.EncodeToString(sum[:]), nil
}
