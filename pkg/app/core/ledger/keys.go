package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/custodex/pkg/app/core/asset"
)

const prefixBalance = "bal:"

// recordKey returns the key for one (owner, issuer) record.
// Format: "bal:{address}:{issuer 20 digits}"
func recordKey(owner common.Address, issuer asset.IssuerID) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", prefixBalance, owner.Hex(), uint64(issuer)))
}

// ownerPrefix covers every record of one owner.
// Format: "bal:{address}:"
func ownerPrefix(owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixBalance, owner.Hex()))
}
