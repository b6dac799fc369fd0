// Package token provides the confidential fungible-token collaborator: sealed
// balances, operator allowances, and transfers that never fail on
// insufficient funds. A transfer short on balance or allowance silently moves
// fewer units (possibly zero) instead of reverting, so transaction success
// carries no solvency information. Callers that care about the moved amount
// must measure their own balance delta.
package token

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/veilbet/veilbet/internal/conf"
)

// Token is the ledger interface the market engine consumes.
type Token interface {
	// Address is the ledger's principal on the confidential ACL. Callers
	// grant amount handles to it before asking for a transfer.
	Address() common.Address

	// BalanceOf returns the sealed balance handle for addr. The handle is
	// granted to addr and to the ledger itself.
	BalanceOf(addr common.Address) (conf.Handle, error)

	// TransferEncrypted moves up to amount from from to to, clamped to
	// from's balance. Never errors on insufficient balance.
	TransferEncrypted(from, to common.Address, amount conf.Handle) error

	// TransferFromEncrypted moves up to amount from from to to on behalf of
	// operator, clamped to both from's balance and operator's allowance.
	TransferFromEncrypted(operator, from, to common.Address, amount conf.Handle) error

	// ApproveEncrypted sets the allowance of spender over owner's funds.
	ApproveEncrypted(owner, spender common.Address, amount conf.Handle) error
}
