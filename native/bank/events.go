package bank

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"tokensale/core/types"
)

const (
	EventTypeTransfer = "bank.transfer"
	EventTypeApproval = "bank.approval"
	EventTypeMint     = "bank.mint"
)

func newTransferEvent(asset, from, to common.Address, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeTransfer, Attributes: map[string]string{
		"asset":  asset.Hex(),
		"from":   from.Hex(),
		"to":     to.Hex(),
		"amount": amount.String(),
	}}
}

func newApprovalEvent(asset, owner, spender common.Address, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeApproval, Attributes: map[string]string{
		"asset":   asset.Hex(),
		"owner":   owner.Hex(),
		"spender": spender.Hex(),
		"amount":  amount.String(),
	}}
}

func newMintEvent(asset, to common.Address, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeMint, Attributes: map[string]string{
		"asset":  asset.Hex(),
		"to":     to.Hex(),
		"amount": amount.String(),
	}}
}
