package exchange

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/custodex/pkg/app/core/book"
	"github.com/uhyunpark/custodex/pkg/app/core/transaction"
	"github.com/uhyunpark/custodex/pkg/gateway"
	"github.com/uhyunpark/custodex/pkg/storage"
)

const prefixNonce = "nonce:"

// nonceKey returns the key for a signer's last used nonce.
// Format: "nonce:{address}"
func nonceKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixNonce, addr.Hex()))
}

// Receipt is the outcome of an executed envelope. At most one of Order, Fill
// and Transfer is set.
type Receipt struct {
	Type     transaction.Type  `json:"type"`
	Signer   common.Address    `json:"signer"`
	Nonce    uint64            `json:"nonce"`
	Order    *book.Order       `json:"order,omitempty"`
	Fill     *FillResult       `json:"fill,omitempty"`
	Transfer *gateway.Transfer `json:"transfer,omitempty"`
}

// Execute is the single entry point for verified transactions. The nonce
// must exceed the signer's last nonce and is consumed in the same
// transaction as the command.
func (e *Engine) Execute(ctx context.Context, env *transaction.Envelope) (*Receipt, error) {
	if env == nil || env.Command == nil {
		return nil, fmt.Errorf("%w: empty envelope", transaction.ErrInvalidCommand)
	}
	ctx = transaction.WithSigner(ctx, env.Signer)
	cmd := env.Command
	if err := e.authorize(ctx, cmd); err != nil {
		return nil, err
	}

	rc := &Receipt{Type: cmd.Type(), Signer: env.Signer, Nonce: env.Nonce}
	err := e.run(ctx, string(cmd.Type()), func(u *unit) error {
		if err := useNonce(u.txn, env.Signer, env.Nonce); err != nil {
			return err
		}
		var err error
		switch c := cmd.(type) {
		case transaction.Deposit:
			err = e.deposit(u, c)
		case transaction.PlaceOrder:
			rc.Order, err = e.placeOrder(u, c)
		case transaction.FillOrder:
			rc.Fill, err = e.fillOrder(u, c)
		case transaction.Withdraw:
			rc.Transfer, err = e.withdraw(u, c)
		default:
			err = fmt.Errorf("%w: unsupported command %T", transaction.ErrInvalidCommand, cmd)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return rc, nil
}

func useNonce(w storage.Writer, signer common.Address, nonce uint64) error {
	last, _, err := storage.GetUint64(w, nonceKey(signer))
	if err != nil {
		return err
	}
	if nonce <= last {
		return fmt.Errorf("%w: %s used %d, got %d", ErrNonceTooLow, signer.Hex(), last, nonce)
	}
	return storage.PutUint64(w, nonceKey(signer), nonce)
}

// Nonce returns the last nonce consumed by signer, 0 if none.
func (e *Engine) Nonce(signer common.Address) (uint64, error) {
	v, _, err := storage.GetUint64(e.store, nonceKey(signer))
	return v, err
}
