package transaction

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// SignedTransaction is the wire form accepted by the API. Exactly one payload
// matching Type is set.
//
//	{
//	  "type": "withdraw",
//	  "withdraw": {"account": "0x742d...", "target_code": "eosio.token", "quantity": "1.0000 SYS"},
//	  "nonce": 7,
//	  "signature": "0x..."
//	}
type SignedTransaction struct {
	Type       Type        `json:"type"`
	Deposit    *Deposit    `json:"deposit,omitempty"`
	PlaceOrder *PlaceOrder `json:"place_order,omitempty"`
	FillOrder  *FillOrder  `json:"fill_order,omitempty"`
	Withdraw   *Withdraw   `json:"withdraw,omitempty"`
	Nonce      uint64      `json:"nonce"`
	Signature  string      `json:"signature"`
}

// NewSigned wraps cmd in an unsigned transaction.
func NewSigned(cmd Command, nonce uint64) (*SignedTransaction, error) {
	tx := &SignedTransaction{Type: cmd.Type(), Nonce: nonce}
	switch c := cmd.(type) {
	case Deposit:
		tx.Deposit = &c
	case PlaceOrder:
		tx.PlaceOrder = &c
	case FillOrder:
		tx.FillOrder = &c
	case Withdraw:
		tx.Withdraw = &c
	default:
		return nil, fmt.Errorf("%w: unsupported command %T", ErrInvalidCommand, cmd)
	}
	return tx, nil
}

// Command returns the payload selected by Type.
func (tx *SignedTransaction) Command() (Command, error) {
	var cmd Command
	switch tx.Type {
	case TypeDeposit:
		if tx.Deposit != nil {
			cmd = *tx.Deposit
		}
	case TypePlaceOrder:
		if tx.PlaceOrder != nil {
			cmd = *tx.PlaceOrder
		}
	case TypeFillOrder:
		if tx.FillOrder != nil {
			cmd = *tx.FillOrder
		}
	case TypeWithdraw:
		if tx.Withdraw != nil {
			cmd = *tx.Withdraw
		}
	case "":
		return nil, fmt.Errorf("%w: missing transaction type", ErrInvalidCommand)
	default:
		return nil, fmt.Errorf("%w: unknown transaction type %q", ErrInvalidCommand, tx.Type)
	}
	if cmd == nil {
		return nil, fmt.Errorf("%w: %s requires %s payload", ErrInvalidCommand, tx.Type, tx.Type)
	}
	return cmd, nil
}

// Validate checks structure only; signatures are checked by Verifier.
func (tx *SignedTransaction) Validate() error {
	if tx.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrInvalidCommand)
	}
	if tx.Nonce == 0 {
		return fmt.Errorf("%w: nonce must be positive", ErrInvalidCommand)
	}
	cmd, err := tx.Command()
	if err != nil {
		return err
	}
	return cmd.Validate()
}

func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses and validates a JSON transaction.
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return &tx, nil
}

// Envelope is a verified command together with who signed it.
type Envelope struct {
	Signer  common.Address
	Nonce   uint64
	Command Command
}
