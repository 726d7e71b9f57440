package transaction

import (
	"fmt"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/custodex/pkg/crypto"
)

// Verifier hashes, signs and verifies transactions under one EIP-712 domain.
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Hash returns the EIP-712 digest of the transaction's command and nonce.
func (v *Verifier) Hash(tx *SignedTransaction) ([]byte, error) {
	cmd, err := tx.Command()
	if err != nil {
		return nil, err
	}
	primary, fields, msg, err := typedMessage(cmd, tx.Nonce)
	if err != nil {
		return nil, err
	}
	return v.eip712Signer.Hash(primary, fields, msg)
}

// TypedData returns the document a wallet would sign for tx.
func (v *Verifier) TypedData(tx *SignedTransaction) (apitypes.TypedData, error) {
	cmd, err := tx.Command()
	if err != nil {
		return apitypes.TypedData{}, err
	}
	primary, fields, msg, err := typedMessage(cmd, tx.Nonce)
	if err != nil {
		return apitypes.TypedData{}, err
	}
	return v.eip712Signer.TypedData(primary, fields, msg), nil
}

// Sign fills tx.Signature using signer's key.
func (v *Verifier) Sign(signer *crypto.Signer, tx *SignedTransaction) error {
	hash, err := v.Hash(tx)
	if err != nil {
		return fmt.Errorf("failed to hash transaction: %w", err)
	}
	sig, err := signer.Sign(hash)
	if err != nil {
		return err
	}
	tx.Signature = crypto.EncodeSignature(sig)
	return nil
}

// Verify recovers the signer. It does not decide whether that signer may act
// for the command's account; that is the engine's authorization check.
func (v *Verifier) Verify(tx *SignedTransaction) (*Envelope, error) {
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	sig, err := crypto.DecodeSignature(tx.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}
	hash, err := v.Hash(tx)
	if err != nil {
		return nil, err
	}
	signer, err := crypto.RecoverAddress(hash, sig)
	if err != nil {
		return nil, fmt.Errorf("signature verification failed: %w", err)
	}
	cmd, _ := tx.Command()
	return &Envelope{Signer: signer, Nonce: tx.Nonce, Command: cmd}, nil
}
