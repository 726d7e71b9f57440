package transaction

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

type signerKey struct{}

// WithSigner records the verified signer of the current request.
func WithSigner(ctx context.Context, signer common.Address) context.Context {
	return context.WithValue(ctx, signerKey{}, signer)
}

func SignerFrom(ctx context.Context) (common.Address, bool) {
	signer, ok := ctx.Value(signerKey{}).(common.Address)
	return signer, ok
}
