// sign-tx builds and signs a transaction for the node's POST /api/v1/tx.
//
//	sign-tx -key 0x<notifier> -nonce 1 deposit -from 0x... -issuer usd.token -quantity "100.0000 USD"
//	sign-tx -key 0x... -nonce 2 place -sell "100.0000 USD" -sell-issuer usd.token -buy "50.0000 EUR" -buy-issuer eur.token
//	sign-tx -key 0x... -nonce 3 fill -order 1 -spend "10.0000 EUR"
//	sign-tx -key 0x... -nonce 4 withdraw -issuer usd.token -quantity "5.0000 USD"
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/custodex/pkg/app/core/asset"
	"github.com/uhyunpark/custodex/pkg/app/core/transaction"
	"github.com/uhyunpark/custodex/pkg/crypto"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("sign-tx", flag.ContinueOnError)
	keyHex := global.String("key", "", "hex private key (generated when empty)")
	nonce := global.Uint64("nonce", 1, "transaction nonce, must exceed the signer's last")
	chainID := global.Int64("chain-id", 1337, "EIP-712 domain chain id")
	custody := global.String("custody", "0x00000000000000000000000000000000000c0570", "custody account (deposit recipient)")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		return fmt.Errorf("missing command: deposit, place, fill or withdraw")
	}

	signer, err := loadSigner(*keyHex)
	if err != nil {
		return err
	}
	cmd, err := buildCommand(signer.Address(), common.HexToAddress(*custody), global.Arg(0), global.Args()[1:])
	if err != nil {
		return err
	}

	tx, err := transaction.NewSigned(cmd, *nonce)
	if err != nil {
		return err
	}
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(*chainID)
	verifier := transaction.NewVerifier(domain)
	if err := verifier.Sign(signer, tx); err != nil {
		return err
	}

	// Round-trip through verification so a bad payload fails here rather
	// than at the node.
	env, err := verifier.Verify(tx)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if env.Signer != signer.Address() {
		return fmt.Errorf("recovered %s, expected %s", env.Signer.Hex(), signer.Address().Hex())
	}

	out, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Signer: %s\n", signer.Address().Hex())
	fmt.Println(string(out))
	return nil
}

func loadSigner(keyHex string) (*crypto.Signer, error) {
	if keyHex != "" {
		return crypto.FromPrivateKeyHex(keyHex)
	}
	signer, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	return signer, nil
}

func buildCommand(self, custody common.Address, name string, args []string) (transaction.Command, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	switch name {
	case "deposit":
		from := fs.String("from", "", "depositor address; the signing key when empty")
		issuer := fs.String("issuer", "", "issuer code, e.g. usd.token")
		qty := fs.String("quantity", "", `amount, e.g. "100.0000 USD"`)
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		q, err := asset.Parse(*qty)
		if err != nil {
			return nil, err
		}
		depositor := self
		if *from != "" {
			if !common.IsHexAddress(*from) {
				return nil, fmt.Errorf("invalid -from address %q", *from)
			}
			depositor = common.HexToAddress(*from)
		}
		return transaction.Deposit{From: depositor, To: custody, IssuerCode: *issuer, Quantity: q}, nil

	case "place":
		sell := fs.String("sell", "", "amount to escrow")
		sellIssuer := fs.String("sell-issuer", "", "issuer code of the sold asset")
		buy := fs.String("buy", "", "amount wanted in return")
		buyIssuer := fs.String("buy-issuer", "", "issuer code of the bought asset")
		expiration := fs.Int64("expiration", 0, "unix seconds, 0 for none")
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		s, err := asset.Parse(*sell)
		if err != nil {
			return nil, fmt.Errorf("sell: %w", err)
		}
		b, err := asset.Parse(*buy)
		if err != nil {
			return nil, fmt.Errorf("buy: %w", err)
		}
		return transaction.PlaceOrder{
			Maker: self, Selling: s, SellingCode: *sellIssuer,
			Buying: b, BuyingCode: *buyIssuer, Expiration: *expiration,
		}, nil

	case "fill":
		id := fs.Uint64("order", 0, "order id")
		spend := fs.String("spend", "", "amount of the order's buying asset to pay")
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		s, err := asset.Parse(*spend)
		if err != nil {
			return nil, err
		}
		return transaction.FillOrder{Taker: self, OrderID: *id, Spend: s}, nil

	case "withdraw":
		issuer := fs.String("issuer", "", "issuer code, e.g. usd.token")
		qty := fs.String("quantity", "", `amount, e.g. "5.0000 USD"`)
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		q, err := asset.Parse(*qty)
		if err != nil {
			return nil, err
		}
		return transaction.Withdraw{Owner: self, TargetCode: *issuer, Quantity: q}, nil
	}
	return nil, fmt.Errorf("unknown command %q", name)
}
