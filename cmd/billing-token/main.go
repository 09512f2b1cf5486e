// Package main выпускает bearer-токен для публичного ключа, подписанный
// секретом из конфига. Нужен для ручной работы с API в local и dev.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"

	"github.com/magabrotheeeer/escrow-billing/internal/config"
	"github.com/magabrotheeeer/escrow-billing/internal/lib/jwt"
)

func main() {
	signer := flag.String("signer", "", "base58 public key; a new key is generated when empty")
	flag.Parse()

	cfg := config.MustLoad()

	key := solana.NewWallet().PublicKey()
	if *signer != "" {
		var err error
		key, err = solana.PublicKeyFromBase58(*signer)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid signer: %v\n", err)
			os.Exit(1)
		}
	}

	token, err := jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL).GenerateToken(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate token: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("signer: %s\ntoken:  %s\n", key, token)
}
