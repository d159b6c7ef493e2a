package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"vault-backend/internal/config"
	"vault-backend/internal/handlers"
	"vault-backend/internal/utils"

	"github.com/golang-jwt/jwt/v5"
)

// Dev helper: mints a JWT for a wallet address so the protected endpoints can
// be exercised without going through the nonce/signature login flow.
func main() {
	address := flag.String("address", "", "wallet address the token is bound to")
	chainID := flag.Int("chain-id", 1, "chain id claim")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	configPath := flag.String("config", "", "config file path (default config.yaml)")
	flag.Parse()

	if !utils.IsEvmAddress(*address) {
		fmt.Fprintln(os.Stderr, "usage: generate-jwt -address 0x... [-chain-id 1] [-ttl 24h]")
		os.Exit(1)
	}

	if err := config.LoadConfig(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	now := time.Now()
	claims := handlers.JWTClaims{
		Owner:   *address,
		ChainID: *chainID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "vault-backend",
			Subject:   *address,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(config.AppConfig.Auth.JWTSecret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(tokenString)
}
