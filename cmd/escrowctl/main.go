// escrowctl is a small operator utility: keygen mints a fresh identity for use
// as a depositor, counterparty or the configured authority; token signs a
// gateway access token.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"escrowd/crypto"
	"escrowd/gateway"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "keygen":
		if err := keygen(); err != nil {
			fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
			os.Exit(1)
		}
	case "token":
		if err := token(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "token: %v\n", err)
			os.Exit(1)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: escrowctl keygen")
	fmt.Fprintln(os.Stderr, "       escrowctl token -secret <secret> -subject <client> [-issuer <iss>] [-scope <scope>] [-ttl <duration>]")
}

func keygen() error {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	fmt.Printf("address:     %s\n", key.PubKey().Address().String())
	fmt.Printf("private key: %s\n", hex.EncodeToString(key.Bytes()))
	return nil
}

func token(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	secret := fs.String("secret", "", "HMAC signing secret shared with the gateway")
	subject := fs.String("subject", "", "client identifier placed in the sub claim")
	issuer := fs.String("issuer", "escrowd-gateway", "issuer claim")
	scope := fs.String("scope", gateway.ScopeEscrow, "space-separated scope claim")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" || *subject == "" {
		return fmt.Errorf("-secret and -subject are required")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   *issuer,
		"sub":   *subject,
		"scope": *scope,
		"iat":   now.Unix(),
		"exp":   now.Add(*ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(*secret))
	if err != nil {
		return err
	}
	fmt.Println(signed)
	return nil
}
