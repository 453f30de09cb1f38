// Command tokengen mints RS256 bearer tokens for exercising the gateway.
//
// It signs tokens with a local RSA private key and prints them to stdout.
// It can also generate a fresh RSA keypair, writing the private key for
// tokengen and the public key for the gateway's -jwt-public-key flag.
//
// Usage:
//
//	tokengen -generate-keys ./keys
//	tokengen -key ./keys/private.pem -user alice -issuer auth.example.com -audience lifeboat-api
//
// This is a development tool; production tokens come from a real issuer.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func main() {
	var (
		generateKeys = flag.String("generate-keys", "", "Generate an RSA keypair into the given directory and exit")
		keyFile      = flag.String("key", "", "RSA private key PEM file")
		user         = flag.String("user", "dev-user", "Subject user id for the token")
		issuer       = flag.String("issuer", "auth.example.com", "Token issuer")
		audience     = flag.String("audience", "lifeboat-api", "Token audience")
		ttl          = flag.Duration("ttl", time.Hour, "Token lifetime (negative produces an already-expired token)")
	)
	flag.Parse()

	if *generateKeys != "" {
		if err := writeKeypair(*generateKeys); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if *keyFile == "" {
		fmt.Fprintln(os.Stderr, "error: -key is required (or use -generate-keys)")
		os.Exit(1)
	}

	token, err := mint(*keyFile, *user, *issuer, *audience, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	fmt.Println(token)
}

func mint(keyFile, user, issuer, audience string, ttl time.Duration) (string, error) {
	pemBytes, err := os.ReadFile(keyFile)
	if err != nil {
		return "", err
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": user,
		"sub":     user,
		"iss":     issuer,
		"aud":     audience,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
		"jti":     uuid.New().String(),
	}

	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

func writeKeypair(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return err
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := os.WriteFile(filepath.Join(dir, "private.pem"), privPEM, 0o600); err != nil {
		return err
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return err
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(filepath.Join(dir, "public.pem"), pubPEM, 0o644); err != nil {
		return err
	}

	fmt.Printf("wrote %s and %s\n", filepath.Join(dir, "private.pem"), filepath.Join(dir, "public.pem"))
	return nil
}
