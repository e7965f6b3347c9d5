package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
)

const defaultBytes = 32

func main() {
	n := defaultBytes
	if len(os.Args) > 1 {
		v, err := strconv.Atoi(os.Args[1])
		if err != nil || v < 16 {
			fmt.Println("Usage: go run cmd/keygen/main.go [bytes]")
			fmt.Println("Generates random tokens for the appservice registration and the provisioning API (minimum 16 bytes)")
			os.Exit(1)
		}
		n = v
	}

	asToken := token(n)
	hsToken := token(n)
	secret := token(n)

	fmt.Println("Add these to your registration file and config.yaml:")
	fmt.Printf("  as_token: \"%s\"\n", asToken)
	fmt.Printf("  hs_token: \"%s\"\n", hsToken)
	fmt.Println("\nprovisioning:")
	fmt.Printf("  secret: \"%s\"\n", secret)
}

func token(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		fmt.Fprintf(os.Stderr, "read random bytes: %v\n", err)
		os.Exit(1)
	}
	return hex.EncodeToString(b)
}
