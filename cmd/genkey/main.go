package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

func main() {
	kind := flag.String("kind", "traveler", "Participant kind for the printed register body (traveler or company)")
	name := flag.String("name", "", "Display name for the printed register body")
	flag.Parse()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate key: %v\n", err)
		os.Exit(1)
	}

	pubB64 := base64.StdEncoding.EncodeToString(pub)
	body, _ := json.Marshal(map[string]string{
		"public_key": pubB64,
		"name":       *name,
		"kind":       *kind,
	})

	fmt.Printf("Public key (base64):  %s\n", pubB64)
	fmt.Printf("Private key (base64): %s\n", base64.StdEncoding.EncodeToString(priv))
	fmt.Printf("Register body:        %s\n", body)
}
