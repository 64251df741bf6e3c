package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/eldtechnologies/inbox/internal/api/middleware"
	"github.com/eldtechnologies/inbox/internal/crypto"
)

func main() {
	privKeyB64 := flag.String("key", "", "Base64-encoded Ed25519 private key")
	participantID := flag.Int64("participant", 0, "Participant ID")
	method := flag.String("method", "POST", "HTTP method of the request")
	target := flag.String("path", "", "Request path including any query string, e.g. /messages")
	bodyFile := flag.String("body", "", "File containing request body (or use stdin)")
	flag.Parse()

	if *privKeyB64 == "" || *participantID <= 0 || *target == "" {
		fmt.Fprintln(os.Stderr, "Usage: sign -key <private-key-base64> -participant <id> -path <path> [-method GET] [-body <file>]")
		fmt.Fprintln(os.Stderr, "  Reads body from stdin if -body not specified; use -body /dev/null for GET")
		os.Exit(1)
	}

	privKey, err := crypto.ParsePrivateKey(*privKeyB64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	// Read body
	var body []byte
	if *bodyFile != "" {
		body, err = os.ReadFile(*bodyFile)
	} else {
		body, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read body: %v\n", err)
		os.Exit(1)
	}

	nonce := crypto.NewNonce()
	timestamp := time.Now().UnixMilli()
	signature := crypto.Sign(privKey, *method, *target, body, nonce, timestamp)

	// Output headers
	fmt.Printf("%s: %d\n", middleware.HeaderParticipant, *participantID)
	fmt.Printf("%s: %s\n", middleware.HeaderNonce, nonce)
	fmt.Printf("%s: %d\n", middleware.HeaderTimestamp, timestamp)
	fmt.Printf("%s: %s\n", middleware.HeaderSignature, signature)
}
