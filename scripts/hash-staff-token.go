package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/qoshimcha/support-chat-go/internal/util"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/hash-staff-token.go <staff-id>\n")
		os.Exit(1)
	}

	staffID := os.Args[1]
	if staffID == "" || strings.Contains(staffID, ".") {
		fmt.Fprintf(os.Stderr, "Error: staff id must be non-empty and must not contain '.'\n")
		os.Exit(1)
	}

	secret, err := util.GenerateToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	hash, err := util.HashSecret(secret, util.StaffSecretCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("token:        %s.%s\n", staffID, secret)
	fmt.Printf("STAFF_TOKENS: %s=%s\n", staffID, hash)
}
