// Command token_gen mints operator JWTs for the vigild API. Useful for
// curl sessions and for provisioning automation that talks to the API.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/vigilops/vigil-core/internal/tokens"
)

func main() {
	subject := flag.String("subject", "operator", "who the token identifies")
	role := flag.String("role", "viewer", "admin or viewer")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	key := os.Getenv("JWT_SIGNING_KEY")
	if key == "" {
		key = "dev-secret-do-not-use-in-prod"
		log.Println("JWT_SIGNING_KEY not set, using the dev default")
	}

	var r tokens.Role
	switch *role {
	case "admin":
		r = tokens.RoleAdmin
	case "viewer":
		r = tokens.RoleViewer
	default:
		log.Fatalf("unknown role %q (want admin or viewer)", *role)
	}

	token, err := tokens.NewManager(key).Generate(*subject, r, *ttl)
	if err != nil {
		log.Fatalf("generate: %v", err)
	}
	fmt.Println(token)
}
