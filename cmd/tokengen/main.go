// Command tokengen mints bearer tokens for the /api/links management API.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tinylink/go-server/internal/token"
)

func main() {
	logger := zap.Must(zap.NewDevelopment())
	defer logger.Sync()

	_ = godotenv.Load()

	subject := flag.String("sub", "admin", "token subject")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("API_JWT_SECRET")
	if secret == "" {
		logger.Fatal("API_JWT_SECRET is not set")
	}

	tok, err := token.GenerateToken([]byte(secret), *subject, *ttl)
	if err != nil {
		logger.Fatal("failed to sign token", zap.Error(err))
	}

	fmt.Println(tok)
}
