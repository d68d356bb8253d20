// Command admintoken prints a bearer token for the media API. It signs with
// JWT_SECRET from the environment (or .env), so it is meant for development
// and operators only.
package main

import (
	"flag"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/folio/service/internal/auth"
	"github.com/folio/service/internal/config"
	"github.com/folio/service/internal/logging"
)

func main() {
	sub := flag.String("sub", "admin", "admin ID placed in the sub claim")
	ttl := flag.Duration("ttl", auth.DefaultTTL, "token lifetime")
	flag.Parse()

	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.IsProduction())

	token, err := auth.IssueAdminToken(cfg.JWTSecret, *sub, *ttl)
	if err != nil {
		log.Fatal().Err(err).Msg("issue token")
	}
	fmt.Println(token)
}
