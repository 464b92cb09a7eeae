package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/stemsi/exstem-attempts/internal/config"
	"github.com/stemsi/exstem-attempts/internal/logger"
	"github.com/stemsi/exstem-attempts/internal/model"
	"github.com/stemsi/exstem-attempts/internal/service"
)

// issue-token mints a signed JWT for local testing against JWT_SECRET.
func main() {
	var (
		role        string
		userID      int
		permissions string
	)
	flag.StringVar(&role, "role", "student", "Token type: student or admin")
	flag.IntVar(&userID, "id", 0, "Student or admin ID")
	flag.StringVar(&permissions, "permissions", string(model.PermissionAttemptsManage), "Comma-separated admin permissions")
	flag.Parse()

	cfg := config.Load()
	// Logs go to stderr so stdout carries only the token.
	log := logger.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	if userID <= 0 {
		log.Fatal().Msg("-id must be a positive integer")
	}

	auth := service.NewAuthService(cfg)

	var (
		token string
		err   error
	)
	switch service.TokenType(role) {
	case service.TokenTypeStudent:
		token, err = auth.GenerateStudentToken(userID)
	case service.TokenTypeAdmin:
		var perms []string
		for _, p := range strings.Split(permissions, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if !model.Permission(p).IsKnown() {
				log.Fatal().Str("permission", p).Msg("Unknown permission")
			}
			perms = append(perms, p)
		}
		token, err = auth.GenerateAdminToken(userID, perms)
	default:
		log.Fatal().Str("role", role).Msg("Role must be student or admin")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}

	fmt.Fprintln(os.Stdout, token)
}
