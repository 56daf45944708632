// Command fogtoken mints admin API tokens signed with FOG_ADMIN_SECRET.
//
//	fogtoken [-sub name] [-ttl 1h] [-perm stats-read,tokens-revoke]
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/strseb/fogproxy/pkg/common"
	"github.com/strseb/fogproxy/pkg/common/auth"
)

type tokenConfig struct {
	Secret string `env:"FOG_ADMIN_SECRET,required"`
	// Tokens outliving this are rejected by the admin API.
	MaxTokenLifetime time.Duration `env:"FOG_ADMIN_MAX_TOKEN_LIFETIME,default=24h"`
}

func main() {
	if err := common.ImportDotenv(); err != nil {
		log.Printf("Warning: failed to import .env: %v", err)
	}
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("fogtoken: %v", err)
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("fogtoken", flag.ContinueOnError)
	fs.SetOutput(out)
	subject := fs.String("sub", "admin", "token subject")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	perms := fs.String("perm", string(auth.PERMISSION_STATS_READ), "comma separated permissions")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := &tokenConfig{}
	if err := common.LoadEnvToStruct(cfg); err != nil {
		return err
	}
	if *ttl <= 0 {
		return fmt.Errorf("ttl must be positive, got %v", *ttl)
	}
	if *ttl > cfg.MaxTokenLifetime {
		return fmt.Errorf("ttl %v exceeds FOG_ADMIN_MAX_TOKEN_LIFETIME (%v)", *ttl, cfg.MaxTokenLifetime)
	}

	var permissions []auth.Permission
	for _, name := range strings.Split(*perms, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		p, ok := auth.ParsePermission(name)
		if !ok {
			return fmt.Errorf("unknown permission %q", name)
		}
		permissions = append(permissions, p)
	}

	issued, err := auth.IssueToken([]byte(cfg.Secret), *subject, *ttl, permissions...)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "jti: %s\nexpires: %s\n%s\n", issued.JTI, issued.ExpiresAt.UTC().Format(time.RFC3339), issued.Token)
	return nil
}
