package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/upb/keycloak-gateway/config"
	"github.com/upb/keycloak-gateway/keycloak"
	"go.uber.org/zap"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Fetch and print the realm's signing keys",
	Long: `Fetches the JWKS document the gateway verifies tokens against and prints the
keys it would accept.

Examples:

  # inspect the keys of the configured realm
    gateway keys

  # inspect another key set as JSON
    gateway keys --jwks-url http://localhost:8080/realms/demo/protocol/openid-connect/certs --json
`,
	RunE: runKeys,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.Flags().String("jwks-url", "", "Override the JWKS URL derived from KEYCLOAK_SERVER_URL and KEYCLOAK_REALM")
	keysCmd.Flags().Bool("json", false, "Print the keys as JSON")
}

func runKeys(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	jwksURL, _ := cmd.Flags().GetString("jwks-url")
	if jwksURL == "" {
		jwksURL = cfg.Keycloak.JWKSURL()
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	cache := keycloak.NewKeyCache(keycloak.KeyCacheConfig{
		JWKSURL:     jwksURL,
		TTL:         cfg.Keycloak.JWKSCacheTTL,
		HTTPTimeout: cfg.Keycloak.JWKSTimeout,
	}, zap.NewNop())

	set, err := cache.Refresh(cmd.Context())
	if err != nil {
		return fmt.Errorf("fetching %s: %w", jwksURL, err)
	}
	return printKeys(cmd.OutOrStdout(), set, asJSON)
}

type keyView struct {
	KeyID     string `json:"kid"`
	KeyType   string `json:"kty"`
	Algorithm string `json:"alg,omitempty"`
	Use       string `json:"use,omitempty"`
}

func printKeys(w io.Writer, set *keycloak.KeySet, asJSON bool) error {
	keys := set.Keys()
	views := make([]keyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, keyView{KeyID: k.KeyID, KeyType: k.KeyType, Algorithm: k.Algorithm, Use: k.Use})
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Keys    []keyView `json:"keys"`
			Skipped []string  `json:"skipped,omitempty"`
		}{views, set.Skipped()})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KID\tKTY\tALG\tUSE")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.KeyID, v.KeyType, orDash(v.Algorithm), orDash(v.Use))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, s := range set.Skipped() {
		fmt.Fprintf(w, "skipped: %s\n", s)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
