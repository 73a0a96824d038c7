package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"botgate/internal/decision"
	"botgate/internal/platform/config"
	"botgate/internal/token"
)

type tokenFlags struct {
	secret string
}

func newTokenCmd() *cobra.Command {
	f := &tokenFlags{}
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and inspect signed gate tokens",
		Long:  "Signs with --secret, or BOTGATE_SECRET when the flag is empty. A \"base64:\" prefix decodes the value.",
	}
	cmd.PersistentFlags().StringVar(&f.secret, "secret", "", "master signing secret")
	cmd.AddCommand(newTokenIssueCmd(f), newTokenInspectCmd(f))
	return cmd
}

func (f *tokenFlags) service(opts ...token.Option) (*token.Service, error) {
	var p config.Provider = config.NewEnvProvider()
	if f.secret != "" {
		p = config.NewStaticProvider(map[string]any{token.SecretKey: f.secret})
	}
	if config.String(p, token.SecretKey, "") == "" {
		return nil, errors.New("a signing secret is required (--secret or BOTGATE_SECRET)")
	}
	secret, err := token.LoadSecret(p, nil)
	if err != nil {
		return nil, err
	}
	return token.New(secret, opts...)
}

func newTokenIssueCmd(f *tokenFlags) *cobra.Command {
	var (
		typ string
		ttl time.Duration
		rc  decision.RequestContext
	)
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a nonce or session token bound to a client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rc.Address == "" {
				return errors.New("--ip is required")
			}
			var (
				tok string
				err error
			)
			switch token.Type(typ) {
			case token.TypeNonce:
				var svc *token.Service
				if svc, err = f.service(token.WithNonceTTL(ttl)); err == nil {
					tok, err = svc.IssueNonce(rc.Binding())
				}
			case token.TypeSession:
				var svc *token.Service
				if svc, err = f.service(token.WithSessionTTL(ttl)); err == nil {
					tok, err = svc.IssueSession(rc.Binding())
				}
			default:
				return fmt.Errorf("unknown token type %q (want nonce or session)", typ)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&typ, "type", string(token.TypeSession), "nonce or session")
	flags.DurationVar(&ttl, "ttl", 0, "token lifetime (default 2m for nonces, 30m for sessions)")
	flags.StringVar(&rc.Address, "ip", "", "client address the token is bound to")
	flags.StringVar(&rc.Provider, "provider", "direct", "network provider classification")
	flags.StringVar(&rc.Fingerprint, "fp", "", "device fingerprint hash")
	flags.StringVar(&rc.TLSSignature, "tls", "", "TLS client signature (JA3/JA4)")
	flags.StringVar(&rc.Variant, "variant", "", "experiment variant")
	return cmd
}

type inspection struct {
	Valid     bool           `json:"valid"`
	Error     string         `json:"error,omitempty"`
	Payload   *token.Payload `json:"payload,omitempty"`
	ExpiresAt string         `json:"expires_at,omitempty"`
}

func newTokenInspectCmd(f *tokenFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <token>",
		Short: "Verify a token signature and print its payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := f.service()
			if err != nil {
				return err
			}
			out := inspection{Valid: true}
			p, err := svc.Verify(args[0])
			if err != nil {
				out = inspection{Valid: false, Error: err.Error()}
			} else {
				out.Payload = &p
				out.ExpiresAt = p.ExpiresAt().UTC().Format(time.RFC3339)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			if !out.Valid {
				return errors.New("token rejected")
			}
			return nil
		},
	}
}
