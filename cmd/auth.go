package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/blacktop/xpub/internal/xpub"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	authInstance string
	authCode     string
	authHandle   string
)

func newAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize xpub against a platform",
	}
	cmd.PersistentFlags().StringVar(&authInstance, "instance", "", "Mastodon instance or Bluesky PDS URL")

	urlCmd := &cobra.Command{
		Use:       "url <platform>",
		Short:     "Print the consent URL for a platform",
		Args:      cobra.ExactArgs(1),
		ValidArgs: allTargets(),
		RunE:      runAuthURL,
	}

	loginCmd := &cobra.Command{
		Use:   "login <platform>",
		Short: "Authorize a platform and store the resulting tokens",
		Long: "login prints the consent URL and then asks for the authorization code " +
			"(Mastodon), the PIN (X/Twitter) or an app password (Bluesky).",
		Args:      cobra.ExactArgs(1),
		ValidArgs: allTargets(),
		RunE:      runAuthLogin,
	}
	loginCmd.Flags().StringVar(&authCode, "code", "", "Authorization code or PIN (prompted when empty)")
	loginCmd.Flags().StringVar(&authHandle, "handle", "", "Bluesky handle")

	cmd.AddCommand(urlCmd, loginCmd)
	return cmd
}

func runAuthURL(cmd *cobra.Command, args []string) error {
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	id, err := resolvePlatformID(env.cfg, args[0], authInstance)
	if err != nil {
		return err
	}

	ch, err := env.broker.StartHandshake(cmd.Context(), id)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, ch.URL)
	if ch.RequestToken != "" {
		fmt.Fprintf(out, "request token: %s\nrequest secret: %s\n", ch.RequestToken, ch.RequestSecret)
	}
	return nil
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	env, err := openEnvironment()
	if err != nil {
		return err
	}
	defer env.Close()

	target := strings.ToLower(args[0])
	id, err := resolvePlatformID(env.cfg, target, authInstance)
	if err != nil {
		return err
	}

	ch, err := env.broker.StartHandshake(ctx, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	p := newPrompter(cmd.InOrStdin(), out)
	fmt.Fprintf(out, "Open this URL in your browser:\n\n  %s\n\n", ch.URL)

	var auth xpub.UserAuthorization
	switch target {
	case "twitter":
		pin, err := p.value(authCode, "Enter PIN: ", false)
		if err != nil {
			return err
		}
		auth, err = env.broker.CompleteHandshake(ctx, id, ch.RequestToken, ch.RequestSecret, pin)
		if err != nil {
			return err
		}
	case "bluesky":
		handle, err := p.value(authHandle, "Handle: ", false)
		if err != nil {
			return err
		}
		password, err := p.value(authCode, "App password: ", true)
		if err != nil {
			return err
		}
		auth, err = env.broker.CompleteHandshake(ctx, id, handle, "", password)
		if err != nil {
			return err
		}
	default:
		code, err := p.value(authCode, "Enter authorization code: ", false)
		if err != nil {
			return err
		}
		auth, err = env.broker.ExchangeCode(ctx, id, code)
		if err != nil {
			return err
		}
	}

	if auth.Subject != "" {
		fmt.Fprintf(out, "authorized %s as %s\n", id, auth.Subject)
	} else {
		fmt.Fprintf(out, "authorized %s\n", id)
	}
	return nil
}

// prompter reads answers from the command's input.
type prompter struct {
	in  io.Reader
	r   *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: in, r: bufio.NewReader(in), out: out}
}

// value returns preset when given, otherwise reads a line. Secrets are read
// without echo when the input is a terminal.
func (p *prompter) value(preset, prompt string, secret bool) (string, error) {
	if v := strings.TrimSpace(preset); v != "" {
		return v, nil
	}
	fmt.Fprint(p.out, prompt)

	if f, ok := p.in.(*os.File); ok && secret && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.out)
		if err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := p.r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
