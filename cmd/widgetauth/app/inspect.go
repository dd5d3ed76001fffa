package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/moweilong/widgetauth/pkg/claims"
	"github.com/moweilong/widgetauth/pkg/schedule"
)

// now is replaced in tests.
var now = time.Now

// Inspection is what inspect reports about a token.
type Inspection struct {
	Header    map[string]any `json:"header" yaml:"header"`
	Claims    map[string]any `json:"claims" yaml:"claims"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	ExpiresIn string         `json:"expires_in,omitempty" yaml:"expires_in,omitempty"`
	RefreshIn string         `json:"refresh_in" yaml:"refresh_in"`
}

type inspectOptions struct {
	output string
	policy schedule.Policy
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand() *cobra.Command {
	o := &inspectOptions{output: "table", policy: schedule.DefaultPolicy()}

	cmd := &cobra.Command{
		Use:   "inspect [TOKEN|-]",
		Short: "Decode a widget token and show when it would be refreshed",
		Long: `Decode a widget token without verifying it, and show its claims, its
expiry and the delay before a token manager would refresh it.

The token is read from standard input when it is "-" or omitted.`,
		Example: `  widgetauth inspect eyJhbGciOi...
  curl -s localhost:8080/v1/tenants/acme/token | jq -r .token | widgetauth inspect -o yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := readToken(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return o.run(cmd.OutOrStdout(), token)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&o.output, "output", "o", o.output, "Output format: table, yaml or json.")
	fs.DurationVar(&o.policy.Buffer, "refresh-buffer", o.policy.Buffer, "Refresh this long before the token expires.")
	fs.DurationVar(&o.policy.Min, "min-refresh", o.policy.Min, "Shortest delay before a refresh.")
	fs.DurationVar(&o.policy.Fallback, "fallback-refresh", o.policy.Fallback, "Refresh delay for tokens without a readable expiry.")
	return cmd
}

func readToken(r io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return strings.TrimSpace(args[0]), nil
	}

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return "", errors.New("no token given")
	}
	return token, nil
}

func (o *inspectOptions) run(w io.Writer, token string) error {
	in, err := o.inspect(token)
	if err != nil {
		return err
	}

	switch o.output {
	case "json":
		out, err := sonic.ConfigStd.MarshalIndent(in, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(in); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		_, err := fmt.Fprintln(w, in.table())
		return err
	default:
		return fmt.Errorf("unknown output format %q", o.output)
	}
}

func (o *inspectOptions) inspect(token string) (*Inspection, error) {
	c, err := claims.Parse(token)
	if err != nil {
		return nil, err
	}

	t := now()
	in := &Inspection{
		Header:    c.Header,
		Claims:    c.Claims,
		RefreshIn: o.policy.RefreshDelay(token, t).String(),
	}
	if exp, ok := claims.ExpiresAt(token); ok {
		exp = exp.UTC()
		in.ExpiresAt = &exp
		in.ExpiresIn = exp.Sub(t).Round(time.Second).String()
	}
	return in, nil
}

func (in *Inspection) table() string {
	table := uitable.New()
	table.MaxColWidth = 80
	table.Wrap = true

	table.AddRow("FIELD", "VALUE")
	for _, k := range slices.Sorted(maps.Keys(in.Header)) {
		table.AddRow("header."+k, in.Header[k])
	}
	for _, k := range slices.Sorted(maps.Keys(in.Claims)) {
		table.AddRow(k, formatClaim(k, in.Claims[k]))
	}
	if in.ExpiresAt != nil {
		table.AddRow("expires in", in.ExpiresIn)
	}
	table.AddRow("refresh in", in.RefreshIn)
	return table.String()
}

// formatClaim renders NumericDate claims as times.
func formatClaim(name string, v any) any {
	switch name {
	case "exp", "iat", "nbf":
		if f, ok := v.(float64); ok {
			return fmt.Sprintf("%.0f (%s)", f, time.Unix(int64(f), 0).UTC().Format(time.RFC3339))
		}
	}
	return v
}
