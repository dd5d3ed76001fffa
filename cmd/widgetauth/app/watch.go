package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/moweilong/widgetauth/pkg/broadcast"
	"github.com/moweilong/widgetauth/pkg/claims"
	"github.com/moweilong/widgetauth/pkg/log"
	"github.com/moweilong/widgetauth/pkg/sse"
)

type watchOptions struct {
	agentURL  string
	tenant    string
	redisAddr string
	channel   string
	showToken bool
}

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	o := &watchOptions{agentURL: "http://127.0.0.1:8080", channel: broadcast.DefaultChannel}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print widget-token events as they happen",
		Long: `Print widget-token events as they happen.

Events are read from the agent's event stream, or from a Redis channel when
--redis is set. Tokens are shortened unless --show-token is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logOpts := log.NewOptions()
			logOpts.Level = "warn"
			logOpts.OutputPaths = []string{"stderr"}
			log.Init(logOpts)

			return o.run(genericapiserver.SetupSignalContext(), cmd.OutOrStdout())
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&o.agentURL, "agent", o.agentURL, "Base URL of the agent.")
	fs.StringVar(&o.tenant, "tenant", o.tenant, "Only print events of this tenant.")
	fs.StringVar(&o.redisAddr, "redis", o.redisAddr, "Read events from Redis at `HOST:PORT` instead of the agent.")
	fs.StringVar(&o.channel, "channel", o.channel, "Redis channel to read.")
	fs.BoolVar(&o.showToken, "show-token", o.showToken, "Print tokens in full.")
	return cmd
}

func (o *watchOptions) run(ctx context.Context, w io.Writer) error {
	if o.redisAddr != "" {
		return o.watchRedis(ctx, w)
	}
	return o.watchAgent(ctx, w)
}

func (o *watchOptions) watchAgent(ctx context.Context, w io.Writer) error {
	u := strings.TrimSuffix(o.agentURL, "/") + "/v1/events"
	if o.tenant != "" {
		u += "?tenant=" + url.QueryEscape(o.tenant)
	}

	client := sse.NewClient(u, sse.WithClientLogger(log.Default()))
	client.OnEvent(broadcast.EventName, func(e *sse.Event) {
		data, _ := e.Data.(map[string]any)
		tenant, _ := data["tenant"].(string)
		token, _ := data["token"].(string)
		issuedAt, _ := time.Parse(time.RFC3339Nano, fmt.Sprint(data["issued_at"]))
		o.print(w, tenant, token, issuedAt)
	})

	fmt.Fprintf(w, "Watching %s\n", color.HiBlackString(u))
	err := client.Run(ctx)
	if errors.Is(err, sse.ErrClosedByServer) {
		fmt.Fprintln(w, "Stream closed by the agent")
		return nil
	}
	return ignoreCanceled(err)
}

func (o *watchOptions) watchRedis(ctx context.Context, w io.Writer) error {
	client := redis.NewClient(&redis.Options{Addr: o.redisAddr})
	defer client.Close()

	fmt.Fprintf(w, "Watching redis://%s %s\n", o.redisAddr, color.HiBlackString(o.channel))
	return ignoreCanceled(broadcast.Listen(ctx, client, o.channel, func(e broadcast.Event) {
		o.print(w, e.APIBase, e.Token, e.IssuedAt)
	}))
}

// print writes one line per event: time, source, token and its expiry.
func (o *watchOptions) print(w io.Writer, source, token string, issuedAt time.Time) {
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}

	expiry := color.HiBlackString("no expiry")
	if exp, ok := claims.ExpiresAt(token); ok {
		expiry = describeExpiry(time.Until(exp))
	}
	if !o.showToken {
		token = shortenToken(token)
	}

	fmt.Fprintf(w, "%s  %s  %s  %s\n",
		color.HiBlackString(issuedAt.Local().Format("15:04:05")),
		color.HiCyanString(source),
		token,
		expiry,
	)
}

func describeExpiry(left time.Duration) string {
	left = left.Round(time.Second)
	switch {
	case left <= 0:
		return color.RedString("expired")
	case left < 5*time.Minute:
		return color.YellowString("expires in %s", left)
	default:
		return color.GreenString("expires in %s", left)
	}
}

func shortenToken(token string) string {
	if len(token) <= 16 {
		return token
	}
	return token[:8] + "..." + token[len(token)-8:]
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
