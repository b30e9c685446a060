package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/matheus3301/portalchat/internal/api"
	"github.com/matheus3301/portalchat/internal/lock"
	"github.com/matheus3301/portalchat/internal/profile"
	"github.com/matheus3301/portalchat/internal/roster"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, cancel := requestContext(cmd)
		defer cancel()

		if err := c.Ping(ctx); err != nil {
			return daemonDown(err)
		}
		resp, err := c.Chat.Status(ctx, &api.StatusRequest{})
		if err != nil {
			return err
		}
		if jsonFlag {
			return outputJSON(resp)
		}
		fmt.Printf("Profile:     %s\n", resp.Profile)
		fmt.Printf("Storage:     %s (%s)\n", resp.Backend, resp.Codec)
		fmt.Printf("Unread mode: %s\n", resp.UnreadMode)
		fmt.Printf("Uptime:      %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
		if resp.RelayOrigin != "" {
			fmt.Printf("Relay:       %s\n", resp.RelayOrigin)
		}
		if len(resp.Users) > 0 {
			fmt.Printf("Users:       %s\n", strings.Join(resp.Users, ", "))
		}
		return nil
	},
}

// daemonDown adds the lock holder, if any, to a failed health check.
func daemonDown(err error) error {
	name, nerr := profileName()
	if nerr != nil {
		return err
	}
	info, held, lerr := lock.Inspect(profile.Dir(name))
	if lerr != nil || !held {
		return fmt.Errorf("daemon for profile %q is not running: %w", name, err)
	}
	return fmt.Errorf("daemon for profile %q (pid %d, started %s) is not answering: %w",
		name, info.PID, humanize.Time(info.Since), err)
}

var attachFlag string

var sendCmd = &cobra.Command{
	Use:   "send <to> <text>",
	Short: "Send a direct message",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		me, err := signedIn()
		if err != nil {
			return err
		}
		req := &api.SendRequest{User: me, To: args[0], Text: strings.Join(args[1:], " ")}
		if attachFlag != "" {
			id, name, _ := strings.Cut(attachFlag, ":")
			req.AttachmentID, req.AttachmentName = id, name
		}

		c, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()
		ctx, cancel := requestContext(cmd)
		defer cancel()

		resp, err := c.Chat.Send(ctx, req)
		if err != nil {
			return err
		}
		if jsonFlag {
			return outputJSON(resp)
		}
		fmt.Printf("sent %s to %s\n", resp.Message.ID, resp.Message.To)
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&attachFlag, "attach", "", "attachment as id:name")
}

var threadCmd = &cobra.Command{
	Use:   "thread <partner>",
	Short: "Print the conversation with a partner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		me, err := signedIn()
		if err != nil {
			return err
		}
		c, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()
		ctx, cancel := requestContext(cmd)
		defer cancel()

		resp, err := c.Chat.ListThread(ctx, &api.ListThreadRequest{User: me, Partner: args[0]})
		if err != nil {
			return err
		}
		if jsonFlag {
			return outputJSON(resp)
		}
		printThread(os.Stdout, me, resp.Messages)
		if resp.Unread > 0 {
			fmt.Printf("\n%d unread\n", resp.Unread)
		}
		return nil
	},
}

func printThread(w io.Writer, me string, msgs []api.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, m := range msgs {
		from := m.From
		if strings.EqualFold(strings.TrimSpace(m.From), strings.TrimSpace(me)) {
			from = "you"
		}
		body := m.Text
		if m.AttachmentName != "" {
			body = strings.TrimSpace(body + " [" + m.AttachmentName + "]")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", humanize.Time(m.At), from, m.State, body)
	}
	_ = tw.Flush()
}

var openCmd = &cobra.Command{
	Use:   "open <partner>",
	Short: "Open a thread and mark inbound messages read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		me, err := signedIn()
		if err != nil {
			return err
		}
		c, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()
		ctx, cancel := requestContext(cmd)
		defer cancel()

		resp, err := c.Chat.OpenThread(ctx, &api.OpenThreadRequest{User: me, Partner: args[0]})
		if err != nil {
			return err
		}
		if jsonFlag {
			return outputJSON(resp)
		}
		fmt.Printf("marked %d read, %d unread remaining\n", len(resp.MarkedRead), resp.Unread)
		return nil
	},
}

var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "Close the open thread",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		me, err := signedIn()
		if err != nil {
			return err
		}
		c, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()
		ctx, cancel := requestContext(cmd)
		defer cancel()

		_, err = c.Chat.CloseThread(ctx, &api.CloseThreadRequest{User: me})
		return err
	},
}

var visibleCmd = &cobra.Command{
	Use:       "visible <on|off>",
	Short:     "Report whether the chat surface is visible",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		me, err := signedIn()
		if err != nil {
			return err
		}
		var visible bool
		switch args[0] {
		case "on":
			visible = true
		case "off":
		default:
			return fmt.Errorf("want on or off, got %q", args[0])
		}
		c, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()
		ctx, cancel := requestContext(cmd)
		defer cancel()

		_, err = c.Chat.SetVisibility(ctx, &api.SetVisibilityRequest{User: me, Visible: visible})
		return err
	},
}

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "List people you can message",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()
		ctx, cancel := requestContext(cmd)
		defer cancel()

		resp, err := c.Chat.Roster(ctx, &api.RosterRequest{User: asFlag})
		if err != nil {
			return err
		}
		if jsonFlag {
			return outputJSON(resp)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tEMAIL\tUSERNAME\tUNREAD")
		for _, p := range resp.People {
			fmt.Fprintf(tw, "%s\t%s\t@%s\t%s\n", p.Name, p.Email, p.Username, humanize.Comma(int64(p.Unread)))
		}
		return tw.Flush()
	},
}

var unreadCmd = &cobra.Command{
	Use:   "unread [partner]",
	Short: "Show unread counts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		me, err := signedIn()
		if err != nil {
			return err
		}
		req := &api.UnreadRequest{User: me}
		if len(args) == 1 {
			req.Partner = args[0]
		}
		c, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()
		ctx, cancel := requestContext(cmd)
		defer cancel()

		resp, err := c.Chat.Unread(ctx, req)
		if err != nil {
			return err
		}
		if jsonFlag {
			return outputJSON(resp)
		}
		partners := make([]string, 0, len(resp.Counts))
		for p, n := range resp.Counts {
			if n > 0 {
				partners = append(partners, p)
			}
		}
		sort.Strings(partners)
		for _, p := range partners {
			fmt.Printf("%-32s %s\n", p, humanize.Comma(int64(resp.Counts[p])))
		}
		fmt.Printf("Total: %s (%s mode)\n", humanize.Comma(int64(resp.Total)), resp.Mode)
		return nil
	},
}

var watchKinds []string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream daemon events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		stream, err := c.Chat.WatchEvents(cmd.Context(), &api.WatchEventsRequest{User: asFlag, Kinds: watchKinds})
		if err != nil {
			return err
		}
		for {
			env, err := stream.Recv()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			payload, err := api.UnmarshalPayload(env.Payload)
			if err != nil {
				payload = map[string]any{"error": err.Error()}
			}
			if jsonFlag {
				if err := outputJSON(map[string]any{
					"kind":    env.Kind,
					"at":      time.UnixMilli(env.OccurredAtUnixMs).UTC(),
					"origin":  env.Origin,
					"payload": payload,
				}); err != nil {
					return err
				}
				continue
			}
			at := time.UnixMilli(env.OccurredAtUnixMs).Format(time.TimeOnly)
			fmt.Printf("%s %-18s %v\n", at, env.Kind, payload)
		}
	},
}

func init() {
	watchCmd.Flags().StringSliceVar(&watchKinds, "kind", nil, "event kind prefixes to include (repeatable)")
}

var directoryCmd = &cobra.Command{
	Use:   "directory",
	Short: "Manage the people directory",
}

var directoryImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the directory from a JSON, JSONC or YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		people, err := roster.ReadDirectoryFile(args[0])
		if err != nil {
			return err
		}
		c, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()
		ctx, cancel := requestContext(cmd)
		defer cancel()

		resp, err := c.Chat.ImportDirectory(ctx, &api.ImportDirectoryRequest{People: people})
		if err != nil {
			return err
		}
		if jsonFlag {
			return outputJSON(resp)
		}
		fmt.Printf("imported %d people\n", resp.Imported)
		return nil
	},
}

var usernameCmd = &cobra.Command{
	Use:   "username",
	Short: "Manage username overrides",
}

var usernameSetCmd = &cobra.Command{
	Use:   "set <email> <handle>",
	Short: "Override the username derived for an email",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()
		ctx, cancel := requestContext(cmd)
		defer cancel()

		resp, err := c.Chat.SetUsername(ctx, &api.SetUsernameRequest{Email: args[0], Handle: args[1]})
		if err != nil {
			return err
		}
		if jsonFlag {
			return outputJSON(resp)
		}
		fmt.Printf("%s is now @%s\n", args[0], resp.Username)
		return nil
	},
}

func init() {
	directoryCmd.AddCommand(directoryImportCmd)
	usernameCmd.AddCommand(usernameSetCmd)
}
