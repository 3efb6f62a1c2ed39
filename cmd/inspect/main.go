// Command inspect prints stored direct messages from the configured store,
// or mints a bearer token for local testing.
//
//	inspect history -a 1 -b 2
//	inspect conversations -user 1
//	inspect token -user 1 -ttl 1h
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"

	"dmchat/internal/config"
	"dmchat/internal/domain"
	"dmchat/internal/security"
	"dmchat/internal/service"
	"dmchat/internal/store"
)

const usage = `usage: inspect <command> [flags]

commands:
  history        print the thread between two users
  conversations  print the conversation list of a user
  token          print a bearer token for a user`

// discard drops events; the inspector never delivers anything.
type discard struct{}

func (discard) Deliver(int64, domain.Event) {}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err := run(os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "inspect:", err)
		os.Exit(1)
	}
}

func run(cmd string, args []string, out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	switch cmd {
	case "token":
		fs := flag.NewFlagSet("token", flag.ExitOnError)
		user := fs.Int64("user", 0, "user id to issue the token for")
		ttl := fs.Duration("ttl", time.Duration(cfg.AccessTokenMinutes)*time.Minute, "token lifetime")
		_ = fs.Parse(args)
		if *user <= 0 {
			return fmt.Errorf("-user must be a positive id")
		}
		token, err := security.NewTokenService(cfg.JWTSecret, *ttl).CreateWithTTL(*user, *ttl)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, token)
		return err

	case "history", "conversations":
		return inspectStore(cmd, args, cfg, out)
	}
	return fmt.Errorf("unknown command %q\n%s", cmd, usage)
}

func inspectStore(cmd string, args []string, cfg *config.Config, out io.Writer) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	a := fs.Int64("a", 0, "first user id (history)")
	b := fs.Int64("b", 0, "second user id (history)")
	user := fs.Int64("user", 0, "user id (conversations)")
	_ = fs.Parse(args)

	ctx := context.Background()
	log := logs.GetLoggerFromString(cfg.LoggerLevel())
	st, err := store.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	var opts []service.Option
	if cfg.EncryptKey != "" {
		enc, err := security.NewEncryptor([]byte(cfg.EncryptKey), cfg.LegacyKeys())
		if err != nil {
			return err
		}
		opts = append(opts, service.WithCipher(enc))
	}
	svc := service.NewMessageService(st.Messages, discard{}, log, opts...)

	if cmd == "history" {
		msgs, err := svc.FetchHistory(ctx, *a, *b)
		if err != nil {
			return err
		}
		renderHistory(out, msgs)
		return nil
	}
	convs, err := svc.Conversations(ctx, *user)
	if err != nil {
		return err
	}
	renderConversations(out, convs)
	return nil
}

func newTable(out io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}

func renderHistory(out io.Writer, msgs []*domain.Message) {
	table := newTable(out, []string{"Created", "ID", "From", "To", "Text", "Image", "Edited"})
	for _, m := range msgs {
		table.Append([]string{
			m.CreatedAt.Format(time.RFC3339),
			m.ID,
			strconv.FormatInt(m.SenderID, 10),
			strconv.FormatInt(m.ReceiverID, 10),
			m.TextValue(),
			m.ImageRefValue(),
			strconv.FormatBool(m.Edited),
		})
	}
	table.Render()
}

func renderConversations(out io.Writer, convs []domain.ConversationSummary) {
	table := newTable(out, []string{"Peer", "Messages", "Last message"})
	for _, c := range convs {
		table.Append([]string{
			strconv.FormatInt(c.PeerID, 10),
			strconv.Itoa(c.MessageCount),
			c.LastMessageAt.Format(time.RFC3339),
		})
	}
	table.Render()
}
