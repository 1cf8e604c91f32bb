package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/courier/internal/client"
	"github.com/matheus3301/courier/internal/event"
	"github.com/olekukonko/tablewriter"
)

func main() {
	addrFlag := flag.String("addr", envOr("COURIER_ADDR", "http://localhost:8080"), "daemon base url")
	userFlag := flag.String("user", os.Getenv("COURIER_USER"), "acting user id")
	deviceFlag := flag.String("device", "courierctl", "device id used by watch")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 || *userFlag == "" {
		printUsage()
		os.Exit(1)
	}

	c, err := client.New(*addrFlag, *userFlag, *deviceFlag)
	if err != nil {
		fatal(err)
	}

	if args[0] == "watch" {
		cmdWatch(c, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "conversations":
		cmdConversations(ctx, c, *jsonFlag)
	case "direct":
		need(args, 2, "courierctl direct <user_id>")
		conv, err := c.CreateDirect(ctx, args[1])
		if err != nil {
			fatal(err)
		}
		printConversation(conv, *jsonFlag)
	case "group":
		need(args, 2, "courierctl group <name> [member_id...]")
		conv, err := c.CreateGroup(ctx, args[1], args[2:])
		if err != nil {
			fatal(err)
		}
		printConversation(conv, *jsonFlag)
	case "send":
		need(args, 3, "courierctl send <conversation_id> <text...>")
		msg, err := c.Send(ctx, args[1], strings.Join(args[2:], " "))
		if err != nil {
			fatal(err)
		}
		if *jsonFlag {
			outputJSON(msg)
			return
		}
		fmt.Printf("sent %s\n", msg.ID)
	case "history":
		need(args, 2, "courierctl history <conversation_id> [before_message_id]")
		before := ""
		if len(args) > 2 {
			before = args[2]
		}
		cmdHistory(ctx, c, args[1], before, *jsonFlag)
	case "read":
		need(args, 2, "courierctl read <message_id>")
		if err := c.MarkRead(ctx, args[1]); err != nil {
			fatal(err)
		}
	case "presence":
		need(args, 2, "courierctl presence <user_id>")
		st, err := c.Presence(ctx, args[1])
		if err != nil {
			fatal(err)
		}
		fmt.Printf("%s: %s\n", args[1], st)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: courierctl --user <id> [--addr <url>] [--device <id>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  conversations              List conversations")
	fmt.Fprintln(os.Stderr, "  direct <user>              Open a direct conversation")
	fmt.Fprintln(os.Stderr, "  group <name> [members]     Create a group")
	fmt.Fprintln(os.Stderr, "  send <conv> <text>         Send a text message")
	fmt.Fprintln(os.Stderr, "  history <conv> [before]    Show message history")
	fmt.Fprintln(os.Stderr, "  read <message>             Mark a message read")
	fmt.Fprintln(os.Stderr, "  presence <user>            Show a user's presence")
	fmt.Fprintln(os.Stderr, "  watch                      Stream live events")
}

func cmdConversations(ctx context.Context, c *client.Client, jsonOut bool) {
	convs, err := c.ListConversations(ctx, 0)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(convs)
		return
	}
	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return
	}
	table := newTable("ID", "Kind", "Name", "Unread")
	for _, conv := range convs {
		table.Append(conversationRow(&conv))
	}
	table.Render()
}

func printConversation(conv *client.Conversation, jsonOut bool) {
	if jsonOut {
		outputJSON(conv)
		return
	}
	table := newTable("ID", "Kind", "Name", "Unread")
	table.Append(conversationRow(conv))
	table.Render()
}

func conversationRow(conv *client.Conversation) []string {
	label := conv.Name
	if label == "" {
		members := make([]string, 0, len(conv.Participants))
		for _, p := range conv.Participants {
			members = append(members, p.UserID)
		}
		label = strings.Join(members, ", ")
	}
	return []string{conv.ID, conv.Kind, label, strconv.Itoa(conv.UnreadCount)}
}

func cmdHistory(ctx context.Context, c *client.Client, conversationID, before string, jsonOut bool) {
	msgs, err := c.Messages(ctx, conversationID, 50, before)
	if err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	table := newTable("Time", "ID", "Sender", "Status", "Content")
	// Oldest first reads naturally in a terminal.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		table.Append([]string{
			m.CreatedAt.Local().Format(time.DateTime),
			m.ID,
			m.SenderID,
			m.Status,
			string(m.Content),
		})
	}
	table.Render()
}

func newTable(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
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
	table.SetTablePadding("  ")
	return table
}

func cmdWatch(c *client.Client, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := c.Watch(ctx, func(f event.Frame) {
		if jsonOut {
			outputJSON(f)
			return
		}
		fmt.Printf("%s %s\n", f.Type, f.Payload)
	})
	if err != nil {
		fatal(err)
	}
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, "usage: "+usage)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
