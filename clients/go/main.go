// Inbox CLI - Command line client for the inbox messaging API
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/eldtechnologies/inbox/clients/go/inbox"
	"github.com/eldtechnologies/inbox/internal/models"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	client := inbox.NewClient(os.Getenv("INBOX_URL"))
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "register":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: inbox register <name> [traveler|company]")
			os.Exit(1)
		}
		kind := models.ParticipantTraveler
		if len(os.Args) > 3 {
			kind = models.ParticipantKind(os.Args[3])
		}
		resp, err := client.Register(os.Args[2], kind)
		exitOnError(err)
		fmt.Printf("Registered as: %d\n", resp.ID)

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: inbox send <participant_id> <message> [type]")
			os.Exit(1)
		}
		req := inbox.SendRequest{ReceiverID: parseID(os.Args[2]), Content: os.Args[3]}
		if len(os.Args) > 4 {
			req.MessageType = os.Args[4]
		}
		msg, err := client.Send(req)
		exitOnError(err)
		fmt.Printf("Sent: %d (conversation %d)\n", msg.ID, msg.ConversationID)

	case "list":
		convs, err := client.ListConversations()
		exitOnError(err)
		for _, c := range convs {
			fmt.Printf("  #%d  with %d  unread %d  %s\n",
				c.ID, c.OtherParticipantID, c.UnreadCount, c.LastActivity.Format("2006-01-02 15:04:05"))
		}

	case "read":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: inbox read <conversation_id>")
			os.Exit(1)
		}
		convID := parseID(os.Args[2])
		var after int64
		for {
			page, err := client.GetMessages(convID, after, 100)
			exitOnError(err)
			for _, msg := range page.Messages {
				marker := " "
				if !msg.IsRead && msg.ReceiverID == client.ParticipantID {
					marker = "*"
				}
				fmt.Printf("%s[%s] %d: %s\n", marker, msg.CreatedAt.Format("2006-01-02 15:04:05"), msg.SenderID, msg.Content)
			}
			if page.NextAfter == 0 {
				break
			}
			after = page.NextAfter
		}
		_, err := client.MarkConversationRead(convID)
		exitOnError(err)

	case "unread":
		n, err := client.Unread(0)
		exitOnError(err)
		fmt.Printf("Unread: %d\n", n)

	case "events":
		events, err := client.Events(20)
		exitOnError(err)
		printJSON(events)

	case "who":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: inbox who <participant_id>")
			os.Exit(1)
		}
		resp, err := client.GetParticipant(parseID(os.Args[2]))
		exitOnError(err)
		printJSON(resp)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`Inbox CLI - traveler/company messaging

Usage: inbox <command> [options]

Commands:
  register <name> [kind]        Register as traveler (default) or company
  send <id> <message> [type]    Send a message (type: direct, inquiry, booking)
  list                          List conversations
  read <conversation_id>        Print a conversation and mark it read
  unread                        Show total unread count
  events                        Show recent change events
  who <participant_id>          Get participant profile
  health                        Check server health

Environment:
  INBOX_URL      Server URL (default: http://localhost:8080)
  INBOX_CONFIG   Config directory (default: ~/.inbox)`)
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(os.Stderr, "Invalid ID: %s\n", s)
		os.Exit(1)
	}
	return id
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
