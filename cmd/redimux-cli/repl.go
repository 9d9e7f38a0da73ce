package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/hdt3213/redimux/config"
	"github.com/hdt3213/redimux/interface/redis"
	"github.com/hdt3213/redimux/lib/utils"
	"github.com/hdt3213/redimux/redis/client"
	"github.com/hdt3213/redimux/redis/protocol"
)

var (
	colorStatus  = color.New(color.FgGreen)
	colorError   = color.New(color.FgRed, color.Bold)
	colorInteger = color.New(color.FgCyan)
	colorNull    = color.New(color.FgHiBlack)
	colorMessage = color.New(color.FgYellow)
)

func runRepl(c *client.Client, props *config.ClientProperties) {
	rl, err := readline.New(props.Address() + "> ")
	if err != nil {
		fmt.Println(err)
		return
	}
	defer rl.Close()

	c.OnDisconnect(func() {
		colorError.Println("connection lost")
	})

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		args, err := splitArgs(line)
		if err != nil {
			colorError.Println(err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		switch strings.ToUpper(args[0]) {
		case "QUIT", "EXIT":
			return
		case "SUBSCRIBE":
			doSubscribe(c.Subscribe, args[1:])
		case "PSUBSCRIBE":
			doSubscribe(c.PSubscribe, args[1:])
		case "UNSUBSCRIBE":
			if err := c.Unsubscribe(args[1:]...); err != nil {
				colorError.Println(err)
			}
		case "PUNSUBSCRIBE":
			if err := c.PUnsubscribe(args[1:]...); err != nil {
				colorError.Println(err)
			}
		default:
			printReply(c.Send(utils.ToCmdLine(args...)), "")
		}
	}
}

// doSubscribe registers handles and prints deliveries in the background
// until the matching unsubscribe completes their streams
func doSubscribe(subscribe func(...string) ([]*client.Subscription, error), names []string) {
	subs, err := subscribe(names...)
	if err != nil {
		colorError.Println(err)
		return
	}
	for _, sub := range subs {
		colorStatus.Printf("subscribed to %s\n", sub.Name())
		go func(sub *client.Subscription) {
			for msg := range sub.Messages() {
				if msg.Pattern != "" {
					colorMessage.Printf("[%s|%s] %s\n", msg.Pattern, msg.Channel, msg.Payload)
				} else {
					colorMessage.Printf("[%s] %s\n", msg.Channel, msg.Payload)
				}
			}
			colorNull.Printf("%s stream closed\n", sub.Name())
		}(sub)
	}
}

func printReply(reply redis.Reply, padding string) {
	switch r := reply.(type) {
	case *protocol.StatusReply:
		colorStatus.Println(padding + r.Status)
	case *protocol.StandardErrReply:
		colorError.Println(padding + "(error) " + r.Status)
	case *protocol.IntReply:
		colorInteger.Println(padding + "(integer) " + strconv.FormatInt(r.Code, 10))
	case *protocol.BulkReply:
		fmt.Println(padding + strconv.Quote(string(r.Arg)))
	case *protocol.NullBulkReply:
		colorNull.Println(padding + "(nil)")
	case *protocol.NullArrayReply:
		colorNull.Println(padding + "(nil)")
	case *protocol.EmptyMultiBulkReply:
		colorNull.Println(padding + "(empty array)")
	case *protocol.ArrayReply:
		for i, element := range r.Elements {
			fmt.Printf("%s%d) ", padding, i+1)
			printReply(element, "")
		}
	default:
		fmt.Println(padding + string(reply.ToBytes()))
	}
}

// splitArgs tokenizes a command line, honouring single and double quotes
func splitArgs(line string) ([]string, error) {
	var args []string
	var current strings.Builder
	inArg := false
	var quote byte
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			} else {
				current.WriteByte(ch)
			}
		case ch == '\'' || ch == '"':
			quote = ch
			inArg = true
		case ch == ' ' || ch == '\t':
			if inArg {
				args = append(args, current.String())
				current.Reset()
				inArg = false
			}
		default:
			current.WriteByte(ch)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, errors.New("unterminated quote")
	}
	if inArg {
		args = append(args, current.String())
	}
	return args, nil
}
