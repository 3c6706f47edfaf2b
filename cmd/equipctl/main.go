// Command equipctl is an interactive operator console for the campus
// equipment backend.
//
// After login the console issues control commands and queries over the
// same TCP session the backend serves to real operator clients, and
// prints unsolicited frames (control responses, threshold alerts) as
// they arrive.
//
// Usage:
//
//	equipctl [flags]
//
// Flags:
//
//	-addr string      Server address (default "localhost:9000")
//	-discover         Find the server over mDNS instead of -addr
//	-user string      User id (prompted when omitted)
//	-password string  Password (prompted when omitted)
//
// Interactive commands:
//
//	status [device|all]          - Show device status
//	on <device>                  - Turn a device on
//	off <device>                 - Turn a device off
//	restart <device>             - Restart a device
//	places                       - List places with their devices
//	reserve <place> <user> <start> <end> [purpose] - Apply for a reservation
//	reservations                 - List visible reservations
//	approve <place> <id>         - Approve a reservation (admin)
//	reject <place> <id>          - Reject a reservation (admin)
//	energy [device|all]          - Show aggregated energy records
//	threshold <device> <watts>   - Set an alarm threshold (admin)
//	alarms                       - List unacknowledged alarms
//	ack <id>                     - Acknowledge an alarm
//	help                         - Show this help
//	quit                         - Exit
//
// Times use the "2006-01-02 15:04" layout, quoted or not; the start
// and end fields are read as two words each: date then time.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/campuseq/campuseq-go/pkg/discovery"
	"github.com/campuseq/campuseq-go/pkg/transport"
	"github.com/campuseq/campuseq-go/pkg/wire"
)

const replyTimeout = 5 * time.Second

type console struct {
	conn *transport.ClientConn
	rl   *readline.Instance

	// Unsolicited frames arrive on the same session as replies; the
	// read pump separates them so command handlers only ever see
	// their own reply.
	replies chan *wire.Message

	wg     sync.WaitGroup
	closed chan struct{}
}

func main() {
	addr := flag.String("addr", "localhost:9000", "server address")
	discover := flag.Bool("discover", false, "find the server over mDNS")
	user := flag.String("user", "", "user id")
	password := flag.String("password", "", "password")
	flag.Parse()

	if err := run(*addr, *discover, *user, *password); err != nil {
		fmt.Fprintf(os.Stderr, "equipctl: %v\n", err)
		os.Exit(1)
	}
}

func run(addr string, discover bool, user, password string) error {
	ctx := context.Background()

	if discover {
		found, err := discovery.Find(ctx, 0)
		if err != nil || len(found) == 0 {
			return errors.New("no server found over mDNS")
		}
		addr = found[0].Addr()
		fmt.Printf("server discovered at %s\n", addr)
	}

	conn, err := transport.NewClient(transport.ClientConfig{}).Connect(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "equipctl> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	if user == "" {
		user, err = prompt(rl, "user: ")
		if err != nil {
			return err
		}
	}
	if password == "" {
		pw, err := rl.ReadPassword("password: ")
		if err != nil {
			return err
		}
		password = string(pw)
	}

	c := &console{
		conn:    conn,
		rl:      rl,
		replies: make(chan *wire.Message, 4),
		closed:  make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readPump()
	defer func() {
		conn.Close()
		c.wg.Wait()
	}()

	role, err := c.login(user, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(rl.Stdout(), "logged in as %s (%s)\n", user, role)

	c.loop()
	return nil
}

func prompt(rl *readline.Instance, p string) (string, error) {
	rl.SetPrompt(p)
	defer rl.SetPrompt("equipctl> ")
	line, err := rl.Readline()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readPump decodes every inbound frame, printing unsolicited pushes
// and queueing replies for the command in flight.
func (c *console) readPump() {
	defer c.wg.Done()
	defer close(c.closed)

	for {
		body, err := c.conn.Receive(0)
		if err != nil {
			return
		}
		if string(body) == string(wire.HeartbeatReply) {
			continue
		}
		msg, err := wire.Decode(body)
		if err != nil {
			continue
		}
		switch msg.Kind {
		case wire.KindControlResponse:
			fmt.Fprintf(c.rl.Stdout(), "\n[%s] control response: %s\n", msg.Subject, msg.Rest)
		case wire.KindAlertMessage:
			fmt.Fprintf(c.rl.Stdout(), "\n[%s] ALERT: power %s exceeds threshold %s\n",
				msg.Subject, field(msg, 0), field(msg, 1))
		default:
			select {
			case c.replies <- msg:
			default:
			}
		}
	}
}

func field(msg *wire.Message, i int) string {
	f := msg.Fields()
	if i < len(f) {
		return f[i]
	}
	return ""
}

// request sends one frame and waits for the next reply frame.
func (c *console) request(kind wire.Kind, subject string, fields ...string) (*wire.Message, error) {
	body, err := wire.Encode(wire.ClientOperator, kind, subject, fields...)
	if err != nil {
		return nil, err
	}
	if err := c.conn.Send(body); err != nil {
		return nil, err
	}
	select {
	case msg := <-c.replies:
		return msg, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	case <-time.After(replyTimeout):
		return nil, errors.New("timed out waiting for reply")
	}
}

func (c *console) login(user, password string) (string, error) {
	msg, err := c.request(wire.KindLogin, "", user, password)
	if err != nil {
		return "", err
	}
	f := msg.Fields()
	if msg.Kind != wire.KindLoginResponse || len(f) == 0 || f[0] != wire.TokenSuccess {
		return "", fmt.Errorf("login failed: %s", msg.Rest)
	}
	if len(f) > 1 {
		return f[1], nil
	}
	return "", nil
}

func (c *console) loop() {
	out := c.rl.Stdout()
	for {
		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(out, "bye")
			return
		}
		args := strings.Fields(strings.TrimSpace(line))
		if len(args) == 0 {
			continue
		}

		if err := c.dispatch(out, args); err != nil {
			if errors.Is(err, errQuit) {
				return
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

var errQuit = errors.New("quit")

func (c *console) dispatch(out io.Writer, args []string) error {
	switch args[0] {
	case "quit", "exit":
		return errQuit
	case "help":
		printHelp(out)
		return nil
	case "status":
		subject := wire.SubjectAll
		if len(args) > 1 {
			subject = args[1]
		}
		return c.printReply(out, wire.KindStatusQuery, subject)
	case "on":
		return c.control(out, args, wire.CmdTurnOn)
	case "off":
		return c.control(out, args, wire.CmdTurnOff)
	case "restart":
		return c.control(out, args, wire.CmdRestart)
	case "places":
		return c.printRecords(out, wire.KindPlaceListQuery, wire.SubjectAll)
	case "reserve":
		if len(args) < 7 {
			return errors.New("usage: reserve <place> <user> <date> <time> <date> <time> [purpose]")
		}
		start := args[3] + " " + args[4]
		end := args[5] + " " + args[6]
		fields := []string{args[2], start, end}
		if len(args) > 7 {
			fields = append(fields, strings.Join(args[7:], " "))
		}
		msg, err := c.request(wire.KindReservationApply, args[1], fields...)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, msg.Rest)
		return nil
	case "reservations":
		return c.printRecords(out, wire.KindReservationQuery, wire.SubjectAll)
	case "approve", "reject":
		if len(args) < 3 {
			return fmt.Errorf("usage: %s <place> <id>", args[0])
		}
		msg, err := c.request(wire.KindReservationApprove, args[1], args[2], args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, msg.Rest)
		return nil
	case "energy":
		subject := wire.SubjectAll
		if len(args) > 1 {
			subject = args[1]
		}
		return c.printRecords(out, wire.KindEnergyQuery, subject)
	case "threshold":
		if len(args) < 3 {
			return errors.New("usage: threshold <device> <watts>")
		}
		msg, err := c.request(wire.KindSetThreshold, args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, msg.Rest)
		return nil
	case "alarms":
		return c.printRecords(out, wire.KindAlarmQuery, wire.SubjectAll)
	case "ack":
		if len(args) < 2 {
			return errors.New("usage: ack <id>")
		}
		msg, err := c.request(wire.KindAlarmAck, "", args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, msg.Rest)
		return nil
	default:
		return fmt.Errorf("unknown command %q (try help)", args[0])
	}
}

func (c *console) control(out io.Writer, args []string, cmd wire.CmdKind) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: %s <device>", args[0])
	}
	msg, err := c.request(wire.KindControlCommand, args[1], fmt.Sprintf("%d", cmd))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %s\n", msg.Subject, msg.Rest)
	return nil
}

func (c *console) printReply(out io.Writer, kind wire.Kind, subject string) error {
	msg, err := c.request(kind, subject)
	if err != nil {
		return err
	}
	if subject == wire.SubjectAll {
		printRecordList(out, msg.Rest)
		return nil
	}
	fmt.Fprintf(out, "%s: %s\n", msg.Subject, msg.Rest)
	return nil
}

func (c *console) printRecords(out io.Writer, kind wire.Kind, subject string) error {
	msg, err := c.request(kind, subject)
	if err != nil {
		return err
	}
	f := msg.Fields()
	if len(f) > 0 && f[0] == wire.TokenFail {
		return errors.New(msg.Rest)
	}
	printRecordList(out, msg.Rest)
	return nil
}

func printRecordList(out io.Writer, rest string) {
	if rest == "" {
		fmt.Fprintln(out, "(none)")
		return
	}
	for _, record := range strings.Split(rest, ";") {
		fmt.Fprintf(out, "  %s\n", strings.ReplaceAll(record, "|", "  "))
	}
}

func printHelp(out io.Writer) {
	fmt.Fprint(out, `commands:
  status [device|all]
  on|off|restart <device>
  places
  reserve <place> <user> <date> <time> <date> <time> [purpose]
  reservations
  approve|reject <place> <id>
  energy [device|all]
  threshold <device> <watts>
  alarms
  ack <id>
  quit
`)
}
