// Command equiplog views and summarizes protocol log files recorded
// by equipd's -protocol-log flag.
//
// Usage:
//
//	equiplog <command> [flags] <file.elog>
//
// Commands:
//
//	view     Print events in human-readable form
//	stats    Summarize the log file
//
// Examples:
//
//	# View all events
//	equiplog view equipd.elog
//
//	# Only frames on one connection
//	equiplog view -conn-id 7f3a equipd.elog
//
//	# Only a device's traffic
//	equiplog view -device proj_101 equipd.elog
//
//	# Counters per kind and direction
//	equiplog stats equipd.elog
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/campuseq/campuseq-go/pkg/log"
	"github.com/campuseq/campuseq-go/pkg/wire"
)

const usage = `equiplog - protocol log viewer

Usage:
  equiplog <command> [flags] <file.elog>

Commands:
  view     Print events in human-readable form
  stats    Summarize the log file

Use "equiplog <command> -help" for command flags.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "view":
		err = runView(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "equiplog: unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "equiplog: %v\n", err)
		os.Exit(1)
	}
}

func runView(args []string) error {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	connID := fs.String("conn-id", "", "only events for this connection id")
	deviceID := fs.String("device", "", "only events for this device id")
	userID := fs.String("user", "", "only events for this user id")
	kindTag := fs.Int("kind", 0, "only messages with this kind tag")
	direction := fs.String("direction", "", "only this direction: in or out")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("view needs exactly one log file")
	}

	filter := log.Filter{
		ConnectionID: *connID,
		DeviceID:     *deviceID,
		UserID:       *userID,
	}
	if *kindTag > 0 {
		k := wire.Kind(*kindTag)
		filter.Kind = &k
	}
	switch *direction {
	case "":
	case "in":
		d := log.DirectionIn
		filter.Direction = &d
	case "out":
		d := log.DirectionOut
		filter.Direction = &d
	default:
		return fmt.Errorf("unknown direction %q", *direction)
	}

	reader, err := log.NewFilteredReader(fs.Arg(0), filter)
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		printEvent(event)
	}
}

func printEvent(e log.Event) {
	ts := e.Timestamp.Format("15:04:05.000")
	prefix := fmt.Sprintf("%s %-3s %-9s conn=%s", ts, e.Direction, e.Layer, short(e.ConnectionID))

	switch {
	case e.Message != nil:
		fmt.Printf("%s %s %s subject=%q size=%d\n",
			prefix, e.Message.ClientType, e.Message.Kind, e.Message.Subject, e.Message.PayloadSize)
	case e.Frame != nil:
		fmt.Printf("%s frame size=%d\n", prefix, e.Frame.Size)
	case e.StateChange != nil:
		fmt.Printf("%s %s %s -> %s reason=%q\n",
			prefix, e.StateChange.Entity, e.StateChange.OldState, e.StateChange.NewState, e.StateChange.Reason)
	case e.Error != nil:
		fmt.Printf("%s error: %s\n", prefix, e.Error.Message)
	default:
		fmt.Println(prefix)
	}
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("stats needs exactly one log file")
	}

	reader, err := log.NewReader(fs.Arg(0))
	if err != nil {
		return err
	}
	defer reader.Close()

	var total, in, out, frames, stateChanges, errCount int
	kinds := map[wire.Kind]int{}
	conns := map[string]struct{}{}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		total++
		if event.ConnectionID != "" {
			conns[event.ConnectionID] = struct{}{}
		}
		switch event.Direction {
		case log.DirectionIn:
			in++
		case log.DirectionOut:
			out++
		}
		switch {
		case event.Message != nil:
			kinds[event.Message.Kind]++
		case event.Frame != nil:
			frames++
		case event.StateChange != nil:
			stateChanges++
		case event.Error != nil:
			errCount++
		}
	}

	fmt.Printf("events:        %d\n", total)
	fmt.Printf("connections:   %d\n", len(conns))
	fmt.Printf("in / out:      %d / %d\n", in, out)
	fmt.Printf("frames:        %d\n", frames)
	fmt.Printf("state changes: %d\n", stateChanges)
	fmt.Printf("errors:        %d\n", errCount)

	if len(kinds) > 0 {
		fmt.Println("messages by kind:")
		ordered := make([]wire.Kind, 0, len(kinds))
		for k := range kinds {
			ordered = append(ordered, k)
		}
		sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
		for _, k := range ordered {
			fmt.Printf("  %-20s %d\n", k.String(), kinds[k])
		}
	}
	return nil
}
