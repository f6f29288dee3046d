package main

import (
	"flag"
	"strconv"
	"strings"
	"time"
)

// Options holds CLI options for the simulator.
type Options struct {
	ConfigPath string
	From       uint
	To         uint
	Message    string
	Crash      []uint8
	Settle     time.Duration
	Timeout    time.Duration
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("meshsim", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.UintVar(&opts.From, "from", 0, "client sending the test message (0 = first client)")
	fs.UintVar(&opts.To, "to", 0, "client receiving the test message (0 = last client)")
	fs.StringVar(&opts.Message, "message", "hello mesh", "test message; empty skips sending")
	fs.DurationVar(&opts.Settle, "settle", 300*time.Millisecond, "quiet period ending a discovery")
	fs.DurationVar(&opts.Timeout, "timeout", 10*time.Second, "overall deadline for the run")
	fs.Func("crash", "comma separated drone ids to crash before sending", func(s string) error {
		for _, part := range strings.Split(s, ",") {
			id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 8)
			if err != nil {
				return err
			}
			opts.Crash = append(opts.Crash, uint8(id))
		}
		return nil
	})
	_ = fs.Parse(args)
	return opts
}
