package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	c "lautenbacher.net/potchain/config"
	"lautenbacher.net/potchain/device"
	"lautenbacher.net/potchain/frame"
	"lautenbacher.net/potchain/logging"
	"lautenbacher.net/potchain/monitor"
	"lautenbacher.net/potchain/profile"
)

const usageText = `Usage: potchain [-config FILE] [-simulate] COMMAND

Commands:
  --read-current        print the live value of every potentiometer
  --read-memory         print the values stored in non-volatile memory
  --set v0 ... v9       program ten values (decimal or 0x-hex)
  --store               copy the live values to non-volatile memory
  --unlock              enable value writes and memory programming
  --apply FILE          program the values of a YAML profile
  --watch FILE          program a profile now and whenever the file changes
  --monitor             live view of current and stored values
  --help                show this help

Options:
`

type command struct {
	name string
	args []string
	file string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("potchain", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprint(flags.Output(), usageText)
		flags.VisitAll(func(f *flag.Flag) {
			if f.Name == "config" || f.Name == "simulate" {
				fmt.Fprintf(flags.Output(), "  -%-19s %s\n", f.Name, f.Usage)
			}
		})
	}

	configFile := flags.String("config", c.CONFILE, "configuration file")
	simulate := flags.Bool("simulate", false, "use the in-memory chain instead of hardware")
	readCurrent := flags.Bool("read-current", false, "")
	readMemory := flags.Bool("read-memory", false, "")
	set := flags.Bool("set", false, "")
	store := flags.Bool("store", false, "")
	unlock := flags.Bool("unlock", false, "")
	apply := flags.String("apply", "", "")
	watch := flags.String("watch", "", "")
	mon := flags.Bool("monitor", false, "")
	help := flags.Bool("help", false, "")

	if len(args) == 0 {
		flags.Usage()
		return 1
	}
	if err := flags.Parse(args); err != nil {
		// usage is already printed for -h
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if *help {
		flags.SetOutput(stdout)
		flags.Usage()
		return 0
	}

	var cmds []command
	for _, candidate := range []struct {
		on  bool
		cmd command
	}{
		{*readCurrent, command{name: "read-current"}},
		{*readMemory, command{name: "read-memory"}},
		{*set, command{name: "set", args: flags.Args()}},
		{*store, command{name: "store"}},
		{*unlock, command{name: "unlock"}},
		{*apply != "", command{name: "apply", file: *apply}},
		{*watch != "", command{name: "watch", file: *watch}},
		{*mon, command{name: "monitor"}},
	} {
		if candidate.on {
			cmds = append(cmds, candidate.cmd)
		}
	}

	switch {
	case len(cmds) == 0:
		fmt.Fprintln(stderr, "error: no command given")
		flags.Usage()
		return 1
	case len(cmds) > 1:
		fmt.Fprintln(stderr, "error: only one command may be given")
		return 1
	case cmds[0].name != "set" && flags.NArg() > 0:
		fmt.Fprintf(stderr, "error: unexpected arguments: %s\n", strings.Join(flags.Args(), " "))
		return 1
	}

	explicitConfig := false
	flags.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicitConfig = true
		}
	})
	conf, err := loadConfig(*configFile, explicitConfig)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if *simulate {
		conf.Bridge.Type = c.BridgeSimulate
	}

	if err := logging.Init(logging.Options{
		Level:      conf.Logging.Level,
		Format:     conf.Logging.Format,
		File:       conf.Logging.File,
		MaxSizeMB:  conf.Logging.MaxSizeMB,
		MaxBackups: conf.Logging.MaxBackups,
		Output:     stderr,
	}); err != nil {
		fmt.Fprintf(stderr, "error: logging: %v\n", err)
		return 1
	}
	defer logging.Close()

	if err := execute(cmds[0], conf, stdout); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig falls back to defaults when the default config file is absent.
func loadConfig(path string, explicit bool) (*c.Config, error) {
	conf, err := c.ReadConfig(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			slog.Debug("No config file, using defaults", "file", path)
			return c.Default(), nil
		}
		return nil, err
	}
	return conf, nil
}

func execute(cmd command, conf *c.Config, stdout io.Writer) error {
	var values []uint16
	var prof *profile.Profile
	var err error

	// check arguments before touching the hardware
	switch cmd.name {
	case "set":
		if values, err = parseValues(cmd.args); err != nil {
			return err
		}
	case "apply":
		if prof, err = profile.Load(cmd.file); err != nil {
			return err
		}
	}

	chain, err := device.Open(conf)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := chain.Close(); cerr != nil {
			slog.Warn("Closing chain failed", "error", cerr)
		}
	}()
	slog.Info("Chain opened", "bridge", conf.Bridge.Type)

	switch cmd.name {
	case "read-current":
		return printValues(stdout, chain.ReadCurrentResistances)
	case "read-memory":
		return printValues(stdout, chain.ReadMemoryResistances)
	case "set":
		return chain.ProgramResistances(values)
	case "store":
		return chain.StoreResistancesToMemory()
	case "unlock":
		return chain.EnableWrite()
	case "apply":
		return chain.ProgramResistances(prof.Values)
	case "watch":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return profile.Watch(ctx, cmd.file, conf.Watch.Debounce, func(p *profile.Profile) error {
			return chain.ProgramResistances(p.Values)
		})
	case "monitor":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return monitor.Run(ctx, chain, conf.Monitor)
	}
	return fmt.Errorf("unknown command %q", cmd.name)
}

func parseValues(args []string) ([]uint16, error) {
	if len(args) != frame.Channels {
		return nil, fmt.Errorf("--set needs %d values, got %d", frame.Channels, len(args))
	}
	values := make([]uint16, len(args))
	for i, s := range args {
		v, err := strconv.ParseUint(s, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("value %d: %q is not a number between 0 and 65535", i+1, s)
		}
		values[i] = uint16(v)
	}
	return values, nil
}

func printValues(w io.Writer, read func() ([]uint16, error)) error {
	values, err := read()
	if err != nil {
		return err
	}
	for i, v := range values {
		fmt.Fprintf(w, "Potentiometer #%d: %d\n", i+1, v)
	}
	return nil
}
