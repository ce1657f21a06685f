// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/ezrec/xtrap/emulator"
	"github.com/ezrec/xtrap/machine"
	"github.com/ezrec/xtrap/policy"
	"github.com/ezrec/xtrap/trap"
)

func main() {
	var config string
	var ncpu int
	var host bool
	var features bool
	var verbose bool

	flag.StringVar(&config, "c", "", ".star policy script to run")
	flag.IntVar(&ncpu, "n", 0, "Number of CPUs; 0 for as many as the script uses")
	flag.BoolVar(&host, "host", false, "Only emulate what this host lacks")
	flag.BoolVar(&features, "features", false, "Report host instruction set extensions")
	flag.BoolVar(&verbose, "v", false, "Verbose mode")

	flag.Parse()

	if flag.NArg() != 0 {
		log.Fatalf("%v: Unknown arguments: %v", os.Args[0], flag.Args())
	}

	if features {
		native := emulator.HostFeatures()
		fmt.Printf("native:   %v\n", native)
		fmt.Printf("emulated: %v\n", emulator.FEATURE_ALL&^native)
		if len(config) == 0 {
			return
		}
	}

	if len(config) == 0 {
		log.Fatalf("%v: No policy script given (-c)", os.Args[0])
	}

	inf, err := os.Open(config)
	if err != nil {
		log.Fatalf("%v: %v", config, err)
	}
	defer inf.Close()

	load := policy.Load
	if verbose {
		load = policy.LoadVerbose
	}
	pol, err := load(config, inf)
	if err != nil {
		log.Fatalf("%v: %v", config, err)
	}

	if ncpu == 0 {
		ncpu = max(1, pol.Cpus())
	}

	m, err := machine.New(ncpu, pol)
	if err != nil {
		log.Fatalf("%v: %v", config, err)
	}
	m.SetVerbose(verbose)
	if host {
		m.Emulator.Native |= emulator.HostFeatures()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err = m.Run(ctx)

	for id := range m.Cpus {
		for _, res := range m.Results(id) {
			fmt.Println(&res)
		}
	}

	for raised := range m.Signals.All() {
		fmt.Println(raised)
	}

	for id := range m.Cpus {
		results := m.Results(id)
		if len(results) == 0 {
			continue
		}
		fmt.Printf("cpu %d:\n", id)
		last := results[len(results)-1]
		last.Regs.DumpTo(os.Stdout)
	}

	emulated, declined := m.Emulator.Stats()
	fmt.Printf("emulated %d, declined %d\n", emulated, declined)

	if err != nil {
		var fatal *trap.Fatal
		if errors.As(err, &fatal) {
			log.Fatalf("%v: %v", config, fatal)
		}
		log.Fatalf("%v: %v", config, err)
	}
}
