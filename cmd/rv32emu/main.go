// Command rv32emu runs a statically linked 32-bit RISC-V ELF binary under
// user-mode emulation.
package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/rv32emu/rv32emu/pkg/graphics"
	"github.com/rv32emu/rv32emu/pkg/loader"
	hostsyscall "github.com/rv32emu/rv32emu/pkg/syscall"
	"github.com/rv32emu/rv32emu/pkg/vm"
)

func main() {
	log.SetFlags(0)

	var (
		verbose      bool
		trace        bool
		debug        bool
		selfJumpHalt bool
	)

	root := &cobra.Command{
		Use:   "rv32emu <binary>",
		Short: "Run a statically linked 32-bit RISC-V ELF binary under user-mode emulation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], runOptions{
				verbose:      verbose,
				trace:        trace,
				debug:        debug,
				selfJumpHalt: selfJumpHalt,
			})
		},
	}

	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "log each instruction before it executes")
	root.Flags().BoolVar(&trace, "trace", false, "alias for --verbose")
	root.Flags().BoolVar(&debug, "debug", false, "pause for enter after every instruction")
	root.Flags().BoolVar(&selfJumpHalt, "self-jump-halt", false, "treat a control-flow jump to its own address as fatal")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

type runOptions struct {
	verbose      bool
	trace        bool
	debug        bool
	selfJumpHalt bool
}

func run(path string, opts runOptions) error {
	fp, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fp.Close()

	m := vm.NewMachine()
	m.SelfJumpHalt = opts.selfJumpHalt

	entry, err := loader.Load(m, fp)
	if err != nil {
		return err
	}
	log.Printf("rv32emu: entry point is 0x%08x", entry)

	dispatcher := hostsyscall.NewDispatcher(graphics.NewDevice())
	defer dispatcher.Close()
	m.Syscalls = dispatcher

	if opts.verbose || opts.trace || opts.debug {
		m.Trace = func(m *vm.Machine, instr vm.Instruction) {
			if opts.verbose || opts.trace {
				log.Printf("rv32emu: %s", m)
				log.Printf("rv32emu: 0x%08x %s", instr.Raw, vm.Disassemble(instr))
			}
			if opts.debug {
				fmt.Println("rv32emu: paused...")
				fmt.Scanln()
			}
		}
	}

	err = m.Run()
	var exit *hostsyscall.ExitError
	if errors.As(err, &exit) {
		log.Printf("rv32emu: guest exited with code %d after %d instructions", exit.Code, m.InstructionCount())
		if exit.Code != 0 {
			dispatcher.Close()
			os.Exit(exit.Code)
		}
		return nil
	}

	log.Printf("rv32emu: fatal trap after %d instructions: %v", m.InstructionCount(), err)
	log.Printf("rv32emu: %s", m)
	dispatcher.Close()
	os.Exit(1)
	return nil
}
