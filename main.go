package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/gwilherm/qmidiarp/commands"
	"github.com/gwilherm/qmidiarp/driver"
	"github.com/gwilherm/qmidiarp/midi"
)

// maxPorts caps the number of output ports the engine opens.
const maxPorts = 20

// isTerminal returns true if stdin is a terminal (TTY)
func isTerminal() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}

// processBatchInput reads and executes commands from reader.
// Returns (success, shouldExit) where success indicates no errors
// occurred and shouldExit indicates an explicit exit command.
func processBatchInput(reader io.Reader, handler *commands.Handler) (bool, bool) {
	scanner := bufio.NewScanner(reader)
	hadErrors := false
	shouldExit := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" {
			continue
		}

		// Print comments (for user visibility)
		if strings.HasPrefix(line, "#") {
			fmt.Println(line)
			continue
		}

		lower := strings.ToLower(line)
		if lower == "exit" || lower == "quit" {
			shouldExit = true
			continue
		}

		// Echo command for progress feedback
		fmt.Println(">", line)

		if err := handler.ProcessCommand(line); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			hadErrors = true
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		return false, shouldExit
	}

	return !hadErrors, shouldExit
}

func main() {
	scriptFile := flag.String("script", "", "execute commands from file")
	inPort := flag.Int("in", 0, "MIDI input port index")
	outPorts := flag.Int("outports", 1, "number of MIDI output ports to open")
	tempo := flag.Int("tempo", 100, "internal tempo in BPM")
	midiClockPPQ := flag.Int("midiclockppq", 24, "pulses per quarter of an incoming MIDI clock")
	flag.Parse()

	outs := midi.ListOutPorts()
	ins := midi.ListInPorts()

	if len(outs) == 0 {
		fmt.Fprintf(os.Stderr, "No MIDI output ports found\n")
		os.Exit(1)
	}
	if len(ins) == 0 {
		fmt.Fprintf(os.Stderr, "No MIDI input ports found\n")
		os.Exit(1)
	}

	fmt.Println("Available MIDI output ports:")
	for i, port := range outs {
		fmt.Printf("  %d: %s\n", i, port)
	}
	fmt.Println("Available MIDI input ports:")
	for i, port := range ins {
		fmt.Printf("  %d: %s\n", i, port)
	}

	count := *outPorts
	if count < 1 {
		count = 1
	}
	if count > maxPorts {
		count = maxPorts
	}
	if count > len(outs) {
		count = len(outs)
	}

	var senders []midi.Sender
	var outputs []*midi.Output
	for i := 0; i < count; i++ {
		out, err := midi.OpenOut(i)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening MIDI output port %d: %v\n", i, err)
			os.Exit(1)
		}
		outputs = append(outputs, out)
		senders = append(senders, out)
	}
	fmt.Printf("\nUsing %d output port(s), input port %d: %s\n\n", count, *inPort, ins[*inPort])

	queue := midi.NewSeqQueue(senders, 0)

	in, err := midi.OpenIn(*inPort, queue.Deliver)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening MIDI input port: %v\n", err)
		os.Exit(1)
	}

	cfg := driver.Config{
		PPQN:         192,
		Tempo:        float64(*tempo),
		MidiClockPPQ: *midiClockPPQ,
	}
	drv := driver.New(queue, cfg)
	drv.OnTransportShutdown = func(running bool) {
		if !running {
			fmt.Fprintln(os.Stderr, "host transport unavailable, using internal clock")
		}
	}
	drv.Start()

	cleanup := func() {
		drv.Post(func() { drv.SetQueueStatus(false) })
		drv.Stop()
		in.Close()
		queue.Close()
		for _, out := range outputs {
			out.Close()
		}
	}

	// Ctrl+C shuts down cleanly
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down gracefully...")
		cleanup()
		os.Exit(0)
	}()

	handler := commands.New(drv, cfg.PPQN, float64(*tempo), os.Stdout)

	if *scriptFile != "" {
		f, err := os.Open(*scriptFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening script file: %v\n", err)
			os.Exit(2)
		}
		defer f.Close()

		success, shouldExit := processBatchInput(f, handler)
		if shouldExit {
			cleanup()
			if success {
				os.Exit(0)
			}
			os.Exit(1)
		}
		fmt.Println("\nScript completed. Engine keeps running. Press Ctrl+C to exit.")
		select {}
	}

	if isTerminal() {
		fmt.Println("Type 'help' for commands, 'quit' to exit.")
		if err := handler.ReadLoop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading commands: %v\n", err)
			cleanup()
			os.Exit(1)
		}
		cleanup()
		return
	}

	success, _ := processBatchInput(os.Stdin, handler)
	cleanup()
	if !success {
		os.Exit(1)
	}
}
