package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const usageText = `usage: bandlight <command> [flags] [args]

commands:
  run                        stream from the configured board and drive the light
  replay [flags] <file.edf>  run the loop over an EDF recording
  record [flags] <file.edf>  write acquired windows to EDF without driving the light
  history [flags] [session]  list recent sessions, or the readings of one session

run "bandlight <command> -h" for the flags of a command`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usageText)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(ctx, os.Args[2:])
	case "replay":
		err = replayCmd(ctx, os.Args[2:])
	case "record":
		err = recordCmd(ctx, os.Args[2:])
	case "history":
		err = historyCmd(os.Stdout, os.Args[2:])
	case "help", "-h", "--help":
		fmt.Println(usageText)
		return
	default:
		yellow.Fprintln(os.Stderr, "Choose a valid command:", os.Args[1])
		fmt.Println(usageText)
		os.Exit(2)
	}
	if err != nil {
		yellow.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
