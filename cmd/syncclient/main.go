// syncclient follows one document from the terminal. Every update is
// printed; each line read from stdin is sent as the new full content.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"paste-server/client"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		server   string
		document string
		logLevel string
		delay    time.Duration
	)

	flagSet := pflag.NewFlagSet("syncclient", pflag.ContinueOnError)
	flagSet.StringVar(&server, "server", "ws://localhost:3002", "server base URL (ws, wss, http or https)")
	flagSet.StringVar(&document, "doc", "", "document id to follow")
	flagSet.StringVar(&logLevel, "loglevel", "warn", "logging level: debug, info, warn, error")
	flagSet.DurationVar(&delay, "reconnect-delay", client.DefaultReconnectDelay, "wait between reconnect attempts")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if document == "" {
		return fmt.Errorf("--doc is required")
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)

	c, err := client.New(server, document, func(content string) {
		fmt.Printf("--- %s ---\n%s\n", document, content)
	}, client.Options{
		Policy: client.Policy{Delay: delay, Multiplier: 1},
		OnState: func(state client.State) {
			logrus.WithField("state", state.String()).Info("Connection state changed")
		},
	})
	if err != nil {
		return err
	}
	c.Start()
	defer c.Close()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 5*1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-signals:
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.Edit(line); err != nil {
				logrus.WithError(err).Warn("Edit not sent")
			}
		}
	}
}
