// Command emrtd-read reads a passport on a PC/SC contactless reader and
// prints the result JSON.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"go-emrtd-connector/connector"
	"go-emrtd-connector/logging"
	"go-emrtd-connector/session"
	"go-emrtd-connector/transport"
)

type headerFlags map[string]string

func (h headerFlags) String() string { return fmt.Sprint(map[string]string(h)) }

func (h headerFlags) Set(v string) error {
	name, value, ok := strings.Cut(v, ":")
	if !ok {
		return fmt.Errorf("header must be Name: value, got %q", v)
	}
	h[strings.TrimSpace(name)] = strings.TrimSpace(value)
	return nil
}

func main() {
	var (
		configPath   = flag.String("config", "", "optional JSON config file")
		url          = flag.String("url", "", "validation backend WebSocket URL (ws:// or wss://)")
		clientID     = flag.String("client-id", "", "client id presented to the backend")
		validationID = flag.String("validation-id", "", "optional validation id")
		readerIndex  = flag.Int("reader", 0, "PC/SC reader index")
		list         = flag.Bool("list", false, "list PC/SC readers and exit")
		docNo        = flag.String("doc", "", "document number")
		dob          = flag.String("dob", "", "date of birth, YYMMDD")
		doe          = flag.String("doe", "", "date of expiry, YYMMDD")
		can          = flag.String("can", "", "card access number, replaces doc/dob/doe")
		groups       = flag.String("groups", "", "comma separated data groups, e.g. DG1,DG2,DG11")
		logLevel     = flag.String("log-level", "", "debug, info, warn or error")
		headers      = headerFlags{}
	)
	flag.Var(headers, "header", "HTTP header for the backend handshake, repeatable")
	flag.Parse()

	if err := run(*configPath, *url, *clientID, *validationID, *readerIndex, *list, *docNo, *dob, *doe, *can, *groups, *logLevel, headers); err != nil {
		fmt.Fprintln(os.Stderr, "emrtd-read:", err)
		os.Exit(1)
	}
}

func run(configPath, url, clientID, validationID string, readerIndex int, list bool, docNo, dob, doe, can, groups, logLevel string, headers headerFlags) error {
	if list {
		readers, err := transport.ListReaders()
		if err != nil {
			return err
		}
		for i, r := range readers {
			fmt.Printf("%d: %s\n", i, r)
		}
		return nil
	}

	cfg := connector.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = connector.ReadConfigFile(configPath); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if groups != "" {
		cfg.DataGroups = strings.Split(groups, ",")
	}

	card, err := transport.OpenPCSC(readerIndex)
	if err != nil {
		return err
	}
	defer card.Close()

	log := logging.For("emrtd-read")
	c, err := connector.New(clientID, url,
		connector.WithChannel(card),
		connector.WithConfig(cfg),
		connector.WithStateObserver(func(op *session.Operation, from, to session.State) {
			log.Info("state", "from", from.String(), "to", to.String())
		}),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := []connector.ReadOption{connector.WithValidationID(validationID)}
	if len(headers) > 0 {
		opts = append(opts, connector.WithHTTPHeaders(headers))
	}
	var op *connector.Operation
	if can != "" {
		op = c.ReadPassportWithCAN(ctx, can, opts...)
	} else {
		op = c.ReadPassportWithMRZ(ctx, docNo, dob, doe, opts...)
	}
	res := op.Wait()
	if res.Err != nil {
		return res.Err
	}
	fmt.Println(res.PassportJSON)
	return nil
}
