// novactl is a small CLI against a running nova-ml serving daemon: health,
// model info, reload and ad-hoc scoring from the command line.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nova-ml/internal/client"
)

func main() {
	base := flag.String("server", "http://localhost:8000", "serving base URL")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	c := client.New(*base, *timeout)

	var err error
	switch args[0] {
	case "health":
		err = runHealth(c)
	case "info":
		err = runInfo(c)
	case "reload":
		version := ""
		if len(args) > 1 {
			version = args[1]
		}
		err = runReload(c, version)
	case "score":
		if len(args) < 2 {
			err = fmt.Errorf("score requires a JSON features argument")
		} else {
			err = runScore(c, args[1])
		}
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", args[0]).Msg("command failed")
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: novactl [-server URL] <command>

commands:
  health               show serving health
  info                 show active model descriptor
  reload [version]     activate a version (optional) and reload
  score '<json>'       score one feature record, e.g. '{"age": 34, "city": "tokyo"}'`)
}

func runHealth(c *client.Client) error {
	resp, err := c.Health()
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runInfo(c *client.Client) error {
	resp, err := c.Info()
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runReload(c *client.Client, version string) error {
	resp, err := c.Reload(version)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runScore(c *client.Client, payload string) error {
	var features map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &features); err != nil {
		return fmt.Errorf("features must be a JSON object: %w", err)
	}
	resp, err := c.Score(features, "")
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
