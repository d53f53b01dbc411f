// Command scansim replays scan tokens against a running station as if a
// wedge scanner typed them, one key event per request with realistic
// inter-key timing. Useful for exercising the loan workflow without
// hardware on the desk.
//
// Usage:
//
//	scansim -addr http://localhost:8090 12345 TSD-00017
//	scansim -gap 8ms -human 2s 12345 TSD-00017 TSD-00018
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"
)

type keyRequest struct {
	Key  string `json:"key"`
	AtMs int64  `json:"at_ms"`
}

func main() {
	addr := flag.String("addr", "http://localhost:8090", "station base URL")
	gap := flag.Duration("gap", 5*time.Millisecond, "delay between keystrokes of one token")
	human := flag.Duration("human", time.Second, "pause between tokens")
	flag.Parse()

	tokens := flag.Args()
	if len(tokens) == 0 {
		fmt.Fprintln(os.Stderr, "usage: scansim [flags] TOKEN [TOKEN...]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	url := *addr + "/api/v1/workflow/keys"

	for i, token := range tokens {
		if i > 0 {
			time.Sleep(*human)
		}
		for _, r := range token {
			if err := sendKey(client, url, string(r)); err != nil {
				fmt.Fprintf(os.Stderr, "scansim: %v\n", err)
				os.Exit(1)
			}
			time.Sleep(*gap)
		}
		if err := sendKey(client, url, "Enter"); err != nil {
			fmt.Fprintf(os.Stderr, "scansim: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("sent %q\n", token)
	}
}

func sendKey(client *http.Client, url, key string) error {
	body, err := json.Marshal(keyRequest{Key: key, AtMs: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("station returned %s for key %q", resp.Status, key)
	}
	return nil
}
