package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"job-coordinator/pkg/observability"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	apiURL      string
	rate        int
	concurrency int
	duration    time.Duration
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:   "simulator",
		Short: "Generate async request load against the api",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}
	cmd.Flags().StringVar(&opts.apiURL, "api-url", envOr("API_URL", "http://api:8080/api/v1"), "api base url including the prefix")
	cmd.Flags().IntVar(&opts.rate, "rate", 1, "requests per second across all workers")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 1, "number of concurrent submitters")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "stop after this long; 0 runs forever")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func run(opts options) error {
	log := observability.NewLogger("info", "text")
	if opts.concurrency < 1 {
		opts.concurrency = 1
	}
	perWorker := opts.rate / opts.concurrency
	if perWorker < 1 {
		perWorker = 1
	}

	client := &http.Client{Timeout: 10 * time.Second}
	base := strings.TrimRight(opts.apiURL, "/")
	for i := 0; i < opts.concurrency; i++ {
		go submitLoop(client, base, perWorker, log)
	}

	if opts.duration > 0 {
		time.Sleep(opts.duration)
		return nil
	}
	select {}
}

func submitLoop(client *http.Client, base string, rps int, log logrus.FieldLogger) {
	interval := time.Second / time.Duration(rps)
	if interval < time.Millisecond {
		interval = time.Millisecond // prevent very tight loop that overwhelms API inside container
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		path, body := randomRequest()
		raw, _ := json.Marshal(body)
		resp, err := client.Post(base+"/ai/"+path+"/async", "application/json", bytes.NewReader(raw))
		if err != nil {
			log.WithError(err).Warn("failed to submit job")
			continue
		}
		log.WithFields(logrus.Fields{"kind": path, "status": resp.StatusCode}).Info("submitted job")
		resp.Body.Close()
	}
}

var tones = []string{"formal", "friendly", "concise", "enthusiastic"}
var languages = []string{"French", "Spanish", "German", "Japanese"}

func randomRequest() (string, map[string]any) {
	text := fmt.Sprintf("Order %d shipped late because the warehouse was short on staff this week.", rand.Intn(1000))
	switch rand.Intn(5) {
	case 0:
		return "summarize", map[string]any{"text": text, "max_length": 50 + rand.Intn(200)}
	case 1:
		return "question-answer", map[string]any{"context": text, "question": "Why was the order late?"}
	case 2:
		return "tone-rewrite", map[string]any{"text": text, "target_tone": tones[rand.Intn(len(tones))]}
	case 3:
		return "translate", map[string]any{"text": text, "target_language": languages[rand.Intn(len(languages))]}
	default:
		return "echo", map[string]any{"user": fmt.Sprintf("user%d", rand.Intn(1000)), "data": "payload"}
	}
}
