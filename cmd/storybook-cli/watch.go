package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/storybook-faceswap/internal/faceswap"
	"github.com/fpang/storybook-faceswap/internal/logging"
	"github.com/fpang/storybook-faceswap/internal/progress"
)

var serverFlag string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Start a run on a server and follow its progress",
	Long: `Watch posts a personalization request to a storybook-web server and
prints the Server-Sent Events stream as it arrives. Local photos are sent
inline, so the server must have a bucket configured to accept them.

Examples:
  storybook-cli watch --server http://localhost:8080 --name Mia --photo https://example.com/mia.jpg`,
	RunE: runWatch,
}

func init() {
	addRequestFlags(watchCmd)
	watchCmd.Flags().StringVarP(&serverFlag, "server", "s", "http://localhost:8080", "storybook-web base URL")
}

func runWatch(cmd *cobra.Command, args []string) error {
	logging.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req, err := buildRequest(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	red := progress.NewReducer()
	out := cmd.OutOrStdout()
	err = stream(ctx, strings.TrimRight(serverFlag, "/")+"/api/personalize", body, red, func(e faceswap.Event) {
		printEvent(out, e, red.State())
	})
	printResults(out, red.State())
	if err != nil {
		return err
	}
	if st := red.State(); st.Stage == progress.StageError {
		return fmt.Errorf("run failed: %s", st.Error)
	}
	return nil
}

// stream posts body to url and folds the event stream into red.
func stream(ctx context.Context, url string, body []byte, red *progress.Reducer, onEvent func(faceswap.Event)) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("post %s: %s: %s", url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		log.Warn().Str("contentType", ct).Msg("Unexpected content type for event stream")
	}
	return progress.Consume(resp.Body, red, onEvent)
}
