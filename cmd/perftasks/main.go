package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/agentos/internal/assistant"
	"github.com/ent0n29/agentos/internal/protocol"
	"github.com/ent0n29/agentos/internal/session"
	"github.com/ent0n29/agentos/internal/tasks"
)

type options struct {
	baseURL        string
	userID         string
	turns          int
	texts          []string
	slotAnswer     string
	autoConfirm    bool
	autoComplete   bool
	startDelay     time.Duration
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	verbose        bool
}

type wsEnvelope struct {
	Type   protocol.MessageType `json:"type"`
	Kind   string               `json:"kind,omitempty"`
	Text   string               `json:"text,omitempty"`
	TaskID string               `json:"task_id,omitempty"`
	Event  tasks.EventType      `json:"event,omitempty"`
	Code   string               `json:"code,omitempty"`
	Detail string               `json:"detail,omitempty"`
}

type turnStats struct {
	firstReply time.Duration
	total      time.Duration
	outcome    string
}

var defaultUtterances = []string{
	"search the web for the weather in Rome",
	"create a note saying buy milk",
	"send a text to mom",
	"set a timer for ten minutes",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "perftasks: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perftasks: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var cfg options
	var textsRaw string
	var startDelayMS int
	var interTurnMS int
	var turnTimeoutMS int

	fs := flag.NewFlagSet("perftasks", flag.ContinueOnError)
	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "agentos base URL")
	fs.StringVar(&cfg.userID, "user-id", "perf-replay", "user_id used for the synthetic session")
	fs.IntVar(&cfg.turns, "turns", 8, "number of utterances to replay")
	fs.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	fs.StringVar(&cfg.slotAnswer, "slot-answer", "hello", "answer sent for every slot question")
	fs.BoolVar(&cfg.autoConfirm, "auto-confirm", true, "answer confirmations with yes")
	fs.BoolVar(&cfg.autoComplete, "auto-complete", true, "complete tasks as soon as they start executing")
	fs.IntVar(&startDelayMS, "start-delay-ms", 200, "delay before the first utterance in milliseconds")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 100, "delay between utterances in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 30000, "timeout for one dialogue to settle in milliseconds")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if startDelayMS < 0 {
		startDelayMS = 0
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.startDelay = time.Duration(startDelayMS) * time.Millisecond
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 15 * time.Second}
	sessionID, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = endSession(context.Background(), httpClient, cfg.baseURL, sessionID)
	}()

	wsURL, err := wsURLForSession(cfg.baseURL, sessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	if cfg.verbose {
		fmt.Printf("perftasks: session=%s turns=%d\n", sessionID, cfg.turns)
	}
	if cfg.startDelay > 0 {
		time.Sleep(cfg.startDelay)
	}

	msgCh := make(chan wsEnvelope, 64)
	readErrCh := make(chan error, 1)
	go readLoop(conn, msgCh, readErrCh)

	stats := make([]turnStats, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[i%len(cfg.texts)]
		if cfg.verbose {
			fmt.Printf("perftasks: turn %d/%d text=%q\n", i+1, cfg.turns, text)
		}
		st, err := replayTurn(conn, sessionID, text, cfg, msgCh, readErrCh)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		if cfg.verbose {
			fmt.Printf("perftasks: turn %d outcome=%s first_reply=%s total=%s\n", i+1, st.outcome, st.firstReply.Round(time.Millisecond), st.total.Round(time.Millisecond))
		}
		stats = append(stats, st)
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	printSummary(stats)
	return nil
}

// replayTurn sends one utterance and drives the dialogue it starts until the
// assistant reports a final outcome.
func replayTurn(conn *websocket.Conn, sessionID, text string, cfg options, msgCh <-chan wsEnvelope, readErrCh <-chan error) (turnStats, error) {
	start := time.Now()
	var st turnStats
	if err := sendUtterance(conn, sessionID, text); err != nil {
		return st, err
	}

	timer := time.NewTimer(cfg.turnTimeout)
	defer timer.Stop()
	for {
		select {
		case err := <-readErrCh:
			return st, fmt.Errorf("ws read: %w", err)
		case <-timer.C:
			return st, fmt.Errorf("timeout after %s", cfg.turnTimeout)
		case env := <-msgCh:
			switch env.Type {
			case protocol.TypeAssistantReply:
				if st.firstReply == 0 {
					st.firstReply = time.Since(start)
				}
				if cfg.verbose {
					fmt.Printf("perftasks:   %s: %s\n", env.Kind, env.Text)
				}
				switch env.Kind {
				case assistant.ReplySlotQuestion:
					if err := sendUtterance(conn, sessionID, cfg.slotAnswer); err != nil {
						return st, err
					}
				case assistant.ReplyConfirmation:
					answer := "no"
					if cfg.autoConfirm {
						answer = "yes"
					}
					if err := sendUtterance(conn, sessionID, answer); err != nil {
						return st, err
					}
				default:
					st.total = time.Since(start)
					st.outcome = env.Kind
					return st, nil
				}
			case protocol.TypeTaskEvent:
				if env.Event == tasks.EventExecuting && cfg.autoComplete {
					if err := sendComplete(conn, sessionID, env.TaskID); err != nil {
						return st, err
					}
				}
			case protocol.TypeErrorEvent:
				if cfg.verbose {
					fmt.Fprintf(os.Stderr, "perftasks: error_event code=%s detail=%s\n", env.Code, env.Detail)
				}
			}
		}
	}
}

func createSession(ctx context.Context, client *http.Client, cfg options) (string, error) {
	payload, err := json.Marshal(session.CreateRequest{UserID: cfg.userID, Source: tasks.InputSourceText})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/sessions", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out session.CreateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return out.SessionID, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/sessions/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/tasks/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, msgCh chan<- wsEnvelope, readErrCh chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		msgCh <- env
	}
}

func sendUtterance(conn *websocket.Conn, sessionID, text string) error {
	return conn.WriteJSON(protocol.ClientUtterance{
		Type:      protocol.TypeClientUtterance,
		SessionID: sessionID,
		Text:      text,
		Source:    tasks.InputSourceText,
	})
}

func sendComplete(conn *websocket.Conn, sessionID, taskID string) error {
	return conn.WriteJSON(protocol.ClientCommand{
		Type:      protocol.TypeClientCommand,
		SessionID: sessionID,
		RequestID: "perf-" + taskID,
		Command:   protocol.CommandComplete,
		TaskID:    taskID,
		Result:    &tasks.TaskResult{Success: true},
	})
}

func printSummary(stats []turnStats) {
	if len(stats) == 0 {
		return
	}
	first := make([]time.Duration, 0, len(stats))
	total := make([]time.Duration, 0, len(stats))
	outcomes := map[string]int{}
	for _, st := range stats {
		first = append(first, st.firstReply)
		total = append(total, st.total)
		outcomes[st.outcome]++
	}
	fmt.Printf("perftasks: first_reply p50=%s p95=%s\n", percentile(first, 0.50), percentile(first, 0.95))
	fmt.Printf("perftasks: dialogue    p50=%s p95=%s\n", percentile(total, 0.50), percentile(total, 0.95))
	kinds := make([]string, 0, len(outcomes))
	for k := range outcomes {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("perftasks: outcome %s=%d\n", k, outcomes[k])
	}
}

// percentile uses nearest-rank on a sorted copy of samples.
func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted))*p+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx].Round(time.Millisecond)
}
