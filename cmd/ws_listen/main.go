package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// ws_listen tails the bluesink state websocket and prints one line per event.
func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:9470/ws", "bluesink state websocket URL")
		raw   = flag.Bool("raw", false, "Print frames as received")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	var writeMu sync.Mutex

	// The server pings every 20s; answering keeps the read deadline moving.
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			if *raw {
				fmt.Println(string(message))
				continue
			}
			handleTextMessage(message)
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

type envelope struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// handleTextMessage prints one summary line per state event.
func handleTextMessage(message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}

	ts := "--:--:--.---"
	if env.Ts != nil {
		ts = env.Ts.Local().Format("15:04:05.000")
	}

	var data map[string]any
	_ = json.Unmarshal(env.Data, &data)

	switch env.Type {
	case "state_init":
		pretty, _ := json.MarshalIndent(data, "", "  ")
		fmt.Printf("%s [INIT]\n%s\n", ts, string(pretty))
	case "dispatcher_state":
		fmt.Printf("%s [DISPATCHER] %v\n", ts, data["state"])
	case "command_dispatched":
		fmt.Printf("%s [COMMAND] %v label=%v\n", ts, data["command"], data["label"])
	case "pairing_request":
		fmt.Printf("%s [PAIRING] %v number=%06.0f accepted=%v decider=%v\n", ts, data["address"], data["number"], data["accepted"], data["decider"])
	case "stream_event":
		fmt.Printf("%s [STREAM] %v %s\n", ts, data["kind"], compact(data, "kind"))
	case "audio_stats":
		fmt.Printf("%s [AUDIO] frames=%v bytes=%v failures=%v\n", ts, data["frames"], data["bytes"], data["failures"])
	default:
		fmt.Printf("%s [%s] %s\n", ts, env.Type, string(env.Data))
	}
}

func compact(data map[string]any, skip string) string {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if k != skip {
			out[k] = v
		}
	}
	b, _ := json.Marshal(out)
	return string(b)
}
