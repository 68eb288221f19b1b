// Command streamclient streams an audio file to a listener over the websocket
// protocol and prints every frame the server sends back.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-audio/wav"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type options struct {
	server    string
	file      string
	encoding  string
	chunkSize int
	interval  time.Duration
	token     string
	issuerKey string
	clientID  string
	wait      time.Duration
}

type tokenResponse struct {
	Token string `json:"token"`
}

type serverFrame struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

func main() {
	var opts options
	flag.StringVar(&opts.server, "server", "http://localhost:8765", "Listener base URL")
	flag.StringVar(&opts.file, "file", "sample_audio.wav", "Audio file to stream")
	flag.StringVar(&opts.encoding, "encoding", "", "Encoding override (pcm, wav, webm, ogg, mp3, flac)")
	flag.IntVar(&opts.chunkSize, "chunk", 3200, "Bytes of PCM per binary frame")
	flag.DurationVar(&opts.interval, "interval", 100*time.Millisecond, "Delay between chunks")
	flag.StringVar(&opts.token, "token", "", "JWT to present on connect")
	flag.StringVar(&opts.issuerKey, "issuer-key", "", "Issuer key used to request a token when -token is empty")
	flag.StringVar(&opts.clientID, "client-id", "streamclient", "Client ID for issued tokens")
	flag.DurationVar(&opts.wait, "wait", 5*time.Second, "How long to wait for the final transcript after stop")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if err := run(opts, logger); err != nil {
		logger.Fatal("Stream failed", zap.Error(err))
	}
}

func run(opts options, logger *zap.Logger) error {
	audioData, err := os.ReadFile(opts.file)
	if err != nil {
		return fmt.Errorf("read audio file: %w", err)
	}
	logger.Info("Read audio file", zap.String("path", opts.file), zap.Int("bytes", len(audioData)))

	if opts.token == "" && opts.issuerKey != "" {
		opts.token, err = requestToken(opts)
		if err != nil {
			return fmt.Errorf("request token: %w", err)
		}
		logger.Info("Obtained token", zap.String("clientID", opts.clientID))
	}

	wsURL, err := websocketURL(opts.server, opts.token)
	if err != nil {
		return err
	}
	logger.Info("Connecting", zap.String("url", redact(wsURL)))

	c, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer c.Close()

	var stopSent atomic.Bool
	finals := make(chan string, 1)
	done := make(chan struct{})
	go readFrames(c, &stopSent, finals, done, logger)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	if err := stream(c, audioData, opts, &stopSent, interrupt, logger); err != nil {
		return err
	}

	// Wait for the stop final, then close cleanly
	select {
	case <-finals:
	case <-done:
		return nil
	case <-interrupt:
	case <-time.After(opts.wait):
		logger.Warn("No final transcript before timeout")
	}

	err = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return fmt.Errorf("write close: %w", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	return nil
}

// stream sends start, the audio and stop. Canonical PCM is chunked into
// binary frames; anything else goes as one base64 frame the server converts.
func stream(c *websocket.Conn, data []byte, opts options, stopSent *atomic.Bool, interrupt <-chan os.Signal, logger *zap.Logger) error {
	encoding := opts.encoding
	if encoding == "" {
		encoding = strings.TrimPrefix(strings.ToLower(filepath.Ext(opts.file)), ".")
	}

	if encoding == "wav" {
		if pcm, ok := canonicalPCM(data); ok {
			logger.Info("WAV is canonical, streaming raw PCM")
			data, encoding = pcm, "pcm"
		}
	}
	if encoding == "raw" || encoding == "s16le" {
		encoding = "pcm"
	}

	start := map[string]interface{}{
		"type":   "start",
		"format": map[string]interface{}{"encoding": encoding},
	}
	if err := c.WriteJSON(start); err != nil {
		return fmt.Errorf("send start: %w", err)
	}

	if encoding == "pcm" {
		chunkSize := opts.chunkSize &^ 1
		if chunkSize <= 0 {
			chunkSize = 3200
		}
		total := (len(data) + chunkSize - 1) / chunkSize
		logger.Info("Streaming PCM", zap.Int("chunks", total), zap.Int("chunkSize", chunkSize))
		sent := time.Now()
		for i := 0; i < total; i++ {
			end := (i + 1) * chunkSize
			if end > len(data) {
				end = len(data)
			}
			if err := c.WriteMessage(websocket.BinaryMessage, data[i*chunkSize:end]); err != nil {
				return fmt.Errorf("send chunk %d: %w", i, err)
			}
			select {
			case <-interrupt:
				return errors.New("interrupted")
			case <-time.After(opts.interval):
			}
		}
		logger.Info("Finished sending audio", zap.Duration("elapsed", time.Since(sent)))
	} else {
		frame := map[string]string{
			"type": "audio",
			"data": base64.StdEncoding.EncodeToString(data),
		}
		if err := c.WriteJSON(frame); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
		logger.Info("Sent audio as a single frame", zap.String("encoding", encoding))
	}

	stopSent.Store(true)
	if err := c.WriteJSON(map[string]string{"type": "stop"}); err != nil {
		return fmt.Errorf("send stop: %w", err)
	}
	return nil
}

// canonicalPCM returns the sample data of a mono 16 kHz 16-bit PCM WAV
func canonicalPCM(data []byte) ([]byte, bool) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, false
	}
	if dec.WavAudioFormat != 1 || dec.BitDepth != 16 || dec.SampleRate != 16000 || dec.NumChans != 1 {
		return nil, false
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, false
	}
	pcm := make([]byte, len(buf.Data)*2)
	for i, s := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s)))
	}
	return pcm, true
}

// readFrames prints server frames. Once stop has been sent the next final or
// error ends the stream.
func readFrames(c *websocket.Conn, stopSent *atomic.Bool, finals chan<- string, done chan<- struct{}, logger *zap.Logger) {
	defer close(done)
	for {
		messageType, message, err := c.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Info("Connection closed", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame serverFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			logger.Warn("Unreadable frame", zap.ByteString("frame", message))
			continue
		}

		switch frame.Type {
		case "ready", "started", "notice":
			fmt.Printf("[%s] %s\n", frame.Type, frame.Message)
		case "partial":
			fmt.Printf("[partial] %s\n", frame.Text)
		case "final":
			fmt.Printf("[final] %s\n", frame.Text)
		case "error":
			fmt.Printf("[error] %s\n", frame.Message)
		default:
			logger.Warn("Unknown frame type", zap.String("type", frame.Type))
		}

		if (frame.Type == "final" || frame.Type == "error") && stopSent.Load() {
			select {
			case finals <- frame.Text:
			default:
			}
		}
	}
}

func requestToken(opts options) (string, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":  opts.clientID,
		"issuer_key": opts.issuerKey,
	})
	if err != nil {
		return "", err
	}
	resp, err := http.Post(strings.TrimRight(opts.server, "/")+"/api/v1/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed: %s", payload)
	}
	var tr tokenResponse
	if err := json.Unmarshal(payload, &tr); err != nil {
		return "", err
	}
	return tr.Token, nil
}

func websocketURL(server, token string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Query().Get("token") == "" {
		return raw
	}
	q := u.Query()
	q.Set("token", "REDACTED")
	u.RawQuery = q.Encode()
	return u.String()
}
