package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"inkforge.dev/internal/protocol"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8090/v1/ws", "ws url")
		name   = flag.String("name", "bot", "client name")
		story  = flag.String("story", "", "story to play")
		seed   = flag.Int64("seed", 0, "seed for the bot's choices (default: time based)")
		turns  = flag.Int("turns", 100, "stop after this many choices")
		save   = flag.Bool("save", false, "save before leaving and print the resume token")
		resume = flag.String("resume", "", "resume token (or save id) from an earlier -save run")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	if *story == "" {
		logger.Fatalf("missing -story")
	}
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Story:           *story,
	}
	if *resume != "" {
		hello.Auth = &protocol.HelloAuth{Token: *resume}
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	s := *seed
	if s == 0 {
		s = time.Now().UnixNano()
	}
	b := &bot{conn: conn, logger: logger, rng: rand.New(rand.NewSource(s)), maxTurns: *turns, save: *save}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		_ = conn.Close()
	}()

	if err := b.run(); err != nil {
		logger.Fatalf("%v", err)
	}
}

type bot struct {
	conn     *websocket.Conn
	logger   *log.Logger
	rng      *rand.Rand
	maxTurns int
	save     bool
	chosen   int
}

var errDone = errors.New("done")

func (b *bot) run() error {
	for {
		_, msg, err := b.conn.ReadMessage()
		if err != nil {
			return nil
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		if err := b.handle(base.Type, msg); err != nil {
			if errors.Is(err, errDone) {
				return nil
			}
			return err
		}
	}
}

// handle reacts to one server message and sends the next request.
func (b *bot) handle(typ string, msg []byte) error {
	switch typ {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return err
		}
		b.logger.Printf("WELCOME session=%s story=%s digest=%.12s", w.SessionID, w.Story.Name, w.Story.Digest)
		return b.send(protocol.ContinueMsg{Type: protocol.TypeContinue, ProtocolVersion: protocol.Version})

	case protocol.TypeLine:
		var l protocol.LineMsg
		if err := json.Unmarshal(msg, &l); err != nil {
			return err
		}
		b.logger.Printf("%s", l.Text)
		return nil

	case protocol.TypeChoices:
		var c protocol.ChoicesMsg
		if err := json.Unmarshal(msg, &c); err != nil {
			return err
		}
		if len(c.Choices) == 0 {
			return fmt.Errorf("empty choice set")
		}
		if b.chosen >= b.maxTurns {
			return b.leave()
		}
		pick := c.Choices[b.rng.Intn(len(c.Choices))]
		b.chosen++
		b.logger.Printf("-> %s", pick.Text)
		return b.send(protocol.ChooseMsg{Type: protocol.TypeChoose, ProtocolVersion: protocol.Version, Index: pick.Index, Turn: c.Turn})

	case protocol.TypeEnd:
		b.logger.Printf("END after %d choices", b.chosen)
		return b.leave()

	case protocol.TypeSaved:
		var s protocol.SavedMsg
		if err := json.Unmarshal(msg, &s); err != nil {
			return err
		}
		resume := s.ResumeToken
		if resume == "" {
			resume = s.SaveID
		}
		b.logger.Printf("SAVED id=%s turn=%d resume=%s", s.SaveID, s.Turn, resume)
		return errDone

	case protocol.TypeError:
		var e protocol.ErrorMsg
		if err := json.Unmarshal(msg, &e); err != nil {
			return err
		}
		if e.Code == protocol.ErrTimeout {
			return b.send(protocol.ContinueMsg{Type: protocol.TypeContinue, ProtocolVersion: protocol.Version})
		}
		return fmt.Errorf("server error %s: %s", e.Code, e.Message)
	}
	return nil
}

func (b *bot) leave() error {
	if b.save {
		return b.send(protocol.SaveMsg{Type: protocol.TypeSave, ProtocolVersion: protocol.Version})
	}
	return errDone
}

func (b *bot) send(v any) error {
	_ = b.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return b.conn.WriteJSON(v)
}
