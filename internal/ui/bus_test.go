package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBusPreservesOrderPerProducer(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				bus.Post(ResizeWindow{Factor: float64(p*1000 + i)})
			}
		}(p)
	}
	wg.Wait()
	bus.Close()

	last := map[int]int{0: -1, 1: -1, 2: -1, 3: -1}
	count := 0
	err := bus.Run(ctx, HandlerFunc(func(cmd Command) {
		f := int(cmd.(ResizeWindow).Factor)
		p, i := f/1000, f%1000
		if i <= last[p] {
			t.Errorf("producer %d: got %d after %d", p, i, last[p])
		}
		last[p] = i
		count++
	}))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if count != 200 {
		t.Errorf("consumed %d commands, want 200", count)
	}
}

func TestBusSingleConsumer(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- bus.Run(ctx, HandlerFunc(func(Command) { close(started) }))
	}()
	bus.Post(OpenURL{URL: "https://geph.io"})
	<-started

	if err := bus.Run(ctx, HandlerFunc(func(Command) {})); !errors.Is(err, ErrBusConsumed) {
		t.Errorf("second Run() error = %v, want ErrBusConsumed", err)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestBusAsk(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go bus.Run(ctx, HandlerFunc(func(cmd Command) {
		if d, ok := cmd.(ShowDialog); ok {
			d.Reply <- d.Title == "yes please"
		}
	}))

	yes, err := bus.Ask(ctx, "yes please", "")
	if err != nil || !yes {
		t.Errorf("Ask() = %v, %v; want true", yes, err)
	}
	yes, err = bus.Ask(ctx, "no thanks", "")
	if err != nil || yes {
		t.Errorf("Ask() = %v, %v; want false", yes, err)
	}
}

func TestLineHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewLineHandler(&buf, nil)

	h.Handle(EvalScript{Script: `(cb)({"result":1})`})
	reply := make(chan bool, 1)
	h.Handle(ShowDialog{Title: "Geph Update Available", Reply: reply})

	if <-reply {
		t.Error("headless dialog answered yes")
	}

	dec := json.NewDecoder(&buf)
	var first, second wireCommand
	if err := dec.Decode(&first); err != nil {
		t.Fatal(err)
	}
	if err := dec.Decode(&second); err != nil {
		t.Fatal(err)
	}
	if first.Type != "eval_script" || first.Script != `(cb)({"result":1})` {
		t.Errorf("first = %+v", first)
	}
	if second.Type != "show_dialog" || second.Title != "Geph Update Available" {
		t.Errorf("second = %+v", second)
	}
}

func TestOpenBrowserRejectsNonHTTP(t *testing.T) {
	for _, u := range []string{"file:///etc/passwd", "javascript:alert(1)", "://bad"} {
		if err := OpenBrowser(u); err == nil {
			t.Errorf("OpenBrowser(%q) succeeded", u)
		}
	}
}
