// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package sse

import (
	"context"
	"strings"

	"github.com/tmaxmax/go-sse"
)

// sessionProvider writes the connected event and the current torrent state
// straight to a new session, then hands the session to the wrapped provider.
type sessionProvider struct {
	sse.Provider
	initial func(topic string) []*sse.Message
}

func (p *sessionProvider) Subscribe(ctx context.Context, sub sse.Subscription) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := &sessionWriter{MessageWriter: sub.Client, done: cancel}
	for _, topic := range sub.Topics {
		for _, message := range p.initial(topic) {
			if err := client.Send(message); err != nil {
				return err
			}
		}
	}
	if err := client.Flush(); err != nil {
		return err
	}

	if client.finished {
		return nil
	}

	sub.Client = client
	return p.Provider.Subscribe(ctx, sub)
}

// sessionWriter cancels its session once a finished event has been flushed.
type sessionWriter struct {
	sse.MessageWriter
	done     context.CancelFunc
	finished bool
}

func (w *sessionWriter) Send(message *sse.Message) error {
	if err := w.MessageWriter.Send(message); err != nil {
		return err
	}
	if eventType(message) == streamEventFinished {
		w.finished = true
	}
	return nil
}

func (w *sessionWriter) Flush() error {
	err := w.MessageWriter.Flush()
	if w.finished {
		w.done()
	}
	return err
}

func eventType(message *sse.Message) string {
	raw, err := message.MarshalText()
	if err != nil {
		return ""
	}

	for _, line := range strings.Split(string(raw), "\n") {
		if name, ok := strings.CutPrefix(line, "event:"); ok {
			return strings.TrimSpace(name)
		}
	}
	return ""
}
