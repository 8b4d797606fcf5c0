// Package salobjtest provides an in-memory transport and fake components
// for testing code built on salobj.
package salobjtest

import (
	"strings"
	"sync"
)

type subscriber struct {
	id      int
	filter  string
	handler func(topic string, payload []byte) error
}

// Message is a published message recorded by Transport.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Transport is an in-memory broker. Publish delivers synchronously to every
// matching subscriber, outside the transport lock, so handlers may publish.
// Retained messages are replayed on Subscribe.
type Transport struct {
	mu       sync.Mutex
	nextID   int
	subs     []subscriber
	retained map[string][]byte
	sent     []Message
}

// NewTransport returns an empty Transport.
func NewTransport() *Transport {
	return &Transport{retained: make(map[string][]byte)}
}

// Publish implements salobj.Transport.
func (t *Transport) Publish(topic string, payload []byte, _ byte, retained bool) error {
	data := append([]byte(nil), payload...)

	t.mu.Lock()
	t.sent = append(t.sent, Message{Topic: topic, Payload: data, Retained: retained})
	if retained {
		t.retained[topic] = data
	}
	var targets []subscriber
	for _, s := range t.subs {
		if Match(s.filter, topic) {
			targets = append(targets, s)
		}
	}
	t.mu.Unlock()

	for _, s := range targets {
		_ = s.handler(topic, data)
	}
	return nil
}

// Subscribe implements salobj.Transport.
func (t *Transport) Subscribe(filter string, _ byte, handler func(topic string, payload []byte) error) error {
	t.mu.Lock()
	t.nextID++
	t.subs = append(t.subs, subscriber{id: t.nextID, filter: filter, handler: handler})
	var replay []Message
	for topic, payload := range t.retained {
		if Match(filter, topic) {
			replay = append(replay, Message{Topic: topic, Payload: payload})
		}
	}
	t.mu.Unlock()

	for _, m := range replay {
		_ = handler(m.Topic, m.Payload)
	}
	return nil
}

// Unsubscribe implements salobj.Transport.
func (t *Transport) Unsubscribe(filter string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.subs[:0]
	for _, s := range t.subs {
		if s.filter != filter {
			kept = append(kept, s)
		}
	}
	t.subs = kept
	return nil
}

// Subscribed reports whether anything is subscribed to exactly filter.
func (t *Transport) Subscribed(filter string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.subs {
		if s.filter == filter {
			return true
		}
	}
	return false
}

// Sent returns every message published so far whose topic matches filter.
func (t *Transport) Sent(filter string) []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Message
	for _, m := range t.sent {
		if Match(filter, m.Topic) {
			out = append(out, m)
		}
	}
	return out
}

// Match reports whether topic matches an MQTT filter with + and # wildcards.
func Match(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
