// Copyright 2026 The Kimberlite Authors
// This file is part of the Kimberlite database.

package vsr

import (
	"time"

	"github.com/kimberlitedb/kimberlite/internal/kernel"
)

// TimerReset tells the runtime to (re)arm a timer with the given
// duration, replacing any previous generation of that timer — "a timer
// is cancelled by scheduling a newer generation and ignoring older-
// generation fires" (spec.md §5).
type TimerReset struct {
	Timer TimerKind
	After time.Duration
}

// ClientReply is a reply ready to deliver to a waiting client, either
// because its request just committed or because it was answered from
// the session cache.
type ClientReply struct {
	ClientId ClientId
	Reply    Reply
}

// Output is everything a single Process call produces: messages to
// send, kernel Effects from newly committed entries (for the runtime to
// execute), timers to (re)arm, and replies ready for clients
// (spec.md §4.3: "output = {messages_to_send, effects, timer_updates}").
type Output struct {
	Messages    []Message
	Effects     []kernel.Effect
	TimerResets []TimerReset
	Replies     []ClientReply
}

func (o *Output) send(m Message)               { o.Messages = append(o.Messages, m) }
func (o *Output) effect(e ...kernel.Effect)     { o.Effects = append(o.Effects, e...) }
func (o *Output) resetTimer(t TimerKind, d time.Duration) {
	o.TimerResets = append(o.TimerResets, TimerReset{Timer: t, After: d})
}
func (o *Output) reply(id ClientId, r Reply) { o.Replies = append(o.Replies, ClientReply{ClientId: id, Reply: r}) }
