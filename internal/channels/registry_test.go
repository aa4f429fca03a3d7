package channels

import (
	"context"
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want ChannelID
		ok   bool
	}{
		{"telegram", ChannelTelegram, true},
		{"Telegram", ChannelTelegram, true},
		{"  DISCORD  ", ChannelDiscord, true},
		{"matrix", ChannelID("matrix"), false},
		{"", ChannelID(""), false},
	}
	for _, tt := range tests {
		got, ok := Normalize(tt.raw)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Normalize(%q) = (%s, %v), want (%s, %v)", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRegistrySend(t *testing.T) {
	r := NewRegistry()
	var delivered Message
	r.Register(ChannelSlack, SenderFunc(func(ctx context.Context, msg Message) error {
		delivered = msg
		return nil
	}))

	msg := Message{ChannelID: ChannelSlack, AccountID: "acct", Text: "hello"}
	if err := r.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if delivered != msg {
		t.Fatalf("delivered = %+v", delivered)
	}

	if err := r.Send(context.Background(), Message{ChannelID: ChannelLine}); err == nil {
		t.Fatal("unregistered channel must error")
	}
}

func TestRegistrySendPropagatesError(t *testing.T) {
	r := NewRegistry()
	want := errors.New("rate limited")
	r.Register(ChannelTelegram, SenderFunc(func(ctx context.Context, msg Message) error {
		return want
	}))
	if err := r.Send(context.Background(), Message{ChannelID: ChannelTelegram}); !errors.Is(err, want) {
		t.Fatalf("err = %v", err)
	}
}

func TestRegistryChannelsSorted(t *testing.T) {
	r := NewRegistry()
	nop := SenderFunc(func(ctx context.Context, msg Message) error { return nil })
	r.Register(ChannelWhatsApp, nop)
	r.Register(ChannelDiscord, nop)
	r.Register(ChannelSignal, nop)

	got := r.Channels()
	want := []ChannelID{ChannelDiscord, ChannelSignal, ChannelWhatsApp}
	if len(got) != len(want) {
		t.Fatalf("channels = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("channels = %v, want %v", got, want)
		}
	}
}
