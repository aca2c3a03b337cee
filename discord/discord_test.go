package discord

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	dis "github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"

	"github.com/zahareus/telegram-transcriber-bot/access"
	"github.com/zahareus/telegram-transcriber-bot/bot"
)

type fakeSession struct {
	mu        sync.Mutex
	handlers  []interface{}
	opened    bool
	closed    bool
	dmOpens   int
	sent      []string
	complex   []*dis.MessageSend
	edits     []*dis.MessageEdit
	responses []*dis.Interaction

	// hold makes UserChannelCreate for that user id wait until closed.
	hold map[string]chan struct{}
}

func (f *fakeSession) AddHandler(h interface{}) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
	return func() {}
}

func (f *fakeSession) Open() error  { f.opened = true; return nil }
func (f *fakeSession) Close() error { f.closed = true; return nil }

func (f *fakeSession) UserChannelCreate(id string, _ ...dis.RequestOption) (*dis.Channel, error) {
	f.mu.Lock()
	wait := f.hold[id]
	f.mu.Unlock()
	if wait != nil {
		<-wait
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.dmOpens++
	return &dis.Channel{ID: "dm-" + id}, nil
}

func (f *fakeSession) ChannelMessageSend(ch, content string, _ ...dis.RequestOption) (*dis.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, content)
	return &dis.Message{ID: "m1", ChannelID: ch}, nil
}

func (f *fakeSession) ChannelMessageSendComplex(
	ch string,
	data *dis.MessageSend,
	_ ...dis.RequestOption,
) (*dis.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.complex = append(f.complex, data)
	return &dis.Message{ID: "m2", ChannelID: ch}, nil
}

func (f *fakeSession) ChannelMessageEditComplex(m *dis.MessageEdit, _ ...dis.RequestOption) (*dis.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, m)
	return &dis.Message{ID: m.ID, ChannelID: m.Channel}, nil
}

func (f *fakeSession) InteractionRespond(
	i *dis.Interaction,
	_ *dis.InteractionResponse,
	_ ...dis.RequestOption,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, i)
	return nil
}

func newTestAdapter(f *fakeSession) *Adapter {
	return NewWithSession(f, http.DefaultClient, 2, log.New(io.Discard))
}

func TestConvertMessage(t *testing.T) {
	author := &dis.User{ID: "42", Username: "olya", GlobalName: "Оля"}
	sender := bot.User{ID: 42, Profile: access.Profile{FirstName: "Оля", Username: "olya"}}

	tests := []struct {
		name string
		msg  *dis.Message
		want bot.Event
		ok   bool
	}{
		{"start", &dis.Message{Author: author, Content: "!start"}, bot.Greeting{Sender: sender}, true},
		{"slash start", &dis.Message{Author: author, Content: " /START "}, bot.Greeting{Sender: sender}, true},
		{"help", &dis.Message{Author: author, Content: "!help now"}, bot.Command{Sender: sender, Name: "help", Args: "now"}, true},
		{
			"voice message",
			&dis.Message{
				Author: author,
				Flags:  voiceMessageFlag,
				Attachments: []*dis.MessageAttachment{{
					URL: "https://cdn/voice-message.ogg", Filename: "voice-message.ogg", ContentType: "audio/ogg", Size: 2048,
				}},
			},
			bot.Submission{Sender: sender, Media: bot.Media{
				Kind: bot.MediaVoice, FileID: "https://cdn/voice-message.ogg",
				FileName: "voice-message.ogg", MIMEType: "audio/ogg", Size: 2048,
			}},
			true,
		},
		{
			"audio attachment",
			&dis.Message{
				Author:      author,
				Attachments: []*dis.MessageAttachment{{URL: "u", Filename: "a.mp3", ContentType: "audio/mpeg", Size: 5}},
			},
			bot.Submission{Sender: sender, Media: bot.Media{
				Kind: bot.MediaAudio, FileID: "u", FileName: "a.mp3", MIMEType: "audio/mpeg", Size: 5,
			}},
			true,
		},
		{"guild", &dis.Message{Author: author, GuildID: "g", Content: "!start"}, nil, false},
		{"bot author", &dis.Message{Author: &dis.User{ID: "9", Bot: true}, Content: "!start"}, nil, false},
		{"bad id", &dis.Message{Author: &dis.User{ID: "nope"}, Content: "!start"}, nil, false},
		{"chatter", &dis.Message{Author: author, Content: "hello"}, nil, false},
		{"bang only", &dis.Message{Author: author, Content: "!"}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ConvertMessage(tt.msg)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestConvertInteraction(t *testing.T) {
	i := &dis.Interaction{
		ID:        "i1",
		Token:     "tok",
		Type:      dis.InteractionMessageComponent,
		ChannelID: "dm-1",
		User:      &dis.User{ID: "1", Username: "admin"},
		Message:   &dis.Message{ID: "m2"},
		Data:      dis.MessageComponentInteractionData{CustomID: "approve:42"},
	}

	ev, ok := ConvertInteraction(i)
	if !ok {
		t.Fatal("interaction not converted")
	}
	want := bot.Decision{
		Actor:      bot.User{ID: 1, Profile: access.Profile{Username: "admin"}},
		Data:       "approve:42",
		CallbackID: "i1:tok",
		Prompt:     bot.MessageRef{ChatID: "dm-1", MessageID: "m2"},
	}
	if ev != want {
		t.Errorf("got %+v, want %+v", ev, want)
	}

	if _, ok := ConvertInteraction(&dis.Interaction{Type: dis.InteractionApplicationCommand}); ok {
		t.Error("slash command converted as a decision")
	}
}

func TestSendDecisionPrompt(t *testing.T) {
	f := &fakeSession{}
	a := newTestAdapter(f)

	ref, err := a.SendDecisionPrompt(context.Background(), 1, "Новий запит", 42)
	if err != nil {
		t.Fatal(err)
	}
	if ref != (bot.MessageRef{ChatID: "dm-1", MessageID: "m2"}) {
		t.Errorf("ref = %+v", ref)
	}

	row := f.complex[0].Components[0].(dis.ActionsRow)
	var ids []string
	for _, c := range row.Components {
		ids = append(ids, c.(dis.Button).CustomID)
	}
	if len(ids) != 2 || ids[0] != "approve:42" || ids[1] != "reject:42" {
		t.Errorf("button ids = %v", ids)
	}
}

func TestDMChannelCached(t *testing.T) {
	f := &fakeSession{}
	a := newTestAdapter(f)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := a.SendText(ctx, 42, "hi"); err != nil {
			t.Fatal(err)
		}
	}
	if f.dmOpens != 1 {
		t.Errorf("DM channel opened %d times", f.dmOpens)
	}
}

func TestSlowDMOpenDoesNotBlockOthers(t *testing.T) {
	release := make(chan struct{})
	f := &fakeSession{hold: map[string]chan struct{}{"7": release}}
	a := newTestAdapter(f)
	ctx := context.Background()

	slow := make(chan error, 1)
	go func() {
		_, err := a.SendText(ctx, 7, "hi")
		slow <- err
	}()

	done := make(chan error, 1)
	go func() {
		_, err := a.SendText(ctx, 42, "hi")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("send to 42 waited on the DM open for 7")
	}

	close(release)
	if err := <-slow; err != nil {
		t.Fatal(err)
	}
	if id, err := a.dmChannel(7); err != nil || id != "dm-7" {
		t.Errorf("dmChannel(7) = %q, %v", id, err)
	}
}

func TestEditAndAcknowledge(t *testing.T) {
	f := &fakeSession{}
	a := newTestAdapter(f)
	ctx := context.Background()

	if err := a.EditText(ctx, bot.MessageRef{ChatID: "dm-1", MessageID: "m2"}, "Схвалено"); err != nil {
		t.Fatal(err)
	}
	e := f.edits[0]
	if e.Channel != "dm-1" || e.ID != "m2" || e.Content == nil || *e.Content != "Схвалено" {
		t.Errorf("edit = %+v", e)
	}

	if err := a.AcknowledgeCallback(ctx, "i1:tok", ""); err != nil {
		t.Fatal(err)
	}
	if r := f.responses[0]; r.ID != "i1" || r.Token != "tok" {
		t.Errorf("responded to %+v", r)
	}
	if err := a.AcknowledgeCallback(ctx, "garbage", ""); err == nil {
		t.Error("malformed callback id accepted")
	}
}

func TestOpenFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/a.ogg" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, "OggS")
	}))
	defer srv.Close()
	a := newTestAdapter(&fakeSession{})

	rc, err := a.OpenFile(context.Background(), srv.URL+"/a.ogg")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "OggS" {
		t.Errorf("data = %q", data)
	}

	if _, err := a.OpenFile(context.Background(), srv.URL+"/missing"); err == nil {
		t.Error("404 treated as success")
	}
}

func TestRunDispatches(t *testing.T) {
	f := &fakeSession{}
	a := newTestAdapter(f)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan bot.Event, 1)
	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx, func(_ context.Context, ev bot.Event) { got <- ev })
	}()

	var onMessage func(*dis.Session, *dis.MessageCreate)
	for onMessage == nil {
		f.mu.Lock()
		for _, h := range f.handlers {
			if fn, ok := h.(func(*dis.Session, *dis.MessageCreate)); ok {
				onMessage = fn
			}
		}
		f.mu.Unlock()
		time.Sleep(time.Millisecond)
	}

	onMessage(nil, &dis.MessageCreate{Message: &dis.Message{
		Author:  &dis.User{ID: "7"},
		Content: "!start",
	}})

	select {
	case ev := <-got:
		if g, ok := ev.(bot.Greeting); !ok || g.Sender.ID != 7 {
			t.Errorf("event = %+v", ev)
		}
	case <-ctx.Done():
		t.Fatal("no event dispatched")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !f.closed {
		t.Error("session not closed")
	}
}
