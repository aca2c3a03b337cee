package discord

import (
	"strings"

	dis "github.com/bwmarrin/discordgo"

	"github.com/zahareus/telegram-transcriber-bot/access"
	"github.com/zahareus/telegram-transcriber-bot/bot"
)

// Discord sets this flag on messages recorded with the voice message button.
const voiceMessageFlag dis.MessageFlags = 1 << 13

// ConvertMessage maps a direct message to a bot event. Guild messages and
// bot authors are skipped.
func ConvertMessage(m *dis.Message) (bot.Event, bool) {
	if m == nil || m.Author == nil || m.Author.Bot || m.GuildID != "" {
		return nil, false
	}
	sender, ok := userOf(m.Author)
	if !ok {
		return nil, false
	}

	content := strings.TrimSpace(m.Content)
	if len(content) > 1 && (content[0] == '!' || content[0] == '/') {
		name, args, _ := strings.Cut(content[1:], " ")
		name = strings.ToLower(name)
		if name == "start" {
			return bot.Greeting{Sender: sender}, true
		}
		return bot.Command{Sender: sender, Name: name, Args: strings.TrimSpace(args)}, true
	}

	if len(m.Attachments) == 0 {
		return nil, false
	}
	att := m.Attachments[0]
	kind := bot.MediaDocument
	switch {
	case m.Flags&voiceMessageFlag != 0:
		kind = bot.MediaVoice
	case strings.HasPrefix(att.ContentType, "audio/"):
		kind = bot.MediaAudio
	}
	return bot.Submission{
		Sender: sender,
		Media: bot.Media{
			Kind:     kind,
			FileID:   att.URL,
			FileName: att.Filename,
			MIMEType: att.ContentType,
			Size:     int64(att.Size),
		},
	}, true
}

// ConvertInteraction maps a button press to a Decision. The callback id
// carries the interaction id and token, which is all a response needs.
func ConvertInteraction(i *dis.Interaction) (bot.Event, bool) {
	if i == nil || i.Type != dis.InteractionMessageComponent {
		return nil, false
	}
	u := i.User
	if u == nil && i.Member != nil {
		u = i.Member.User
	}
	if u == nil {
		return nil, false
	}
	actor, ok := userOf(u)
	if !ok {
		return nil, false
	}

	ev := bot.Decision{
		Actor:      actor,
		Data:       i.MessageComponentData().CustomID,
		CallbackID: i.ID + ":" + i.Token,
	}
	if i.Message != nil {
		ev.Prompt = bot.MessageRef{ChatID: i.ChannelID, MessageID: i.Message.ID}
	}
	return ev, true
}

func userOf(u *dis.User) (bot.User, bool) {
	id, ok := parseSnowflake(u.ID)
	if !ok {
		return bot.User{}, false
	}
	return bot.User{
		ID:      id,
		Profile: access.Profile{FirstName: u.GlobalName, Username: u.Username},
	}, true
}
