package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/zahareus/telegram-transcriber-bot/access"
	"github.com/zahareus/telegram-transcriber-bot/bot"
)

// Convert maps an update to a bot event. Only private chats and button
// presses are handled; everything else reports false.
func Convert(u tgbotapi.Update) (bot.Event, bool) {
	if cq := u.CallbackQuery; cq != nil {
		if cq.From == nil {
			return nil, false
		}
		ev := bot.Decision{
			Actor:      userOf(cq.From),
			Data:       cq.Data,
			CallbackID: cq.ID,
		}
		if cq.Message != nil {
			ev.Prompt = refOf(*cq.Message)
		}
		return ev, true
	}

	m := u.Message
	if m == nil || m.From == nil || m.Chat == nil || !m.Chat.IsPrivate() {
		return nil, false
	}
	sender := userOf(m.From)

	if m.IsCommand() {
		name := strings.ToLower(m.Command())
		if name == "start" {
			return bot.Greeting{Sender: sender}, true
		}
		return bot.Command{Sender: sender, Name: name, Args: m.CommandArguments()}, true
	}

	media, ok := mediaOf(m)
	if !ok {
		return nil, false
	}
	return bot.Submission{Sender: sender, Media: media}, true
}

func userOf(u *tgbotapi.User) bot.User {
	return bot.User{
		ID: access.Identity(u.ID),
		Profile: access.Profile{
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Username:  u.UserName,
		},
	}
}

func mediaOf(m *tgbotapi.Message) (bot.Media, bool) {
	switch {
	case m.Voice != nil:
		return bot.Media{
			Kind:     bot.MediaVoice,
			FileID:   m.Voice.FileID,
			MIMEType: m.Voice.MimeType,
			Size:     int64(m.Voice.FileSize),
		}, true
	case m.Audio != nil:
		return bot.Media{
			Kind:     bot.MediaAudio,
			FileID:   m.Audio.FileID,
			FileName: m.Audio.FileName,
			MIMEType: m.Audio.MimeType,
			Size:     int64(m.Audio.FileSize),
		}, true
	case m.Document != nil:
		return bot.Media{
			Kind:     bot.MediaDocument,
			FileID:   m.Document.FileID,
			FileName: m.Document.FileName,
			MIMEType: m.Document.MimeType,
			Size:     int64(m.Document.FileSize),
		}, true
	case m.VideoNote != nil:
		return bot.Media{
			Kind:   bot.MediaVideoNote,
			FileID: m.VideoNote.FileID,
			Size:   int64(m.VideoNote.FileSize),
		}, true
	}
	return bot.Media{}, false
}

