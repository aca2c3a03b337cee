package bot

import (
	"fmt"
	"strings"

	"github.com/zahareus/telegram-transcriber-bot/access"
)

const TranscriptLabel = "Розшифровка:\n"

const (
	msgAlreadyPending   = "Ваш запит уже надіслано адміністратору. Будь ласка, зачекайте на рішення."
	msgAlreadyApproved  = "У вас уже є доступ. Надішліть голосове повідомлення або аудіофайл, і я його розшифрую."
	msgAlreadyRejected  = "На жаль, адміністратор відхилив ваш запит на доступ."
	msgAdminUnreachable = "Вибачте, зараз не вдалося зв'язатися з адміністратором. Спробуйте надіслати /start пізніше."
	msgAdminWelcome     = "Ви адміністратор цього бота. Надсилайте аудіо для розшифровки."
	msgTryLater         = "Сталася внутрішня помилка. Спробуйте пізніше."

	msgAccessDenied   = "У вас немає доступу до бота. Надішліть /start, щоб подати запит адміністратору."
	msgProcessing     = "Отримав аудіо, розшифровую..."
	msgDownloadFailed = "Не вдалося завантажити файл. Спробуйте надіслати його ще раз."
	msgNoSpeech       = "Не вдалося розпізнати мовлення в цьому аудіо."

	msgApproved = "Адміністратор схвалив ваш запит. Тепер ви можете надсилати аудіо для розшифровки."
	msgRejected = "На жаль, адміністратор відхилив ваш запит на доступ."

	msgInvalidDecision = "Некоректні дані кнопки. Рішення не застосовано."
	msgUnknownUser     = "Користувача з таким ID немає серед запитів."

	msgHelp = "Я розшифровую голосові повідомлення та аудіофайли.\n\n" +
		"/start - подати запит на доступ\n" +
		"/status - стан вашого запиту\n" +
		"/help - ця довідка"
	msgAdminHelp = "\n/pending - запити, що очікують рішення"
	msgNoPending = "Немає запитів, що очікують рішення."
)

func greetingText(u User) string {
	name := u.DisplayName()
	if name == "" {
		name = "друже"
	}
	return fmt.Sprintf(
		"Привіт, %s! Я бот для розшифровки аудіо. Зараз я повідомлю адміністратора про ваш запит на доступ.",
		name,
	)
}

func describeUser(u User) string {
	var b strings.Builder
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = "без імені"
	}
	b.WriteString(name)
	if h := u.Handle(); h != "" {
		b.WriteString(" (" + h + ")")
	}
	b.WriteString(", ID " + u.ID.String())
	return b.String()
}

func describeRecord(r access.Record) string {
	return describeUser(User{ID: r.Identity, Profile: r.Profile})
}

func accessRequestText(u User) string {
	return "Новий запит на доступ:\n" + describeUser(u)
}

func decidedPromptText(r access.Record) string {
	verdict := "✅ Схвалено"
	if r.State == access.Rejected {
		verdict = "❌ Відхилено"
	}
	return fmt.Sprintf("Запит на доступ: %s\n%s", describeRecord(r), verdict)
}

func decisionNotice(d access.Decision) string {
	if d == access.Approve {
		return msgApproved
	}
	return msgRejected
}

func fileTooLargeText(limit int64) string {
	return fmt.Sprintf(
		"Файл завеликий. Максимальний розмір: %d МБ.",
		limit/(1<<20),
	)
}

func transcriptionFailedText(reason string) string {
	if reason == "" {
		return "Не вдалося розшифрувати аудіо. Спробуйте пізніше."
	}
	return "Не вдалося розшифрувати аудіо: " + reason
}

func transcriptionNotice(u User, runes int) string {
	return fmt.Sprintf("Розшифровка для %s: %d символів.", describeUser(u), runes)
}

func statusText(rec access.Record, ok bool) string {
	if !ok {
		return "Ви ще не подавали запит. Надішліть /start."
	}
	switch rec.State {
	case access.Approved:
		return msgAlreadyApproved
	case access.Rejected:
		return msgAlreadyRejected
	}
	return msgAlreadyPending
}

func pendingText(recs []access.Record) string {
	var b strings.Builder
	b.WriteString("Запити, що очікують рішення:")
	for _, r := range recs {
		b.WriteString("\n" + describeRecord(r))
	}
	return b.String()
}
