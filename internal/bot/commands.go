package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/gradebook/internal/identity"
	"github.com/shrimpsizemoose/gradebook/internal/models"
)

const (
	studentHelp = `Доступные команды:
/token <course> - Получить токен для доступа к API
/grade <course> - Текущая оценка по курсу
/help - Показать это сообщение`

	adminHelp = `Доступные команды:
/link <course> <tg_username> <user_id|username> - Связать telegram-аккаунт со студентом
/students <course> - Связанные telegram-аккаунты курса
/enroll <course> <user_id> - Записать студента на курс
/number <course> <user_id> - Студенческий номер
/grade <course> <user_id> - Текущая оценка студента
/finalize <course> - Пересчитать итоговые оценки курса
/report <course> - Ведомость итоговых оценок
/help - Показать это сообщение

Примеры:
/link 1 alice_tg 42
/link 1 alice_tg alice
/enroll 1 42
/finalize 1`
)

var errNoTokens = errors.New("токены недоступны: redis не настроен")

type commandHandler func(*tgbotapi.Message) error

func (b *Bot) routeStudentCommands(cmd string) (commandHandler, bool) {
	commands := map[string]commandHandler{
		"start": b.handleStart,
		"token": b.handleToken,
		"help":  b.handleHelp,
		"grade": b.handleGrade,
	}
	handler, found := commands[cmd]
	return handler, found
}

func (b *Bot) routeAdminCommands(cmd string) (commandHandler, bool) {
	commands := map[string]commandHandler{
		"link":     b.handleLink,
		"students": b.handleStudents,
		"enroll":   b.handleEnroll,
		"number":   b.handleNumber,
		"finalize": b.handleFinalize,
		"report":   b.handleReport,
	}
	handler, found := commands[cmd]
	return handler, found
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	if !msg.IsCommand() {
		b.sendHelp(msg.Chat.ID)
		return
	}

	cmd := msg.Command()

	if handler, ok := b.routeStudentCommands(cmd); ok {
		b.run(msg, handler)
		return
	}

	if b.admins[msg.From.ID] {
		if handler, ok := b.routeAdminCommands(cmd); ok {
			b.run(msg, handler)
		}
		return
	}

	b.sendHelp(msg.Chat.ID)
}

func (b *Bot) run(msg *tgbotapi.Message, handler commandHandler) {
	if err := handler(msg); err != nil {
		logger.Error.Printf("Command error: %v", err)
		b.sendMessage(msg.Chat.ID, fmt.Sprintf("Ошибка: %v", humanError(err)))
	}
}

func humanError(err error) string {
	switch {
	case errors.Is(err, models.ErrNotEnrolled):
		return "студент не записан на курс"
	case errors.Is(err, models.ErrNotFound):
		return "не найдено"
	case errors.Is(err, models.ErrConflict):
		return "номер уже занят, попробуй ещё раз"
	case errors.Is(err, models.ErrInvalidWeight):
		return "у курса некорректные веса компонентов"
	case errors.Is(err, identity.ErrEmptyCourseCode):
		return "из названия курса не получается код, переименуй курс"
	case errors.Is(err, models.ErrInvalid):
		return "некорректные данные"
	default:
		return err.Error()
	}
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	var text string
	if b.admins[msg.From.ID] {
		text = adminHelp
	} else {
		text = studentHelp
	}

	return b.sendMessage(msg.Chat.ID, text)
}

func (b *Bot) sendHelp(chatID int64) error {
	return b.sendMessage(chatID, "Используйте команды для взаимодействия с ботом. Отправьте /help для списка команд.")
}

func (b *Bot) handleStart(msg *tgbotapi.Message) error {
	text := "Привет! Я помогу тебе с курсом.\n\n"
	if b.admins[msg.From.ID] {
		text += "Ты администратор курса. Используй /help для списка команд."
	} else {
		text += "Используй /token <course> чтобы получить токен и /grade <course> чтобы узнать оценку."
	}

	return b.sendMessage(msg.Chat.ID, text)
}

// studentFor resolves the sender's telegram username to a user id within the course.
func (b *Bot) studentFor(ctx context.Context, msg *tgbotapi.Message, courseID int64) (int64, error) {
	if b.tokens == nil {
		return 0, errNoTokens
	}
	if msg.From.UserName == "" {
		return 0, fmt.Errorf("у тебя не задан username в telegram")
	}
	userID, err := b.tokens.FetchStudentIDByTelegram(ctx, courseID, msg.From.UserName)
	if err != nil {
		return 0, fmt.Errorf("не нашёл тебя среди студентов курса %d, напиши преподавателю", courseID)
	}
	return userID, nil
}

func (b *Bot) handleToken(msg *tgbotapi.Message) error {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 1 {
		return fmt.Errorf("использование: /token <course>")
	}
	courseID, err := parseID("курс", args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	userID, err := b.studentFor(ctx, msg, courseID)
	if err != nil {
		return err
	}

	info, isNew, err := b.tokens.FetchOrCreateStudentToken(ctx, courseID, userID)
	if err != nil {
		return fmt.Errorf("не удалось получить токен: %w", err)
	}

	text := fmt.Sprintf("Твой токен для курса %d:\n%s\n\nЗапросов: %d", courseID, info.Token, info.RequestCount)
	if isNew {
		text = "🔑 Новый токен создан.\n" + text
	}
	return b.sendMessage(msg.Chat.ID, text)
}

func (b *Bot) handleGrade(msg *tgbotapi.Message) error {
	args := strings.Fields(msg.CommandArguments())
	ctx := context.Background()

	var courseID, userID int64
	var err error
	switch {
	case len(args) == 2 && b.admins[msg.From.ID]:
		if courseID, err = parseID("курс", args[0]); err != nil {
			return err
		}
		if userID, err = parseID("студент", args[1]); err != nil {
			return err
		}
	case len(args) == 1:
		if courseID, err = parseID("курс", args[0]); err != nil {
			return err
		}
		if userID, err = b.studentFor(ctx, msg, courseID); err != nil {
			return err
		}
	default:
		return fmt.Errorf("использование: /grade <course>")
	}

	grade, err := b.service.StudentGrade(ctx, userID, courseID)
	if err != nil {
		return err
	}

	number := "без номера"
	if grade.StudentNumber != nil {
		number = *grade.StudentNumber
	}
	return b.sendMessage(msg.Chat.ID, fmt.Sprintf("📊 %s: текущая оценка %.2f", number, grade.Grade))
}

func (b *Bot) handleLink(msg *tgbotapi.Message) error {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 3 {
		return fmt.Errorf("использование: /link <course> <tg_username> <user_id|username>")
	}
	courseID, err := parseID("курс", args[0])
	if err != nil {
		return err
	}
	tgUsername := strings.TrimPrefix(args[1], "@")

	ctx := context.Background()
	user, err := b.resolveUser(ctx, args[2])
	if err != nil {
		return err
	}

	if b.tokens == nil {
		return errNoTokens
	}
	if err := b.tokens.SaveStudentTelegramMapping(ctx, courseID, tgUsername, user.ID); err != nil {
		return fmt.Errorf("ошибка сохранения: %w", err)
	}
	return b.sendMessage(msg.Chat.ID, fmt.Sprintf("✅ @%s теперь %s (%d) в курсе %d", tgUsername, user.Username, user.ID, courseID))
}

// resolveUser accepts either a numeric user id or a username.
func (b *Bot) resolveUser(ctx context.Context, ref string) (*models.User, error) {
	var user *models.User
	var err error
	if id, parseErr := strconv.ParseInt(ref, 10, 64); parseErr == nil {
		user, err = b.service.Store.GetUser(ctx, id)
	} else {
		user, err = b.service.Store.GetUserByUsername(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("студент %s: %w", ref, models.ErrNotFound)
	}
	return user, nil
}

func (b *Bot) handleStudents(msg *tgbotapi.Message) error {
	courseID, err := singleCourse(msg, "/students")
	if err != nil {
		return err
	}
	if b.tokens == nil {
		return errNoTokens
	}

	ctx := context.Background()
	mappings, err := b.tokens.FetchCourseMappings(ctx, courseID)
	if err != nil {
		return fmt.Errorf("ошибка получения связей: %w", err)
	}

	usernames := make(map[string]string, len(mappings))
	for _, raw := range mappings {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		user, err := b.service.Store.GetUser(ctx, id)
		if err != nil {
			return err
		}
		if user != nil {
			usernames[raw] = user.Username
		}
	}

	return b.sendMessage(msg.Chat.ID, formatStudents(courseID, mappings, usernames))
}

// formatStudents renders tg username -> user id mappings sorted by telegram username.
func formatStudents(courseID int64, mappings map[string]string, usernames map[string]string) string {
	if len(mappings) == 0 {
		return fmt.Sprintf("В курсе %d пока никто не связан, используй /link", courseID)
	}

	tgNames := make([]string, 0, len(mappings))
	for tg := range mappings {
		tgNames = append(tgNames, tg)
	}
	sort.Strings(tgNames)

	var text strings.Builder
	text.WriteString(fmt.Sprintf("Студенты курса %d:\n\n", courseID))
	for _, tg := range tgNames {
		id := mappings[tg]
		name, ok := usernames[id]
		if !ok {
			name = "?"
		}
		text.WriteString(fmt.Sprintf("👉🏻 @%s → %s (%s)\n", tg, name, id))
	}
	return text.String()
}

func (b *Bot) handleEnroll(msg *tgbotapi.Message) error {
	courseID, userID, err := courseAndUser(msg, "/enroll")
	if err != nil {
		return err
	}

	enrollment, err := b.service.Allocator.Enroll(context.Background(), userID, courseID)
	if err != nil {
		return err
	}
	return b.sendMessage(msg.Chat.ID, fmt.Sprintf("✅ Студент %d записан на курс %d, номер %s",
		userID, courseID, *enrollment.StudentNumber))
}

func (b *Bot) handleNumber(msg *tgbotapi.Message) error {
	courseID, userID, err := courseAndUser(msg, "/number")
	if err != nil {
		return err
	}

	number, err := b.service.Allocator.AllocateStudentNumber(context.Background(), userID, courseID)
	if err != nil {
		return err
	}
	return b.sendMessage(msg.Chat.ID, fmt.Sprintf("🎓 %s", number))
}

func (b *Bot) handleFinalize(msg *tgbotapi.Message) error {
	courseID, err := singleCourse(msg, "/finalize")
	if err != nil {
		return err
	}

	grades, err := b.service.FinalizeCourse(context.Background(), courseID)
	if err != nil {
		return err
	}
	return b.sendMessage(msg.Chat.ID, fmt.Sprintf("✅ Пересчитано итоговых оценок: %d", len(grades)))
}

func (b *Bot) handleReport(msg *tgbotapi.Message) error {
	courseID, err := singleCourse(msg, "/report")
	if err != nil {
		return err
	}

	rows, err := b.service.GradeReport(context.Background(), courseID)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return b.sendMessage(msg.Chat.ID, "Итоговых оценок пока нет, запусти /finalize")
	}

	var text strings.Builder
	text.WriteString(fmt.Sprintf("Ведомость курса %d:\n\n", courseID))
	for _, row := range rows {
		number := "—"
		if row.StudentNumber != nil {
			number = *row.StudentNumber
		}
		text.WriteString(fmt.Sprintf("👉🏻 %s %s: %.2f\n", number, row.Username, row.Grade))
	}
	text.WriteString(fmt.Sprintf("\nРассчитано: %s UTC",
		rows[0].CalculatedAt.UTC().Format(b.service.Config.Display.TimestampFormat)))

	return b.sendMessage(msg.Chat.ID, text.String())
}

func parseID(what, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("некорректный %s: %s", what, raw)
	}
	return id, nil
}

func courseAndUser(msg *tgbotapi.Message, usage string) (int64, int64, error) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("использование: %s <course> <user_id>", usage)
	}
	courseID, err := parseID("курс", args[0])
	if err != nil {
		return 0, 0, err
	}
	userID, err := parseID("студент", args[1])
	if err != nil {
		return 0, 0, err
	}
	return courseID, userID, nil
}

func singleCourse(msg *tgbotapi.Message, usage string) (int64, error) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 1 {
		return 0, fmt.Errorf("использование: %s <course>", usage)
	}
	return parseID("курс", args[0])
}

func (b *Bot) sendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := b.sender.Send(msg)
	return err
}
