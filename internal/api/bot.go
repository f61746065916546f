package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	app "gauge-bot/internal/application"
	"gauge-bot/internal/domain/entity"
	"gauge-bot/internal/logger"
)

const (
	msgStart = `👋 Привет! Я бот для снятия показаний с аналоговых приборов по фотографии.

📸 Отправьте фото манометра, и я извлеку показание. Каждое показание подтверждает оператор перед записью в журнал.

📋 Команды:
/pending — показания, ожидающие проверки
/help — справка`

	msgHelp = `ℹ️ Как пользоваться ботом:

1️⃣ Отправьте фото прибора (подпись к фото — метка прибора)
2️⃣ Модель извлечёт показание и поставит его в очередь
3️⃣ Проверьте и подтвердите показание командами

📋 Команды:
/pending — очередь на проверку
/confirm <id> — подтвердить и записать в журнал
/reject <id> — отклонить показание
/edit <id> <значение> [ед.изм.] — исправить показание
/note <id> <текст> — заметка оператора
/manual <id> <значение> <ед.изм.> — ручной ввод, если модели не справились
/report [часов] — CSV-отчёт за период (по умолчанию 12 часов)

💡 Снимайте при хорошем освещении, циферблат целиком в кадре.`

	msgSendPhoto       = "📸 Отправьте фото прибора для снятия показания."
	msgUnknownCommand  = "❓ Неизвестная команда. Используйте /help для справки."
	msgProcessing      = "⏳ Обрабатываю снимок..."
	msgProcessingError = "⚠️ Не удалось обработать снимок. Попробуйте сделать другое фото."
	msgNoPending       = "✅ Очередь пуста: всё проверено."
	msgAlreadyHandled  = "ℹ️ Это показание уже обработал другой оператор."
	msgNotFound        = "❓ Показание не найдено. Сверьте ID с /pending."
)

// Bot операторский интерфейс конвейера в Telegram
type Bot struct {
	api        *tgbotapi.BotAPI
	extraction *app.ExtractionService
	review     *app.ReviewService
	log        *logger.Logger
}

// NewBot создаёт нового бота
func NewBot(token string, extraction *app.ExtractionService, review *app.ReviewService, log *logger.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Info("authorized on telegram", "account", api.Self.UserName)

	return &Bot{
		api:        api,
		extraction: extraction,
		review:     review,
		log:        log.With("component", "bot"),
	}, nil
}

// Run запускает основной цикл обработки сообщений
func (b *Bot) Run() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	ctx := context.Background()

	for update := range updates {
		if update.Message == nil {
			continue
		}

		b.handleMessage(ctx, update.Message)
	}

	return nil
}

// handleMessage обрабатывает входящее сообщение
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	if len(msg.Photo) > 0 {
		b.handlePhoto(ctx, msg)
		return
	}

	b.sendMessage(msg.Chat.ID, msgSendPhoto)
}

// handleCommand обрабатывает команды оператора
func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	args := strings.Fields(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		b.sendMessage(msg.Chat.ID, msgStart)

	case "help":
		b.sendMessage(msg.Chat.ID, msgHelp)

	case "pending":
		b.handlePending(ctx, msg.Chat.ID)

	case "confirm":
		b.handleConfirm(ctx, msg.Chat.ID, args)

	case "reject":
		b.handleReject(ctx, msg.Chat.ID, args)

	case "edit":
		b.handleEdit(ctx, msg.Chat.ID, args)

	case "note":
		b.handleNote(ctx, msg.Chat.ID, args)

	case "manual":
		b.handleManual(ctx, msg.Chat.ID, args)

	case "report":
		b.handleReport(ctx, msg.Chat.ID, args)

	default:
		b.sendMessage(msg.Chat.ID, msgUnknownCommand)
	}
}

// handlePhoto скачивает снимок и отправляет его в конвейер извлечения
func (b *Bot) handlePhoto(ctx context.Context, msg *tgbotapi.Message) {
	b.sendMessage(msg.Chat.ID, msgProcessing)

	// Берём файл с максимальным разрешением
	photo := msg.Photo[len(msg.Photo)-1]

	imageData, err := b.downloadFile(photo.FileID)
	if err != nil {
		b.log.Error("failed to download photo", "error", err)
		b.sendMessage(msg.Chat.ID, msgProcessingError)
		return
	}

	img := entity.GaugeImage{
		Ref:        photo.FileID,
		Data:       imageData,
		Source:     strings.TrimSpace(msg.Caption),
		CapturedAt: msg.Time(),
	}

	id, err := b.extraction.Submit(ctx, img)
	if err != nil {
		b.log.Error("submit failed", "error", err)
		b.sendMessage(msg.Chat.ID, msgProcessingError)
		return
	}

	reading, err := b.review.Get(ctx, id)
	if err != nil {
		b.log.Error("failed to load staged reading", "reading_id", id, "error", err)
		b.sendMessage(msg.Chat.ID, msgProcessingError)
		return
	}

	b.sendMessage(msg.Chat.ID, formatReading(reading))
}

func (b *Bot) handlePending(ctx context.Context, chatID int64) {
	pending, err := b.review.ListStaged(ctx)
	if err != nil {
		b.log.Error("failed to list pending readings", "error", err)
		b.sendMessage(chatID, msgProcessingError)
		return
	}
	if len(pending) == 0 {
		b.sendMessage(chatID, msgNoPending)
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📋 Ожидают проверки: %d\n", len(pending)))
	for _, r := range pending {
		sb.WriteString("\n")
		sb.WriteString(formatReading(r))
		sb.WriteString("\n")
	}
	b.sendMessage(chatID, sb.String())
}

func (b *Bot) handleConfirm(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		b.sendMessage(chatID, "Использование: /confirm <id>")
		return
	}
	id, ok := b.resolveID(ctx, chatID, args[0])
	if !ok {
		return
	}

	reading, err := b.review.Confirm(ctx, id)
	if err != nil {
		b.sendReviewError(chatID, err)
		return
	}
	b.sendMessage(chatID, fmt.Sprintf("✅ Показание %s записано в журнал: %s", shortID(reading.ID.String()), formatValue(reading)))
}

func (b *Bot) handleReject(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		b.sendMessage(chatID, "Использование: /reject <id>")
		return
	}
	id, ok := b.resolveID(ctx, chatID, args[0])
	if !ok {
		return
	}

	reading, err := b.review.Reject(ctx, id)
	if err != nil {
		b.sendReviewError(chatID, err)
		return
	}
	b.sendMessage(chatID, fmt.Sprintf("❌ Показание %s отклонено.", shortID(reading.ID.String())))
}

func (b *Bot) handleEdit(ctx context.Context, chatID int64, args []string) {
	if len(args) < 2 || len(args) > 3 {
		b.sendMessage(chatID, "Использование: /edit <id> <значение> [ед.изм.]")
		return
	}
	id, ok := b.resolveID(ctx, chatID, args[0])
	if !ok {
		return
	}
	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		b.sendMessage(chatID, "⚠️ Значение должно быть числом.")
		return
	}

	req := app.EditRequest{Value: &value}
	if len(args) == 3 {
		req.Units = &args[2]
	}

	reading, err := b.review.Edit(ctx, id, req)
	if err != nil {
		b.sendReviewError(chatID, err)
		return
	}
	short := shortID(reading.ID.String())
	b.sendMessage(chatID, fmt.Sprintf("📝 Показание %s исправлено: %s\nПодтвердите командой /confirm %s", short, formatValue(reading), short))
}

func (b *Bot) handleNote(ctx context.Context, chatID int64, args []string) {
	if len(args) < 2 {
		b.sendMessage(chatID, "Использование: /note <id> <текст>")
		return
	}
	id, ok := b.resolveID(ctx, chatID, args[0])
	if !ok {
		return
	}
	note := strings.Join(args[1:], " ")

	reading, err := b.review.Edit(ctx, id, app.EditRequest{Note: &note})
	if err != nil {
		b.sendReviewError(chatID, err)
		return
	}
	b.sendMessage(chatID, fmt.Sprintf("📝 Заметка к показанию %s сохранена.", shortID(reading.ID.String())))
}

func (b *Bot) handleManual(ctx context.Context, chatID int64, args []string) {
	if len(args) != 3 {
		b.sendMessage(chatID, "Использование: /manual <id> <значение> <ед.изм.>")
		return
	}
	id, ok := b.resolveID(ctx, chatID, args[0])
	if !ok {
		return
	}
	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		b.sendMessage(chatID, "⚠️ Значение должно быть числом.")
		return
	}

	reading, err := b.review.ResolveManual(ctx, id, value, args[2])
	if err != nil {
		b.sendReviewError(chatID, err)
		return
	}
	b.sendMessage(chatID, fmt.Sprintf("📝 Ручной ввод принят: %s\nПодтвердите командой /confirm %s", formatValue(reading), shortID(reading.ID.String())))
}

func (b *Bot) handleReport(ctx context.Context, chatID int64, args []string) {
	hours := 12
	if len(args) == 1 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 {
			hours = n
		}
	}

	to := time.Now().UTC()
	from := to.Add(-time.Duration(hours) * time.Hour)

	readings, err := b.review.Export(ctx, from, to)
	if err != nil {
		b.log.Error("export failed", "error", err)
		b.sendMessage(chatID, msgProcessingError)
		return
	}
	if len(readings) == 0 {
		b.sendMessage(chatID, "📜 За этот период подтверждённых показаний нет.")
		return
	}

	csvData, err := buildCSVReport(readings)
	if err != nil {
		b.log.Error("failed to build csv report", "error", err)
		b.sendMessage(chatID, msgProcessingError)
		return
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  fmt.Sprintf("shift_report_%s.csv", to.Format("2006-01-02_15-04")),
		Bytes: csvData,
	})
	doc.Caption = fmt.Sprintf("📥 Отчёт за %d ч: %d показаний", hours, len(readings))
	if _, err := b.api.Send(doc); err != nil {
		b.log.Error("failed to send report", "error", err)
	}
}

// resolveID находит показание по префиксу ID и сообщает оператору об ошибке
func (b *Bot) resolveID(ctx context.Context, chatID int64, prefix string) (uuid.UUID, bool) {
	id, err := b.review.ResolveByPrefix(ctx, prefix)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			b.sendMessage(chatID, msgNotFound)
		} else {
			b.sendMessage(chatID, fmt.Sprintf("⚠️ %v", err))
		}
		return uuid.Nil, false
	}
	return id, true
}

// sendReviewError переводит ошибки проверки на язык оператора
func (b *Bot) sendReviewError(chatID int64, err error) {
	switch {
	case errors.Is(err, entity.ErrDispositionConflict), errors.Is(err, entity.ErrStaleEdit):
		b.sendMessage(chatID, msgAlreadyHandled)
	case errors.Is(err, entity.ErrNotFound):
		b.sendMessage(chatID, msgNotFound)
	default:
		b.log.Error("review operation failed", "error", err)
		b.sendMessage(chatID, fmt.Sprintf("⚠️ %v", err))
	}
}

// formatReading собирает карточку показания для оператора
func formatReading(r *entity.GaugeReading) string {
	short := shortID(r.ID.String())

	var sb strings.Builder
	sb.WriteString("🆔 " + short)
	if r.Source != "" {
		sb.WriteString(" | " + r.Source)
	}
	sb.WriteString("\n")

	if r.Status == entity.StatusNeedsManualEntry {
		sb.WriteString("🤚 Модели не смогли снять показание.\n")
		sb.WriteString(fmt.Sprintf("Введите вручную: /manual %s <значение> <ед.изм.>", short))
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("📟 %s (уверенность %.2f, модель: %s)\n", formatValue(r), r.Confidence, r.ModelUsed))
	if r.DangerZone {
		sb.WriteString("🚨 Стрелка в опасной зоне!\n")
	}
	if len(r.ConditionFlags) > 0 {
		flags := make([]string, 0, len(r.ConditionFlags))
		for _, f := range r.ConditionFlags {
			flags = append(flags, string(f))
		}
		sb.WriteString("🔧 Дефекты: " + strings.Join(flags, ", ") + "\n")
	}
	if r.MandatoryReview {
		sb.WriteString("👁 Обязательная проверка оператором.\n")
	}
	sb.WriteString(fmt.Sprintf("Подтвердить: /confirm %s | Отклонить: /reject %s", short, short))
	return sb.String()
}

func formatValue(r *entity.GaugeReading) string {
	if r.ExtractedValue == nil {
		return "—"
	}
	return fmt.Sprintf("%g %s", *r.ExtractedValue, r.Units)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// downloadFile скачивает файл из Telegram
func (b *Bot) downloadFile(fileID string) ([]byte, error) {
	file, err := b.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	fileURL := file.Link(b.api.Token)

	resp, err := http.Get(fileURL)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	return data, nil
}

// sendMessage отправляет текстовое сообщение
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("failed to send message", "error", err)
	}
}
