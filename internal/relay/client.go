// Package relay — клиент внешнего message-relay (Telegram Bot API): long-poll
// входящих событий группы и fire-and-forget отправка исходящих.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/psds-microservice/desk-sync/internal/errs"
	"github.com/psds-microservice/desk-sync/internal/model"
)

const (
	defaultBaseURL = "https://api.telegram.org"

	// Серверный таймаут long-poll; клиентский дедлайн — на 5с больше, чтобы
	// отмена ctx наблюдалась в пределах одного запроса.
	pollTimeout = 50 * time.Second
	pollSlack   = 5 * time.Second

	// Маркеры роли в начале текста. Классификатор опирается на них при
	// нормализации отправителя.
	CustomerMarker = "👤"
	AdminMarker    = "🛡️"

	// SystemSender — имя отправителя служебных сообщений; такие сообщения
	// уходят без маркера роли.
	SystemSender = "System"
)

// Update — одно нормализованное входящее событие relay.
type Update struct {
	ID         int64
	TopicID    int64
	Text       string
	SenderName string
	IsBot      bool
	Timestamp  time.Time
	Attachment *model.Attachment
}

// Client — клиент Bot API. Если token или groupID пустые, Enabled() == false и
// все операции — no-op (ConfigMissing не ошибка).
type Client struct {
	token   string
	groupID string
	baseURL string
	http    *http.Client
}

func NewClient(token, groupID string) *Client {
	return &Client{
		token:   token,
		groupID: groupID,
		baseURL: defaultBaseURL,
		// Без общего Timeout: long-poll живёт дольше обычного запроса,
		// дедлайны задаются через контексты.
		http: &http.Client{},
	}
}

// NewClientWithBaseURL — для тестов (httptest-сервер вместо реального API).
func NewClientWithBaseURL(token, groupID, baseURL string) *Client {
	c := NewClient(token, groupID)
	c.baseURL = strings.TrimSuffix(baseURL, "/")
	return c
}

func (c *Client) Enabled() bool {
	return c != nil && c.token != "" && c.groupID != ""
}

type apiEnvelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

func (c *Client) call(ctx context.Context, method string, payload, out any) error {
	if !c.Enabled() {
		return errs.ErrNotConfigured
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("relay %s: marshal: %w", method, err)
	}
	url := c.baseURL + "/bot" + c.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("relay %s: new request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relay %s: %w", method, err)
	}
	defer resp.Body.Close()
	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("relay %s: decode: %w", method, err)
	}
	if !env.OK {
		return fmt.Errorf("relay %s: api error: %s", method, env.Description)
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("relay %s: decode result: %w", method, err)
		}
	}
	return nil
}

// Телеграмные wire-структуры (только используемые поля).
type tgMessage struct {
	MessageID int64 `json:"message_id"`
	ThreadID  int64 `json:"message_thread_id"`
	Date      int64 `json:"date"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	From struct {
		FirstName string `json:"first_name"`
		IsBot     bool   `json:"is_bot"`
	} `json:"from"`
	Text    string `json:"text"`
	Caption string `json:"caption"`
	Photo   []struct {
		FileID string `json:"file_id"`
	} `json:"photo"`
	Video *struct {
		FileID string `json:"file_id"`
	} `json:"video"`
}

type tgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message"`
}

func (c *Client) chatMatchesGroup(chatID int64) bool {
	id := strconv.FormatInt(chatID, 10)
	group := c.groupID
	if id == group {
		return true
	}
	// Супергруппы отдают chat.id с префиксом -100.
	return id == "-100"+strings.TrimPrefix(group, "-100")
}

// Poll выполняет один long-poll запрос getUpdates и возвращает упорядоченную,
// дедуплицированную пачку событий группы плюс следующий offset. Offset хранит
// вызывающая сторона (Sync Loop) — клиент им не владеет.
func (c *Client) Poll(ctx context.Context, offset int64) ([]Update, int64, error) {
	if !c.Enabled() {
		return nil, offset, errs.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, pollTimeout+pollSlack)
	defer cancel()

	var raw []tgUpdate
	err := c.call(ctx, "getUpdates", map[string]any{
		"offset":          offset + 1,
		"timeout":         int(pollTimeout.Seconds()),
		"allowed_updates": []string{"message"},
	}, &raw)
	if err != nil {
		return nil, offset, err
	}
	next := offset
	seen := make(map[int64]bool, len(raw))
	var out []Update
	for _, u := range raw {
		if u.UpdateID > next {
			next = u.UpdateID
		}
		msg := u.Message
		if msg == nil {
			continue
		}
		if !c.chatMatchesGroup(msg.Chat.ID) || msg.ThreadID == 0 {
			continue
		}
		if seen[msg.MessageID] {
			continue
		}
		seen[msg.MessageID] = true

		text := msg.Text
		if text == "" {
			text = msg.Caption
		}
		var attachment *model.Attachment
		if len(msg.Photo) > 0 {
			// Последний элемент — самое крупное превью.
			if url, err := c.fileURL(ctx, msg.Photo[len(msg.Photo)-1].FileID); err == nil {
				attachment = &model.Attachment{Type: model.AttachmentImage, URL: url}
				if text == "" {
					text = "[Image]"
				}
			}
		} else if msg.Video != nil {
			if url, err := c.fileURL(ctx, msg.Video.FileID); err == nil {
				attachment = &model.Attachment{Type: model.AttachmentVideo, URL: url}
				if text == "" {
					text = "[Video]"
				}
			}
		}
		if text == "" && attachment == nil {
			continue
		}
		out = append(out, Update{
			ID:         msg.MessageID,
			TopicID:    msg.ThreadID,
			Text:       text,
			SenderName: msg.From.FirstName,
			IsBot:      msg.From.IsBot,
			Timestamp:  time.Unix(msg.Date, 0).UTC(),
			Attachment: attachment,
		})
	}
	return out, next, nil
}

func (c *Client) fileURL(ctx context.Context, fileID string) (string, error) {
	var res struct {
		FilePath string `json:"file_path"`
	}
	if err := c.call(ctx, "getFile?file_id="+fileID, map[string]any{}, &res); err != nil {
		return "", err
	}
	if res.FilePath == "" {
		return "", fmt.Errorf("relay getFile: empty file_path")
	}
	return c.baseURL + "/file/bot" + c.token + "/" + res.FilePath, nil
}

// CreateTopic создаёт форумный тред в группе и возвращает его id.
func (c *Client) CreateTopic(ctx context.Context, name string) (int64, error) {
	var res struct {
		ThreadID int64 `json:"message_thread_id"`
	}
	err := c.call(ctx, "createForumTopic", map[string]any{
		"chat_id": c.groupID,
		"name":    name,
	}, &res)
	if err != nil {
		return 0, err
	}
	return res.ThreadID, nil
}

// SendMessage отправляет текст в тред от имени клиента (с маркером 👤).
// Сообщения от SystemSender уходят без маркера.
func (c *Client) SendMessage(ctx context.Context, topicID int64, text, senderName string) error {
	formatted := text
	if senderName != SystemSender {
		formatted = fmt.Sprintf("%s *%s:*\n%s", CustomerMarker, senderName, text)
	}
	return c.sendFormatted(ctx, topicID, formatted)
}

// SendAdminReply отправляет ответ оператора (с маркером 🛡️).
func (c *Client) SendAdminReply(ctx context.Context, topicID int64, text string) error {
	return c.sendFormatted(ctx, topicID, fmt.Sprintf("%s *Admin Support:*\n%s", AdminMarker, text))
}

func (c *Client) sendFormatted(ctx context.Context, topicID int64, text string) error {
	payload := map[string]any{
		"chat_id":    c.groupID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	if topicID != 0 {
		payload["message_thread_id"] = topicID
	}
	return c.call(ctx, "sendMessage", payload, nil)
}

// SendRaw отправляет текст как есть, без форматирования и parse_mode.
// Используется для закодированных системных команд.
func (c *Client) SendRaw(ctx context.Context, topicID int64, text string) error {
	return c.call(ctx, "sendMessage", map[string]any{
		"chat_id":           c.groupID,
		"message_thread_id": topicID,
		"text":              text,
	}, nil)
}

// SendDirect отправляет текст произвольному чату вне тредов (connectivity
// check, служебные уведомления).
func (c *Client) SendDirect(ctx context.Context, chatID, text string) error {
	if chatID == "" {
		return errs.ErrNotConfigured
	}
	return c.call(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	}, nil)
}

// SendMedia отправляет фото/видео multipart-запросом. Endpoint выбирается по
// расширению имени файла.
func (c *Client) SendMedia(ctx context.Context, topicID int64, filename string, r io.Reader, caption, senderName string) error {
	if !c.Enabled() {
		return errs.ErrNotConfigured
	}
	endpoint, field := "sendPhoto", "photo"
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp4", ".mov", ".webm", ".avi":
		endpoint, field = "sendVideo", "video"
	}
	if caption == "" {
		caption = "File attachment"
	}
	if senderName != SystemSender {
		caption = fmt.Sprintf("%s *%s:*\n%s", CustomerMarker, senderName, caption)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("chat_id", c.groupID)
	_ = w.WriteField("message_thread_id", strconv.FormatInt(topicID, 10))
	_ = w.WriteField("caption", caption)
	_ = w.WriteField("parse_mode", "Markdown")
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("relay %s: form file: %w", endpoint, err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("relay %s: copy: %w", endpoint, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("relay %s: close form: %w", endpoint, err)
	}

	url := c.baseURL + "/bot" + c.token + "/" + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fmt.Errorf("relay %s: new request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relay %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("relay %s: decode: %w", endpoint, err)
	}
	if !env.OK {
		return fmt.Errorf("relay %s: api error: %s", endpoint, env.Description)
	}
	return nil
}

// Verify проверяет токен (getMe) и доступ к группе (пробная отправка).
// Возвращает username бота.
func (c *Client) Verify(ctx context.Context) (string, error) {
	var me struct {
		Username string `json:"username"`
	}
	if err := c.call(ctx, "getMe", map[string]any{}, &me); err != nil {
		return "", err
	}
	if err := c.SendDirect(ctx, c.groupID, "🔌 System Connected\nBot: @"+me.Username); err != nil {
		return me.Username, fmt.Errorf("relay group send: %w", err)
	}
	return me.Username, nil
}
