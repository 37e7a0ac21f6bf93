// Package command кодирует/декодирует protocol системных команд, встроенный в
// обычные текстовые сообщения relay. Формат строки: ⚡CMD:<KIND>|<json>.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/psds-microservice/desk-sync/internal/model"
)

// Sentinel — маркер начала команды. Многобайтовый, в обычной переписке не
// встречается.
const Sentinel = "⚡CMD:"

type Kind string

const (
	KindUpdateProfile Kind = "UPDATE_PROFILE"
	KindApproveKYC    Kind = "APPROVE_KYC"
	KindRejectKYC     Kind = "REJECT_KYC"
)

var (
	// ErrNotCommand — текст не начинается с sentinel.
	ErrNotCommand = errors.New("not a command")
	// ErrMalformed — sentinel есть, но payload не разбирается. Вызывающая
	// сторона обязана деградировать в Ignore, а не падать.
	ErrMalformed = errors.New("malformed command")
)

// Command — декодированная системная команда.
type Command struct {
	Kind Kind
	// Profile — partial-патч анкеты для UPDATE_PROFILE; для остальных видов
	// пустой.
	Profile model.CustomerProfile
}

// Encode собирает wire-строку команды. Для APPROVE_KYC/REJECT_KYC передавайте
// нулевой patch — payload будет {}.
func Encode(kind Kind, patch model.CustomerProfile) (string, error) {
	body, err := json.Marshal(patch)
	if err != nil {
		return "", fmt.Errorf("encode command payload: %w", err)
	}
	return Sentinel + string(kind) + "|" + string(body), nil
}

// IsCommand сообщает, начинается ли текст с sentinel (без полного декода).
func IsCommand(text string) bool {
	return strings.HasPrefix(text, Sentinel)
}

// Decode разбирает wire-строку. Разделитель — первый '|' после kind; всё после
// него трактуется как JSON-объект (вертикальные черты внутри JSON допустимы).
func Decode(text string) (Command, error) {
	if !strings.HasPrefix(text, Sentinel) {
		return Command{}, ErrNotCommand
	}
	rest := strings.TrimPrefix(text, Sentinel)
	kindStr, body, ok := strings.Cut(rest, "|")
	if !ok {
		return Command{}, fmt.Errorf("%w: missing separator", ErrMalformed)
	}
	kind := Kind(kindStr)
	switch kind {
	case KindUpdateProfile, KindApproveKYC, KindRejectKYC:
	default:
		return Command{}, fmt.Errorf("%w: unknown kind %q", ErrMalformed, kindStr)
	}
	cmd := Command{Kind: kind}
	if err := json.Unmarshal([]byte(body), &cmd.Profile); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return cmd, nil
}
