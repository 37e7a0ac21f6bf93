// Package snapshot — локальный снапшот коллекций на диске. Единственное
// долговечное состояние, когда store не сконфигурирован.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/psds-microservice/desk-sync/internal/model"
)

type File struct {
	Tickets  []model.Ticket  `json:"tickets"`
	Messages []model.Message `json:"messages"`
}

// Load читает снапшот. Отсутствие файла — не ошибка (пустое состояние).
func Load(path string) (*File, error) {
	if path == "" {
		return &File{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("snapshot read: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("snapshot decode: %w", err)
	}
	return &f, nil
}

// Save атомарно записывает снапшот (tmp + rename). Пустой path — no-op.
func Save(path string, f *File) error {
	if path == "" {
		return nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("snapshot encode: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("snapshot mkdir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("snapshot write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("snapshot rename: %w", err)
	}
	return nil
}
