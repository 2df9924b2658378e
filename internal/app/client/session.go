package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/exp/slog"
)

const tokenPermissions = 0600

// Session хранит bearer токен клиента в файле TOKEN_PATH
type Session struct {
	path string
	log  *slog.Logger

	mu    sync.RWMutex
	token string
}

func NewSession(path string, log *slog.Logger) (*Session, error) {
	s := &Session{
		path: filepath.Clean(path),
		log:  log.With("component", "session"),
	}
	if _, err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) IsAuthenticated() bool {
	return s.Token() != ""
}

// Save записывает токен на диск с правами 0600
func (s *Session) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("токен не может быть пустым")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("ошибка создания директории токена: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(token+"\n"), tokenPermissions); err != nil {
		return fmt.Errorf("ошибка сохранения токена: %w", err)
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

// Clear удаляет токен, отсутствие файла ошибкой не считается
func (s *Session) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ошибка удаления токена: %w", err)
	}

	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	return nil
}

// reload перечитывает файл и сообщает, изменилось ли состояние аутентификации
func (s *Session) reload() (bool, error) {
	var token string
	data, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		token = strings.TrimSpace(string(data))
	case errors.Is(err, os.ErrNotExist):
	default:
		return false, fmt.Errorf("ошибка чтения токена: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := (s.token == "") != (token == "")
	s.token = token
	return changed, nil
}

// Watch следит за файлом токена и вызывает onChange при входе и выходе.
// Возвращается сразу после подписки, наблюдение идет до отмены ctx.
func (s *Session) Watch(ctx context.Context, onChange func(authenticated bool)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("ошибка создания наблюдателя: %w", err)
	}

	// Следим за каталогом: файла токена до входа может не быть
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("ошибка создания директории токена: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("ошибка подписки на %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != s.path || event.Has(fsnotify.Chmod) {
					continue
				}
				changed, err := s.reload()
				if err != nil {
					s.log.Warn("Не удалось перечитать токен", "error", err)
					continue
				}
				if changed {
					authenticated := s.IsAuthenticated()
					s.log.Info("Изменилось состояние аутентификации", "authenticated", authenticated)
					onChange(authenticated)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("Ошибка наблюдателя токена", "error", err)
			}
		}
	}()

	return nil
}
