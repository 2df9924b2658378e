package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/exp/slog"

	syncdomain "tether/internal/domain/sync"
)

const (
	realtimePath       = apiPrefix + "/realtime"
	realtimeReadLimit  = 1 << 20
	realtimeMinBackoff = time.Second
	realtimeMaxBackoff = time.Minute
)

// ChangeApplier принимает записи журнала изменений из realtime канала
type ChangeApplier interface {
	ApplyChange(ctx context.Context, entry syncdomain.ChangeLogEntry) (int, error)
}

// Realtime держит websocket подписку на журнал изменений сервера и
// переподключается с экспоненциальной задержкой.
type Realtime struct {
	url     string
	tokens  TokenSource
	applier ChangeApplier
	log     *slog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	connected atomic.Bool
	onState   func(connected bool)
}

func NewRealtime(baseURL string, tokens TokenSource, applier ChangeApplier, log *slog.Logger) *Realtime {
	return &Realtime{
		url:        websocketURL(baseURL) + realtimePath,
		tokens:     tokens,
		applier:    applier,
		log:        log.With("component", "realtime"),
		minBackoff: realtimeMinBackoff,
		maxBackoff: realtimeMaxBackoff,
		onState:    func(bool) {},
	}
}

// OnState задает обработчик смены состояния подключения; вызывать до Run
func (r *Realtime) OnState(fn func(connected bool)) {
	if fn == nil {
		fn = func(bool) {}
	}
	r.onState = fn
}

func (r *Realtime) Connected() bool {
	return r.connected.Load()
}

// Run подключается и читает канал до отмены ctx
func (r *Realtime) Run(ctx context.Context) {
	backoff := r.minBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		if r.tokens.Token() == "" {
			r.log.Debug("Нет токена, подписка отложена")
		} else {
			started := time.Now()
			err := r.listen(ctx)
			if ctx.Err() != nil {
				return
			}
			r.log.Warn("Realtime соединение потеряно", "error", err)

			// Долгое соединение сбрасывает задержку
			if time.Since(started) > r.maxBackoff {
				backoff = r.minBackoff
			}
		}

		if err := sleepContext(ctx, backoff); err != nil {
			return
		}
		backoff = min(backoff*2, r.maxBackoff)
	}
}

func (r *Realtime) listen(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+r.tokens.Token())
	header.Set("User-Agent", userAgent)

	conn, _, err := websocket.Dial(ctx, r.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("ошибка подключения: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(realtimeReadLimit)

	r.setConnected(true)
	defer r.setConnected(false)
	r.log.Info("Realtime подписка установлена")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return errors.New("сервер закрыл соединение")
			}
			return err
		}

		var entry syncdomain.ChangeLogEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			r.log.Warn("Некорректное сообщение realtime", "error", err)
			continue
		}

		acked, err := r.applier.ApplyChange(ctx, entry)
		if err != nil {
			r.log.Warn("Не удалось применить изменение", "seq", entry.Seq, "table", entry.TableName, "error", err)
			continue
		}
		r.log.Debug("Изменение применено", "seq", entry.Seq, "table", entry.TableName, "acked", acked)
	}
}

func (r *Realtime) setConnected(connected bool) {
	if r.connected.Swap(connected) != connected {
		r.onState(connected)
	}
}

func websocketURL(baseURL string) string {
	baseURL = strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}
