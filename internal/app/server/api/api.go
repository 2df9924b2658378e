// Reference remote store for tether clients.
//
//GET    /api/v1/health                     # Состояние сервера и БД (публичный)
//GET    /api/v1/tables/{table}/rows        # Страница строк таблицы (auth)
//GET    /api/v1/tables/{table}/rows/{id}   # Одна строка (auth)
//POST   /api/v1/tables/{table}/rows        # Вставка, идемпотентна по id (auth)
//PATCH  /api/v1/tables/{table}/rows/{id}   # Условное обновление, 412 при устаревшей базе (auth)
//DELETE /api/v1/tables/{table}/rows/{id}   # Жесткое удаление (auth)
//GET    /api/v1/changes                    # Журнал изменений после seq (auth)
//GET    /api/v1/changes/max-seq            # Голова журнала (auth)
//GET    /api/v1/realtime                   # Websocket с новыми записями журнала (auth)

package api

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/exp/slog"

	changesAPI "tether/internal/app/server/api/http/changes"
	healthAPI "tether/internal/app/server/api/http/health"
	"tether/internal/app/server/api/http/middleware"
	"tether/internal/app/server/api/http/middleware/auth"
	"tether/internal/app/server/api/http/middleware/logger"
	rowsAPI "tether/internal/app/server/api/http/rows"
	"tether/internal/app/server/config"
	"tether/internal/app/server/realtime"
	"tether/internal/infrastructure/storage/postgres"
)

type Handlers struct {
	Health  *healthAPI.Handler
	Rows    *rowsAPI.Handler
	Changes *changesAPI.Handler
}

// New создает *chi.Mux со всеми операциями huma и websocket-хабом
func New(storage *postgres.Storage, hub *realtime.Hub, tokens auth.TokenValidator, cfg *config.Config, log *slog.Logger) *chi.Mux {
	mux := chi.NewMux()
	mux.Use(chimw.RequestID, chimw.Recoverer)

	humaConfig := huma.DefaultConfig("Tether API", "1.0.0")
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {Type: "http", Scheme: "bearer"},
	}

	API := humachi.New(mux, humaConfig)

	authMW := auth.New(cfg.Auth.TokenHashes, tokens, log)
	h := handlers(storage, hub, authMW, log)
	h.Health.SetupRoutes(API)
	h.Rows.SetupRoutes(API)
	h.Changes.SetupRoutes(API)

	mux.Handle("/api/v1/realtime", authMW.Handler(hub))

	return mux
}

func handlers(storage *postgres.Storage, hub *realtime.Hub, authMW *auth.Auth, log *slog.Logger) *Handlers {
	middlewares := middleware.NewSet(logger.New(log).Middleware(), authMW.Middleware())

	rowRepo := postgres.NewRowRepository(storage, log)
	rowRepo.OnChange(hub.Broadcast)

	return &Handlers{
		Health:  healthAPI.NewHandler(storage, rowRepo, log, middlewares.Public()),
		Rows:    rowsAPI.NewHandler(rowRepo, log, middlewares.Protected()),
		Changes: changesAPI.NewHandler(rowRepo, log, middlewares.Protected()),
	}
}
