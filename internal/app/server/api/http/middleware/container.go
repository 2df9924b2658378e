package middleware

import (
	"github.com/danielgtaylor/huma/v2"
)

type Func = func(ctx huma.Context, next func(huma.Context))

// Set хранит цепочки мидлварей для публичных и защищенных операций
type Set struct {
	public    huma.Middlewares
	protected huma.Middlewares
}

// NewSet: публичные операции только логируются, защищенные сначала проходят auth
func NewSet(logger, auth Func) *Set {
	return &Set{
		public:    huma.Middlewares{logger},
		protected: huma.Middlewares{auth, logger},
	}
}

// Public возвращает копию цепочки, чтобы хендлеры не делили общий срез
func (s *Set) Public() huma.Middlewares {
	return append(huma.Middlewares(nil), s.public...)
}

func (s *Set) Protected() huma.Middlewares {
	return append(huma.Middlewares(nil), s.protected...)
}
