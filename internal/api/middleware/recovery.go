package middleware

import (
	"net/http"
	"runtime/debug"

	"grinpay/pkg/utils"
)

// Recovery - middleware для восстановления после паники в handlers.
//
// Паника логируется вместе со stack trace и идентификатором запроса,
// клиент получает 500 без подробностей, сервер продолжает работу.
// http.ErrAbortHandler пробрасывается дальше: это штатный обрыв ответа.
func Recovery(next http.Handler) http.Handler {
	log := utils.L().WithComponent("http")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			log.Error("panic in handler",
				utils.RequestID(RequestIDFrom(r.Context())),
				utils.String("method", r.Method),
				utils.String("path", r.URL.Path),
				utils.Any("panic", rec),
				utils.String("stack", string(debug.Stack())),
			)

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"Internal server error","code":"internal_error"}`))
		}()

		next.ServeHTTP(w, r)
	})
}
