package middleware

import (
	"net/http"
	"strings"
)

// CORS - middleware для настройки Cross-Origin Resource Sharing
//
// Назначение:
// Разрешает страницам мерчантов обращаться к API из браузера
// (страница оплаты опрашивает /status и отправляет слейт).
//
// Конфигурация:
// - allowed - список разрешенных origins (ALLOWED_ORIGINS через запятую)
// - пустой список или "*" разрешает любой origin без credentials
//
// Важные заголовки:
// - Access-Control-Allow-Origin: конкретный домен или *
// - Access-Control-Allow-Methods: GET, POST, OPTIONS
// - Access-Control-Allow-Headers: Content-Type, Authorization, X-Request-ID
// - Access-Control-Max-Age: 86400 (24 часа)
func CORS(allowed []string) func(http.Handler) http.Handler {
	origins := make(map[string]bool, len(allowed))
	allowAll := len(allowed) == 0
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		if o != "" {
			origins[o] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			switch {
			case origin == "":
				// Запросы не из браузера (curl, сервер мерчанта)
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origins[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
			// Для неразрешенных origins заголовки не ставим - браузер заблокирует

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
