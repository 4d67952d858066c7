package middleware

import (
	"net/http"

	"grinpay/pkg/crypto"
	"grinpay/pkg/utils"
)

// operatorRealm - realm для Basic аутентификации оператора
const operatorRealm = `Basic realm="grinpay operator"`

// OperatorAuth - middleware для защиты операторских endpoints
//
// Назначение:
// Защищает /api/v1/deliveries/failed, /ws/stream и /metrics.
// Использует HTTP Basic Authentication, пароль сверяется с bcrypt хешем
// из OPERATOR_PASSWORD_HASH.
//
// Если учетные данные не настроены (пустой хеш), доступ запрещен (403).
//
// Использование:
//
//	operator := router.PathPrefix("/api/v1/deliveries").Subrouter()
//	operator.Use(middleware.OperatorAuth(creds))
func OperatorAuth(creds crypto.Credentials) func(http.Handler) http.Handler {
	log := utils.L().WithComponent("auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if creds.Username == "" || creds.PasswordHash == "" {
				http.Error(w, "Operator endpoints disabled. Set OPERATOR_USERNAME and OPERATOR_PASSWORD_HASH.", http.StatusForbidden)
				return
			}

			user, pass, ok := r.BasicAuth()
			if !ok || !creds.Verify(user, pass) {
				if ok {
					log.Warn("operator authentication failed",
						utils.Operator(user),
						utils.String("client_ip", clientIP(r)),
						utils.String("path", r.URL.Path),
					)
				}
				w.Header().Set("WWW-Authenticate", operatorRealm)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
