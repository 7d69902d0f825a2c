package router

import (
	"net/http"
	"strings"

	"github.com/docshare/portal-messaging/internal/tenancy"
)

const clinicHeader = "X-Clinic-Id"

// requireClinicID middleware enforces multi-tenancy headers for API requests.
func requireClinicID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clinicID := strings.TrimSpace(r.Header.Get(clinicHeader))
		if clinicID == "" {
			http.Error(w, "missing X-Clinic-Id", http.StatusBadRequest)
			return
		}
		ctx := tenancy.WithClinicID(r.Context(), clinicID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
