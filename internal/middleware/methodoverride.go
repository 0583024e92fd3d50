package middleware

import (
	"mime"
	"net/http"
	"strings"
)

// MethodOverrideField is the form field HTML forms use to tunnel a method through POST.
const MethodOverrideField = "_method"

// MethodOverride rewrites a form POST carrying _method=PUT, PATCH or DELETE to that method
// before routing. It wraps the whole engine because gin picks the route before any gin
// middleware runs. Other requests pass through untouched.
func MethodOverride(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && isForm(r) {
			if err := r.ParseForm(); err == nil {
				switch m := strings.ToUpper(strings.TrimSpace(r.PostForm.Get(MethodOverrideField))); m {
				case http.MethodPut, http.MethodPatch, http.MethodDelete:
					r.Method = m
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

func isForm(r *http.Request) bool {
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && ct == "application/x-www-form-urlencoded"
}
