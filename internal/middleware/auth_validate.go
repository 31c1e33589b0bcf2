package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/educhat/internal/logger"
	"github.com/educhat/internal/model"
)

// ProfileSink mirrors the identity-service profile into local storage on
// each validated request. May be nil.
type ProfileSink interface {
	Ensure(ctx context.Context, u *model.User) error
}

// AuthServiceValidate calls the identity microservice to verify the signed
// session (X-Session-Id, X-Timestamp, X-Signature) and puts the user id
// into the request context. The validate response carries the profile,
// which is mirrored through sink.
func AuthServiceValidate(authServiceURL string, client *http.Client, sink ProfileSink) func(http.Handler) http.Handler {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := r.Header.Get("X-Session-Id")
			if sessionID == "" {
				sessionID = r.URL.Query().Get("session_id")
			}
			timestamp := r.Header.Get("X-Timestamp")
			if timestamp == "" {
				timestamp = r.URL.Query().Get("timestamp")
			}
			signature := r.Header.Get("X-Signature")
			if signature == "" {
				signature = r.URL.Query().Get("signature")
			}
			if sessionID == "" || timestamp == "" || signature == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			var body []byte
			if r.Body != nil {
				var err error
				body, err = io.ReadAll(r.Body)
				if err != nil {
					http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}
			// Signature covers only the pathname, no query. Must match the
			// client's pathForSignature.
			path := r.URL.Path
			bodyForSignature := string(body)
			// Multipart requests are signed with an empty body.
			if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
				bodyForSignature = ""
			}
			reqBody := map[string]string{
				"session_id": sessionID,
				"timestamp":  timestamp,
				"signature":  signature,
				"method":     r.Method,
				"path":       path,
				"body":       bodyForSignature,
			}
			jsonBody, _ := json.Marshal(reqBody)
			req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, authServiceURL+"/internal/validate", bytes.NewReader(jsonBody))
			if err != nil {
				http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
				return
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := client.Do(req)
			if err != nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			var result struct {
				UserID      string `json:"user_id"`
				DisplayName string `json:"display_name"`
				Email       string `json:"email"`
				AvatarURL   string `json:"avatar_url"`
				Role        string `json:"role"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || result.UserID == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			if sink != nil {
				u := &model.User{
					ID:          result.UserID,
					DisplayName: result.DisplayName,
					Email:       result.Email,
					AvatarURL:   result.AvatarURL,
					Role:        result.Role,
				}
				if err := sink.Ensure(r.Context(), u); err != nil {
					logger.Errorf("mirror profile user=%s: %v", result.UserID, err)
				}
			}

			ctx := context.WithValue(r.Context(), UserIDKey, result.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
