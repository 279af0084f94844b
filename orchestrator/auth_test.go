// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package orchestrator

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-admin-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func adminToken(t *testing.T) string {
	return signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub":  "ops@example.com",
		"role": "admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
}

func TestAdminAuth_Authenticate(t *testing.T) {
	auth := NewAdminAuth(testSecret)
	future := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name    string
		token   string
		subject string
		wantErr bool
	}{
		{"valid", adminToken(t), "ops@example.com", false},
		{"wrong secret", signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "a", "role": "admin", "exp": future}), "", true},
		{"not admin", signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "a", "role": "viewer", "exp": future}), "", true},
		{"no subject", signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"role": "admin", "exp": future}), "", true},
		{"expired", signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{"sub": "a", "role": "admin", "exp": time.Now().Add(-time.Minute).Unix()}), "", true},
		{"hs512 rejected", signToken(t, jwt.SigningMethodHS512, []byte(testSecret), jwt.MapClaims{"sub": "a", "role": "admin", "exp": future}), "", true},
		{"garbage", "not-a-jwt", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, err := auth.Authenticate(tt.token)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.subject, subject)
		})
	}
}

func TestAdminAuth_Disabled(t *testing.T) {
	var nilAuth *AdminAuth
	assert.False(t, nilAuth.Enabled())
	assert.False(t, NewAdminAuth("").Enabled())

	_, err := NewAdminAuth("").Authenticate(adminToken(t))
	assert.Error(t, err)
}

func TestAdminAuth_Middleware(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = AdminSubject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		auth   *AdminAuth
		header string
		status int
	}{
		{"disabled", NewAdminAuth(""), "Bearer " + adminToken(t), http.StatusForbidden},
		{"nil auth", nil, "Bearer " + adminToken(t), http.StatusForbidden},
		{"missing header", NewAdminAuth(testSecret), "", http.StatusUnauthorized},
		{"basic scheme", NewAdminAuth(testSecret), "Basic Zm9vOmJhcg==", http.StatusUnauthorized},
		{"invalid token", NewAdminAuth(testSecret), "Bearer nope", http.StatusUnauthorized},
		{"valid", NewAdminAuth(testSecret), "Bearer " + adminToken(t), http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			tt.auth.Middleware(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusNoContent {
				assert.Equal(t, "ops@example.com", seen)
			} else {
				assert.Empty(t, seen)
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}
