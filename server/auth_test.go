package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/intentgate/ai"
)

const testJWTSecret = "gate-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func doAuth(t *testing.T, s *Server, authorization, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/classify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestBearerAuth(t *testing.T) {
	now := time.Now()
	valid := signToken(t, jwt.SigningMethodHS256, []byte(testJWTSecret), jwt.RegisteredClaims{
		Subject:   "svc-a",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	expired := signToken(t, jwt.SigningMethodHS256, []byte(testJWTSecret), jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
	})
	noExpiry := signToken(t, jwt.SigningMethodHS256, []byte(testJWTSecret), jwt.RegisteredClaims{Subject: "svc-a"})
	wrongKey := signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	wrongAlg := signToken(t, jwt.SigningMethodHS512, []byte(testJWTSecret), jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})

	body := `{"id": "m-1", "caller_id": "u-1", "text": "find my notes"}`
	tests := []struct {
		name          string
		authorization string
		want          int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"lowercase scheme", "bearer " + valid, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"basic scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-token", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"no expiry", "Bearer " + noExpiry, http.StatusUnauthorized},
		{"wrong key", "Bearer " + wrongKey, http.StatusUnauthorized},
		{"wrong algorithm", "Bearer " + wrongAlg, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeClassifier{res: &ai.Result{Intent: ai.IntentMemoSearch, Status: ai.StatusClassified}}
			p := testProfile()
			p.APIJWTSecret = testJWTSecret
			s, _ := newTestServer(t, p, Deps{Classifier: fc})

			rec := doAuth(t, s, tt.authorization, body)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want != http.StatusOK {
				assert.Empty(t, fc.msgs)
			}
		})
	}
}

func TestBearerAuth_SubjectFillsCaller(t *testing.T) {
	fc := &fakeClassifier{res: &ai.Result{Intent: ai.IntentMemoSearch, Status: ai.StatusClassified}}
	p := testProfile()
	p.APIJWTSecret = testJWTSecret
	s, _ := newTestServer(t, p, Deps{Classifier: fc})

	token := signToken(t, jwt.SigningMethodHS256, []byte(testJWTSecret), jwt.RegisteredClaims{
		Subject:   "svc-a",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	rec := doAuth(t, s, "Bearer "+token, `{"id": "m-1", "text": "find my notes"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fc.msgs, 1)
	assert.Equal(t, "svc-a", fc.msgs[0].CallerID)
}

func TestBearerAuth_DisabledWithoutSecret(t *testing.T) {
	fc := &fakeClassifier{res: &ai.Result{Intent: ai.IntentMemoSearch, Status: ai.StatusClassified}}
	s, _ := newTestServer(t, testProfile(), Deps{Classifier: fc})

	rec := doAuth(t, s, "", `{"id": "m-1", "caller_id": "u-1", "text": "find my notes"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Without auth the caller is still required.
	rec = doAuth(t, s, "", `{"id": "m-2", "text": "find my notes"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBearerAuth_HealthStaysOpen(t *testing.T) {
	p := testProfile()
	p.APIJWTSecret = testJWTSecret
	s, _ := newTestServer(t, p, Deps{Classifier: &fakeClassifier{}})

	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
