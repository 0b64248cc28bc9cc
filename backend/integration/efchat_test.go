// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package integration

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/eftrust/backend/middleware"
	"github.com/efchatnet/eftrust/backend/storage/memory"
	redisStore "github.com/efchatnet/eftrust/backend/storage/redis"
)

const testSecret = "integration-secret"

func newRouter(t *testing.T, trust *TrustIntegration) *mux.Router {
	t.Helper()
	r := mux.NewRouter()
	r.Use(middleware.CORS)
	trust.RegisterRoutes(r, nil)
	r.HandleFunc("/health", trust.Health).Methods("GET")
	return r
}

func TestRoutes(t *testing.T) {
	t.Parallel()
	trust, err := NewTrustIntegration(&Config{
		Directory: memory.NewDirectory(),
		JWTSecret: testSecret,
		JWTIssuer: "efchat",
	})
	if err != nil {
		t.Fatal(err)
	}
	r := newRouter(t, trust)

	token, err := middleware.IssueToken(&middleware.JWTConfig{Secret: testSecret, Issuer: "efchat"}, "alice", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		auth   bool
		want   int
	}{
		{"health needs no token", http.MethodGet, "/health", false, http.StatusOK},
		{"keys need a token", http.MethodGet, RoutePrefix + "/keys/bob", false, http.StatusUnauthorized},
		{"missing key", http.MethodGet, RoutePrefix + "/keys/bob", true, http.StatusNotFound},
		{"missing group", http.MethodGet, RoutePrefix + "/groups/g1/session", true, http.StatusNotFound},
		{"empty search listing", http.MethodGet, RoutePrefix + "/search", true, http.StatusOK},
		{"unknown route", http.MethodGet, RoutePrefix + "/nothing", true, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
			}
		})
	}
}

func TestValidateSetup(t *testing.T) {
	t.Parallel()
	trust, err := NewTrustIntegration(&Config{Directory: memory.NewDirectory()})
	if err != nil {
		t.Fatal(err)
	}
	var verr *ValidationError
	if err := trust.ValidateSetup(); !errors.As(err, &verr) {
		t.Errorf("ValidateSetup() error = %v, want ValidationError", err)
	}
}

func TestPostgresMaintenance(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	for i := 0; i < 10; i++ {
		mock.ExpectExec("CREATE (TABLE|INDEX) IF NOT EXISTS").
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	trust, err := NewTrustIntegration(&Config{DB: db, Redis: rdb, JWTSecret: testSecret})
	if err != nil {
		t.Fatalf("NewTrustIntegration() error = %v", err)
	}

	// an evicted entry leaves its key behind in the key set
	ctx := context.Background()
	cache := redisStore.NewSearchCache(rdb)
	for _, k := range []string{"old", "new"} {
		if err := cache.Set(ctx, "alice", k, []byte("sealed"), time.Minute); err != nil {
			t.Fatal(err)
		}
	}
	mr.Del("search:cache:alice:old")

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM search_indexes")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	if err := trust.RunMaintenance(ctx, 24*time.Hour); err != nil {
		t.Fatalf("RunMaintenance() error = %v", err)
	}
	members, err := mr.Members("search:keys:alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 || members[0] != "new" {
		t.Errorf("key set = %v, want [new]", members)
	}

	mock.ExpectPing().WillReturnError(errors.New("connection reset"))
	rec := httptest.NewRecorder()
	trust.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Health() = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
