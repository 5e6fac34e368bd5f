package mapclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pogoscan/internal/geo"
	"pogoscan/internal/model"
	logx "pogoscan/pkg/logx"
)

func newTestServer(t *testing.T, expires time.Time) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/ptc/login", func(w http.ResponseWriter, r *http.Request) {
		var in loginRequest
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if in.Username != "ash" || in.Password != "pikachu" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(loginResponse{Token: "tok", ExpiresAt: expires.UnixMilli()})
	})
	mux.HandleFunc("/map/nearby", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var in nearbyRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.Latitude > 89 {
			_, _ = w.Write([]byte(`{"status":"weird"}`))
			return
		}
		if in.Latitude < -89 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"cells":[{"id":"c1","wild_pokemons":[{"encounter_id":"e1","spawn_point_id":"sp","pokemon_id":25,"latitude":1,"longitude":2,"time_till_hidden_ms":90000}],"forts":[]}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSessionLoginAndFetch(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(30 * time.Minute).Truncate(time.Millisecond)
	srv := newTestServer(t, exp)
	c, err := New(Config{BaseURL: srv.URL + "/"}, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s, err := c.NewSession(model.Account{Username: "ash", Password: "pikachu"})
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	if _, err := s.FetchNearby(context.Background(), geo.Location{}); !errors.Is(err, ErrNotLoggedIn) {
		t.Fatalf("fetch before login err = %v", err)
	}
	if !s.TokenExpiry().IsZero() {
		t.Fatalf("expiry before login should be zero")
	}

	s.SetPosition(geo.Location{Lat: 1, Lng: 2})
	if err := s.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !s.TokenExpiry().Equal(exp) {
		t.Fatalf("expiry = %v, want %v", s.TokenExpiry(), exp)
	}

	resp, err := s.FetchNearby(context.Background(), geo.Location{Lat: 1, Lng: 2})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(resp.Cells) != 1 || len(resp.Cells[0].WildPokemons) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Cells[0].WildPokemons[0].PokemonID != 25 || resp.FetchedAt.IsZero() {
		t.Fatalf("unexpected pokemon: %+v", resp.Cells[0].WildPokemons[0])
	}

	// A response without cells decodes but carries nil Cells.
	resp, err = s.FetchNearby(context.Background(), geo.Location{Lat: 89.5})
	if err != nil {
		t.Fatalf("fetch weird: %v", err)
	}
	if resp.Cells != nil {
		t.Fatalf("cells should be nil for envelope without cells")
	}

	if _, err := s.FetchNearby(context.Background(), geo.Location{Lat: -89.5}); !errors.Is(err, ErrNetwork) {
		t.Fatalf("bad gateway err = %v, want ErrNetwork", err)
	}
}

func TestSessionBadCredentials(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, time.Now().Add(time.Hour))
	c, err := New(Config{BaseURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	s, err := c.NewSession(model.Account{Username: "ash", Password: "wrong"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Login(context.Background()); !errors.Is(err, ErrAuth) {
		t.Fatalf("login err = %v, want ErrAuth", err)
	}
}

func TestNewValidatesInput(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty base url")
	}
	c, err := New(Config{BaseURL: "http://127.0.0.1:1"}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.NewSession(model.Account{Username: "a", Proxy: "://bad"}); err == nil {
		t.Fatal("expected proxy parse error")
	}
	s, err := c.NewSession(model.Account{Username: "a", Proxy: "http://127.0.0.1:3128"})
	if err != nil {
		t.Fatalf("proxy session: %v", err)
	}
	if s.service != "ptc" {
		t.Fatalf("default auth service = %q", s.service)
	}
}
