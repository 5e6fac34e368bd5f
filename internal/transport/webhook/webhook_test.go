package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"pogoscan/internal/geo"
	kit "pogoscan/internal/transport"
	logx "pogoscan/pkg/logx"
)

type pokemonMsg struct {
	PokemonID int `json:"pokemon_id"`
}

func (pokemonMsg) WebhookType() string { return "pokemon" }

func TestSendPostsToEveryURL(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	var got Payload
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
	}))
	t.Cleanup(ok.Close)
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)

	s, err := New(Config{URLs: []string{ok.URL, bad.URL}}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	err = s.Send(context.Background(), kit.Notification{
		ID:       "n1",
		Priority: 5,
		Text:     "Pidgey nearby",
		Location: &geo.Location{Lat: 1.5, Lng: 2.5},
		Data:     pokemonMsg{PokemonID: 16},
	})
	if err == nil {
		t.Fatal("expected error from the failing url")
	}
	if hits.Load() != 2 {
		t.Fatalf("hits = %d, want 2", hits.Load())
	}
	if got.ID != "n1" || got.Type != "pokemon" || got.Lat != 1.5 || got.Text != "Pidgey nearby" {
		t.Fatalf("payload = %+v", got)
	}
}

func TestNewRequiresURLs(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}
