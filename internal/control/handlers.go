package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"pogoscan/internal/eventbus"
	"pogoscan/internal/geo"
	logx "pogoscan/pkg/logx"
)

type statusResponse struct {
	Scan     any            `json:"scan,omitempty"`
	Sections map[string]any `json:"sections,omitempty"`
	Time     time.Time      `json:"time"`
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Time: time.Now()}
	if f := s.deps.Fleet; f != nil {
		resp.Scan = f.Report()
	}
	if len(s.deps.Sections) > 0 {
		resp.Sections = make(map[string]any, len(s.deps.Sections))
		for name, fn := range s.deps.Sections {
			if fn != nil {
				resp.Sections[name] = fn()
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type locationRequest struct {
	Lat *float64 `json:"lat" validate:"required,min=-90,max=90"`
	Lng *float64 `json:"lng" validate:"required,min=-180,max=180"`
}

func (s *Service) handleLocation(w http.ResponseWriter, r *http.Request) {
	if s.deps.Fleet == nil || s.deps.Fleet.Feed == nil {
		writeError(w, http.StatusServiceUnavailable, "scanner not running")
		return
	}
	var req locationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := s.vld.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, "invalid "+verrs[0].Field()+": failed "+verrs[0].Tag())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	loc := geo.Location{Lat: *req.Lat, Lng: *req.Lng}
	s.deps.Fleet.Feed.Push(loc)
	s.log.Info("location pushed", logx.Coord("center", loc.Lat, loc.Lng), logx.String("remote", r.RemoteAddr))
	writeJSON(w, http.StatusAccepted, loc)
}

func (s *Service) handlePause(paused bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Fleet == nil || s.deps.Fleet.Pause == nil {
			writeError(w, http.StatusServiceUnavailable, "scanner not running")
			return
		}
		s.deps.Fleet.Pause.Set(paused)
		s.log.Info("pause flag set", logx.Bool("paused", paused), logx.String("remote", r.RemoteAddr))
		writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
	}
}

// handleEvents streams bus events as JSON text frames until the client
// goes away. A slow client misses events rather than stalling the bus.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionDisabled,
	})
	if err != nil {
		s.log.Warn("websocket upgrade failed", logx.Err(err))
		return
	}
	defer c.Close(websocket.StatusInternalError, "")

	events, unsub := s.deps.Bus.Subscribe(64)
	defer unsub()

	// Nothing is expected from the client; CloseRead handles pings and close.
	ctx := c.CloseRead(r.Context())
	s.log.Debug("event stream opened", logx.String("remote", r.RemoteAddr))

	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-events:
			if !ok {
				c.Close(websocket.StatusGoingAway, "bus closed")
				return
			}
			if err := writeEvent(ctx, c, ev); err != nil {
				s.log.Debug("event stream closed", logx.Err(err))
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, c *websocket.Conn, ev eventbus.Event) error {
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(wctx, c, ev)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
