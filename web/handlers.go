package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/elijahnyp/home_bridge/runner"
	"github.com/elijahnyp/home_bridge/state"
	"github.com/elijahnyp/home_bridge/util"
	"github.com/gorilla/mux"
)

const switchTimeout = 60 * time.Second

// EntityView is the JSON form of an entity.
type EntityView struct {
	EntityID       string    `json:"entity_id"`
	Name           string    `json:"name"`
	Platform       string    `json:"platform"`
	State          string    `json:"state"`
	Icon           string    `json:"icon,omitempty"`
	Unit           string    `json:"unit,omitempty"`
	DeviceClass    string    `json:"device_class,omitempty"`
	EntityCategory string    `json:"entity_category,omitempty"`
	AssumedState   bool      `json:"assumed_state"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func NewEntityView(e state.Entity, snap state.Snapshot) EntityView {
	info := e.Info()
	icon := snap.Icon
	if icon == "" {
		icon = info.Icon
	}
	return EntityView{
		EntityID:       info.EntityID(),
		Name:           info.Name,
		Platform:       info.Platform,
		State:          snap.State,
		Icon:           icon,
		Unit:           info.Unit,
		DeviceClass:    info.DeviceClass,
		EntityCategory: info.EntityCategory,
		AssumedState:   info.AssumedState,
		UpdatedAt:      snap.UpdatedAt,
	}
}

func viewOf(registry *state.Registry, e state.Entity) EntityView {
	snap, ok := registry.Published(e.Info().EntityID())
	if !ok {
		snap = e.Snapshot()
	}
	return NewEntityView(e, snap)
}

// EntityViews lists the registry in entity id order.
func EntityViews(registry *state.Registry) []EntityView {
	entities := registry.All()
	views := make([]EntityView, 0, len(entities))
	for _, e := range entities {
		views = append(views, viewOf(registry, e))
	}
	return views
}

// SystemStatus represents the overall system status
type SystemStatus struct {
	Version       string    `json:"version"`
	Started       time.Time `json:"started"`
	Entities      int       `json:"entities"`
	Switches      int       `json:"switches"`
	Sensors       int       `json:"sensors"`
	Unavailable   int       `json:"unavailable"`
	MQTTConnected bool      `json:"mqtt_connected"`
	WSClients     int       `json:"ws_clients"`
}

// API serves the registry over HTTP.
type API struct {
	Registry *state.Registry
	Executor runner.Executor
	Hub      *WSHub
	Version  string
	started  time.Time
}

func NewAPI(registry *state.Registry, executor runner.Executor, hub *WSHub, version string) *API {
	return &API{
		Registry: registry,
		Executor: executor,
		Hub:      hub,
		Version:  version,
		started:  time.Now(),
	}
}

// Register adds the API routes to the monitor server.
func (a *API) Register(s *util.MonitorServer) {
	s.AddHandler("/api/status", a.Status, http.MethodGet)
	s.AddHandler("/api/entities", a.Entities, http.MethodGet)
	s.AddHandler("/api/entities/{entity_id}", a.Entity, http.MethodGet)
	s.AddHandler("/api/switch/{object_id}/{action:on|off}", a.Switch, http.MethodPost)
	if a.Hub != nil {
		s.AddHandler("/ws", a.Hub.ServeWebSocket(a.Registry))
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		util.Logger.Error().Err(err).Msg("Error encoding response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// Status returns the overall system status as JSON
func (a *API) Status(w http.ResponseWriter, r *http.Request) {
	status := SystemStatus{
		Version:       a.Version,
		Started:       a.started,
		MQTTConnected: util.Client != nil && util.Client.IsConnected(),
	}
	for _, view := range EntityViews(a.Registry) {
		status.Entities++
		switch view.Platform {
		case state.PlatformSwitch:
			status.Switches++
		case state.PlatformSensor:
			status.Sensors++
		}
		if view.State == state.Unavailable {
			status.Unavailable++
		}
	}
	if a.Hub != nil {
		status.WSClients = a.Hub.Clients()
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) Entities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, EntityViews(a.Registry))
}

func (a *API) Entity(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["entity_id"]
	e, ok := a.Registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no entity "+id)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(a.Registry, e))
}

// Switch turns a switch on or off and returns its resulting state.
func (a *API) Switch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := state.PlatformSwitch + "." + vars["object_id"]
	e, ok := a.Registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no entity "+id)
		return
	}
	if _, ok := e.(state.Switchable); !ok {
		writeError(w, http.StatusBadRequest, id+" is not a switch")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), switchTimeout)
	defer cancel()
	on := vars["action"] == "on"
	err, submitErr := runner.Submit(ctx, a.Executor, func(ctx context.Context) error {
		return a.Registry.Toggle(ctx, id, on)
	})
	if submitErr != nil {
		writeError(w, http.StatusServiceUnavailable, submitErr.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(a.Registry, e))
}
