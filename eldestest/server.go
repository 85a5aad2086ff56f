// Package eldestest provides an in-memory Eldes cloud API for tests.
package eldestest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	eldes "github.com/caarlos0/homekit-eldes"
)

const (
	Username = "user@example.com"
	Password = "s3cr3t"
)

// Route keys are the method and the path relative to the API root, e.g.
// "POST auth/login" or "PUT device/control/enable/123/7".
const (
	RouteLogin      = "POST auth/login"
	RouteRenew      = "GET auth/token"
	RouteDevices    = "GET device/list"
	RouteInfo       = "GET device/info"
	RoutePartitions = "POST device/partition/list"
	RouteTemps      = "POST device/temperatures"
	RouteEvents     = "POST device/event/list"
)

// RouteOutputs is the output list route for a device.
func RouteOutputs(imei string) string {
	return "POST device/list-outputs/" + imei
}

// RouteAction is the set alarm route for a mode.
func RouteAction(mode eldes.AlarmMode) string {
	return "POST device/action/" + string(mode)
}

// RouteOutput is the output control route.
func RouteOutput(imei string, id int, enable bool) string {
	action := "disable"
	if enable {
		action = "enable"
	}
	return fmt.Sprintf("PUT device/control/%s/%s/%d", action, imei, id)
}

// Server is a fake Eldes cloud. Devices are kept in memory and commands
// change them the way the real service does.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	devices  []*eldes.Device
	names    map[string]string
	access   map[string]bool
	refresh  map[string]bool
	issued   int
	calls    map[string]int
	failures map[string][]int
	delays   map[string]time.Duration
}

// NewServer starts a fake cloud that is closed when the test ends.
func NewServer(tb testing.TB) *Server {
	tb.Helper()
	s := &Server{
		names:    map[string]string{},
		access:   map[string]bool{},
		refresh:  map[string]bool{},
		calls:    map[string]int{},
		failures: map[string][]int{},
		delays:   map[string]time.Duration{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	tb.Cleanup(s.Close)
	return s
}

// BaseURL is the API root to pass to eldes.WithBaseURL.
func (s *Server) BaseURL() string {
	return s.URL + "/api/"
}

// AddDevice registers a device on the account.
func (s *Server) AddDevice(name string, dev eldes.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := dev.Clone()
	s.devices = append(s.devices, &d)
	s.names[dev.IMEI] = name
}

// Update changes a device in place, as if something happened on the panel.
func (s *Server) Update(imei string, fn func(d *eldes.Device)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.device(imei); d != nil {
		fn(d)
	}
}

// Device returns a copy of the stored device, or nil if it is unknown.
func (s *Server) Device(imei string) *eldes.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.device(imei); d != nil {
		dev := d.Clone()
		return &dev
	}
	return nil
}

// FailNext makes the next requests to route answer with the given statuses,
// one per request, before any authentication check.
func (s *Server) FailNext(route string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = append(s.failures[route], statuses...)
}

// Delay makes every request to route wait d before answering.
func (s *Server) Delay(route string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[route] = d
}

// Calls returns how many requests route received.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// ExpireTokens invalidates every access token issued so far.
func (s *Server) ExpireTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = map[string]bool{}
}

// RevokeRefreshTokens invalidates every refresh token issued so far.
func (s *Server) RevokeRefreshTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = map[string]bool{}
}

func (s *Server) device(imei string) *eldes.Device {
	for _, d := range s.devices {
		if d.IMEI == imei {
			return d
		}
	}
	return nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	route := r.Method + " " + strings.TrimPrefix(r.URL.Path, "/api/")

	s.mu.Lock()
	s.calls[route]++
	delay := s.delays[route]
	var status int
	if q := s.failures[route]; len(q) > 0 {
		status, s.failures[route] = q[0], q[1:]
	}
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if r.Header.Get("x-whitelable") != "eldes" {
		http.Error(w, "missing whitelabel header", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	switch route {
	case RouteLogin:
		s.login(w, r)
		return
	case RouteRenew:
		if !s.refresh[token] {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.issued++
		access := fmt.Sprintf("access-%d", s.issued)
		s.access[access] = true
		writeJSON(w, map[string]string{"token": access})
		return
	}

	if !s.access[token] {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	imei := r.URL.Query().Get("imei")
	switch {
	case route == RouteDevices:
		var entries []map[string]string
		for _, d := range s.devices {
			entries = append(entries, map[string]string{
				"imei":  d.IMEI,
				"name":  s.names[d.IMEI],
				"model": d.Info.Model,
			})
		}
		writeJSON(w, map[string]any{"deviceListEntries": entries})
	case route == RouteInfo:
		s.withDevice(w, imei, func(d *eldes.Device) { writeJSON(w, d.Info) })
	case route == RoutePartitions:
		s.withDevice(w, imei, func(d *eldes.Device) {
			writeJSON(w, map[string]any{"partitions": wirePartitions(d.Partitions)})
		})
	case route == RouteTemps:
		s.withDevice(w, imei, func(d *eldes.Device) {
			writeJSON(w, map[string]any{"temperatureDetailsList": d.Temperatures})
		})
	case route == RouteEvents:
		s.events(w, r)
	case strings.HasPrefix(route, "POST device/list-outputs/"):
		imei := strings.TrimPrefix(route, "POST device/list-outputs/")
		s.withDevice(w, imei, func(d *eldes.Device) {
			writeJSON(w, map[string]any{"deviceOutputs": wireOutputs(d.Outputs)})
		})
	case strings.HasPrefix(route, "POST device/action/"):
		s.action(w, r, eldes.AlarmMode(strings.TrimPrefix(route, "POST device/action/")))
	case strings.HasPrefix(route, "PUT device/control/"):
		s.control(w, strings.Split(strings.TrimPrefix(route, "PUT device/control/"), "/"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email        string  `json:"email"`
		Password     string  `json:"password"`
		HostDeviceID *string `json:"hostDeviceId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.HostDeviceID == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.Email != Username || req.Password != Password {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	s.issued++
	access := fmt.Sprintf("access-%d", s.issued)
	refresh := fmt.Sprintf("refresh-%d", s.issued)
	s.access[access] = true
	s.refresh[refresh] = true
	writeJSON(w, map[string]string{"token": access, "refreshToken": refresh})
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Size  int `json:"size"`
		Start int `json:"start"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var events []map[string]any
	for _, d := range s.devices {
		for _, e := range d.Events {
			if len(events) == req.Size {
				break
			}
			events = append(events, map[string]any{
				"type":       e.Type.String(),
				"message":    e.Message,
				"deviceTime": e.DeviceTime,
			})
		}
	}
	writeJSON(w, map[string]any{"eventDetails": events})
}

func (s *Server) action(w http.ResponseWriter, r *http.Request, mode eldes.AlarmMode) {
	var req struct {
		IMEI      string `json:"imei"`
		Partition int    `json:"partitionIndex"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.withDevice(w, req.IMEI, func(d *eldes.Device) {
		// partitionIndex is the position in the list, not internalId
		if req.Partition < 0 || req.Partition >= len(d.Partitions) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		p := &d.Partitions[req.Partition]
		switch mode {
		case eldes.ModeDisarm:
			p.State, p.Armed, p.ArmStay = eldes.StateDisarmed, false, false
		case eldes.ModeArm:
			p.State, p.Armed, p.ArmStay = eldes.StateArmedAway, true, false
		case eldes.ModeArmStay:
			p.State, p.Armed, p.ArmStay = eldes.StateArmedHome, true, true
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("OK"))
	})
}

func (s *Server) control(w http.ResponseWriter, parts []string) {
	if len(parts) != 3 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id, err := strconv.Atoi(parts[2])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.withDevice(w, parts[1], func(d *eldes.Device) {
		o := d.Output(id)
		if o == nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		o.State = parts[0] == "enable"
		writeJSON(w, map[string]any{})
	})
}

func (s *Server) withDevice(w http.ResponseWriter, imei string, fn func(d *eldes.Device)) {
	d := s.device(imei)
	if d == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	fn(d)
}

func wirePartitions(parts []eldes.Partition) []map[string]any {
	states := map[eldes.PartitionState]string{
		eldes.StateDisarmed:  "DISARMED",
		eldes.StateArmedAway: "ARMED",
		eldes.StateArmedHome: "ARMSTAY",
	}
	result := []map[string]any{}
	for _, p := range parts {
		result = append(result, map[string]any{
			"internalId":                   p.ID,
			"name":                         p.Name,
			"state":                        states[p.State],
			"armed":                        p.Armed,
			"armStay":                      p.ArmStay,
			"hasUnacceptedPartitionAlarms": p.HasUnacceptedPartitionAlarms,
		})
	}
	return result
}

func wireOutputs(outputs []eldes.Output) []map[string]any {
	icons := map[eldes.OutputIcon]string{
		eldes.IconFan:           "ICON_0",
		eldes.IconLightningBolt: "ICON_1",
		eldes.IconPowerSocket:   "ICON_2",
		eldes.IconPowerPlug:     "ICON_3",
	}
	result := []map[string]any{}
	for _, o := range outputs {
		result = append(result, map[string]any{
			"id":          o.ID,
			"name":        o.Name,
			"type":        o.Type,
			"outputState": o.State,
			"hasFault":    o.HasFault,
			"iconName":    icons[o.Icon],
		})
	}
	return result
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
