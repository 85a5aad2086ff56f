package main

import (
	_ "embed"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/caarlos0/homekit-eldes/control"
	"github.com/caarlos0/homekit-eldes/coordinator"
)

//go:embed index.html
var index string

var indexTpl = template.Must(template.New("index").Parse(index))

type PageItem struct {
	ID        string
	Kind      string
	Name      string
	Value     string
	Available bool
}

type Page struct {
	Version     string
	LastRefresh string
	Error       string
	Failures    int
	Unavailable bool
	NeedsReauth bool
	Partitions  []PageItem
	Outputs     []PageItem
	Sensors     []PageItem
}

func newPage(registry *control.Registry, snap coordinator.Snapshot, st coordinator.Status) Page {
	page := Page{
		Version:     version,
		Failures:    st.ConsecutiveFailures,
		Unavailable: st.Unavailable,
		NeedsReauth: st.NeedsReauth,
	}
	if !st.LastRefresh.IsZero() {
		page.LastRefresh = st.LastRefresh.Format(time.RFC1123)
	}
	if st.LastError != nil {
		page.Error = st.LastError.Error()
	}
	for _, e := range registry.Entities() {
		state := e.Render(snap)
		item := PageItem{
			ID:        e.UniqueID(),
			Kind:      e.Kind().String(),
			Name:      e.Name(snap),
			Value:     fmt.Sprint(state.Value),
			Available: state.Available,
		}
		if state.Unit != "" {
			item.Value += " " + state.Unit
		}
		switch e.Kind() {
		case control.KindPartition:
			page.Partitions = append(page.Partitions, item)
		case control.KindOutput:
			page.Outputs = append(page.Outputs, item)
		default:
			page.Sensors = append(page.Sensors, item)
		}
	}
	return page
}

func statusHandler(registry *control.Registry, c *coordinator.Coordinator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		page := newPage(registry, c.Snapshot(), c.Status())
		if err := indexTpl.Execute(w, page); err != nil {
			log.Error("could not render status page", "err", err)
		}
	})
}
