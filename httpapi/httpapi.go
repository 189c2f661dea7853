// Package httpapi exposes an I/O controller to operators over HTTP.
//
//	GET  /stats            server load statistics
//	GET  /classes          registered classes of service
//	POST /fp/{cluster}     post a command line into a cluster's FP mailbox
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"noc-rpc/cluster"
	"noc-rpc/registry"
	"noc-rpc/server"
	"noc-rpc/service/fp"
)

// Server is the part of *server.Server the API reads.
type Server interface {
	LoadStat() server.LoadStat
	Registry() *registry.Registry
}

// Mailbox receives posted command lines. *fp.Mailbox implements it.
type Mailbox interface {
	Post(id cluster.ID, cmd []byte) error
}

type api struct {
	svr Server
	mb  Mailbox
}

// Class describes a class of service in /classes.
type Class struct {
	ID       uint8    `json:"id"`
	Name     string   `json:"name"`
	Version  uint16   `json:"version"`
	Subtypes []string `json:"subtypes"`
}

// Stats is the /stats document.
type Stats struct {
	server.LoadStat
	ItemsPerPoll float64 `json:"itemsPerPoll"`
}

// New creates the router. mb may be nil, then /fp answers 404.
func New(svr Server, mb Mailbox) http.Handler {
	a := &api{svr: svr, mb: mb}
	r := mux.NewRouter()
	r.HandleFunc("/stats", a.stats).Methods(http.MethodGet)
	r.HandleFunc("/classes", a.classes).Methods(http.MethodGet)
	if mb != nil {
		r.HandleFunc("/fp/{cluster:[0-9]+}", a.post).Methods(http.MethodPost)
	}
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("write response", zap.Error(err))
	}
}

func (a *api) stats(w http.ResponseWriter, _ *http.Request) {
	st := a.svr.LoadStat()
	writeJSON(w, Stats{LoadStat: st, ItemsPerPoll: st.ItemsPerPoll()})
}

func (a *api) classes(w http.ResponseWriter, _ *http.Request) {
	list := []Class{}
	for _, e := range a.svr.Registry().Entries() {
		list = append(list, Class{
			ID:       uint8(e.Class),
			Name:     e.Name,
			Version:  e.Class.Version(),
			Subtypes: e.Subtypes,
		})
	}
	writeJSON(w, list)
}

func (a *api) post(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["cluster"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, fp.MaxCommand+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) >= fp.MaxCommand {
		http.Error(w, "command line too long", http.StatusRequestEntityTooLarge)
		return
	}

	switch err := a.mb.Post(cluster.ID(id), body); {
	case errors.Is(err, fp.ErrInvalidCluster):
		http.Error(w, err.Error(), http.StatusNotFound)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}
