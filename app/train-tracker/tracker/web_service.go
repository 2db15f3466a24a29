// Package tracker hosts the train tracking service: the HTTP query
// surface over the fusion engine and the background loops that publish
// views and learn platform habits.
package tracker

import (
	"context"
	"encoding/json"
	logger "log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cercatrack/railfusion/business/data/static"
	"github.com/cercatrack/railfusion/business/fusion"
	"github.com/cercatrack/railfusion/business/realtime/tripupdates"
	"github.com/cercatrack/railfusion/business/realtime/vehicles"
	"github.com/gorilla/mux"
)

// defaultHttpHandler simple default http handler for default route
type defaultHttpHandler struct {
}

// ServeHTTP implements defaultHttpHandler http.Handler interface
func (h *defaultHttpHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Add("Application-Status", "OK")
}

// webService holds what the query handlers need.
type webService struct {
	log      *logger.Logger
	repo     *static.Repository
	engine   *fusion.Engine
	vehicles *vehicles.Cache
	updates  *tripupdates.Cache
}

func (s *webService) writeJSON(w http.ResponseWriter, payload interface{}) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		s.log.Printf("error marshaling response: %v", err)
		http.Error(w, "Error serving request", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(jsonData); err != nil {
		s.log.Printf("error writing json response: %v", err)
	}
}

// handleNuclei lists the known nuclei.
func (s *webService) handleNuclei(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.repo.ListNuclei())
}

// handleRoutes lists the routes of one nucleus.
func (s *webService) handleRoutes(w http.ResponseWriter, r *http.Request) {
	nucleus := mux.Vars(r)["nucleus"]
	if _, present := s.repo.NucleusFor(nucleus); !present {
		http.Error(w, "unknown nucleus", http.StatusNotFound)
		return
	}
	s.writeJSON(w, s.repo.RoutesByNucleus(nucleus))
}

// handleTrains lists the live trains in a nucleus, optionally filtered
// by route.
func (s *webService) handleTrains(w http.ResponseWriter, r *http.Request) {
	nucleus := mux.Vars(r)["nucleus"]
	routeID := r.FormValue("route_id")
	var observations []*vehicles.Observation
	if routeID != "" {
		observations = s.vehicles.GetByNucleusAndRoute(nucleus, routeID)
	} else {
		observations = s.vehicles.GetByNucleus(nucleus)
	}
	s.writeJSON(w, observations)
}

// handleTrainDetail resolves one train by id or number into its view
// model.
func (s *webService) handleTrainDetail(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	vm, err := s.engine.BuildTrainDetailVM(vars["nucleus"], vars["identifier"], time.Now().Unix())
	if err != nil {
		http.Error(w, "train not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, vm)
}

// handleTrainArrivals flattens the train's view into per-stop arrival
// times.
func (s *webService) handleTrainArrivals(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	vm, err := s.engine.BuildTrainDetailVM(vars["nucleus"], vars["identifier"], time.Now().Unix())
	if err != nil {
		http.Error(w, "train not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, s.engine.RTArrivalTimesFromVM(vm))
}

// handleNextAtStop answers "next services at this stop".
func (s *webService) handleNextAtStop(w http.ResponseWriter, r *http.Request) {
	stopID := mux.Vars(r)["stopID"]
	routeID := r.FormValue("route_id")
	directionID := r.FormValue("direction_id")
	limit, _ := strconv.Atoi(r.FormValue("limit"))
	allowNextDay := strings.ToLower(r.FormValue("next_day")) == "true"

	results, err := s.engine.NearestPredictionsForStop(routeID, directionID, stopID, limit, allowNextDay, time.Now().Unix())
	if err != nil {
		s.log.Printf("error computing predictions for stop %s: %v", stopID, err)
		http.Error(w, "Error serving request", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, results)
}

// cacheStatus is the debug snapshot of the realtime layer.
type cacheStatus struct {
	Now                     int64 `json:"now"`
	Vehicles                int   `json:"vehicles"`
	VehiclesLastSnapshotTs  int64 `json:"vehicles_last_snapshot_ts"`
	VehiclesStale           bool  `json:"vehicles_stale"`
	VehiclesErrorsStreak    int64 `json:"vehicles_errors_streak"`
	TripUpdates             int   `json:"trip_updates"`
	TripUpdatesLastSnapshot int64 `json:"trip_updates_last_snapshot_ts"`
	TripUpdatesErrorsStreak int64 `json:"trip_updates_errors_streak"`
}

// handleDebugStatus exposes cache freshness and poll error streaks.
func (s *webService) handleDebugStatus(w http.ResponseWriter, _ *http.Request) {
	now := time.Now().Unix()
	s.writeJSON(w, cacheStatus{
		Now:                     now,
		Vehicles:                len(s.vehicles.ListSorted()),
		VehiclesLastSnapshotTs:  s.vehicles.LastSnapshotTs(),
		VehiclesStale:           s.vehicles.IsStale(now),
		VehiclesErrorsStreak:    s.vehicles.ErrorsStreak(),
		TripUpdates:             s.updates.Size(),
		TripUpdatesLastSnapshot: s.updates.LastSnapshotTs(),
		TripUpdatesErrorsStreak: s.updates.ErrorsStreak(),
	})
}

// createServer creates the configured http.Server for the tracker api.
func createServer(log *logger.Logger, repo *static.Repository, engine *fusion.Engine,
	vehicleCache *vehicles.Cache, updateCache *tripupdates.Cache, httpPort int) *http.Server {

	service := &webService{
		log:      log,
		repo:     repo,
		engine:   engine,
		vehicles: vehicleCache,
		updates:  updateCache,
	}

	r := mux.NewRouter()
	r.Handle("/", &defaultHttpHandler{})
	r.HandleFunc("/nuclei", service.handleNuclei)
	r.HandleFunc("/nuclei/{nucleus}/routes", service.handleRoutes)
	r.HandleFunc("/nuclei/{nucleus}/trains", service.handleTrains)
	r.HandleFunc("/nuclei/{nucleus}/trains/{identifier}", service.handleTrainDetail)
	r.HandleFunc("/nuclei/{nucleus}/trains/{identifier}/arrivals", service.handleTrainArrivals)
	r.HandleFunc("/stops/{stopID}/next", service.handleNextAtStop)
	r.HandleFunc("/debug/status", service.handleDebugStatus)
	srv := &http.Server{
		Addr: strings.Join([]string{"0.0.0.0", strconv.Itoa(httpPort)}, ":"),
		// Good practice to set timeouts to avoid Slowloris attacks.
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      r,
	}
	return srv
}

// RunWebService starts the tracker api and terminates it on the
// shutdown signal.
func RunWebService(log *logger.Logger, wg *sync.WaitGroup, repo *static.Repository,
	engine *fusion.Engine, vehicleCache *vehicles.Cache, updateCache *tripupdates.Cache,
	httpPort int, shutdownSignal chan bool) {

	wg.Add(1)
	defer wg.Done()
	srv := createServer(log, repo, engine, vehicleCache, updateCache, httpPort)
	log.Printf("Starting server on port %d", httpPort)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Printf("server ListenAndServe ended. %s", err)
		}
	}()
	shutdownCtx, serverCancelFunc := context.WithTimeout(context.Background(), time.Duration(5)*time.Second)
	defer serverCancelFunc()

	<-shutdownSignal
	log.Printf("ending webservice on shutdown signal")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("error shutting down webservice, error:%s", err)
	}
}
