// Package service exposes distributed TruncatedSVD over HTTP.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/kpaschen/disttsvd/lib/auth"
	"github.com/kpaschen/disttsvd/lib/datatypes"
	"github.com/kpaschen/disttsvd/lib/decomposition"
	"github.com/kpaschen/disttsvd/lib/engine"
	"github.com/kpaschen/disttsvd/lib/ingest"
	"github.com/kpaschen/disttsvd/lib/reporter"
	"github.com/kpaschen/disttsvd/lib/settings"
	"github.com/kpaschen/disttsvd/lib/store"
)

const DEFAULT_MODEL = "default"

type TsvdService struct {
	Config   settings.TsvdSettings
	Client   engine.Engine
	Store    *store.Store
	Receiver *ingest.Receiver
	Reporter reporter.Reporter

	mu      sync.RWMutex
	current map[string]*decomposition.TruncatedSVD

	reportMu sync.Mutex
}

func NewTsvdService(config settings.TsvdSettings, client engine.Engine, s *store.Store) *TsvdService {
	acc := ingest.NewAccumulator(config.IngestWindow, time.Duration(config.SampleInterval)*time.Second)
	acc.Preprocessing = ingest.Preprocessing{
		Normalize:  config.IngestNormalize,
		PaaColumns: config.IngestPaaColumns,
	}
	return &TsvdService{
		Config:   config,
		Client:   client,
		Store:    s,
		Receiver: ingest.NewReceiver(acc),
		current:  make(map[string]*decomposition.TruncatedSVD),
	}
}

// Router wires the handlers. Fitting and ingesting need the fit scope,
// everything else the read scope.
func (s *TsvdService) Router(m *auth.Middleware) *mux.Router {
	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/fit", m.RequireScope(auth.SCOPE_FIT, s.Fit)).Methods("POST")
	router.HandleFunc("/fitTransform", m.RequireScope(auth.SCOPE_FIT, s.FitTransform)).Methods("POST")
	router.HandleFunc("/fitIngested", m.RequireScope(auth.SCOPE_FIT, s.FitIngested)).Methods("POST")
	router.HandleFunc("/api/v1/write", m.RequireScope(auth.SCOPE_FIT, s.Receiver.ReceivePrometheusData)).Methods("POST")
	router.HandleFunc("/transform", m.RequireScope(auth.SCOPE_READ, s.Transform)).Methods("POST")
	router.HandleFunc("/inverseTransform", m.RequireScope(auth.SCOPE_READ, s.InverseTransform)).Methods("POST")
	router.HandleFunc("/params", m.RequireScope(auth.SCOPE_READ, s.GetParams)).Methods("GET")
	router.HandleFunc("/model", m.RequireScope(auth.SCOPE_READ, s.GetModel)).Methods("GET")
	router.HandleFunc("/models", m.RequireScope(auth.SCOPE_READ, s.GetModels)).Methods("GET")
	return router
}

type fitRequest struct {
	Name       string          `json:"name"`
	Params     json.RawMessage `json:"params"`
	Rows       [][]float64     `json:"rows"`
	Partitions int             `json:"partitions"`
	Dtype      string          `json:"dtype"`
}

type transformRequest struct {
	Name       string      `json:"name"`
	Rows       [][]float64 `json:"rows"`
	Partitions int         `json:"partitions"`
	Dtype      string      `json:"dtype"`
}

type modelResponse struct {
	Name                   string      `json:"name"`
	Params                 []string    `json:"params"`
	Components             [][]float64 `json:"components"`
	SingularValues         []float64   `json:"singular_values"`
	ExplainedVariance      []float64   `json:"explained_variance"`
	ExplainedVarianceRatio []float64   `json:"explained_variance_ratio"`
}

type partitionResponse struct {
	Key  string      `json:"key"`
	Rows [][]float64 `json:"rows"`
}

type matrixResponse struct {
	Model      *modelResponse      `json:"model,omitempty"`
	Partitions []partitionResponse `json:"partitions"`
	Timeseries []ingest.TsId       `json:"timeseries,omitempty"`
}

// decodeParams keeps the order the keys appear in.
func decodeParams(raw json.RawMessage) (settings.Params, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil, nil
	}
	values := make(map[string]interface{})
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("params must be an object: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	order := make([]string, 0, len(values))
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v in params", tok)
		}
		order = append(order, key)
		var skip json.RawMessage
		if err = dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return settings.ParamsFromMap(values, order), nil
}

func decodeBody(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func (s *TsvdService) partitions(requested int) int {
	if requested > 0 {
		return requested
	}
	return s.Config.Partitions
}

func modelName(name string) string {
	if name == "" {
		return DEFAULT_MODEL
	}
	return name
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	var notFitted decomposition.NotFittedError
	var taskErr engine.TaskError
	switch {
	case errors.As(err, &notFitted), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &taskErr), errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

func toModelResponse(name string, t *decomposition.TruncatedSVD) (*modelResponse, error) {
	snap, err := t.Snapshot()
	if err != nil {
		return nil, err
	}
	return &modelResponse{
		Name:                   name,
		Params:                 t.GetParamNames(),
		Components:             snap.Components,
		SingularValues:         snap.SingularValues,
		ExplainedVariance:      snap.ExplainedVariance,
		ExplainedVarianceRatio: snap.ExplainedVarianceRatio,
	}, nil
}

func toPartitions(out *datatypes.DistributedMatrix) []partitionResponse {
	ret := make([]partitionResponse, len(out.Partitions))
	for i, p := range out.Partitions {
		r, _ := p.Rows.Dims()
		rows := make([][]float64, r)
		for j := 0; j < r; j++ {
			rows[j] = p.Rows.RawRowView(j)
		}
		ret[i] = partitionResponse{Key: p.Key, Rows: rows}
	}
	return ret
}

// fit creates a new estimator, fits it and makes it the current model under name.
func (s *TsvdService) fit(ctx context.Context, name string, params settings.Params, X *datatypes.DistributedMatrix) (*decomposition.TruncatedSVD, *datatypes.DistributedMatrix, error) {
	estimator, err := decomposition.NewTruncatedSVD(s.Client, params...)
	if err != nil {
		return nil, nil, err
	}
	out, err := estimator.FitTransform(ctx, X)
	if err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	s.current[name] = estimator
	s.mu.Unlock()

	snap, err := estimator.Snapshot()
	if err != nil {
		return nil, nil, err
	}
	if s.Store != nil {
		if err = s.Store.Save(name, snap); err != nil {
			log.Printf("failed to store model %s: %v\n", name, err)
		}
	}
	if s.Reporter != nil {
		if err = s.report(name, out, snap); err != nil {
			log.Printf("failed to report model %s: %v\n", name, err)
		}
	}
	return estimator, out, nil
}

func (s *TsvdService) report(name string, out *datatypes.DistributedMatrix, snap *decomposition.Snapshot) error {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()
	if err := s.Reporter.Initialize(name, time.Now()); err != nil {
		return err
	}
	if err := s.Reporter.AddTransformed(out); err != nil {
		return err
	}
	if err := s.Reporter.AddModel(snap); err != nil {
		return err
	}
	return s.Reporter.Flush()
}

// model returns the estimator for name, loading it from the store if it is not in memory.
func (s *TsvdService) model(name string) (*decomposition.TruncatedSVD, error) {
	s.mu.RLock()
	estimator, ok := s.current[name]
	s.mu.RUnlock()
	if ok {
		return estimator, nil
	}
	if s.Store == nil {
		return nil, decomposition.NotFittedError{Estimator: name}
	}
	snap, err := s.Store.Load(name)
	if err != nil {
		return nil, err
	}
	estimator, err = decomposition.Restore(s.Client, snap)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.current[name] = estimator
	s.mu.Unlock()
	return estimator, nil
}

func (s *TsvdService) handleFit(w http.ResponseWriter, r *http.Request, withOutput bool) {
	var req fitRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	params, err := decodeParams(req.Params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	X, err := datatypes.FromRows(req.Rows, s.partitions(req.Partitions), req.Dtype)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	name := modelName(req.Name)
	estimator, out, err := s.fit(r.Context(), name, params, X)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	model, err := toModelResponse(name, estimator)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	ret := matrixResponse{Model: model}
	if withOutput {
		ret.Partitions = toPartitions(out)
	}
	writeJSON(w, ret)
}

func (s *TsvdService) Fit(w http.ResponseWriter, r *http.Request) {
	s.handleFit(w, r, false)
}

func (s *TsvdService) FitTransform(w http.ResponseWriter, r *http.Request) {
	s.handleFit(w, r, true)
}

// FitIngested fits on the timeseries received through remote write.
func (s *TsvdService) FitIngested(w http.ResponseWriter, r *http.Request) {
	var req fitRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	params, err := decodeParams(req.Params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	X, tsids, err := s.Receiver.Accumulator.Snapshot(s.partitions(req.Partitions), req.Dtype)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	name := modelName(req.Name)
	estimator, out, err := s.fit(r.Context(), name, params, X)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	model, err := toModelResponse(name, estimator)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, matrixResponse{Model: model, Partitions: toPartitions(out), Timeseries: tsids})
}

func (s *TsvdService) handleTransform(w http.ResponseWriter, r *http.Request, inverse bool) {
	var req transformRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	estimator, err := s.model(modelName(req.Name))
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	X, err := datatypes.FromRows(req.Rows, s.partitions(req.Partitions), req.Dtype)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var out *datatypes.DistributedMatrix
	if inverse {
		out, err = estimator.InverseTransform(r.Context(), X)
	} else {
		out, err = estimator.Transform(r.Context(), X)
	}
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, matrixResponse{Partitions: toPartitions(out)})
}

func (s *TsvdService) Transform(w http.ResponseWriter, r *http.Request) {
	s.handleTransform(w, r, false)
}

func (s *TsvdService) InverseTransform(w http.ResponseWriter, r *http.Request) {
	s.handleTransform(w, r, true)
}

func (s *TsvdService) GetParams(w http.ResponseWriter, r *http.Request) {
	estimator, err := s.model(modelName(r.URL.Query().Get("name")))
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, map[string]interface{}{
		"names":    estimator.GetParamNames(),
		"settings": estimator.Settings(),
	})
}

func (s *TsvdService) GetModel(w http.ResponseWriter, r *http.Request) {
	name := modelName(r.URL.Query().Get("name"))
	estimator, err := s.model(name)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	model, err := toModelResponse(name, estimator)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, model)
}

func (s *TsvdService) GetModels(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		s.mu.RLock()
		names := make([]store.ModelInfo, 0, len(s.current))
		for name := range s.current {
			names = append(names, store.ModelInfo{Name: name})
		}
		s.mu.RUnlock()
		writeJSON(w, names)
		return
	}
	infos, err := s.Store.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, infos)
}
