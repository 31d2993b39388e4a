// Package api exposes the camera session over HTTP
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/warpcomdev/ts413camera/internal/driver/camera"
	"github.com/warpcomdev/ts413camera/internal/driver/events"
	"github.com/warpcomdev/ts413camera/internal/driver/export"
	"github.com/warpcomdev/ts413camera/internal/driver/frame"
	"github.com/warpcomdev/ts413camera/internal/driver/servicelog"
)

// Session is the camera control surface served by the API
type Session interface {
	Connect() error
	Disconnect() error
	Connected() bool
	State() camera.CameraState
	ImageReady() bool
	Arm(duration float64, light bool) error
	Snapshot() (camera.FrameInfo, *frame.Matrix, error)
	LastFrame() (camera.FrameInfo, error)
	Gain() (uint16, error)
	SetGain(gain int) error
	NumX() int
	SetNumX(int)
	NumY() int
	SetNumY(int)
	StartX() int
	SetStartX(int)
	StartY() int
	SetStartY(int)
}

// Notifier queues signals for the session
type Notifier interface {
	Notify(events.Signal)
}

type handler struct {
	logger   servicelog.Logger
	session  Session
	notifier Notifier
}

// New router serving the session
func New(logger servicelog.Logger, session Session, notifier Notifier) chi.Router {
	h := handler{logger: logger, session: session, notifier: notifier}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/info", h.info)
	r.Get("/state", h.state)
	r.Post("/connect", h.connect)
	r.Post("/disconnect", h.disconnect)
	r.Post("/exposure", h.exposure)
	r.Get("/imageready", h.imageReady)
	r.Get("/image", h.image)
	r.Get("/lastexposure", h.lastExposure)
	r.Get("/gain", h.gain)
	r.Post("/gain", h.setGain)
	r.Get("/subframe", h.subframe)
	r.Post("/subframe", h.setSubframe)
	r.Post("/signal/{name}", h.signal)
	r.Get("/signal", h.signalStats)
	return r
}

// statusFor maps session errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, camera.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, camera.ErrNotConnected), errors.Is(err, camera.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, camera.ErrNotReady):
		return http.StatusTooEarly
	}
	return http.StatusInternalServerError
}

func (h handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", servicelog.String("path", r.URL.Path), servicelog.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

type stateResponse struct {
	Connected  bool               `json:"connected"`
	State      camera.CameraState `json:"state"`
	ImageReady bool               `json:"imageReady"`
}

func (h handler) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, camera.Capabilities())
}

func (h handler) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, stateResponse{
		Connected:  h.session.Connected(),
		State:      h.session.State(),
		ImageReady: h.session.ImageReady(),
	})
}

func (h handler) connect(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Connect(); err != nil {
		h.fail(w, r, err)
		return
	}
	h.state(w, r)
}

func (h handler) disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Disconnect(); err != nil {
		h.fail(w, r, err)
		return
	}
	h.state(w, r)
}

type exposureRequest struct {
	Duration *float64 `json:"duration"`
	Light    *bool    `json:"light"`
}

func (h handler) exposure(w http.ResponseWriter, r *http.Request) {
	var req exposureRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Duration == nil {
		http.Error(w, "duration is required", http.StatusBadRequest)
		return
	}
	light := true
	if req.Light != nil {
		light = *req.Light
	}
	if err := h.session.Arm(*req.Duration, light); err != nil {
		h.fail(w, r, err)
		return
	}
	h.state(w, r)
}

func (h handler) imageReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]bool{"bool": h.session.ImageReady()})
}

type imageResponse struct {
	Info  camera.FrameInfo `json:"info"`
	Image [][]int32        `json:"image"`
}

// image encodes a copy of the published frame, so the session lock is
// not held while encoding
func (h handler) image(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("fmt")
	if format == "" {
		format = "fits"
	}
	if format != "fits" && format != "png" && format != "json" {
		h.fail(w, r, &camera.InvalidValueError{Name: "fmt", Value: format})
		return
	}
	info, m, err := h.session.Snapshot()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var (
		buf         bytes.Buffer
		contentType string
	)
	switch format {
	case "fits":
		contentType = "image/fits"
		err = export.WriteFITS(&buf, m, export.Header(info))
	case "png":
		contentType = "image/png"
		err = export.WritePNG(&buf, m)
	case "json":
		contentType = "application/json"
		err = json.NewEncoder(&buf).Encode(imageResponse{Info: info, Image: m.ImageArray()})
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if format == "fits" {
		w.Header().Set("Content-Disposition", "attachment; filename="+info.ID.String()+".fits")
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

type lastExposureResponse struct {
	ID        string  `json:"id"`
	Duration  float64 `json:"duration"`
	StartTime string  `json:"startTime"`
	Light     bool    `json:"light"`
	Gain      uint16  `json:"gain"`
}

func (h handler) lastExposure(w http.ResponseWriter, r *http.Request) {
	last, err := h.session.LastFrame()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, lastExposureResponse{
		ID:        last.ID.String(),
		Duration:  last.Duration,
		StartTime: last.Start.UTC().Format(camera.StartTimeLayout),
		Light:     last.Light,
		Gain:      last.Gain,
	})
}

type intValue struct {
	Int *int `json:"int"`
}

func (h handler) gain(w http.ResponseWriter, r *http.Request) {
	gain, err := h.session.Gain()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]int{"int": int(gain)})
}

func (h handler) setGain(w http.ResponseWriter, r *http.Request) {
	var req intValue
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Int == nil {
		http.Error(w, "int is required", http.StatusBadRequest)
		return
	}
	if err := h.session.SetGain(*req.Int); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type subframe struct {
	NumX   *int `json:"numX,omitempty"`
	NumY   *int `json:"numY,omitempty"`
	StartX *int `json:"startX,omitempty"`
	StartY *int `json:"startY,omitempty"`
}

func (h handler) subframe(w http.ResponseWriter, r *http.Request) {
	numX, numY, startX, startY := h.session.NumX(), h.session.NumY(), h.session.StartX(), h.session.StartY()
	writeJSON(w, subframe{NumX: &numX, NumY: &numY, StartX: &startX, StartY: &startY})
}

// setSubframe only updates the fields present in the request
func (h handler) setSubframe(w http.ResponseWriter, r *http.Request) {
	var req subframe
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.NumX != nil {
		h.session.SetNumX(*req.NumX)
	}
	if req.NumY != nil {
		h.session.SetNumY(*req.NumY)
	}
	if req.StartX != nil {
		h.session.SetStartX(*req.StartX)
	}
	if req.StartY != nil {
		h.session.SetStartY(*req.StartY)
	}
	h.subframe(w, r)
}

func (h handler) signal(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	sig, ok := events.ParseSignal(name)
	if !ok {
		http.Error(w, "unknown signal "+name, http.StatusNotFound)
		return
	}
	h.notifier.Notify(sig)
	w.WriteHeader(http.StatusAccepted)
}

func (h handler) signalStats(w http.ResponseWriter, r *http.Request) {
	stats, ok := h.notifier.(interface{ Stats() events.Stats })
	if !ok {
		http.Error(w, "signal stats not available", http.StatusNotFound)
		return
	}
	writeJSON(w, stats.Stats())
}
