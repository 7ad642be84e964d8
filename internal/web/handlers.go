package web

import (
	"encoding/json"
	"errors"
	"image/jpeg"
	"net/http"
	"strconv"

	"github.com/coreimaging/stereocam/internal/logic/preview"
	"github.com/coreimaging/stereocam/internal/logic/stereo"
	"github.com/coreimaging/stereocam/internal/logic/workflow"
	"github.com/coreimaging/stereocam/internal/storage"
)

// MetadataInput is the operator metadata form. Depths arrive as raw text;
// the workflow validates and parses them.
type MetadataInput struct {
	Project   string `json:"project"`
	Borehole  string `json:"borehole"`
	DepthFrom string `json:"depth_from"`
	DepthTo   string `json:"depth_to"`
}

// Handlers holds dependencies for the HTTP presentation layer.
// All invariants live in the workflow, stereo and storage packages; the
// handlers only translate requests into operator events and results into
// JSON.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Flow        *workflow.Controller
	Camera      *stereo.Controller
	Mailbox     *preview.Mailbox
	Poller      *preview.Poller
	Store       *storage.Manager
}

// HandleMetadata handles POST /metadata: validate and confirm the session.
func (h *Handlers) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	var in MetadataInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if err := h.Flow.ConfirmMetadata(in.Project, in.Borehole, in.DepthFrom, in.DepthTo); err != nil {
		var verr *workflow.ValidationError
		if errors.As(err, &verr) {
			http.Error(w, verr.Error(), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	h.writeState(w)
}

// HandleEvent handles POST /event/{name} for the discrete operator
// controls: ok, no, plus, minus, brighter, darker, focus-plus,
// focus-minus, preview-channel.
func (h *Handlers) HandleEvent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var err error
	switch name {
	case "ok":
		err = h.Flow.OK()
	case "no":
		err = h.Flow.No()
	case "plus":
		err = h.Flow.AdjustDepth(true)
	case "minus":
		err = h.Flow.AdjustDepth(false)
	case "brighter":
		err = h.Flow.AdjustExposure(stereo.Brighter)
	case "darker":
		err = h.Flow.AdjustExposure(stereo.Darker)
	case "focus-plus":
		err = h.Flow.AdjustFocus(stereo.FocusIncrease, h.eventChannel(r))
	case "focus-minus":
		err = h.Flow.AdjustFocus(stereo.FocusDecrease, h.eventChannel(r))
	case "preview-channel":
		h.Poller.SetActiveChannel(h.eventChannel(r))
	default:
		http.Error(w, "unknown event", http.StatusNotFound)
		return
	}

	if err != nil {
		// Already surfaced through the notifier; the HTTP status only tells
		// the client the event did not take effect.
		var verr *workflow.ValidationError
		switch {
		case errors.As(err, &verr):
			http.Error(w, verr.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, stereo.ErrFocusAtLimit):
			http.Error(w, "focus at limit", http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusConflict)
		}
		return
	}
	h.writeState(w)
}

func (h *Handlers) eventChannel(r *http.Request) int {
	idx, err := strconv.Atoi(r.URL.Query().Get("channel"))
	if err != nil || idx < 0 || idx > 1 {
		return 0
	}
	return idx
}

// HandleState handles GET /state: workflow state, session and camera snapshot.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	h.writeState(w)
}

func (h *Handlers) writeState(w http.ResponseWriter) {
	type sessionView struct {
		Project   string  `json:"project"`
		Borehole  string  `json:"borehole"`
		DepthFrom float64 `json:"depth_from"`
		DepthTo   float64 `json:"depth_to"`
	}
	resp := struct {
		State   string        `json:"state"`
		Session *sessionView  `json:"session,omitempty"`
		Camera  stereo.Status `json:"camera"`
	}{
		State:  h.Flow.State().String(),
		Camera: h.Camera.Status(),
	}
	if s, ok := h.Flow.Session(); ok {
		resp.Session = &sessionView{
			Project:   s.Project,
			Borehole:  s.Borehole,
			DepthFrom: s.DepthFrom,
			DepthTo:   s.DepthTo,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// HandlePreview handles GET /preview.jpg: the latest mailbox frame.
func (h *Handlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	frame, _, _, ok := h.Mailbox.Latest()
	if !ok {
		http.Error(w, "no preview available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	// Preview is already downscaled; encode cheap.
	_ = jpeg.Encode(w, frame.ToImage(), &jpeg.Options{Quality: 80})
}

// HandleStorage handles GET /storage: the current space report.
func (h *Handlers) HandleStorage(w http.ResponseWriter, r *http.Request) {
	report := h.Store.CheckSpace()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		storage.SpaceReport
		Level   storage.WarnLevel `json:"level"`
		Summary string            `json:"summary"`
	}{
		SpaceReport: report,
		Level:       report.Level(),
		Summary:     h.Store.Summary(),
	})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, open := <-ch:
			if !open {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()
		}
	}
}
