package web

import (
	"bytes"
	"encoding/json"
	"image/jpeg"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coreimaging/stereocam/internal/hw/channel"
	"github.com/coreimaging/stereocam/internal/logic/preview"
	"github.com/coreimaging/stereocam/internal/logic/stereo"
	"github.com/coreimaging/stereocam/internal/logic/workflow"
	"github.com/coreimaging/stereocam/internal/storage"
)

// ---------- Handler helpers ----------

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()

	cam := stereo.NewController(channel.NewSim(0), channel.NewSim(1), nil, stereo.Params{
		WidthPx:       64,
		HeightPx:      48,
		ExposureMinUs: 100,
		ExposureMaxUs: 800000,
		DefaultExpoUs: 10000,
		FocusSteps:    8,
		FocusMin:      0,
		FocusMax:      10,
		PreviewWidth:  32,
		PreviewHeight: 24,
		JPEGQuality:   95,
	})
	if err := cam.Initialize(); err != nil {
		t.Fatalf("initialize stereo controller: %v", err)
	}
	t.Cleanup(cam.Cleanup)

	store, err := storage.NewManager(storage.Config{
		PrimaryRoot:       t.TempDir(),
		RemovablePrefixes: []string{"/nonexistent"},
		LowSpaceBytes:     1,
		CriticalBytes:     1,
		BackupDir:         "core_photos_backup",
	})
	if err != nil {
		t.Fatalf("create storage manager: %v", err)
	}

	b := NewStatusBroadcaster()
	flow := workflow.NewController(cam, store, Notifier{B: b}, workflow.Config{
		SegmentLengthM: 0.5,
		DepthStepM:     0.05,
	})

	mailbox := preview.NewMailbox()
	return &Handlers{
		Broadcaster: b,
		Flow:        flow,
		Camera:      cam,
		Mailbox:     mailbox,
		Poller:      preview.NewPoller(cam, mailbox, 0),
		Store:       store,
	}
}

func metadataJSON(project, borehole, from, to string) []byte {
	data, _ := json.Marshal(MetadataInput{
		Project:   project,
		Borehole:  borehole,
		DepthFrom: from,
		DepthTo:   to,
	})
	return data
}

func postMetadata(t *testing.T, h *Handlers, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/metadata", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleMetadata(w, req)
	return w
}

func postEvent(t *testing.T, h *Handlers, name, query string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/event/"+name+query, nil)
	req.SetPathValue("name", name)
	w := httptest.NewRecorder()
	h.HandleEvent(w, req)
	return w
}

type stateResponse struct {
	State   string `json:"state"`
	Session *struct {
		Project   string  `json:"project"`
		Borehole  string  `json:"borehole"`
		DepthFrom float64 `json:"depth_from"`
		DepthTo   float64 `json:"depth_to"`
	} `json:"session"`
	Camera stereo.Status `json:"camera"`
}

func decodeState(t *testing.T, w *httptest.ResponseRecorder) stateResponse {
	t.Helper()
	var resp stateResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode state response: %v", err)
	}
	return resp
}

// ---------- HandleMetadata ----------

func TestHandleMetadata_Valid(t *testing.T) {
	h := newTestHandlers(t)
	w := postMetadata(t, h, metadataJSON("Site", "BH-1", "0.0", "0.5"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	resp := decodeState(t, w)
	if resp.State != "positioning" {
		t.Errorf("state = %q, want \"positioning\"", resp.State)
	}
	if resp.Session == nil || resp.Session.Project != "Site" {
		t.Errorf("session not reflected in response: %+v", resp.Session)
	}
}

func TestHandleMetadata_InvalidJSON(t *testing.T) {
	h := newTestHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/metadata", strings.NewReader("not json"))
	w := httptest.NewRecorder()

	h.HandleMetadata(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleMetadata_ValidationFailure(t *testing.T) {
	h := newTestHandlers(t)
	w := postMetadata(t, h, metadataJSON("Site", "BH-1", "abc", "0.5"))

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
	if !strings.Contains(w.Body.String(), "depth_from") {
		t.Errorf("body should name the bad field, got %q", w.Body.String())
	}
}

func TestHandleMetadata_WrongState(t *testing.T) {
	h := newTestHandlers(t)
	if w := postMetadata(t, h, metadataJSON("Site", "BH-1", "0.0", "0.5")); w.Code != http.StatusOK {
		t.Fatalf("first confirm: status = %d", w.Code)
	}

	w := postMetadata(t, h, metadataJSON("Site", "BH-1", "0.0", "0.5"))
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

// ---------- HandleEvent ----------

func TestHandleEvent_FullCaptureCycle(t *testing.T) {
	h := newTestHandlers(t)
	postMetadata(t, h, metadataJSON("Site", "BH-1", "0.0", "0.5"))

	steps := []struct {
		event     string
		wantState string
	}{
		{"ok", "reviewing_channel_1"},
		{"ok", "reviewing_channel_2"},
		{"ok", "positioning"},
	}
	for _, s := range steps {
		w := postEvent(t, h, s.event, "")
		if w.Code != http.StatusOK {
			t.Fatalf("event %q: status = %d: %s", s.event, w.Code, w.Body.String())
		}
		if resp := decodeState(t, w); resp.State != s.wantState {
			t.Fatalf("after %q: state = %q, want %q", s.event, resp.State, s.wantState)
		}
	}

	// Depth auto-advanced after the save.
	w := httptest.NewRecorder()
	h.HandleState(w, httptest.NewRequest(http.MethodGet, "/state", nil))
	resp := decodeState(t, w)
	if resp.Session.DepthFrom != 0.5 || resp.Session.DepthTo != 1.0 {
		t.Errorf("depth range = %.2f-%.2f, want 0.50-1.00", resp.Session.DepthFrom, resp.Session.DepthTo)
	}
}

func TestHandleEvent_OKWithoutMetadata(t *testing.T) {
	h := newTestHandlers(t)
	w := postEvent(t, h, "ok", "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
}

func TestHandleEvent_Unknown(t *testing.T) {
	h := newTestHandlers(t)
	w := postEvent(t, h, "bogus", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleEvent_DepthAdjust(t *testing.T) {
	h := newTestHandlers(t)
	postMetadata(t, h, metadataJSON("Site", "BH-1", "0.0", "0.5"))

	w := postEvent(t, h, "plus", "")
	if w.Code != http.StatusOK {
		t.Fatalf("plus: status = %d", w.Code)
	}
	if resp := decodeState(t, w); math.Abs(resp.Session.DepthTo-0.55) > 1e-9 {
		t.Errorf("depth_to = %v, want 0.55", resp.Session.DepthTo)
	}

	w = postEvent(t, h, "minus", "")
	if resp := decodeState(t, w); math.Abs(resp.Session.DepthTo-0.5) > 1e-9 {
		t.Errorf("depth_to = %v, want 0.50", resp.Session.DepthTo)
	}
}

func TestHandleEvent_ExposureAdjust(t *testing.T) {
	h := newTestHandlers(t)

	w := postEvent(t, h, "brighter", "")
	if w.Code != http.StatusOK {
		t.Fatalf("brighter: status = %d: %s", w.Code, w.Body.String())
	}
	if resp := decodeState(t, w); resp.Camera.ExposureUs != 15000 {
		t.Errorf("exposure = %d, want 15000", resp.Camera.ExposureUs)
	}
}

func TestHandleEvent_FocusAdjustPerChannel(t *testing.T) {
	h := newTestHandlers(t)

	w := postEvent(t, h, "focus-plus", "?channel=1")
	if w.Code != http.StatusOK {
		t.Fatalf("focus-plus: status = %d: %s", w.Code, w.Body.String())
	}
	resp := decodeState(t, w)
	if resp.Camera.FocusSteps[1] != 4 {
		t.Errorf("channel 1 focus step = %d, want 4", resp.Camera.FocusSteps[1])
	}
	if resp.Camera.FocusSteps[0] != 3 {
		t.Errorf("channel 0 focus step = %d, want 3 (untouched)", resp.Camera.FocusSteps[0])
	}
}

func TestHandleEvent_FocusAtLimit(t *testing.T) {
	h := newTestHandlers(t)

	for i := 0; i < 4; i++ {
		if w := postEvent(t, h, "focus-plus", "?channel=0"); w.Code != http.StatusOK {
			t.Fatalf("focus-plus %d: status = %d", i, w.Code)
		}
	}

	w := postEvent(t, h, "focus-plus", "?channel=0")
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if !strings.Contains(w.Body.String(), "focus at limit") {
		t.Errorf("body = %q, want focus-at-limit message", w.Body.String())
	}
}

func TestHandleEvent_PreviewChannelSwitch(t *testing.T) {
	h := newTestHandlers(t)

	w := postEvent(t, h, "preview-channel", "?channel=1")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if h.Poller.ActiveChannel() != 1 {
		t.Errorf("active channel = %d, want 1", h.Poller.ActiveChannel())
	}
}

func TestHandleEvent_BadChannelDefaultsToZero(t *testing.T) {
	h := newTestHandlers(t)

	w := postEvent(t, h, "focus-plus", "?channel=9")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decodeState(t, w); resp.Camera.FocusSteps[0] != 4 {
		t.Errorf("channel 0 focus step = %d, want 4", resp.Camera.FocusSteps[0])
	}
}

// ---------- HandlePreview ----------

func TestHandlePreview_NoFrameYet(t *testing.T) {
	h := newTestHandlers(t)
	w := httptest.NewRecorder()

	h.HandlePreview(w, httptest.NewRequest(http.MethodGet, "/preview.jpg", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandlePreview_ServesLatestFrame(t *testing.T) {
	h := newTestHandlers(t)
	h.Mailbox.Publish(0, h.Camera.PreviewFrame(0))

	w := httptest.NewRecorder()
	h.HandlePreview(w, httptest.NewRequest(http.MethodGet, "/preview.jpg", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type = %q, want image/jpeg", ct)
	}
	img, err := jpeg.Decode(w.Body)
	if err != nil {
		t.Fatalf("decode served JPEG: %v", err)
	}
	if img.Bounds().Dx() > 32 || img.Bounds().Dy() > 24 {
		t.Errorf("preview %dx%d exceeds configured box", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

// ---------- HandleStorage ----------

func TestHandleStorage(t *testing.T) {
	h := newTestHandlers(t)
	w := httptest.NewRecorder()

	h.HandleStorage(w, httptest.NewRequest(http.MethodGet, "/storage", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Primary storage.Location  `json:"primary"`
		Level   storage.WarnLevel `json:"level"`
		Summary string            `json:"summary"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode storage response: %v", err)
	}
	if resp.Primary.Path == "" {
		t.Error("primary location missing from report")
	}
	if resp.Summary == "" {
		t.Error("summary missing from report")
	}
	if resp.Level == "" {
		t.Error("level missing from report")
	}
}

// ---------- Server mux ----------

func TestServerMux_Routes(t *testing.T) {
	h := newTestHandlers(t)
	srv := httptest.NewServer(NewServer(":0", h).Mux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/state")
	if err != nil {
		t.Fatalf("GET /state: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /state: status = %d", resp.StatusCode)
	}

	resp2, err := http.Post(srv.URL+"/event/ok", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /event/ok: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("POST /event/ok without metadata: status = %d, want %d",
			resp2.StatusCode, http.StatusUnprocessableEntity)
	}
}
