package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"dropslot/internal/auth"
	"dropslot/internal/blob"
	"dropslot/internal/domain"
	"dropslot/internal/engine"
	"dropslot/internal/storage"
)

// newTestServer wires a real engine on miniredis and a temp blob dir behind
// the router, so handler tests cover the full request path.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	auth.LowerCryptoParamsForTest(t)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	blobs, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}

	tokens := auth.NewTokenIssuer([]byte("test-secret"))
	eng := engine.New(storage.NewRedisStore(rdb), blobs, tokens)
	router := NewRouter(NewHandler(eng), RouterConfig{RequireHTTPS: false})

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

func createSlot(t *testing.T, ts *httptest.Server, password string) domain.CreateRes {
	t.Helper()
	body := fmt.Sprintf(`{"password":%q}`, password)
	resp, err := http.Post(ts.URL+"/slots", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create returned %d", resp.StatusCode)
	}
	var res domain.CreateRes
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return res
}

func doJSON(t *testing.T, method, url, password string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if password != "" {
		req.Header.Set(passwordHeader, password)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func uploadMultipart(t *testing.T, ts *httptest.Server, slotID, password, text string, files map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if text != "" {
		if err := mw.WriteField("text", text); err != nil {
			t.Fatalf("write text field: %v", err)
		}
	}
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/slots/"+slotID, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(passwordHeader, password)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func TestHandleCreate(t *testing.T) {
	ts := newTestServer(t)

	t.Run("successful creation", func(t *testing.T) {
		res := createSlot(t, ts, "abcd")
		if len(res.SlotID) < 6 || len(res.SlotID) > 8 {
			t.Errorf("slot id should be 6-8 digits, got %q", res.SlotID)
		}
		if res.ExpiresAt.IsZero() {
			t.Error("expected a non-zero expiry")
		}
	})

	t.Run("bad request - short password", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/slots", "application/json", strings.NewReader(`{"password":"abc"}`))
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("bad request - invalid json", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/slots", "application/json", strings.NewReader(`{"password":`))
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", resp.StatusCode)
		}
	})
}

func TestHandleAccess(t *testing.T) {
	ts := newTestServer(t)
	slot := createSlot(t, ts, "abcd")

	t.Run("fresh slot is empty", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/slots/"+slot.SlotID+"/access", "abcd", nil)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		var res domain.AccessRes
		if err := json.Unmarshal(raw, &res); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(res.Files) != 0 {
			t.Errorf("expected no files, got %d", len(res.Files))
		}
		if res.TextContent != nil {
			t.Errorf("expected null text content, got %v", res.TextContent)
		}
		if res.DownloadToken == "" {
			t.Error("expected a download token")
		}
		// sensitive slot state never leaves the engine
		for _, needle := range []string{"password", "failed", "attempts"} {
			if strings.Contains(strings.ToLower(string(raw)), needle) {
				t.Errorf("response leaks %q: %s", needle, raw)
			}
		}
	})

	t.Run("unknown slot", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/slots/999999/access", "abcd", nil)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404, got %d", resp.StatusCode)
		}
	})
}

func TestHandleAccess_LockoutFlow(t *testing.T) {
	ts := newTestServer(t)
	slot := createSlot(t, ts, "abcd")
	url := ts.URL + "/slots/" + slot.SlotID + "/access"

	// two wrong attempts report the remaining attempt count as data
	for want := 2; want >= 1; want-- {
		resp := doJSON(t, http.MethodPost, url, "wrong", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.StatusCode)
		}
		var body struct {
			Remaining int `json:"remaining_attempts"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		resp.Body.Close()
		if body.Remaining != want {
			t.Errorf("remaining_attempts = %d, want %d", body.Remaining, want)
		}
	}

	// the third failure reports deletion, not mere rejection
	resp := doJSON(t, http.MethodPost, url, "wrong", nil)
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("expected 410, got %d", resp.StatusCode)
	}
	var body struct {
		Deleted   bool `json:"deleted"`
		Remaining int  `json:"remaining_attempts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	if !body.Deleted || body.Remaining != 0 {
		t.Errorf("expected deleted=true remaining=0, got %+v", body)
	}

	// the slot is unrecoverable, even with the correct password
	resp = doJSON(t, http.MethodPost, url, "abcd", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after lockout, got %d", resp.StatusCode)
	}
}

func TestUploadAccessDownloadDelete(t *testing.T) {
	ts := newTestServer(t)
	slot := createSlot(t, ts, "abcd")

	resp := uploadMultipart(t, ts, slot.SlotID, "abcd", "hello note", map[string]string{
		"report.pdf": "pdf-bytes",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload returned %d", resp.StatusCode)
	}
	var up domain.UploadRes
	if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
		t.Fatalf("decode upload: %v", err)
	}
	resp.Body.Close()
	if len(up.Files) != 1 || !up.Text {
		t.Fatalf("unexpected upload response: %+v", up)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/slots/"+slot.SlotID+"/access", "abcd", nil)
	var acc domain.AccessRes
	if err := json.NewDecoder(resp.Body).Decode(&acc); err != nil {
		t.Fatalf("decode access: %v", err)
	}
	resp.Body.Close()
	if len(acc.Files) != 1 || acc.TextContent == nil || acc.TextContent.Content != "hello note" {
		t.Fatalf("unexpected access response: %+v", acc)
	}

	t.Run("download with token", func(t *testing.T) {
		dlURL := ts.URL + "/slots/" + slot.SlotID + "/files/" + acc.Files[0].ID + "?token=" + acc.DownloadToken
		resp, err := http.Get(dlURL)
		if err != nil {
			t.Fatalf("download: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		data, _ := io.ReadAll(resp.Body)
		if string(data) != "pdf-bytes" {
			t.Errorf("downloaded %q", data)
		}
		if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "report.pdf") {
			t.Errorf("Content-Disposition %q should carry the original name", cd)
		}
	})

	t.Run("download without credentials", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/slots/" + slot.SlotID + "/files/" + acc.Files[0].ID)
		if err != nil {
			t.Fatalf("download: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", resp.StatusCode)
		}
	})

	t.Run("delete slot", func(t *testing.T) {
		resp := doJSON(t, http.MethodDelete, ts.URL+"/slots/"+slot.SlotID, "abcd", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", resp.StatusCode)
		}

		// deletion is idempotent at the surface too
		resp = doJSON(t, http.MethodDelete, ts.URL+"/slots/"+slot.SlotID, "abcd", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("expected 204 on repeat delete, got %d", resp.StatusCode)
		}

		resp = doJSON(t, http.MethodPost, ts.URL+"/slots/"+slot.SlotID+"/access", "abcd", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
		}
	})
}

func TestHandleUpload_NothingToUpload(t *testing.T) {
	ts := newTestServer(t)
	slot := createSlot(t, ts, "abcd")

	resp := uploadMultipart(t, ts, slot.SlotID, "abcd", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}
