package portal

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// MockRoundTripper implements http.RoundTripper for testing
type MockRoundTripper struct {
	RoundTripFunc func(req *http.Request) (*http.Response, error)
}

func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.RoundTripFunc(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

const contractDetailTemplate = `{
	"number": %q,
	"name": "Ivanov I.I.",
	"alias": "Home",
	"address": "Lenina 1",
	"filial": {"id": 1, "title": "Podolsk"},
	"liveBalance": {"number": %q, "liveBalance": 10.5},
	"contractData": {"number": %q, "Devices": [
		{"ID": "m1", "ClassCode": 10100, "Status": 0},
		{"ID": "s1", "ClassCode": 102}
	]},
	"metersHistory": {"number": %q, "data": [
		{"info": {"ID": "m1"}, "values": [
			{"Date": {"date": "2024-01-25 00:00:00.000000", "timezone": "UTC"}, "V": 100, "prevV": 90, "Cost": 7}
		]}
	]},
	"calculationsAndPayments": {"gas": {"01.2024": {"invoice": 70, "payment": 0, "balance": 0, "payments": []}}}
}`

type batchCall struct {
	Items []batchItem
	Token string
}

// fakePortal emulates the portal and the CAPTCHA service on one server.
type fakePortal struct {
	server *httptest.Server

	mu             sync.Mutex
	requireCaptcha bool
	coffeeBreak    bool
	batchStatus    int
	staleUser      bool
	contracts      []string
	loginForms     []url.Values
	batches        []batchCall
	reissueBodies  []string
	pushes         []map[string]string
	pushResponse   string
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()
	fp := &fakePortal{contracts: []string{"100"}, pushResponse: `{"success": true}`}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><script src="%s/captcha/api.js?site-key=abc123"></script>
<form><input type="hidden" name="_csrf_token" value="csrf-1"></form></html>`, fp.server.URL)
	})
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fp.mu.Lock()
		fp.loginForms = append(fp.loginForms, r.PostForm)
		fp.mu.Unlock()
		if r.Header.Get("X-Requested-With") != "XMLHttpRequest" || r.PostForm.Get("mog_login[password]") != "secret" {
			fmt.Fprint(w, `{"success": false, "errors": {"password": "invalid password"}}`)
			return
		}
		fmt.Fprint(w, `{"success": true}`)
	})
	mux.HandleFunc("GET /lkk3/asset-manifest.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"files": {"main.js": "/lkk3/static/js/main.js", "count": 2}}`)
	})
	mux.HandleFunc("GET /lkk3/static/js/main.js", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `var a={headers:{'X-SYSTEM-AUTH-TOKEN': "hidden-1"}};`)
	})
	mux.HandleFunc("HEAD /lkk3/{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Token", "bearer-1")
	})
	mux.HandleFunc("POST /captcha/api/captchas", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Site-Key") != "abc123" {
			http.Error(w, "missing site key", http.StatusBadRequest)
			return
		}
		fp.mu.Lock()
		captcha := fp.requireCaptcha
		fp.mu.Unlock()
		if captcha {
			fmt.Fprint(w, `{"showCaptcha": true, "captchaToken": "cap-1", "fileUrl": "/images/cap-1.png", "validUntil": "2030-01-01T10:00:00+03:00"}`)
			return
		}
		fmt.Fprint(w, `{"temporaryToken": "temp-1"}`)
	})
	mux.HandleFunc("PUT /captcha/api/captchas/reissue", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fp.mu.Lock()
		fp.reissueBodies = append(fp.reissueBodies, string(body))
		fp.mu.Unlock()
		fmt.Fprint(w, `{"temporaryToken": "temp-reissued"}`)
	})
	mux.HandleFunc("PUT /captcha/api/captchas/{token}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			InputValue string `json:"inputValue"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.InputValue != "42" {
			fmt.Fprint(w, `{"error": "wrong answer"}`)
			return
		}
		fmt.Fprintf(w, `{"captchaToken": "solved-%s"}`, r.PathValue("token"))
	})
	mux.HandleFunc("GET /captcha/images/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		fmt.Fprint(w, "PNGDATA")
	})
	mux.HandleFunc("POST /graphql/batch", fp.handleBatch)
	mux.HandleFunc("POST /api/contracts/{contract}/meters/{meter}/values", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		body["contract"] = r.PathValue("contract")
		body["meter"] = r.PathValue("meter")
		body["auth"] = r.Header.Get("X-SYSTEM-AUTH")
		fp.mu.Lock()
		fp.pushes = append(fp.pushes, body)
		resp := fp.pushResponse
		fp.mu.Unlock()
		fmt.Fprint(w, resp)
	})

	fp.server = httptest.NewServer(mux)
	t.Cleanup(fp.server.Close)
	return fp
}

func (fp *fakePortal) handleBatch(w http.ResponseWriter, r *http.Request) {
	var items []batchItem
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.batches = append(fp.batches, batchCall{Items: items, Token: r.Header.Get("token")})
	if fp.batchStatus != 0 {
		w.WriteHeader(fp.batchStatus)
		return
	}

	results := make([]string, 0, len(items))
	for _, item := range items {
		name := ""
		if item.OperationName != nil {
			name = *item.OperationName
		}
		switch name {
		case "getInternalSystemStatuses":
			results = append(results, fmt.Sprintf(`{"data": {"internalSystemStatuses": {"coffee_break": %t}}}`, fp.coffeeBreak))
		case "accountsList":
			if fp.staleUser {
				results = append(results, `{"data": {"me": null}}`)
				continue
			}
			listed := make([]string, 0, len(fp.contracts))
			for _, number := range fp.contracts {
				listed = append(listed, fmt.Sprintf(`{"number": %q, "contractData": {"number": %q, "Devices": [{"ID": "m1"}, {"ID": "s1"}]}}`, number, number))
			}
			results = append(results, `{"data": {"me": {"id": 1, "contracts": [`+strings.Join(listed, ",")+`]}}}`)
		case "initialData":
			if fp.staleUser {
				results = append(results, `{"data": {"me": null}}`)
				continue
			}
			results = append(results, fmt.Sprintf(`{"data": {
				"me": {"id": 1, "name": "Ivanov I.I.", "featureFlags": [], "contracts": [{"number": "100"}]},
				"metadata": {"supportPhone": "8 800 100-00-00", "newcomer": false},
				"internalSystemStatuses": {"coffee_break": %t},
				"messages": [{"id": 7, "level": "warning", "sticky": true, "tag": "debt", "text": "Pay by the 10th", "type": "banner"}]
			}}`, fp.coffeeBreak))
		case "messagesCount":
			results = append(results, `{"data": {"messages": [{"id": 7, "level": "info", "sticky": false, "text": "Hello"}]}}`)
		case "contractDevices":
			number, _ := item.Variables["number"].(string)
			detail := fmt.Sprintf(contractDetailTemplate, number, number, number, number)
			results = append(results, `{"data": {"me": {"contract": `+detail+`}}}`)
		default:
			results = append(results, `{"data": {}}`)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, "["+strings.Join(results, ",")+"]")
}

// update runs fn under the portal lock; tests use it to read or change state.
func (fp *fakePortal) update(fn func()) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fn()
}

func (fp *fakePortal) lastLoginForm() url.Values {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if len(fp.loginForms) == 0 {
		return nil
	}
	return fp.loginForms[len(fp.loginForms)-1]
}

func newTestClient(t *testing.T, fp *fakePortal, password string, tokens Tokens) *Client {
	t.Helper()
	c, err := New("user@example.com", password, Options{
		BaseURL:    fp.server.URL,
		CaptchaURL: fp.server.URL + "/captcha",
		Tokens:     tokens,
		RateLimit:  rate.Inf,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func newMockClient(t *testing.T, rt http.RoundTripper, tokens Tokens) *Client {
	t.Helper()
	c, err := New("user@example.com", "secret", Options{
		HTTPClient: &http.Client{Transport: rt},
		BaseURL:    "https://portal.test",
		CaptchaURL: "https://captcha.test",
		Tokens:     tokens,
		RateLimit:  rate.Inf,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}
