package credix

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(serverURL string) *Client {
	return NewClient(serverURL, "1011004877", 2*time.Second)
}

func TestCharge_SendsRepeatBillingForm(t *testing.T) {
	var gotForm map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		gotForm = map[string]string{}
		for key := range r.PostForm {
			gotForm[key] = r.PostForm.Get(key)
		}
		w.Write([]byte("Success_order"))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if err := client.Charge(context.Background(), "token-123", 980, "B_abc"); err != nil {
		t.Fatalf("Charge returned error: %v", err)
	}

	want := map[string]string{
		"clientip":   "1011004877",
		"send":       "cardsv",
		"cardnumber": "9999999999999992",
		"expyy":      "00",
		"expmm":      "00",
		"money":      "980",
		"telno":      "0000000000",
		"sendid":     "token-123",
		"sendpoint":  "B_abc",
	}
	for key, value := range want {
		if gotForm[key] != value {
			t.Fatalf("form field %s = %q, want %q", key, gotForm[key], value)
		}
	}
	if len(gotForm) != len(want) {
		t.Fatalf("expected %d form fields, got %d (%v)", len(want), len(gotForm), gotForm)
	}
}

func TestCharge_DeclineBodyIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A 200 with anything but the success literal is still a decline.
		w.Write([]byte("Error_credit"))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.Charge(context.Background(), "token-123", 980, "B_abc")
	if err == nil {
		t.Fatal("expected decline error")
	}

	var decline *DeclineError
	if !errors.As(err, &decline) {
		t.Fatalf("expected *DeclineError, got %T (%v)", err, err)
	}
	if decline.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", decline.StatusCode)
	}
	if decline.Body != "Error_credit" {
		t.Fatalf("unexpected body %q", decline.Body)
	}
}

func TestCharge_Non2xxIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.Charge(context.Background(), "token-123", 980, "B_abc")

	var decline *DeclineError
	if !errors.As(err, &decline) {
		t.Fatalf("expected *DeclineError, got %T (%v)", err, err)
	}
	if decline.StatusCode != http.StatusBadGateway {
		t.Fatalf("unexpected status %d", decline.StatusCode)
	}
}

func TestCharge_NetworkErrorIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	client := newTestClient(server.URL)
	err := client.Charge(context.Background(), "token-123", 980, "B_abc")
	if err == nil {
		t.Fatal("expected transport error")
	}

	var decline *DeclineError
	if errors.As(err, &decline) {
		t.Fatalf("transport failure must not be reported as a gateway decline: %v", err)
	}
}
