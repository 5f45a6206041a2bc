package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDeduct(t *testing.T) {
	type call struct {
		method string
		path   string
		body   map[string]int
	}
	calls := make(chan call, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]int
		json.NewDecoder(r.Body).Decode(&body)
		calls <- call{method: r.Method, path: r.URL.Path, body: body}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"quantity": 38}`))
	}))
	defer srv.Close()

	c := NewClient("inventory-service", srv.URL, time.Second)
	if err := c.Deduct(context.Background(), 3, 7, 2); err != nil {
		t.Fatalf("Deduct() error: %v", err)
	}

	got := <-calls
	if got.method != http.MethodPost {
		t.Errorf("method = %s, want POST", got.method)
	}
	// The inventory service addresses the stock line in the path, not the
	// body; the body carries only the quantity.
	if got.path != "/pharmacies/3/stock/7/deduct" {
		t.Errorf("path = %q, want /pharmacies/3/stock/7/deduct", got.path)
	}
	if len(got.body) != 1 || got.body["quantity"] != 2 {
		t.Errorf("body = %v, want {quantity: 2}", got.body)
	}
}

func TestDeductNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "stock not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient("inventory-service", srv.URL, time.Second)
	if err := c.Deduct(context.Background(), 3, 7, 2); err == nil {
		t.Fatal("Deduct() succeeded against a 404, want error")
	}
}

func TestStockFor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pharmacies/3/stock" {
			t.Errorf("path = %q, want /pharmacies/3/stock", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":10,"pharmacy_id":3,"medication_id":7,"medication_name":"ibuprofen","quantity":40}]`))
	}))
	defer srv.Close()

	c := NewClient("inventory-service", srv.URL, time.Second)
	lines, err := c.StockFor(context.Background(), 3)
	if err != nil {
		t.Fatalf("StockFor() error: %v", err)
	}
	if len(lines) != 1 || lines[0].MedicationID != 7 || lines[0].MedicationName != "ibuprofen" {
		t.Errorf("lines = %+v, want one ibuprofen line with medication_id 7", lines)
	}
}
