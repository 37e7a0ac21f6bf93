package geoip

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLookup(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ip":"203.0.113.7","city":"Hanoi","region":"HN","country_name":"Vietnam","country_code":"VN","org":"Example ISP","latitude":21.02,"longitude":105.84}`))
	}))
	defer srv.Close()

	info := NewClient(srv.URL).Lookup(context.Background(), "203.0.113.7")
	if info == nil {
		t.Fatalf("expected info")
	}
	if gotPath != "/203.0.113.7/json/" {
		t.Fatalf("path: %q", gotPath)
	}
	if info.City != "Hanoi" || info.Country != "Vietnam" || info.CountryCode != "VN" {
		t.Fatalf("info: %+v", info)
	}
	if info.ISP != "Example ISP" || info.Lat != 21.02 {
		t.Fatalf("info: %+v", info)
	}
}

func TestLookupCallerIP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/" {
			t.Errorf("path: %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"ip":"198.51.100.1"}`))
	}))
	defer srv.Close()

	info := NewClient(srv.URL).Lookup(context.Background(), "")
	if info == nil || info.IP != "198.51.100.1" {
		t.Fatalf("info: %+v", info)
	}
}

func TestLookupErrorsReturnNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if info := NewClient(srv.URL).Lookup(context.Background(), "203.0.113.7"); info != nil {
		t.Fatalf("non-200 must yield nil, got %+v", info)
	}

	srv.Close()
	if info := NewClient(srv.URL).Lookup(context.Background(), "203.0.113.7"); info != nil {
		t.Fatalf("transport error must yield nil, got %+v", info)
	}
}
