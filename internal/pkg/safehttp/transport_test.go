package safehttp

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsDenied(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"192.168.0.10", true},
		{"172.16.5.4", true},
		{"169.254.169.254", true},
		{"0.0.0.0", true},
		{"::1", true},
		{"fe80::1", true},
		{"93.184.216.34", false},
		{"2606:2800:220:1:248:1893:25c8:1946", false},
	}

	for _, tt := range tests {
		if got := IsDenied(net.ParseIP(tt.ip)); got != tt.want {
			t.Errorf("IsDenied(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

func TestNewTransport_BlocksLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewTransport(false)}
	_, err := client.Get(srv.URL)
	if err == nil {
		t.Fatal("expected loopback request to be denied")
	}
	if !errors.Is(err, ErrDeniedAddress) {
		t.Errorf("error = %v, want ErrDeniedAddress", err)
	}

	client = &http.Client{Transport: NewTransport(true)}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("allowPrivate request failed: %v", err)
	}
	resp.Body.Close()
}
