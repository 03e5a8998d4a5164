package metrics

import (
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestServerServesMetricsAndHealth(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	s := NewServer(ln.Addr().String(), zerolog.Nop())
	s.SetListener(ln)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Stop() }()

	TimerExpiries.WithLabelValues("example.com").Inc()

	tests := []struct {
		path string
		want string
	}{
		{"/health", "OK"},
		{"/metrics", "puzzlegate_timer_expiries_total"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get("http://" + ln.Addr().String() + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status %d", resp.StatusCode)
			}
			if !strings.Contains(string(body), tt.want) {
				t.Errorf("body missing %q", tt.want)
			}
		})
	}
}
