// Copyright (C) 2024 The fdistdump-go Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CESNET/fdistdump-sub002/stats"
)

func TestObserveSummaryUpdatesCounters(t *testing.T) {
	r := NewRegistry(1)
	r.ObserveSummary(stats.Summary{ProcessedFlows: 3, ProcessedPkts: 30, ProcessedBytes: 3000})
	r.ObserveFileDone()
	r.ObserveFileDone()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		`fdistdump_processed_flows_total{rank="1"} 3`,
		`fdistdump_files_processed_total{rank="1"} 2`,
		`fdistdump_queries_total{rank="1"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestServerServesMetrics(t *testing.T) {
	r := NewRegistry(0)
	r.ObserveFileDone()

	srv, err := NewServer("127.0.0.1:0", r)
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve()
	defer srv.Shutdown(context.Background())

	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get("http://" + srv.Addr().String() + "/metrics")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "fdistdump_files_processed_total") {
		t.Errorf("response missing counter: %s", body)
	}
}
