package testutil

import (
	"net/http"
	"testing"

	"github.com/banshee-data/projector.arena/internal/geom"
)

func TestAssertHelpersPass(t *testing.T) {
	t.Parallel()

	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertNoError(t, nil)
	AssertPointNear(t, geom.Pt(1, 1), geom.Pt(1.0005, 0.9995), 1e-3)
}

func TestGridPoints(t *testing.T) {
	t.Parallel()

	pts := GridPoints(geom.R(0, 0, 100, 50), 3, 2)
	if len(pts) != 6 {
		t.Fatalf("len = %d, want 6", len(pts))
	}
	want := []geom.Point{
		{X: 0, Y: 0}, {X: 100, Y: 0},
		{X: 0, Y: 25}, {X: 100, Y: 25},
		{X: 0, Y: 50}, {X: 100, Y: 50},
	}
	for i := range want {
		if pts[i] != want[i] {
			t.Errorf("pts[%d] = %v, want %v", i, pts[i], want[i])
		}
	}
}

func TestNewTestRequest(t *testing.T) {
	t.Parallel()

	req := NewTestRequest(http.MethodGet, "/debug/arena")
	if req.Method != http.MethodGet || req.URL.Path != "/debug/arena" {
		t.Errorf("request = %s %s", req.Method, req.URL.Path)
	}
	rec := NewTestRecorder()
	rec.WriteHeader(http.StatusTeapot)
	AssertStatusCode(t, rec.Code, http.StatusTeapot)
}
