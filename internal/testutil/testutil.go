// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers for the arena, calibration and
// store packages.
package testutil

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/projector.arena/internal/geom"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertPointNear fails the test if got is further than eps from want.
func AssertPointNear(t *testing.T, got, want geom.Point, eps float64) {
	t.Helper()
	if d := got.Dist(want); math.IsNaN(d) || d > eps {
		t.Errorf("point = %v, want %v (distance %.3g > %.3g)", got, want, d, eps)
	}
}

// GridPoints returns rows*cols points spread evenly over r, row by row.
func GridPoints(r geom.Rect, rows, cols int) []geom.Point {
	pts := make([]geom.Point, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			fx, fy := 0.0, 0.0
			if cols > 1 {
				fx = float64(j) / float64(cols-1)
			}
			if rows > 1 {
				fy = float64(i) / float64(rows-1)
			}
			pts = append(pts, geom.Pt(r.Min.X+fx*r.Width(), r.Min.Y+fy*r.Height()))
		}
	}
	return pts
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewLocalRequest creates a test HTTP request that appears to come from
// localhost, which tsweb debug routes require.
func NewLocalRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}
